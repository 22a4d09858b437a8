// Package config loads odin.yaml, applies environment overrides and fills
// defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"odin/internal/adapters"
	"odin/internal/prompts"
	"odin/internal/scoring"
)

// Config holds all application configuration.
type Config struct {
	Generation Generation `yaml:"generation"`
	Pipeline   Pipeline   `yaml:"pipeline"`
	Sources    Sources    `yaml:"sources"`
	Events     Events     `yaml:"events"`
	Server     Server     `yaml:"server"`
	Schedule   Schedule   `yaml:"schedule"`
	Archive    Archive    `yaml:"archive"`
	Logging    Logging    `yaml:"logging"`
}

type Generation struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Command           []string      `yaml:"command"`
	// Recommendation steers the mock generator's scoring phase.
	Recommendation string `yaml:"recommendation"`
}

type Pipeline struct {
	PhaseAttempts    int                         `yaml:"phase_attempts"`
	ValidationPolicy string                      `yaml:"validation_policy"`
	Phases           map[string]prompts.Settings `yaml:"phases"`
}

type Sources struct {
	Dir      string        `yaml:"dir"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// Simulate falls back to built-in sample signals when a file is missing.
	Simulate *bool `yaml:"simulate"`
}

type Events struct {
	WebhookURL      string `yaml:"webhook_url"`
	WebhookRetries  int    `yaml:"webhook_retries"`
	Notify          bool   `yaml:"notify"`
	RelayMaxRetries int    `yaml:"relay_max_retries"`
	RelayBatch      int    `yaml:"relay_batch"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

// Schedule holds cron specs with a leading seconds field. Empty disables a job.
type Schedule struct {
	StrategyRun  string `yaml:"strategy_run"`
	ArchiveSweep string `yaml:"archive_sweep"`
	IntelPurge   string `yaml:"intel_purge"`
	EventRelay   string `yaml:"event_relay"`
	TimeZone     string `yaml:"timezone"`
}

type Archive struct {
	MaxAge time.Duration `yaml:"max_age"`
	User   string        `yaml:"user"`
}

type Logging struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ODIN_GENERATOR"); v != "" {
		c.Generation.Provider = v
	}
	if v := os.Getenv("ODIN_MODEL"); v != "" {
		c.Generation.Model = v
	}
	if v := os.Getenv("ODIN_BASE_URL"); v != "" {
		c.Generation.BaseURL = v
	}
	if v := os.Getenv("ODIN_API_KEY"); v != "" {
		c.Generation.APIKey = v
	}
	if c.Generation.APIKey == "" {
		switch strings.ToLower(c.Generation.Provider) {
		case "openai":
			c.Generation.APIKey = os.Getenv("OPENAI_API_KEY")
		case "gemini":
			c.Generation.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	if v := os.Getenv("ODIN_PHASE_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.PhaseAttempts = n
		}
	}
	if v := os.Getenv("ODIN_VALIDATION_POLICY"); v != "" {
		c.Pipeline.ValidationPolicy = v
	}
	if v := os.Getenv("ODIN_WEBHOOK_URL"); v != "" {
		c.Events.WebhookURL = v
	}
	if v := os.Getenv("ODIN_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("ODIN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.Generation.Provider == "" {
		c.Generation.Provider = "mock"
	}
	if c.Generation.Timeout == 0 {
		c.Generation.Timeout = 120 * time.Second
	}
	if c.Generation.MaxAttempts == 0 {
		c.Generation.MaxAttempts = 3
	}
	if c.Generation.RequestsPerSecond == 0 {
		c.Generation.RequestsPerSecond = 1
	}
	if c.Pipeline.PhaseAttempts == 0 {
		c.Pipeline.PhaseAttempts = 1
	}
	if c.Pipeline.ValidationPolicy == "" {
		c.Pipeline.ValidationPolicy = string(scoring.PolicyRecord)
	}
	if c.Sources.Dir == "" {
		c.Sources.Dir = "signals"
	}
	if c.Sources.CacheTTL == 0 {
		c.Sources.CacheTTL = 24 * time.Hour
	}
	if c.Sources.Simulate == nil {
		simulate := true
		c.Sources.Simulate = &simulate
	}
	if c.Events.WebhookRetries == 0 {
		c.Events.WebhookRetries = 3
	}
	if c.Events.RelayMaxRetries == 0 {
		c.Events.RelayMaxRetries = 5
	}
	if c.Events.RelayBatch == 0 {
		c.Events.RelayBatch = 100
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Schedule.ArchiveSweep == "" {
		c.Schedule.ArchiveSweep = "0 30 2 * * *"
	}
	if c.Schedule.IntelPurge == "" {
		c.Schedule.IntelPurge = "0 0 * * * *"
	}
	if c.Schedule.EventRelay == "" {
		c.Schedule.EventRelay = "0 */5 * * * *"
	}
	if c.Schedule.TimeZone == "" {
		c.Schedule.TimeZone = "UTC"
	}
	if c.Archive.MaxAge == 0 {
		c.Archive.MaxAge = 2 * 365 * 24 * time.Hour
	}
	if c.Archive.User == "" {
		c.Archive.User = "system"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that the loaded values are usable.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Generation.Provider) {
	case "mock":
	case "openai", "gemini":
		if c.Generation.APIKey == "" {
			return fmt.Errorf("generation.api_key is required for provider %s", c.Generation.Provider)
		}
	case "command":
		if len(c.Generation.Command) == 0 {
			return fmt.Errorf("generation.command is required for provider command")
		}
	default:
		return fmt.Errorf("generation.provider %q is not one of mock, openai, gemini, command", c.Generation.Provider)
	}
	if c.Generation.MaxAttempts < 1 {
		return fmt.Errorf("generation.max_attempts must be at least 1")
	}
	if c.Generation.RequestsPerSecond < 0 {
		return fmt.Errorf("generation.requests_per_second must not be negative")
	}
	if c.Pipeline.PhaseAttempts < 1 {
		return fmt.Errorf("pipeline.phase_attempts must be at least 1")
	}
	if _, err := scoring.ParsePolicy(c.Pipeline.ValidationPolicy); err != nil {
		return fmt.Errorf("pipeline.validation_policy: %w", err)
	}
	for name, s := range c.Pipeline.Phases {
		if _, err := prompts.ParsePhase(name); err != nil {
			return fmt.Errorf("pipeline.phases: %w", err)
		}
		if s.Temperature < 0 || s.Temperature > 2 {
			return fmt.Errorf("pipeline.phases.%s.temperature must be within [0,2]", name)
		}
		if s.MaxTokens < 0 {
			return fmt.Errorf("pipeline.phases.%s.max_tokens must not be negative", name)
		}
	}
	if c.Sources.CacheTTL < 0 {
		return fmt.Errorf("sources.cache_ttl must not be negative")
	}
	if c.Archive.MaxAge <= 0 {
		return fmt.Errorf("archive.max_age must be positive")
	}
	specs := map[string]string{
		"schedule.strategy_run":  c.Schedule.StrategyRun,
		"schedule.archive_sweep": c.Schedule.ArchiveSweep,
		"schedule.intel_purge":   c.Schedule.IntelPurge,
		"schedule.event_relay":   c.Schedule.EventRelay,
	}
	for field, spec := range specs {
		if spec == "" {
			continue
		}
		if _, err := CronParser.Parse(spec); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	if _, err := time.LoadLocation(c.Schedule.TimeZone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	if _, err := zap.ParseAtomicLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// CronParser accepts the six-field specs used by the schedule section.
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// PromptOverrides converts the per-phase settings for prompts.Builder.
func (c *Config) PromptOverrides() map[prompts.Phase]prompts.Settings {
	if len(c.Pipeline.Phases) == 0 {
		return nil
	}
	out := make(map[prompts.Phase]prompts.Settings, len(c.Pipeline.Phases))
	for name, s := range c.Pipeline.Phases {
		phase, err := prompts.ParsePhase(name)
		if err != nil {
			continue
		}
		out[phase] = s
	}
	return out
}

// Policy returns the parsed validation policy, falling back to record.
func (c *Config) Policy() scoring.Policy {
	p, err := scoring.ParsePolicy(c.Pipeline.ValidationPolicy)
	if err != nil {
		return scoring.PolicyRecord
	}
	return p
}

// SimulateSignals reports whether missing signal files use sample data.
func (c *Config) SimulateSignals() bool {
	return c.Sources.Simulate == nil || *c.Sources.Simulate
}

// GeneratorOptions maps the generation section onto adapters.Options.
func (c *Config) GeneratorOptions(workDir, transcriptDir string, logger *zap.Logger) adapters.Options {
	return adapters.Options{
		Provider:          c.Generation.Provider,
		Model:             c.Generation.Model,
		APIKey:            c.Generation.APIKey,
		BaseURL:           c.Generation.BaseURL,
		Timeout:           c.Generation.Timeout,
		MaxAttempts:       c.Generation.MaxAttempts,
		RequestsPerSecond: c.Generation.RequestsPerSecond,
		Command:           c.Generation.Command,
		WorkDir:           workDir,
		TranscriptDir:     transcriptDir,
		Recommendation:    c.Generation.Recommendation,
		Logger:            logger,
	}
}

// NewLogger builds the process logger from the logging section.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Logging.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

// Template is written by `odin init`.
const Template = `# odin workspace configuration
generation:
  provider: mock          # mock, openai, gemini or command
  # model: gpt-4o
  # api_key: read from OPENAI_API_KEY / GEMINI_API_KEY when empty
  timeout: 120s
  max_attempts: 3
  requests_per_second: 1

pipeline:
  phase_attempts: 1
  validation_policy: record   # record or enforce
  # phases:
  #   strategy: {temperature: 0.2, max_tokens: 3000}

sources:
  dir: signals
  cache_ttl: 24h
  simulate: true

events:
  # webhook_url: https://example.invalid/hooks/odin
  notify: false
  relay_max_retries: 5

server:
  addr: 127.0.0.1:8080

schedule:
  # strategy_run: "0 0 6 1,15 * *"
  archive_sweep: "0 30 2 * * *"
  intel_purge: "0 0 * * * *"
  event_relay: "0 */5 * * * *"
  timezone: UTC

archive:
  max_age: 17520h

logging:
  level: info
  development: false
`
