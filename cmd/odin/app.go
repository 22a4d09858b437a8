package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"odin/internal/adapters"
	"odin/internal/audit"
	"odin/internal/config"
	"odin/internal/events"
	"odin/internal/notify"
	"odin/internal/pipeline"
	"odin/internal/prompts"
	"odin/internal/service"
	"odin/internal/sources"
	"odin/internal/store"
	"odin/internal/workspace"
)

// app is everything a command needs, built from the workspace config.
type app struct {
	ws        *workspace.Workspace
	cfg       *config.Config
	log       *zap.Logger
	store     *store.Store
	audit     *audit.Logger
	publisher *events.Publisher
	svc       *service.Service
}

type appOptions struct {
	generator      string
	recommendation string
}

func openApp(ctx context.Context, workspacePath string, opts appOptions) (*app, error) {
	ws, err := workspace.Resolve(workspacePath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(ws.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.generator != "" {
		cfg.Generation.Provider = opts.generator
	}
	if opts.recommendation != "" {
		cfg.Generation.Recommendation = opts.recommendation
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", workspace.ConfigFile, err)
	}
	if err := ws.EnsureDirs(); err != nil {
		return nil, err
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ws.DBPath)
	if err != nil {
		return nil, err
	}
	auditLog := audit.NewLogger(st, logger)

	gen, err := adapters.New(ctx, cfg.GeneratorOptions(ws.Root, ws.TranscriptDir(), logger))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create generator: %w", err)
	}

	signalsDir, err := ws.ResolvePath(cfg.Sources.Dir)
	if err != nil {
		st.Close()
		return nil, err
	}
	providers := sources.Defaults(signalsDir, cfg.SimulateSignals())
	if cfg.Sources.CacheTTL > 0 {
		providers = sources.WithCache(providers, st, cfg.Sources.CacheTTL, logger)
	}

	publisher := events.NewPublisher(st, buildBus(cfg, logger), logger)
	svc := &service.Service{
		Pipeline: &pipeline.Orchestrator{
			Generator:     gen,
			Prompts:       &prompts.Builder{Overrides: cfg.PromptOverrides()},
			PhaseAttempts: cfg.Pipeline.PhaseAttempts,
			Audit:         auditLog,
			Logger:        logger,
		},
		Sources:   providers,
		Store:     st,
		Publisher: publisher,
		Audit:     auditLog,
		Policy:    cfg.Policy(),
		Logger:    logger,
	}

	return &app{
		ws:        ws,
		cfg:       cfg,
		log:       logger,
		store:     st,
		audit:     auditLog,
		publisher: publisher,
		svc:       svc,
	}, nil
}

func (a *app) Close() {
	_ = a.log.Sync()
	_ = a.store.Close()
}

// buildBus always logs events and adds the webhook and desktop
// notifications when configured.
func buildBus(cfg *config.Config, logger *zap.Logger) events.Bus {
	bus := events.MultiBus{&events.LogBus{Logger: logger}}
	if cfg.Events.WebhookURL != "" {
		bus = append(bus, &events.WebhookBus{
			URL:        cfg.Events.WebhookURL,
			MaxRetries: cfg.Events.WebhookRetries,
			Logger:     logger,
		})
	}
	if cfg.Events.Notify {
		bus = append(bus, &events.NotifyBus{Notifier: &notify.Notifier{Enabled: true}})
	}
	return bus
}

// readBody reads a JSON object from path, or stdin for "-". An empty path
// yields an empty body.
func readBody(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	body := map[string]any{}
	if strings.TrimSpace(string(data)) == "" {
		return body, nil
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("input must be a JSON object: %w", err)
	}
	return body, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func errorText(err error) string {
	return red("error: ") + err.Error()
}

// statusText colors a strategy or job status.
func statusText(status string) string {
	switch status {
	case "validated", "approved", "succeeded", "pursue":
		return green(status)
	case "draft", "queued", "running", "modify", "investigate_further":
		return yellow(status)
	case "rejected", "failed", "abandon":
		return red(status)
	}
	return status
}
