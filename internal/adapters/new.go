package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Options selects and configures a Generator.
type Options struct {
	Provider          string
	Model             string
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	MaxAttempts       int
	Backoff           time.Duration
	RequestsPerSecond float64
	Command           []string
	WorkDir           string
	TranscriptDir     string
	Recommendation    string
	Logger            *zap.Logger
}

// New builds the Generator named by opts.Provider.
func New(ctx context.Context, opts Options) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", "mock":
		return &MockGenerator{Recommendation: opts.Recommendation}, nil
	case "openai":
		return NewOpenAIGenerator(OpenAIConfig{
			APIKey:            opts.APIKey,
			BaseURL:           opts.BaseURL,
			Model:             opts.Model,
			Timeout:           opts.Timeout,
			MaxAttempts:       opts.MaxAttempts,
			Backoff:           opts.Backoff,
			RequestsPerSecond: opts.RequestsPerSecond,
			Logger:            opts.Logger,
		})
	case "gemini":
		return NewGeminiGenerator(ctx, GeminiConfig{
			APIKey:      opts.APIKey,
			Model:       opts.Model,
			Timeout:     opts.Timeout,
			MaxAttempts: opts.MaxAttempts,
			Backoff:     opts.Backoff,
			Logger:      opts.Logger,
		})
	case "command":
		if len(opts.Command) == 0 {
			return nil, fmt.Errorf("command generator: command is required")
		}
		return &CommandGenerator{
			Command:       opts.Command[0],
			Args:          opts.Command[1:],
			WorkDir:       opts.WorkDir,
			Timeout:       opts.Timeout,
			TranscriptDir: opts.TranscriptDir,
			ModelName:     opts.Model,
			Logger:        opts.Logger,
		}, nil
	}
	return nil, fmt.Errorf("unknown generator %q (want mock, openai, gemini or command)", opts.Provider)
}
