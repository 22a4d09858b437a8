package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

var _ Generator = (*GeminiGenerator)(nil)

const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig holds configuration for the Gemini generator.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	Logger      *zap.Logger
}

// GeminiGenerator calls Gemini through the genai SDK with a JSON response MIME type.
type GeminiGenerator struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	retry   retryPolicy
	log     *zap.Logger
}

// NewGeminiGenerator creates the genai client.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiGenerator{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		retry:   retryPolicy{Attempts: cfg.MaxAttempts, Backoff: cfg.Backoff},
		log:     cfg.Logger,
	}, nil
}

func (g *GeminiGenerator) Name() string  { return "gemini" }
func (g *GeminiGenerator) Model() string { return g.model }

// Generate runs one GenerateContent call and parses the text as JSON.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (Object, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(float32(req.Temperature)),
		ResponseMIMEType:  "application/json",
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	var text string
	err := g.retry.do(ctx, func(attempt int) (bool, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		resp, err := g.client.Models.GenerateContent(callCtx, g.model, genai.Text(req.UserPrompt), config)
		if err != nil {
			retry := !errors.Is(err, context.Canceled)
			g.log.Warn("gemini call failed",
				zap.String("phase", req.Phase),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return retry, fmt.Errorf("generate content: %w", err)
		}
		text = resp.Text()
		return false, nil
	})
	if err != nil {
		return nil, callError(g.Name(), req, err)
	}

	obj, err := ParseObject(text)
	if err != nil {
		return nil, invalidError(g.Name(), req, err)
	}
	return obj, nil
}
