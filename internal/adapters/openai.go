package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var _ Generator = (*OpenAIGenerator)(nil)

// Default configuration values.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4"
	DefaultTimeout       = 120 * time.Second
)

// OpenAIConfig holds configuration for the OpenAI chat completions generator.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL is the API base URL. Any OpenAI-compatible endpoint works.
	BaseURL string

	Model   string
	Timeout time.Duration

	// MaxAttempts bounds retries of transient failures (network, 429, 5xx).
	MaxAttempts int
	Backoff     time.Duration

	// RequestsPerSecond throttles calls across concurrent runs; zero disables.
	RequestsPerSecond float64

	Logger *zap.Logger
}

// OpenAIGenerator calls /chat/completions and parses the reply as JSON.
type OpenAIGenerator struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	retry   retryPolicy
	limiter *rate.Limiter
	log     *zap.Logger
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIGenerator validates the config and applies defaults.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	g := &OpenAIGenerator{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		retry:   retryPolicy{Attempts: cfg.MaxAttempts, Backoff: cfg.Backoff},
		log:     cfg.Logger,
	}
	if cfg.RequestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return g, nil
}

func (g *OpenAIGenerator) Name() string  { return "openai" }
func (g *OpenAIGenerator) Model() string { return g.model }

// Generate sends one chat completion and parses the first choice.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (Object, error) {
	body, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, callError(g.Name(), req, fmt.Errorf("marshal request: %w", err))
	}

	var content string
	err = g.retry.do(ctx, func(attempt int) (bool, error) {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return false, err
			}
		}
		text, retry, err := g.send(ctx, body)
		if err != nil {
			g.log.Warn("openai call failed",
				zap.String("phase", req.Phase),
				zap.Int("attempt", attempt),
				zap.Bool("retry", retry),
				zap.Error(err),
			)
			return retry, err
		}
		content = text
		return false, nil
	})
	if err != nil {
		return nil, callError(g.Name(), req, err)
	}

	obj, err := ParseObject(content)
	if err != nil {
		return nil, invalidError(g.Name(), req, err)
	}
	return obj, nil
}

// send performs a single HTTP round trip. The bool reports whether the
// failure is transient.
func (g *OpenAIGenerator) send(ctx context.Context, body []byte) (string, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", !errors.Is(err, context.Canceled), fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", true, fmt.Errorf("rate limit exceeded (429)")
	}
	if resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("openai error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", false, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("openai error: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("openai error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if len(parsed.Choices) == 0 {
		return "", false, fmt.Errorf("no completion returned")
	}
	return parsed.Choices[0].Message.Content, false, nil
}
