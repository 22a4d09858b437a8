package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Object is a generated JSON object. Its shape depends on the phase that
// produced it and is only checked loosely downstream.
type Object = map[string]any

// Request is one generation call.
type Request struct {
	Phase        string  `json:"phase"`
	SystemPrompt string  `json:"system_prompt"`
	UserPrompt   string  `json:"user_prompt"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
}

// Generator wraps an external text-generation service that answers with a
// JSON object.
type Generator interface {
	Name() string
	Model() string
	Generate(ctx context.Context, req Request) (Object, error)
}

// ErrorKind distinguishes why a generation failed.
type ErrorKind string

const (
	// KindCall means the call itself failed (network, auth, quota, process exit).
	KindCall ErrorKind = "call"
	// KindInvalid means the service answered but the text was not a JSON object.
	KindInvalid ErrorKind = "invalid"
)

// GenerationError is returned by every Generator on failure.
type GenerationError struct {
	Kind     ErrorKind
	Provider string
	Phase    string
	Err      error
}

func (e *GenerationError) Error() string {
	switch e.Kind {
	case KindInvalid:
		return fmt.Sprintf("%s: invalid response for %s: %v", e.Provider, phaseLabel(e.Phase), e.Err)
	default:
		return fmt.Sprintf("%s: call failed for %s: %v", e.Provider, phaseLabel(e.Phase), e.Err)
	}
}

func (e *GenerationError) Unwrap() error { return e.Err }

func phaseLabel(phase string) string {
	if phase == "" {
		return "request"
	}
	return phase + " phase"
}

// IsInvalidResponse reports whether err is a GenerationError for unparsable output.
func IsInvalidResponse(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr) && genErr.Kind == KindInvalid
}

func callError(provider string, req Request, err error) error {
	return &GenerationError{Kind: KindCall, Provider: provider, Phase: req.Phase, Err: err}
}

func invalidError(provider string, req Request, err error) error {
	return &GenerationError{Kind: KindInvalid, Provider: provider, Phase: req.Phase, Err: err}
}

// ParseObject decodes generated text into a JSON object. A surrounding
// Markdown code fence is stripped first; anything other than an object
// (array, scalar, trailing garbage) is rejected.
func ParseObject(text string) (Object, error) {
	trimmed := stripFence(strings.TrimSpace(text))
	if trimmed == "" {
		return nil, errors.New("empty response")
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	var obj Object
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if obj == nil {
		return nil, errors.New("response is not a JSON object")
	}
	if dec.More() {
		return nil, errors.New("unexpected data after JSON object")
	}
	return obj, nil
}

func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	body := strings.TrimPrefix(text, "```")
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		body = body[idx+1:]
	} else {
		return ""
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}

// retryPolicy retries transient call failures with exponential backoff.
type retryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. fn reports whether its error is worth retrying.
func (p retryPolicy) do(ctx context.Context, fn func(attempt int) (retry bool, err error)) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			wait := backoff * time.Duration(1<<uint(i-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		retry, err := fn(i + 1)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			return err
		}
	}
	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}
