package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"odin/internal/notify"
)

// Bus delivers events to downstream consumers.
type Bus interface {
	Name() string
	Emit(ctx context.Context, ev Event) error
}

// LogBus writes every event to a zap logger. It never fails.
type LogBus struct {
	Logger *zap.Logger
}

func (b *LogBus) Name() string { return "log" }

func (b *LogBus) Emit(_ context.Context, ev Event) error {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("event emitted",
		zap.String("event_type", ev.EventType),
		zap.String("document_id", ev.DocumentID),
		zap.String("status", ev.Status),
		zap.Any("metadata", ev.Metadata),
	)
	return nil
}

// WebhookBus POSTs each event as JSON and retries failed deliveries with
// exponential backoff.
type WebhookBus struct {
	URL        string
	Client     *http.Client
	MaxRetries int
	// Backoff is the first retry delay; it doubles per attempt. Zero means one second.
	Backoff time.Duration
	Logger  *zap.Logger
}

func (b *WebhookBus) Name() string { return "webhook" }

func (b *WebhookBus) Emit(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	base := b.Backoff
	if base <= 0 {
		base = time.Second
	}

	var lastErr error
	for i := 0; i <= b.MaxRetries; i++ {
		if err := b.send(ctx, body); err != nil {
			lastErr = err
			if i == b.MaxRetries {
				break
			}
			backoff := base * time.Duration(1<<uint(i))
			logger.Warn("webhook delivery failed",
				zap.String("event_type", ev.EventType),
				zap.Int("attempt", i+1),
				zap.Duration("retry_in", backoff),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				continue
			}
		}
		return nil
	}
	if b.MaxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("all %d retries exhausted: %w", b.MaxRetries+1, lastErr)
}

func (b *WebhookBus) send(ctx context.Context, body []byte) error {
	if b.URL == "" {
		return errors.New("webhook url is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	client := b.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NotifyBus turns events into desktop notifications.
type NotifyBus struct {
	Notifier *notify.Notifier
}

func (b *NotifyBus) Name() string { return "notify" }

func (b *NotifyBus) Emit(_ context.Context, ev Event) error {
	var title, message string
	if ev.EventType == TypeCreated {
		rec, _ := ev.AIInsights["recommendation"].(string)
		conf := toFloat(ev.AIInsights["confidence"])
		size := int64(toFloat(ev.AIInsights["market_size"]))
		title, message = notify.FormatStrategyCreated(ev.DocumentID, rec, conf, size)
	} else {
		from, _ := ev.Metadata["previous_status"].(string)
		title, message = notify.FormatStrategyTransition(ev.DocumentID, from, ev.Status)
	}
	return b.Notifier.Send(title, message)
}

// MultiBus emits to every bus and joins their errors.
type MultiBus []Bus

func (m MultiBus) Name() string { return "multi" }

func (m MultiBus) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, b := range m {
		if err := b.Emit(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// toFloat reads a number that may have gone through a JSON round trip.
func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}
