package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"odin/internal/store"
)

type memorySink struct {
	mu      sync.Mutex
	entries []store.ServiceLog
	err     error
}

func (m *memorySink) InsertLog(_ context.Context, entry *store.ServiceLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func TestLogErrorWritesHighSeverityRow(t *testing.T) {
	sink := &memorySink{}
	logger := NewLogger(sink, nil)
	ctx := WithCorrelationID(context.Background(), "run-42")

	cause := errors.New("connection refused")
	logger.LogError(ctx, fmt.Errorf("validation phase: %w", cause), map[string]any{"trigger": "manual"})

	if len(sink.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(sink.entries))
	}
	got := sink.entries[0]
	if got.Service != Service || got.EventType != TypeError || got.Severity != SeverityHigh {
		t.Fatalf("unexpected row %+v", got)
	}
	if got.ErrorMessage != "validation phase: connection refused" {
		t.Fatalf("error_message = %q", got.ErrorMessage)
	}
	if !strings.Contains(got.ErrorStack, "connection refused") || strings.Count(got.ErrorStack, "\n") != 1 {
		t.Fatalf("error_stack = %q", got.ErrorStack)
	}
	if got.CorrelationID != "run-42" {
		t.Fatalf("correlation_id = %q", got.CorrelationID)
	}
	if got.Timestamp.IsZero() {
		t.Fatalf("timestamp not set")
	}
}

func TestSinkFailureGoesToFallback(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := NewLogger(&memorySink{err: errors.New("database is locked")}, zap.New(core))

	logger.LogError(context.Background(), errors.New("boom"), nil)
	logger.LogPerformance(context.Background(), "run finished", store.PerformanceMetrics{ExecutionTimeMS: 10})

	if logs.Len() != 2 {
		t.Fatalf("fallback entries = %d, want 2", logs.Len())
	}
	first := logs.All()[0].ContextMap()
	if first["error"] != "boom" || first["event_type"] != TypeError {
		t.Fatalf("fallback fields = %v", first)
	}
}

func TestCancelledContextStillWrites(t *testing.T) {
	sink := &memorySink{}
	logger := NewLogger(sink, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logger.LogEvent(ctx, TypeWarning, "phase output missing keys", map[string]any{"phase": "strategy"})
	if len(sink.entries) != 1 || sink.entries[0].Severity != SeverityMedium {
		t.Fatalf("entries = %+v", sink.entries)
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	var logger *Logger
	logger.LogError(context.Background(), errors.New("x"), nil)
	logger.LogEvent(context.Background(), TypeInfo, "x", nil)
	logger.LogPerformance(context.Background(), "x", store.PerformanceMetrics{})
}
