// Package audit records diagnostic rows in the service log. Writes are
// best-effort: a failed write is reported to the fallback zap logger and
// never returned to the caller.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"odin/internal/store"
)

// Service is the service name stamped on every log row.
const Service = "innovation_management"

// Log event types.
const (
	TypeInfo        = "info"
	TypeWarning     = "warning"
	TypeError       = "error"
	TypeDebug       = "debug"
	TypePerformance = "performance"
)

// Severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Sink stores log rows. *store.Store implements it.
type Sink interface {
	InsertLog(ctx context.Context, entry *store.ServiceLog) error
}

// Logger writes service_logs rows. A nil *Logger discards everything.
type Logger struct {
	sink     Sink
	fallback *zap.Logger
	now      func() time.Time
}

// NewLogger returns a Logger writing to sink. fallback receives every row
// that could not be stored; nil means zap.NewNop().
func NewLogger(sink Sink, fallback *zap.Logger) *Logger {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return &Logger{sink: sink, fallback: fallback, now: time.Now}
}

type correlationKey struct{}

// WithCorrelationID tags ctx so every row written under it shares id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id set by WithCorrelationID, if any.
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// LogError records a failure with the input that caused it.
func (l *Logger) LogError(ctx context.Context, err error, input any) {
	if l == nil || err == nil {
		return
	}
	l.write(ctx, &store.ServiceLog{
		EventType:    TypeError,
		Message:      "innovation strategy run failed",
		ErrorMessage: err.Error(),
		ErrorStack:   errorChain(err),
		InputData:    input,
		Severity:     SeverityHigh,
	})
}

// LogEvent records an info, warning or debug row.
func (l *Logger) LogEvent(ctx context.Context, eventType, message string, data map[string]any) {
	if l == nil {
		return
	}
	severity := SeverityLow
	if eventType == TypeWarning {
		severity = SeverityMedium
	}
	entry := &store.ServiceLog{
		EventType: eventType,
		Message:   message,
		Severity:  severity,
	}
	if len(data) > 0 {
		entry.InputData = data
	}
	l.write(ctx, entry)
}

// LogPerformance records timing for a completed unit of work.
func (l *Logger) LogPerformance(ctx context.Context, message string, metrics store.PerformanceMetrics) {
	if l == nil {
		return
	}
	m := metrics
	l.write(ctx, &store.ServiceLog{
		EventType:          TypePerformance,
		Message:            message,
		PerformanceMetrics: &m,
		Severity:           SeverityLow,
	})
}

func (l *Logger) write(ctx context.Context, entry *store.ServiceLog) {
	entry.Service = Service
	entry.CorrelationID = CorrelationID(ctx)
	if l.now != nil {
		entry.Timestamp = l.now().UTC()
	}
	if l.sink == nil {
		l.report(entry, errors.New("no log sink configured"))
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// A cancelled run still gets its diagnostics written.
	if err := l.sink.InsertLog(context.WithoutCancel(ctx), entry); err != nil {
		l.report(entry, err)
	}
}

func (l *Logger) report(entry *store.ServiceLog, cause error) {
	fields := []zap.Field{
		zap.String("event_type", entry.EventType),
		zap.String("message", entry.Message),
		zap.String("correlation_id", entry.CorrelationID),
		zap.NamedError("sink_error", cause),
	}
	if entry.ErrorMessage != "" {
		fields = append(fields, zap.String("error", entry.ErrorMessage))
	}
	l.fallback.Warn("service log write failed", fields...)
}

// errorChain renders each wrapped layer of err on its own line.
func errorChain(err error) string {
	var lines []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		lines = append(lines, fmt.Sprintf("%T: %s", e, e.Error()))
	}
	return strings.Join(lines, "\n")
}
