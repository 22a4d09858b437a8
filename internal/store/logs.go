package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PerformanceMetrics is attached to performance log rows.
type PerformanceMetrics struct {
	ExecutionTimeMS      int64   `json:"execution_time_ms"`
	AIProcessingTimeMS   int64   `json:"ai_processing_time_ms,omitempty"`
	StoreOperationsCount int     `json:"store_operations_count,omitempty"`
	MemoryUsageMB        float64 `json:"memory_usage_mb,omitempty"`
}

// ServiceLog is one diagnostic record.
type ServiceLog struct {
	ID                 string              `json:"id"`
	Service            string              `json:"service"`
	EventType          string              `json:"event_type"`
	Message            string              `json:"message,omitempty"`
	ErrorMessage       string              `json:"error_message,omitempty"`
	ErrorStack         string              `json:"error_stack,omitempty"`
	InputData          any                 `json:"input_data,omitempty"`
	PerformanceMetrics *PerformanceMetrics `json:"performance_metrics,omitempty"`
	Timestamp          time.Time           `json:"timestamp"`
	Severity           string              `json:"severity,omitempty"`
	CorrelationID      string              `json:"correlation_id,omitempty"`
}

// LogFilter narrows ListLogs.
type LogFilter struct {
	EventType     string
	Severity      string
	CorrelationID string
	Since         time.Time
	Limit         int
}

// InsertLog appends a log row.
func (s *Store) InsertLog(ctx context.Context, entry *ServiceLog) error {
	if entry.Service == "" || entry.EventType == "" {
		return persistErr("insert log", errors.New("service and event_type are required"))
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.clock()
	}
	input, err := marshalOptional(entry.InputData)
	if err != nil {
		return persistErr("insert log", err)
	}
	var perf sql.NullString
	if entry.PerformanceMetrics != nil {
		if perf, err = marshalOptional(entry.PerformanceMetrics); err != nil {
			return persistErr("insert log", err)
		}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO service_logs
			(id, service, event_type, message, error_message, error_stack, input_json, performance_json, timestamp, severity, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Service, entry.EventType, nullString(entry.Message), nullString(entry.ErrorMessage),
		nullString(entry.ErrorStack), input, perf, formatTime(entry.Timestamp), nullString(entry.Severity), nullString(entry.CorrelationID))
	if err != nil {
		return persistErr("insert log", err)
	}
	return nil
}

// ListLogs returns log rows matching f, newest first.
func (s *Store) ListLogs(ctx context.Context, f LogFilter) ([]ServiceLog, error) {
	var (
		where []string
		args  []any
	)
	if f.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, f.Severity)
	}
	if f.CorrelationID != "" {
		where = append(where, "correlation_id = ?")
		args = append(args, f.CorrelationID)
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTime(f.Since))
	}
	query := `SELECT id, service, event_type, message, error_message, error_stack, input_json, performance_json, timestamp, severity, correlation_id FROM service_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("list logs", err)
	}
	defer rows.Close()

	var logs []ServiceLog
	for rows.Next() {
		var (
			entry                                      ServiceLog
			msg, errMsg, stack, input, perf, sev, corr sql.NullString
			ts                                         string
		)
		if err := rows.Scan(&entry.ID, &entry.Service, &entry.EventType, &msg, &errMsg, &stack, &input, &perf, &ts, &sev, &corr); err != nil {
			return nil, persistErr("scan log", err)
		}
		entry.Message = msg.String
		entry.ErrorMessage = errMsg.String
		entry.ErrorStack = stack.String
		entry.Severity = sev.String
		entry.CorrelationID = corr.String
		entry.Timestamp = parseTime(ts)
		if input.Valid {
			var v any
			if json.Unmarshal([]byte(input.String), &v) == nil {
				entry.InputData = v
			}
		}
		if perf.Valid {
			var pm PerformanceMetrics
			if json.Unmarshal([]byte(perf.String), &pm) == nil {
				entry.PerformanceMetrics = &pm
			}
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate logs", err)
	}
	return logs, nil
}
