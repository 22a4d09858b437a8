package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ServiceEvent is the stored copy of an emitted lifecycle event. Rows with
// Processed=false are pending delivery.
type ServiceEvent struct {
	ID          string         `json:"id"`
	EventType   string         `json:"event_type"`
	Service     string         `json:"service"`
	DocumentID  string         `json:"document_id,omitempty"`
	DocumentRef string         `json:"document_ref,omitempty"`
	Status      string         `json:"status,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	AIInsights  map[string]any `json:"ai_insights,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Processed   bool           `json:"processed"`
	RetryCount  int            `json:"retry_count"`
	LastError   string         `json:"last_error,omitempty"`
}

// InsertEvent appends an event row and assigns its id if empty.
func (s *Store) InsertEvent(ctx context.Context, ev *ServiceEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.clock()
	}
	if ev.EventType == "" || ev.Service == "" {
		return persistErr("insert event", errors.New("event_type and service are required"))
	}
	metadata, err := marshalOptional(ev.Metadata)
	if err != nil {
		return persistErr("insert event", err)
	}
	insights, err := marshalOptional(ev.AIInsights)
	if err != nil {
		return persistErr("insert event", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO service_events
			(id, event_type, service, document_id, document_ref, status, metadata_json, ai_insights_json, timestamp, processed, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.EventType, ev.Service, nullString(ev.DocumentID), nullString(ev.DocumentRef), nullString(ev.Status),
		metadata, insights, formatTime(ev.Timestamp), boolInt(ev.Processed), ev.RetryCount)
	if err != nil {
		return persistErr("insert event", err)
	}
	return nil
}

// MarkProcessed flags an event as delivered.
func (s *Store) MarkProcessed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE service_events SET processed = 1, last_error = NULL WHERE id = ?", id)
	if err != nil {
		return persistErr("mark event processed", err)
	}
	return expectRow(res, "event", id)
}

// IncrementRetry records a failed delivery attempt.
func (s *Store) IncrementRetry(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE service_events SET retry_count = retry_count + 1, last_error = ? WHERE id = ?
	`, nullString(msg), id)
	if err != nil {
		return persistErr("increment event retry", err)
	}
	return expectRow(res, "event", id)
}

// ListUnprocessed returns pending events, oldest first. Events that already
// failed maxRetries times are skipped when maxRetries > 0.
func (s *Store) ListUnprocessed(ctx context.Context, maxRetries, limit int) ([]ServiceEvent, error) {
	query := "SELECT " + eventColumns + " FROM service_events WHERE processed = 0"
	var args []any
	if maxRetries > 0 {
		query += " AND retry_count < ?"
		args = append(args, maxRetries)
	}
	query += " ORDER BY timestamp ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryEvents(ctx, query, args...)
}

// ListEvents returns the events recorded for a document, oldest first.
func (s *Store) ListEvents(ctx context.Context, documentID string) ([]ServiceEvent, error) {
	return s.queryEvents(ctx,
		"SELECT "+eventColumns+" FROM service_events WHERE document_id = ? ORDER BY timestamp ASC", documentID)
}

const eventColumns = `id, event_type, service, document_id, document_ref, status, metadata_json, ai_insights_json, timestamp, processed, retry_count, last_error`

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]ServiceEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("query events", err)
	}
	defer rows.Close()

	var events []ServiceEvent
	for rows.Next() {
		var (
			ev                                   ServiceEvent
			docID, docRef, status, meta, ins, le sql.NullString
			ts                                   string
			processed                            int
		)
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.Service, &docID, &docRef, &status, &meta, &ins, &ts, &processed, &ev.RetryCount, &le); err != nil {
			return nil, persistErr("scan event", err)
		}
		ev.DocumentID = docID.String
		ev.DocumentRef = docRef.String
		ev.Status = status.String
		ev.LastError = le.String
		ev.Timestamp = parseTime(ts)
		ev.Processed = processed != 0
		if meta.Valid {
			_ = json.Unmarshal([]byte(meta.String), &ev.Metadata)
		}
		if ins.Valid {
			_ = json.Unmarshal([]byte(ins.String), &ev.AIInsights)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate events", err)
	}
	return events, nil
}

func marshalOptional(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal json: %w", err)
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
