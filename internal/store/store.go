// Package store persists strategies and their auxiliary records in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// PersistenceError wraps a failed store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// timeLayout sorts lexically, which the range queries rely on.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

// Store is the document store shared by the service, the daemon and the
// HTTP server. It is safe for concurrent use.
type Store struct {
	DBPath string
	db     *sql.DB
	now    func() time.Time
}

// Open opens or creates the store database.
func Open(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve store db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure store db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}

	s := &Store{DBPath: absPath, db: db, now: time.Now}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS innovation_strategies (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	recommendation TEXT,
	model_version TEXT,
	confidence_score REAL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	version TEXT NOT NULL,
	document_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_strategies_status_created ON innovation_strategies(status, created_at);
CREATE INDEX IF NOT EXISTS idx_strategies_recommendation ON innovation_strategies(recommendation);

CREATE TABLE IF NOT EXISTS service_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	service TEXT NOT NULL,
	document_id TEXT,
	document_ref TEXT,
	status TEXT,
	metadata_json TEXT,
	ai_insights_json TEXT,
	timestamp TEXT NOT NULL,
	processed INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_processed ON service_events(processed, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_document ON service_events(document_id);

CREATE TABLE IF NOT EXISTS service_logs (
	id TEXT PRIMARY KEY,
	service TEXT NOT NULL,
	event_type TEXT NOT NULL,
	message TEXT,
	error_message TEXT,
	error_stack TEXT,
	input_json TEXT,
	performance_json TEXT,
	timestamp TEXT NOT NULL,
	severity TEXT,
	correlation_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_logs_type_timestamp ON service_logs(event_type, timestamp);
CREATE INDEX IF NOT EXISTS idx_logs_correlation ON service_logs(correlation_id);

CREATE TABLE IF NOT EXISTS market_intelligence (
	id TEXT PRIMARY KEY,
	data_type TEXT NOT NULL,
	source TEXT NOT NULL,
	data_json TEXT NOT NULL,
	collected_at TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	reliability_score REAL,
	tags_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_intel_lookup ON market_intelligence(data_type, source, collected_at);
CREATE INDEX IF NOT EXISTS idx_intel_expires ON market_intelligence(expires_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create store schema: %w", err)
	}
	return nil
}

func (s *Store) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
