package daemon

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Job states.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrJobNotFound is returned by GetJob for an unknown id.
var ErrJobNotFound = errors.New("job not found")

const stateTimeLayout = "2006-01-02T15:04:05.000000Z"

// Store keeps the daemon's job queue, run history and key/value state in
// its own SQLite file, separate from the strategy store.
type Store struct {
	DBPath string
	db     *sql.DB
	now    func() time.Time
}

// Job is a queued, running or finished unit of daemon work.
type Job struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	PayloadJSON    string     `json:"payload,omitempty"`
	ResultJSON     string     `json:"result,omitempty"`
	LeaseOwner     string     `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
}

// DecodePayload unmarshals the job payload into v.
func (j *Job) DecodePayload(v any) error {
	if j.PayloadJSON == "" || j.PayloadJSON == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(j.PayloadJSON), v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Type, err)
	}
	return nil
}

// Run is one daemon process lifetime.
type Run struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Status      string     `json:"status"`
	SummaryJSON string     `json:"summary,omitempty"`
}

// OpenStore opens or creates the daemon state database.
func OpenStore(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve daemon db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure daemon db dir: %w", err)
	}
	db, err := sql.Open("sqlite", absPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open daemon db: %w", err)
	}
	db.SetMaxOpenConns(1)

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
CREATE TABLE IF NOT EXISTS daemon_runs (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	status TEXT NOT NULL,
	summary_json TEXT
);

CREATE TABLE IF NOT EXISTS daemon_jobs (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	scheduled_at TEXT NOT NULL,
	started_at TEXT,
	finished_at TEXT,
	payload_json TEXT,
	result_json TEXT,
	lease_owner TEXT,
	lease_expires_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_scheduled ON daemon_jobs(status, scheduled_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_type_scheduled ON daemon_jobs(type, scheduled_at);

CREATE TABLE IF NOT EXISTS daemon_kv (
	key TEXT PRIMARY KEY,
	value TEXT
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create daemon schema: %w", err)
	}
	return nil
}

func formatStateTime(t time.Time) string { return t.UTC().Format(stateTimeLayout) }

func parseStateTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(stateTimeLayout, v.String)
	if err != nil {
		return nil
	}
	return &t
}

// EnqueueUnique enqueues a job unless one with the same type and
// scheduled_at exists. created reports whether a row was inserted.
func (s *Store) EnqueueUnique(ctx context.Context, jobType string, scheduledAt time.Time, payload any) (id string, created bool, err error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", false, fmt.Errorf("marshal payload: %w", err)
	}
	at := formatStateTime(scheduledAt)
	id = fmt.Sprintf("%s_%s", jobType, at)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO daemon_jobs (id, type, status, scheduled_at, payload_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, id, jobType, StatusQueued, at, string(payloadJSON))
	if err != nil {
		return "", false, fmt.Errorf("insert job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("insert job: %w", err)
	}
	if n == 0 {
		var existing string
		if err := s.db.QueryRowContext(ctx,
			"SELECT id FROM daemon_jobs WHERE type = ? AND scheduled_at = ?", jobType, at,
		).Scan(&existing); err != nil {
			return "", false, fmt.Errorf("check existing job: %w", err)
		}
		return existing, false, nil
	}
	return id, true, nil
}

// ClaimNext claims the oldest queued job due at now. It returns nil when
// nothing is ready.
func (s *Store) ClaimNext(ctx context.Context, now time.Time, leaseOwner string, leaseFor time.Duration) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var jobID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM daemon_jobs
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at ASC
		LIMIT 1
	`, StatusQueued, formatStateTime(now)).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find next job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE daemon_jobs
		SET status = ?, started_at = ?, lease_owner = ?, lease_expires_at = ?
		WHERE id = ?
	`, StatusRunning, formatStateTime(now), leaseOwner, formatStateTime(now.Add(leaseFor)), jobID); err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return s.GetJob(ctx, jobID)
}

// RequeueExpired returns running jobs whose lease ran out before now to the
// queue, so a crashed daemon does not strand them.
func (s *Store) RequeueExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE daemon_jobs
		SET status = ?, lease_owner = NULL, lease_expires_at = NULL, started_at = NULL
		WHERE status = ? AND lease_expires_at < ?
	`, StatusQueued, StatusRunning, formatStateTime(now))
	if err != nil {
		return 0, fmt.Errorf("requeue expired jobs: %w", err)
	}
	return res.RowsAffected()
}

const jobColumns = `id, type, status, scheduled_at, started_at, finished_at,
	payload_json, result_json, lease_owner, lease_expires_at`

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM daemon_jobs WHERE id = ?", jobID)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	defer rows.Close()
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return &jobs[0], nil
}

// Succeed marks a job as succeeded and stores its result.
func (s *Store) Succeed(ctx context.Context, jobID string, result any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return s.finish(ctx, jobID, StatusSucceeded, string(resultJSON))
}

// Fail marks a job as failed with the error as its result.
func (s *Store) Fail(ctx context.Context, jobID string, jobErr error) error {
	resultJSON, _ := json.Marshal(map[string]string{"error": jobErr.Error()})
	return s.finish(ctx, jobID, StatusFailed, string(resultJSON))
}

func (s *Store) finish(ctx context.Context, jobID, status, result string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE daemon_jobs
		SET status = ?, finished_at = ?, result_json = ?, lease_expires_at = NULL
		WHERE id = ?
	`, status, formatStateTime(s.now()), result, jobID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// ListJobs returns up to limit jobs, newest schedule first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	return s.queryJobs(ctx, "SELECT "+jobColumns+" FROM daemon_jobs ORDER BY scheduled_at DESC LIMIT ?", limit)
}

// ListRunning returns all jobs currently leased.
func (s *Store) ListRunning(ctx context.Context) ([]Job, error) {
	return s.queryJobs(ctx, "SELECT "+jobColumns+" FROM daemon_jobs WHERE status = ? ORDER BY scheduled_at ASC", StatusRunning)
}

// ListQueued returns queued jobs, oldest first.
func (s *Store) ListQueued(ctx context.Context, limit int) ([]Job, error) {
	return s.queryJobs(ctx, "SELECT "+jobColumns+" FROM daemon_jobs WHERE status = ? ORDER BY scheduled_at ASC LIMIT ?", StatusQueued, limit)
}

// ListRecentCompleted returns recently finished jobs.
func (s *Store) ListRecentCompleted(ctx context.Context, limit int) ([]Job, error) {
	return s.queryJobs(ctx, "SELECT "+jobColumns+" FROM daemon_jobs WHERE status IN (?, ?) ORDER BY finished_at DESC LIMIT ?",
		StatusSucceeded, StatusFailed, limit)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]Job, error) {
	var jobs []Job
	for rows.Next() {
		var job Job
		var scheduledAt string
		var startedAt, finishedAt, leaseExpiresAt sql.NullString
		var payloadJSON, resultJSON, leaseOwner sql.NullString

		if err := rows.Scan(
			&job.ID, &job.Type, &job.Status, &scheduledAt,
			&startedAt, &finishedAt, &payloadJSON, &resultJSON,
			&leaseOwner, &leaseExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.ScheduledAt, _ = time.Parse(stateTimeLayout, scheduledAt)
		job.StartedAt = parseStateTime(startedAt)
		job.FinishedAt = parseStateTime(finishedAt)
		job.LeaseExpiresAt = parseStateTime(leaseExpiresAt)
		job.PayloadJSON = payloadJSON.String
		job.ResultJSON = resultJSON.String
		job.LeaseOwner = leaseOwner.String
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// StartRun records the start of a daemon process.
func (s *Store) StartRun(ctx context.Context, summary any) (string, error) {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("marshal run summary: %w", err)
	}
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO daemon_runs (id, started_at, status, summary_json) VALUES (?, ?, ?, ?)",
		id, formatStateTime(s.now()), StatusRunning, string(summaryJSON),
	); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun closes a run record.
func (s *Store) FinishRun(ctx context.Context, id, status string, summary any) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE daemon_runs SET finished_at = ?, status = ?, summary_json = ? WHERE id = ?",
		formatStateTime(s.now()), status, string(summaryJSON), id,
	); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// LatestRun returns the most recent run, or nil when the daemon never ran.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	var run Run
	var startedAt string
	var finishedAt, summary sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, started_at, finished_at, status, summary_json FROM daemon_runs ORDER BY started_at DESC LIMIT 1",
	).Scan(&run.ID, &startedAt, &finishedAt, &run.Status, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	run.StartedAt, _ = time.Parse(stateTimeLayout, startedAt)
	run.FinishedAt = parseStateTime(finishedAt)
	run.SummaryJSON = summary.String
	return &run, nil
}

// GetKV returns the value for key, or "" when unset.
func (s *Store) GetKV(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM daemon_kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get kv: %w", err)
	}
	return value, nil
}

// SetKV stores value under key.
func (s *Store) SetKV(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO daemon_kv (key, value) VALUES (?, ?)", key, value,
	); err != nil {
		return fmt.Errorf("set kv: %w", err)
	}
	return nil
}
