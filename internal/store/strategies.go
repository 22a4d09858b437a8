package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"odin/internal/strategy"
)

// Filter narrows FindStrategies. Zero fields match everything.
type Filter struct {
	Statuses       []strategy.Status
	Recommendation strategy.Recommendation
	CreatedAfter   time.Time
	CreatedBefore  time.Time
	Limit          int
}

// InsertStrategy assigns a fresh id to doc and stores it. Every call creates
// a new row; identical documents are not deduplicated.
func (s *Store) InsertStrategy(ctx context.Context, doc *strategy.Document) (string, error) {
	if doc == nil {
		return "", persistErr("insert strategy", errors.New("document is nil"))
	}
	doc.ID = uuid.NewString()
	if doc.Version == "" {
		doc.Version = strategy.DocumentVersion
	}
	now := s.clock()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	if doc.Status == "" {
		doc.Status = strategy.StatusDraft
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", persistErr("insert strategy", fmt.Errorf("marshal document: %w", err))
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO innovation_strategies
			(id, status, recommendation, model_version, confidence_score, created_at, updated_at, version, document_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, string(doc.Status), string(doc.AIInsights.Recommendation), doc.AIInsights.ModelVersion,
		doc.AIInsights.ConfidenceScore, formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt), doc.Version, string(data))
	if err != nil {
		return "", persistErr("insert strategy", err)
	}
	return doc.ID, nil
}

// GetStrategy loads one document by id.
func (s *Store) GetStrategy(ctx context.Context, id string) (*strategy.Document, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT document_json FROM innovation_strategies WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("strategy %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("get strategy", err)
	}
	return decodeDocument(data)
}

// FindStrategies returns documents matching f, newest first.
func (s *Store) FindStrategies(ctx context.Context, f Filter) ([]*strategy.Document, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if f.Recommendation != "" {
		where = append(where, "recommendation = ?")
		args = append(args, string(f.Recommendation))
	}
	if !f.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(f.CreatedAfter))
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, formatTime(f.CreatedBefore))
	}

	query := "SELECT document_json FROM innovation_strategies"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("find strategies", err)
	}
	defer rows.Close()

	var docs []*strategy.Document
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, persistErr("find strategies", err)
		}
		doc, err := decodeDocument(data)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("find strategies", err)
	}
	return docs, nil
}

// Transition applies a lifecycle change to a stored document and returns
// the updated copy. The read and write happen in one transaction.
func (s *Store) Transition(ctx context.Context, id string, t strategy.Transition) (*strategy.Document, error) {
	if t.At.IsZero() {
		t.At = s.clock()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistErr("transition", err)
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx, "SELECT document_json FROM innovation_strategies WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("strategy %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("transition", err)
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, err
	}
	if err := doc.Apply(t); err != nil {
		return nil, err
	}
	if err := updateDocument(ctx, tx, doc); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, persistErr("transition", err)
	}
	return doc, nil
}

// ArchiveOlderThan archives every strategy created before cutoff that is
// neither approved nor already archived, and returns the affected ids.
func (s *Store) ArchiveOlderThan(ctx context.Context, cutoff time.Time, user string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM innovation_strategies
		WHERE created_at < ? AND status NOT IN (?, ?)
		ORDER BY created_at ASC
	`, formatTime(cutoff), string(strategy.StatusApproved), string(strategy.StatusArchived))
	if err != nil {
		return nil, persistErr("archive sweep", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, persistErr("archive sweep", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, persistErr("archive sweep", err)
	}

	var archived []string
	for _, id := range ids {
		_, err := s.Transition(ctx, id, strategy.Transition{
			Action: strategy.ActionArchived,
			User:   user,
			Reason: fmt.Sprintf("created before %s", cutoff.UTC().Format("2006-01-02")),
		})
		if errors.Is(err, strategy.ErrInvalidTransition) {
			// Approved in the meantime.
			continue
		}
		if err != nil {
			return archived, err
		}
		archived = append(archived, id)
	}
	return archived, nil
}

func updateDocument(ctx context.Context, tx *sql.Tx, doc *strategy.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return persistErr("update strategy", fmt.Errorf("marshal document: %w", err))
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE innovation_strategies
		SET status = ?, recommendation = ?, updated_at = ?, version = ?, document_json = ?
		WHERE id = ?
	`, string(doc.Status), string(doc.AIInsights.Recommendation), formatTime(doc.UpdatedAt), doc.Version, string(data), doc.ID)
	if err != nil {
		return persistErr("update strategy", err)
	}
	return nil
}

func decodeDocument(data string) (*strategy.Document, error) {
	var doc strategy.Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, persistErr("decode strategy", err)
	}
	return &doc, nil
}
