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

// Market intelligence data types.
const (
	IntelIndustryReport     = "industry_report"
	IntelCompetitorAnalysis = "competitor_analysis"
	IntelMarketTrend        = "market_trend"
	IntelCustomerFeedback   = "customer_feedback"
	IntelPatentData         = "patent_data"
)

var intelTypes = map[string]bool{
	IntelIndustryReport:     true,
	IntelCompetitorAnalysis: true,
	IntelMarketTrend:        true,
	IntelCustomerFeedback:   true,
	IntelPatentData:         true,
}

// MarketIntelligence is a cached signal with an explicit expiry.
type MarketIntelligence struct {
	ID               string         `json:"id"`
	DataType         string         `json:"data_type"`
	Source           string         `json:"source"`
	Data             map[string]any `json:"data"`
	CollectedAt      time.Time      `json:"collected_at"`
	ExpiresAt        time.Time      `json:"expires_at"`
	ReliabilityScore float64        `json:"reliability_score"`
	Tags             []string       `json:"tags,omitempty"`
}

// PutIntel caches an intelligence record.
func (s *Store) PutIntel(ctx context.Context, rec *MarketIntelligence) error {
	if !intelTypes[rec.DataType] {
		return persistErr("put intel", fmt.Errorf("unknown data type %q", rec.DataType))
	}
	if rec.Source == "" {
		return persistErr("put intel", errors.New("source is required"))
	}
	if rec.ReliabilityScore < 0 || rec.ReliabilityScore > 1 {
		return persistErr("put intel", fmt.Errorf("reliability_score %.2f outside [0,1]", rec.ReliabilityScore))
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CollectedAt.IsZero() {
		rec.CollectedAt = s.clock()
	}
	if rec.ExpiresAt.IsZero() || !rec.ExpiresAt.After(rec.CollectedAt) {
		return persistErr("put intel", errors.New("expires_at must be after collected_at"))
	}
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return persistErr("put intel", err)
	}
	tags, err := marshalOptional(rec.Tags)
	if err != nil {
		return persistErr("put intel", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO market_intelligence (id, data_type, source, data_json, collected_at, expires_at, reliability_score, tags_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.DataType, rec.Source, string(data), formatTime(rec.CollectedAt), formatTime(rec.ExpiresAt), rec.ReliabilityScore, tags)
	if err != nil {
		return persistErr("put intel", err)
	}
	return nil
}

// LatestIntel returns the newest unexpired record for dataType and source.
// Expired rows are never returned, even before PurgeExpired runs.
func (s *Store) LatestIntel(ctx context.Context, dataType, source string, now time.Time) (*MarketIntelligence, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, data_type, source, data_json, collected_at, expires_at, reliability_score, tags_json
		FROM market_intelligence
		WHERE data_type = ? AND source = ? AND expires_at > ?
		ORDER BY collected_at DESC
		LIMIT 1
	`, dataType, source, formatTime(now))

	var (
		rec                      MarketIntelligence
		data, collected, expires string
		tags                     sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.DataType, &rec.Source, &data, &collected, &expires, &rec.ReliabilityScore, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("intel %s/%s: %w", dataType, source, ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("get intel", err)
	}
	rec.CollectedAt = parseTime(collected)
	rec.ExpiresAt = parseTime(expires)
	if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
		return nil, persistErr("decode intel", err)
	}
	if tags.Valid {
		_ = json.Unmarshal([]byte(tags.String), &rec.Tags)
	}
	return &rec, nil
}

// PurgeExpired deletes records whose expiry is at or before now.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM market_intelligence WHERE expires_at <= ?", formatTime(now))
	if err != nil {
		return 0, persistErr("purge intel", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
