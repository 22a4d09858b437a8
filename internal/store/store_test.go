package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odin/internal/strategy"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "odin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s
}

func sampleDoc(rec strategy.Recommendation, created time.Time) *strategy.Document {
	return &strategy.Document{
		Status: strategy.StatusFor(rec),
		CustomerOutcomes: []strategy.CustomerOutcome{
			{Outcome: "Minimize manual entry", ImportanceScore: 9, SatisfactionScore: 4, OpportunityScore: 45},
			{Outcome: "Find records faster", ImportanceScore: 8, SatisfactionScore: 5, OpportunityScore: 24},
		},
		MarketSegments: []strategy.MarketSegment{{SegmentName: "Mid-market ops", Size: 1000, OpportunityScore: 40}},
		MarketAnalysis: strategy.MarketAnalysis{
			TotalAddressableMarket:       1000,
			ServiceableAddressableMarket: 500,
			ServiceableObtainableMarket:  50,
			KeyTrends:                    []string{"AI automation demand"},
		},
		AIInsights: strategy.AIInsights{
			ModelVersion:           "gpt-4",
			ConfidenceScore:        0.8,
			MarketOpportunityScore: 7.5,
			Recommendation:         rec,
		},
		CreatedAt: created,
		UpdatedAt: created,
		Version:   strategy.DocumentVersion,
		AuditTrail: []strategy.AuditEntry{
			{Action: strategy.ActionCreated, Timestamp: created, User: strategy.SystemUser},
		},
	}
}

func TestInsertAndGetStrategy(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	doc := sampleDoc(strategy.RecommendationPursue, created)
	id, err := s.InsertStrategy(ctx, doc)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, id, doc.ID)

	got, err := s.GetStrategy(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, strategy.StatusValidated, got.Status)
	assert.Equal(t, created, got.CreatedAt)
	assert.Len(t, got.CustomerOutcomes, 2)
	assert.Equal(t, int64(500), got.MarketAnalysis.ServiceableAddressableMarket)

	_, err = s.GetStrategy(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertStrategyNeverDeduplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := time.Now().UTC()

	ids := make([]string, 8)
	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.InsertStrategy(ctx, sampleDoc(strategy.RecommendationPursue, created))
			errs <- err
			ids[i] = id
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	docs, err := s.FindStrategies(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, docs, len(ids))
}

func TestFindStrategiesFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.InsertStrategy(ctx, sampleDoc(strategy.RecommendationPursue, base))
	require.NoError(t, err)
	_, err = s.InsertStrategy(ctx, sampleDoc(strategy.RecommendationModify, base.Add(24*time.Hour)))
	require.NoError(t, err)
	_, err = s.InsertStrategy(ctx, sampleDoc(strategy.RecommendationAbandon, base.Add(48*time.Hour)))
	require.NoError(t, err)

	drafts, err := s.FindStrategies(ctx, Filter{Statuses: []strategy.Status{strategy.StatusDraft}})
	require.NoError(t, err)
	assert.Len(t, drafts, 2)
	assert.Equal(t, strategy.RecommendationAbandon, drafts[0].AIInsights.Recommendation, "newest first")

	modify, err := s.FindStrategies(ctx, Filter{Recommendation: strategy.RecommendationModify})
	require.NoError(t, err)
	require.Len(t, modify, 1)

	window, err := s.FindStrategies(ctx, Filter{CreatedAfter: base.Add(time.Hour), CreatedBefore: base.Add(47 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, strategy.RecommendationModify, window[0].AIInsights.Recommendation)

	limited, err := s.FindStrategies(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestTransitionAppendsAudit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.InsertStrategy(ctx, sampleDoc(strategy.RecommendationPursue, time.Now().UTC()))
	require.NoError(t, err)

	doc, err := s.Transition(ctx, id, strategy.Transition{Action: strategy.ActionApproved, User: "alice", Reason: "board sign-off"})
	require.NoError(t, err)
	assert.Equal(t, strategy.StatusApproved, doc.Status)

	stored, err := s.GetStrategy(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored.AuditTrail, 2)
	last := stored.AuditTrail[1]
	assert.Equal(t, strategy.ActionApproved, last.Action)
	assert.Equal(t, "alice", last.User)
	assert.Equal(t, map[string]any{"from": "validated", "to": "approved"}, last.Changes["status"])

	_, err = s.Transition(ctx, id, strategy.Transition{Action: strategy.ActionRejected})
	assert.ErrorIs(t, err, strategy.ErrInvalidTransition)

	_, err = s.Transition(ctx, "missing", strategy.Transition{Action: strategy.ActionArchived})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchiveOlderThanSkipsApproved(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	old := now.AddDate(-3, 0, 0)

	oldDraft, err := s.InsertStrategy(ctx, sampleDoc(strategy.RecommendationModify, old))
	require.NoError(t, err)
	oldApproved, err := s.InsertStrategy(ctx, sampleDoc(strategy.RecommendationPursue, old))
	require.NoError(t, err)
	_, err = s.Transition(ctx, oldApproved, strategy.Transition{Action: strategy.ActionApproved})
	require.NoError(t, err)
	recent, err := s.InsertStrategy(ctx, sampleDoc(strategy.RecommendationModify, now.AddDate(0, -1, 0)))
	require.NoError(t, err)

	archived, err := s.ArchiveOlderThan(ctx, now.AddDate(-2, 0, 0), "archiver")
	require.NoError(t, err)
	assert.Equal(t, []string{oldDraft}, archived)

	doc, err := s.GetStrategy(ctx, oldDraft)
	require.NoError(t, err)
	assert.Equal(t, strategy.StatusArchived, doc.Status)
	assert.NotNil(t, doc.ArchivedAt)

	for _, id := range []string{oldApproved, recent} {
		doc, err := s.GetStrategy(ctx, id)
		require.NoError(t, err)
		assert.NotEqual(t, strategy.StatusArchived, doc.Status)
	}

	again, err := s.ArchiveOlderThan(ctx, now.AddDate(-2, 0, 0), "archiver")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestEventOutbox(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev := &ServiceEvent{
		EventType:  "innovation_strategy_created",
		Service:    "innovation",
		DocumentID: "doc-1",
		Status:     "validated",
		Metadata:   map[string]any{"confidence_score": 0.8},
	}
	require.NoError(t, s.InsertEvent(ctx, ev))
	require.NotEmpty(t, ev.ID)

	pending, err := s.ListUnprocessed(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 0.8, pending[0].Metadata["confidence_score"])
	assert.False(t, pending[0].Processed)

	require.NoError(t, s.IncrementRetry(ctx, ev.ID, errors.New("bus down")))
	require.NoError(t, s.IncrementRetry(ctx, ev.ID, errors.New("bus down")))
	pending, err = s.ListUnprocessed(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].RetryCount)
	assert.Equal(t, "bus down", pending[0].LastError)

	capped, err := s.ListUnprocessed(ctx, 2, 0)
	require.NoError(t, err)
	assert.Empty(t, capped)

	require.NoError(t, s.MarkProcessed(ctx, ev.ID))
	pending, err = s.ListUnprocessed(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	events, err := s.ListEvents(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Processed)

	assert.ErrorIs(t, s.MarkProcessed(ctx, "missing"), ErrNotFound)
	assert.Error(t, s.InsertEvent(ctx, &ServiceEvent{}))
}

func TestLogs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertLog(ctx, &ServiceLog{
		Service:       "innovation_management",
		EventType:     "error",
		Message:       "run failed",
		ErrorMessage:  "boom",
		InputData:     map[string]any{"trigger": "manual"},
		Severity:      "high",
		CorrelationID: "run-1",
	}))
	require.NoError(t, s.InsertLog(ctx, &ServiceLog{
		Service:            "innovation_management",
		EventType:          "performance",
		PerformanceMetrics: &PerformanceMetrics{ExecutionTimeMS: 1200, AIProcessingTimeMS: 1100},
		CorrelationID:      "run-1",
	}))

	errs, err := s.ListLogs(ctx, LogFilter{EventType: "error"})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "boom", errs[0].ErrorMessage)
	assert.Equal(t, map[string]any{"trigger": "manual"}, errs[0].InputData)

	all, err := s.ListLogs(ctx, LogFilter{CorrelationID: "run-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	perf, err := s.ListLogs(ctx, LogFilter{EventType: "performance"})
	require.NoError(t, err)
	require.Len(t, perf, 1)
	require.NotNil(t, perf[0].PerformanceMetrics)
	assert.Equal(t, int64(1200), perf[0].PerformanceMetrics.ExecutionTimeMS)

	assert.Error(t, s.InsertLog(ctx, &ServiceLog{Service: "innovation_management"}))
}

func TestIntelTTL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.PutIntel(ctx, &MarketIntelligence{
		DataType:         IntelMarketTrend,
		Source:           "market_scan",
		Data:             map[string]any{"trends": []any{"old"}},
		CollectedAt:      now.Add(-2 * time.Hour),
		ExpiresAt:        now.Add(-time.Hour),
		ReliabilityScore: 0.7,
	}))
	_, err := s.LatestIntel(ctx, IntelMarketTrend, "market_scan", now)
	assert.ErrorIs(t, err, ErrNotFound, "expired rows are invisible")

	require.NoError(t, s.PutIntel(ctx, &MarketIntelligence{
		DataType:         IntelMarketTrend,
		Source:           "market_scan",
		Data:             map[string]any{"trends": []any{"fresh"}},
		CollectedAt:      now,
		ExpiresAt:        now.Add(time.Hour),
		ReliabilityScore: 0.9,
		Tags:             []string{"scan"},
	}))
	rec, err := s.LatestIntel(ctx, IntelMarketTrend, "market_scan", now)
	require.NoError(t, err)
	assert.Equal(t, []any{"fresh"}, rec.Data["trends"])
	assert.Equal(t, []string{"scan"}, rec.Tags)

	n, err := s.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Error(t, s.PutIntel(ctx, &MarketIntelligence{DataType: "rumor", Source: "x", ExpiresAt: now.Add(time.Hour)}))
	assert.Error(t, s.PutIntel(ctx, &MarketIntelligence{DataType: IntelPatentData, Source: "x", ReliabilityScore: 1.5, ExpiresAt: now.Add(time.Hour)}))
}

func TestPersistenceErrorWraps(t *testing.T) {
	err := persistErr("insert strategy", errors.New("disk full"))
	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "insert strategy", pe.Op)
	assert.Equal(t, "store insert strategy: disk full", err.Error())
}
