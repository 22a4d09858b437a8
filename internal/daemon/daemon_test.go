package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"odin/internal/adapters"
	"odin/internal/audit"
	"odin/internal/events"
	"odin/internal/pipeline"
	"odin/internal/prompts"
	"odin/internal/scoring"
	"odin/internal/service"
	"odin/internal/store"
)

type harness struct {
	daemon *Daemon
	docs   *store.Store
	inbox  string
}

func newHarness(t *testing.T, gen *adapters.MockGenerator, schedule map[string]string) *harness {
	t.Helper()
	root := t.TempDir()
	docs, err := store.Open(filepath.Join(root, "odin.sqlite"))
	if err != nil {
		t.Fatalf("open doc store: %v", err)
	}
	t.Cleanup(func() { docs.Close() })

	logger := audit.NewLogger(docs, nil)
	publisher := events.NewPublisher(docs, nil, nil)
	svc := &service.Service{
		Pipeline:  &pipeline.Orchestrator{Generator: gen, Prompts: &prompts.Builder{}, Audit: logger},
		Store:     docs,
		Publisher: publisher,
		Audit:     logger,
		Policy:    scoring.PolicyRecord,
	}

	inbox := filepath.Join(root, "inbox")
	d, err := New(Options{
		StorePath:    filepath.Join(root, "daemon.sqlite"),
		Schedule:     schedule,
		InboxDir:     inbox,
		Audit:        logger,
		PollInterval: 10 * time.Millisecond,
		Deps: &Deps{
			Service:         svc,
			Intel:           docs,
			Relay:           publisher,
			ArchiveMaxAge:   365 * 24 * time.Hour,
			ArchiveUser:     "system",
			RelayMaxRetries: 5,
			RelayBatch:      10,
		},
	})
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := os.MkdirAll(inbox, 0o755); err != nil {
		t.Fatalf("mkdir inbox: %v", err)
	}
	return &harness{daemon: d, docs: docs, inbox: inbox}
}

const inboxRequest = `{"initiative": "invoice automation", "market_data": {"emerging_needs": ["Process automation"]}}`

func TestRunOnceProcessesInboxFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &adapters.MockGenerator{Recommendation: "pursue"}, nil)

	path := filepath.Join(h.inbox, "q3.json")
	if err := os.WriteFile(path, []byte(inboxRequest), 0o644); err != nil {
		t.Fatalf("write request: %v", err)
	}
	if _, err := h.daemon.Watcher.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	sum := h.daemon.RunOnce(ctx)
	if sum.Succeeded != 1 || sum.Failed != 0 {
		t.Fatalf("summary = %+v", sum)
	}

	done, err := h.daemon.Store.ListRecentCompleted(ctx, 5)
	if err != nil || len(done) != 1 {
		t.Fatalf("completed = %v, %v", done, err)
	}
	var resp service.Response
	if err := json.Unmarshal([]byte(done[0].ResultJSON), &resp); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	doc, err := h.docs.GetStrategy(ctx, resp.StrategyID)
	if err != nil {
		t.Fatalf("stored strategy: %v", err)
	}
	if doc.Status != "validated" {
		t.Errorf("status = %s, want validated", doc.Status)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("request file still in inbox")
	}
	moved, _ := filepath.Glob(filepath.Join(h.inbox, "processed", "*-q3.json"))
	if len(moved) != 1 {
		t.Errorf("expected file in processed/, got %v", moved)
	}
}

func TestRunOnceFailedRunMovesFileToFailed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &adapters.MockGenerator{FailPhase: "presell"}, nil)

	if err := os.WriteFile(filepath.Join(h.inbox, "bad.json"), []byte(inboxRequest), 0o644); err != nil {
		t.Fatalf("write request: %v", err)
	}
	if err := os.WriteFile(filepath.Join(h.inbox, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write request: %v", err)
	}
	h.daemon.Watcher.Scan(ctx)

	sum := h.daemon.RunOnce(ctx)
	if sum.Failed != 2 || sum.Succeeded != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	failed, _ := filepath.Glob(filepath.Join(h.inbox, "failed", "*.json"))
	if len(failed) != 2 {
		t.Errorf("expected 2 files in failed/, got %v", failed)
	}
	docs, _ := h.docs.FindStrategies(ctx, store.Filter{})
	if len(docs) != 0 {
		t.Errorf("failed runs stored %d strategies", len(docs))
	}
}

func TestEnqueueAndMaintenanceJobs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &adapters.MockGenerator{}, nil)

	for _, jobType := range []string{JobIntelPurge, JobEventRelay, JobArchiveSweep} {
		if _, err := h.daemon.Enqueue(ctx, jobType, nil); err != nil {
			t.Fatalf("enqueue %s: %v", jobType, err)
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := h.daemon.Enqueue(ctx, "legacy_job", nil); !errors.Is(err, ErrUnknownJobType) {
		t.Errorf("expected ErrUnknownJobType, got %v", err)
	}

	sum := h.daemon.RunOnce(ctx)
	if sum.Succeeded != 3 {
		t.Fatalf("summary = %+v", sum)
	}
	done, _ := h.daemon.Store.ListRecentCompleted(ctx, 10)
	results := map[string]string{}
	for _, job := range done {
		results[job.Type] = job.ResultJSON
	}
	if results[JobIntelPurge] != `{"purged":0}` {
		t.Errorf("intel purge result = %s", results[JobIntelPurge])
	}
	if results[JobEventRelay] != `{"attempted":0,"delivered":0,"failed":0}` {
		t.Errorf("event relay result = %s", results[JobEventRelay])
	}
}

func TestUnknownJobTypeFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &adapters.MockGenerator{}, nil)

	id, _, err := h.daemon.Store.EnqueueUnique(ctx, "legacy_job", time.Now().Add(-time.Second), nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if sum := h.daemon.RunOnce(ctx); sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	job, _ := h.daemon.Store.GetJob(ctx, id)
	if job.Status != StatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	rows, err := h.docs.ListLogs(ctx, store.LogFilter{EventType: audit.TypeError})
	if err != nil || len(rows) != 1 {
		t.Errorf("expected one error log row, got %d (%v)", len(rows), err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, &adapters.MockGenerator{Recommendation: "pursue"}, map[string]string{
		JobEventRelay: "* * * * * *",
	})
	if err := os.WriteFile(filepath.Join(h.inbox, "live.json"), []byte(inboxRequest), 0o644); err != nil {
		t.Fatalf("write request: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.daemon.Run(ctx) }()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		docs, _ := h.docs.FindStrategies(context.Background(), store.Filter{})
		if len(docs) == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	docs, _ := h.docs.FindStrategies(context.Background(), store.Filter{})
	if len(docs) != 1 {
		t.Errorf("expected the inbox request to be processed, got %d strategies", len(docs))
	}
	run, err := h.daemon.Store.LatestRun(context.Background())
	if err != nil || run == nil || run.Status != "stopped" {
		t.Errorf("latest run = %+v, %v", run, err)
	}
	st, err := h.daemon.Status(context.Background(), 10)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if _, ok := st.NextRuns[JobEventRelay]; !ok {
		t.Errorf("next runs missing event_relay: %v", st.NextRuns)
	}
}
