package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// opencensus starts its stats worker at init, pulled in through genai.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "daemon.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEnqueueUnique(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	at := time.Date(2024, 3, 1, 2, 30, 0, 0, time.UTC)

	id, created, err := store.EnqueueUnique(ctx, JobArchiveSweep, at, map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !created {
		t.Fatal("expected first enqueue to create a job")
	}

	again, created, err := store.EnqueueUnique(ctx, JobArchiveSweep, at, map[string]any{"n": 2})
	if err != nil {
		t.Fatalf("enqueue again: %v", err)
	}
	if created || again != id {
		t.Fatalf("expected duplicate to return %s without creating, got %s created=%v", id, again, created)
	}

	if _, created, _ := store.EnqueueUnique(ctx, JobIntelPurge, at, nil); !created {
		t.Error("a different job type at the same time should be created")
	}

	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != StatusQueued || !job.ScheduledAt.Equal(at) {
		t.Errorf("unexpected job %+v", job)
	}
	var payload map[string]int
	if err := job.DecodePayload(&payload); err != nil || payload["n"] != 1 {
		t.Errorf("payload = %v, %v; want first payload kept", payload, err)
	}

	if _, err := store.GetJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestClaimNextOrderAndLease(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	later, _, _ := store.EnqueueUnique(ctx, JobEventRelay, base.Add(time.Minute), nil)
	first, _, _ := store.EnqueueUnique(ctx, JobIntelPurge, base, nil)
	store.EnqueueUnique(ctx, JobArchiveSweep, base.Add(time.Hour), nil)

	job, err := store.ClaimNext(ctx, base.Add(2*time.Minute), "worker-a", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.ID != first {
		t.Fatalf("expected oldest job %s, got %+v", first, job)
	}
	if job.Status != StatusRunning || job.LeaseOwner != "worker-a" || job.LeaseExpiresAt == nil {
		t.Errorf("claimed job not leased: %+v", job)
	}

	job, _ = store.ClaimNext(ctx, base.Add(2*time.Minute), "worker-a", time.Minute)
	if job == nil || job.ID != later {
		t.Fatalf("expected %s next, got %+v", later, job)
	}

	// the archive sweep is not due yet
	job, err = store.ClaimNext(ctx, base.Add(2*time.Minute), "worker-a", time.Minute)
	if err != nil || job != nil {
		t.Fatalf("expected nothing due, got %+v, %v", job, err)
	}

	running, _ := store.ListRunning(ctx)
	if len(running) != 2 {
		t.Fatalf("expected 2 running jobs, got %d", len(running))
	}

	n, err := store.RequeueExpired(ctx, base.Add(10*time.Minute))
	if err != nil || n != 2 {
		t.Fatalf("requeue = %d, %v; want 2", n, err)
	}
	queued, _ := store.ListQueued(ctx, 10)
	if len(queued) != 3 {
		t.Errorf("expected 3 queued jobs after requeue, got %d", len(queued))
	}
}

func TestSucceedAndFail(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Now()

	okID, _, _ := store.EnqueueUnique(ctx, JobIntelPurge, now.Add(-time.Second), nil)
	badID, _, _ := store.EnqueueUnique(ctx, JobEventRelay, now.Add(-time.Second), nil)

	if err := store.Succeed(ctx, okID, map[string]int{"purged": 3}); err != nil {
		t.Fatalf("succeed: %v", err)
	}
	if err := store.Fail(ctx, badID, errors.New("webhook down")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	ok, _ := store.GetJob(ctx, okID)
	if ok.Status != StatusSucceeded || ok.ResultJSON != `{"purged":3}` || ok.FinishedAt == nil {
		t.Errorf("unexpected succeeded job %+v", ok)
	}
	bad, _ := store.GetJob(ctx, badID)
	if bad.Status != StatusFailed || bad.ResultJSON != `{"error":"webhook down"}` {
		t.Errorf("unexpected failed job %+v", bad)
	}

	recent, err := store.ListRecentCompleted(ctx, 10)
	if err != nil || len(recent) != 2 {
		t.Fatalf("recent = %d, %v; want 2", len(recent), err)
	}
	all, _ := store.ListJobs(ctx, 1)
	if len(all) != 1 {
		t.Errorf("ListJobs limit ignored: %d", len(all))
	}
}

func TestRunsAndKV(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if run, err := store.LatestRun(ctx); err != nil || run != nil {
		t.Fatalf("expected no run, got %+v, %v", run, err)
	}
	id, err := store.StartRun(ctx, map[string]string{"lease_owner": "w"})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := store.FinishRun(ctx, id, "stopped", Summary{Succeeded: 2}); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	run, err := store.LatestRun(ctx)
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if run.ID != id || run.Status != "stopped" || run.FinishedAt == nil {
		t.Errorf("unexpected run %+v", run)
	}

	if v, _ := store.GetKV(ctx, "k"); v != "" {
		t.Errorf("expected empty value, got %q", v)
	}
	store.SetKV(ctx, "k", "v1")
	store.SetKV(ctx, "k", "v2")
	if v, _ := store.GetKV(ctx, "k"); v != "v2" {
		t.Errorf("GetKV = %q, want v2", v)
	}
}
