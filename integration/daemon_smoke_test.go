package integration_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"odin/integration/harness"
)

func TestDaemonOnceDrainsInbox(t *testing.T) {
	ws := harness.InitWorkspace(t, harness.BuildBinary(t))

	harness.StageFiles(t, ws.Path("inbox"), map[string]string{
		"payments.json": `{"initiative": "payments reconciliation"}`,
		"broken.json":   `{"initiative": `,
		"notes.txt":     "not a request",
	})

	res := ws.MustRun(t, "daemon", "run", "--once")
	if !strings.Contains(res.Stdout, "Scheduled") {
		t.Fatalf("unexpected daemon output\n%s", res)
	}

	processed, _ := filepath.Glob(ws.Path("inbox", "processed", "*-payments.json"))
	if len(processed) != 1 {
		t.Fatalf("expected payments.json in processed/, got %v", processed)
	}
	failed, _ := filepath.Glob(ws.Path("inbox", "failed", "*-broken.json"))
	if len(failed) != 1 {
		t.Fatalf("expected broken.json in failed/, got %v", failed)
	}
	if _, err := os.Stat(ws.Path("inbox", "notes.txt")); err != nil {
		t.Fatalf("non-request file should stay in the inbox: %v", err)
	}

	if n := countRows(t, ws.DBPath(), "innovation_strategies"); n != 1 {
		t.Fatalf("expected one stored strategy, got %d", n)
	}
	requireLogMessages(t, ws.DBPath(), []string{"job started", "job succeeded"})

	var status struct {
		Recent []struct {
			Type   string `json:"type"`
			Status string `json:"status"`
		} `json:"recent"`
	}
	ws.MustRun(t, "daemon", "status", "--json").DecodeJSON(t, &status)
	counts := map[string]int{}
	for _, job := range status.Recent {
		if job.Type == "strategy_run" {
			counts[job.Status]++
		}
	}
	if counts["succeeded"] != 1 || counts["failed"] != 1 {
		t.Fatalf("unexpected recent jobs: %+v", status.Recent)
	}
}

func TestDaemonEnqueueRejectsUnknownType(t *testing.T) {
	ws := harness.InitWorkspace(t, harness.BuildBinary(t))

	res := ws.MustRun(t, "daemon", "enqueue", "event_relay")
	if !strings.Contains(res.Stdout, "Enqueued job: event_relay_") {
		t.Fatalf("unexpected enqueue output\n%s", res)
	}

	res = ws.Run(t, "daemon", "enqueue", "nightly_rollup")
	if res.Code == 0 || !strings.Contains(res.Stderr, "unknown job type") {
		t.Fatalf("expected unknown job type to fail\n%s", res)
	}
}
