package adapters

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCommandGeneratorReadsStdout(t *testing.T) {
	transcripts := t.TempDir()
	gen := &CommandGenerator{
		Command:       "sh",
		Args:          []string{"-c", `cat >/dev/null; printf '{"phase": "%s", "max": "%s"}' "$ODIN_PHASE" "$ODIN_MAX_TOKENS"`},
		TranscriptDir: transcripts,
	}

	obj, err := gen.Generate(context.Background(), Request{
		Phase:        "strategy",
		SystemPrompt: "You are a consultant.",
		UserPrompt:   "Write the strategy.",
		MaxTokens:    3000,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if obj["phase"] != "strategy" || obj["max"] != "3000" {
		t.Fatalf("object = %v", obj)
	}
	if gen.Model() != "sh" {
		t.Fatalf("model = %q, want sh", gen.Model())
	}

	data, err := os.ReadFile(filepath.Join(transcripts, "strategy.log"))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if !strings.Contains(string(data), "Write the strategy.") {
		t.Fatalf("transcript missing prompt:\n%s", data)
	}
}

func TestCommandGeneratorFailures(t *testing.T) {
	ctx := context.Background()

	exit := &CommandGenerator{Command: "sh", Args: []string{"-c", "echo nope >&2; exit 3"}}
	_, err := exit.Generate(ctx, Request{Phase: "scoring"})
	if err == nil || IsInvalidResponse(err) {
		t.Fatalf("err = %v, want call error", err)
	}
	if !strings.Contains(err.Error(), "exit code 3") || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("err = %v", err)
	}

	prose := &CommandGenerator{Command: "sh", Args: []string{"-c", "echo 'here you go'"}}
	if _, err := prose.Generate(ctx, Request{Phase: "scoring"}); !IsInvalidResponse(err) {
		t.Fatalf("err = %v, want invalid response", err)
	}

	empty := &CommandGenerator{}
	if _, err := empty.Generate(ctx, Request{Phase: "scoring"}); err == nil {
		t.Fatalf("expected error for missing command")
	}
}

func TestMergeEnvOverrides(t *testing.T) {
	merged := mergeEnv([]string{"A=1", "B=2"}, map[string]string{"B": "3"})
	joined := strings.Join(merged, ",")
	if !strings.Contains(joined, "A=1") || !strings.Contains(joined, "B=3") || strings.Contains(joined, "B=2") {
		t.Fatalf("merged = %v", merged)
	}
}

func TestCommandGeneratorLogsTranscriptFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	core, logs := observer.New(zap.WarnLevel)
	gen := &CommandGenerator{
		Command:       "sh",
		Args:          []string{"-c", `cat >/dev/null; printf '{"ok": true}'`},
		TranscriptDir: filepath.Join(blocker, "transcripts"),
		Logger:        zap.New(core),
	}

	if _, err := gen.Generate(context.Background(), Request{Phase: "discovery", UserPrompt: "go"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	entries := logs.FilterMessage("create transcript dir failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one transcript warning, got %d (%v)", len(entries), logs.All())
	}
	if entries[0].ContextMap()["dir"] != gen.TranscriptDir {
		t.Errorf("dir field = %v", entries[0].ContextMap()["dir"])
	}
}
