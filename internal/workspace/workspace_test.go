package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveLayout(t *testing.T) {
	root := t.TempDir()
	ws, err := Resolve(root)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ws.ConfigPath != filepath.Join(root, "odin.yaml") {
		t.Errorf("ConfigPath = %q", ws.ConfigPath)
	}
	if ws.DBPath != filepath.Join(root, "data", "odin.sqlite") {
		t.Errorf("DBPath = %q", ws.DBPath)
	}
	if err := ws.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs() error = %v", err)
	}
	for _, dir := range []string{ws.DataDir, ws.SignalsDir, filepath.Join(ws.InboxDir, "processed"), ws.TranscriptDir()} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}
}

func TestResolveRejectsMissingRoot(t *testing.T) {
	if _, err := Resolve(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("Resolve() accepted a missing root")
	}
	if _, err := Resolve("  "); err == nil {
		t.Error("Resolve() accepted an empty root")
	}
}

func TestResolvePath(t *testing.T) {
	root := t.TempDir()
	ws, err := Resolve(root)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	got, err := ws.ResolvePath("signals/market.yaml")
	if err != nil {
		t.Fatalf("ResolvePath() error = %v", err)
	}
	if got != filepath.Join(root, "signals", "market.yaml") {
		t.Errorf("ResolvePath() = %q", got)
	}
	abs := filepath.Join(root, "elsewhere")
	if got, _ := ws.ResolvePath(abs); got != abs {
		t.Errorf("ResolvePath(abs) = %q", got)
	}
	if got, _ := ws.ResolvePath(""); got != "" {
		t.Errorf("ResolvePath(\"\") = %q", got)
	}
}

func TestCreateMakesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "ws")
	ws, err := Create(root)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if ws.Root != root {
		t.Errorf("Root = %q, want %q", ws.Root, root)
	}
	if _, err := os.Stat(filepath.Join(root, "inbox", "failed")); err != nil {
		t.Errorf("inbox/failed not created: %v", err)
	}
	if _, err := Resolve(root); err != nil {
		t.Errorf("Resolve() after Create() error = %v", err)
	}
}
