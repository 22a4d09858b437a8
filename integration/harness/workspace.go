package harness

import (
	"os"
	"path/filepath"
	"testing"
)

// Workspace is an initialized odin workspace in a temp dir.
type Workspace struct {
	Root string
	Bin  string
}

// InitWorkspace runs `odin init` in a fresh temp dir.
func InitWorkspace(t *testing.T, binPath string) *Workspace {
	t.Helper()
	root := t.TempDir()
	MustRun(t, binPath, root, "init", "--workspace", root)
	return &Workspace{Root: root, Bin: binPath}
}

// Path joins elements onto the workspace root.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.Root}, elem...)...)
}

// DBPath is the strategy database of the workspace.
func (w *Workspace) DBPath() string {
	return w.Path("data", "odin.sqlite")
}

// Run invokes the CLI against the workspace from an unrelated directory.
func (w *Workspace) Run(t *testing.T, args ...string) Result {
	t.Helper()
	return Run(t, w.Bin, t.TempDir(), append(args, "--workspace", w.Root)...)
}

// MustRun is Run that fails the test on a non-zero exit.
func (w *Workspace) MustRun(t *testing.T, args ...string) Result {
	t.Helper()
	res := w.Run(t, args...)
	if res.Code != 0 {
		t.Fatalf("command failed\n%s", res)
	}
	return res
}

// StageFiles writes name to content pairs into dir, creating it first.
func StageFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}
