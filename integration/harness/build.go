package harness

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

var (
	buildOnce sync.Once
	buildPath string
	buildErr  error
)

// RepoRoot returns the module root, two directories above this file.
func RepoRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	root := filepath.Dir(filepath.Dir(filepath.Dir(file)))
	if _, err := os.Stat(filepath.Join(root, "go.mod")); err != nil {
		t.Fatalf("verify repo root: %v", err)
	}
	return root
}

// BuildBinary compiles the odin CLI once per test run and returns its path.
// ODIN_TEST_BINARY points at a prebuilt binary instead.
func BuildBinary(t *testing.T) string {
	t.Helper()
	if prebuilt := os.Getenv("ODIN_TEST_BINARY"); prebuilt != "" {
		return prebuilt
	}
	root := RepoRoot(t)

	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "odin-bin-")
		if err != nil {
			buildErr = fmt.Errorf("create temp dir: %w", err)
			return
		}
		out := filepath.Join(dir, "odin")

		cmd := exec.Command("go", "build", "-o", out, "./cmd/odin")
		cmd.Dir = root
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			buildErr = fmt.Errorf("go build: %w\n%s", err, stderr.String())
			return
		}
		buildPath = out
	})

	if buildErr != nil {
		t.Fatalf("build odin binary: %v", buildErr)
	}
	return buildPath
}
