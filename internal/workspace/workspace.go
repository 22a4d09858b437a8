// Package workspace resolves the on-disk layout of an odin workspace.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfigFile is the name of the workspace configuration file.
const ConfigFile = "odin.yaml"

// Workspace defines workspace-relative paths.
type Workspace struct {
	Root         string
	ConfigPath   string
	DataDir      string
	DBPath       string
	StateDBPath  string
	SignalsDir   string
	InboxDir     string
	ArtifactsDir string
}

// Resolve expands and validates the workspace root, ensuring it exists.
func Resolve(root string) (*Workspace, error) {
	abs, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root is not a directory: %s", abs)
	}
	return newWorkspace(abs), nil
}

// Create makes root if needed, lays out the workspace directories beneath
// it and returns the resolved workspace.
func Create(root string) (*Workspace, error) {
	abs, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	ws := newWorkspace(abs)
	if err := ws.EnsureDirs(); err != nil {
		return nil, err
	}
	return ws, nil
}

// EnsureDirs creates the data, signals, inbox and artifact directories.
func (w *Workspace) EnsureDirs() error {
	if w == nil {
		return fmt.Errorf("workspace is nil")
	}
	dirs := []string{
		w.DataDir,
		w.SignalsDir,
		w.InboxDir,
		filepath.Join(w.InboxDir, "processed"),
		filepath.Join(w.InboxDir, "failed"),
		filepath.Join(w.ArtifactsDir, "transcripts"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure %s: %w", dir, err)
		}
	}
	return nil
}

// TranscriptDir is where command generators keep their logs.
func (w *Workspace) TranscriptDir() string {
	return filepath.Join(w.ArtifactsDir, "transcripts")
}

// ResolvePath returns an absolute path, resolving relative paths from the workspace root.
func (w *Workspace) ResolvePath(path string) (string, error) {
	if w == nil {
		return "", fmt.Errorf("workspace is nil")
	}
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	expanded, err := expandHome(path)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded), nil
	}
	return filepath.Abs(filepath.Join(w.Root, expanded))
}

func newWorkspace(root string) *Workspace {
	data := filepath.Join(root, "data")
	return &Workspace{
		Root:         root,
		ConfigPath:   filepath.Join(root, ConfigFile),
		DataDir:      data,
		DBPath:       filepath.Join(data, "odin.sqlite"),
		StateDBPath:  filepath.Join(data, "daemon.sqlite"),
		SignalsDir:   filepath.Join(root, "signals"),
		InboxDir:     filepath.Join(root, "inbox"),
		ArtifactsDir: filepath.Join(root, "artifacts"),
	}
}

func resolveRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", fmt.Errorf("workspace root is required")
	}
	expanded, err := expandHome(root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	return abs, nil
}

func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:]), nil
	}
	return "", fmt.Errorf("unsupported home expansion: %s", path)
}
