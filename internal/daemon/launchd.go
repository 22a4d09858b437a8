package daemon

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"odin/internal/workspace"
)

// ErrUnsupportedPlatform is returned by the service helpers outside macOS
// and Linux.
var ErrUnsupportedPlatform = errors.New("background service install is supported on macOS and Linux only")

// WorkspaceHash generates a stable short hash from the workspace root path.
func WorkspaceHash(wsRoot string) string {
	h := sha256.Sum256([]byte(wsRoot))
	return fmt.Sprintf("%x", h[:4])
}

// ServiceLabel names the per-workspace background service.
func ServiceLabel(wsRoot string) string {
	return fmt.Sprintf("dev.odin.%s", WorkspaceHash(wsRoot))
}

// LogPath is where the background service writes stdout and stderr.
func LogPath(ws *workspace.Workspace) string {
	if ws == nil {
		return ""
	}
	return filepath.Join(ws.DataDir, "daemon.log")
}

// UnitPath returns the service file location for the current platform.
func UnitPath(wsRoot string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	label := ServiceLabel(wsRoot)
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "LaunchAgents", label+".plist"), nil
	case "linux":
		return filepath.Join(homeDir, ".config", "systemd", "user", label+".service"), nil
	}
	return "", ErrUnsupportedPlatform
}

// GeneratePlist renders a LaunchAgent that keeps `odin daemon run` alive.
func GeneratePlist(ws *workspace.Workspace, binaryPath string) (string, error) {
	if ws == nil {
		return "", fmt.Errorf("workspace is nil")
	}
	absBinaryPath, err := filepath.Abs(binaryPath)
	if err != nil {
		return "", fmt.Errorf("resolve binary path: %w", err)
	}
	logPath := LogPath(ws)

	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>%s</string>
	<key>ProgramArguments</key>
	<array>
		<string>%s</string>
		<string>daemon</string>
		<string>run</string>
		<string>--workspace</string>
		<string>%s</string>
	</array>
	<key>StandardOutPath</key>
	<string>%s</string>
	<key>StandardErrorPath</key>
	<string>%s</string>
	<key>KeepAlive</key>
	<true/>
	<key>RunAtLoad</key>
	<true/>
</dict>
</plist>
`, ServiceLabel(ws.Root), absBinaryPath, ws.Root, logPath, logPath), nil
}

// GenerateSystemdUnit renders a systemd user unit for `odin daemon run`.
func GenerateSystemdUnit(ws *workspace.Workspace, binaryPath string) (string, error) {
	if ws == nil {
		return "", fmt.Errorf("workspace is nil")
	}
	absBinaryPath, err := filepath.Abs(binaryPath)
	if err != nil {
		return "", fmt.Errorf("resolve binary path: %w", err)
	}
	logPath := LogPath(ws)

	return fmt.Sprintf(`[Unit]
Description=odin strategy daemon (%s)

[Service]
ExecStart=%s daemon run --workspace %s
Restart=always
StandardOutput=append:%s
StandardError=append:%s

[Install]
WantedBy=default.target
`, ws.Root, absBinaryPath, ws.Root, logPath, logPath), nil
}

// Install writes the service file for the workspace.
func Install(ws *workspace.Workspace, binaryPath string) (string, error) {
	if ws == nil {
		return "", fmt.Errorf("workspace is nil")
	}
	if err := os.MkdirAll(ws.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure log dir: %w", err)
	}

	var content string
	var err error
	switch runtime.GOOS {
	case "darwin":
		content, err = GeneratePlist(ws, binaryPath)
	case "linux":
		content, err = GenerateSystemdUnit(ws, binaryPath)
	default:
		return "", ErrUnsupportedPlatform
	}
	if err != nil {
		return "", fmt.Errorf("generate service file: %w", err)
	}

	path, err := UnitPath(ws.Root)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("ensure service dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write service file: %w", err)
	}
	return path, nil
}

// Uninstall removes the service file for the workspace.
func Uninstall(ws *workspace.Workspace) error {
	if ws == nil {
		return fmt.Errorf("workspace is nil")
	}
	path, err := UnitPath(ws.Root)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("service file not found: %s", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove service file: %w", err)
	}
	return nil
}

// Start loads the installed service.
func Start(ws *workspace.Workspace) error {
	if ws == nil {
		return fmt.Errorf("workspace is nil")
	}
	path, err := UnitPath(ws.Root)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("service file not found: %s (run 'odin daemon install' first)", path)
	}
	if runtime.GOOS == "darwin" {
		return runService("launchctl", "load", path)
	}
	if err := runService("systemctl", "--user", "daemon-reload"); err != nil {
		return err
	}
	return runService("systemctl", "--user", "start", ServiceLabel(ws.Root))
}

// Stop unloads the service. Stopping a service that is not loaded is not
// an error.
func Stop(ws *workspace.Workspace) error {
	if ws == nil {
		return fmt.Errorf("workspace is nil")
	}
	path, err := UnitPath(ws.Root)
	if err != nil {
		return err
	}
	var stopErr error
	if runtime.GOOS == "darwin" {
		stopErr = runService("launchctl", "unload", path)
	} else {
		stopErr = runService("systemctl", "--user", "stop", ServiceLabel(ws.Root))
	}
	if stopErr != nil && !strings.Contains(stopErr.Error(), "Could not find specified service") &&
		!strings.Contains(stopErr.Error(), "not loaded") {
		return stopErr
	}
	return nil
}

// IsRunning reports whether the service for this workspace is loaded.
func IsRunning(ws *workspace.Workspace) (bool, error) {
	if ws == nil {
		return false, fmt.Errorf("workspace is nil")
	}
	label := ServiceLabel(ws.Root)
	switch runtime.GOOS {
	case "darwin":
		output, err := exec.Command("launchctl", "list").CombinedOutput()
		if err != nil {
			return false, fmt.Errorf("launchctl list failed: %w", err)
		}
		return strings.Contains(string(output), label), nil
	case "linux":
		err := exec.Command("systemctl", "--user", "is-active", "--quiet", label).Run()
		return err == nil, nil
	}
	return false, ErrUnsupportedPlatform
}

func runService(name string, args ...string) error {
	output, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s failed: %w\nOutput: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return nil
}
