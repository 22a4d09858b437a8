package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var _ Generator = (*CommandGenerator)(nil)

// CommandGenerator shells out to a local CLI. The rendered prompt is written
// to stdin and the JSON object is read from stdout.
type CommandGenerator struct {
	Command string
	Args    []string
	Env     map[string]string
	WorkDir string
	Timeout time.Duration

	// TranscriptDir, when set, receives one <phase>.log per call with the
	// prompt, stdout and stderr.
	TranscriptDir string

	// ModelName is reported in processing metadata.
	ModelName string

	Logger *zap.Logger
}

func (g *CommandGenerator) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

func (g *CommandGenerator) Name() string {
	return "command"
}

func (g *CommandGenerator) Model() string {
	if g.ModelName != "" {
		return g.ModelName
	}
	return filepath.Base(g.Command)
}

func (g *CommandGenerator) Generate(ctx context.Context, req Request) (Object, error) {
	if strings.TrimSpace(g.Command) == "" {
		return nil, callError(g.Name(), req, errors.New("command is required"))
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if g.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	prompt := renderCommandPrompt(req)
	env := map[string]string{
		"ODIN_PHASE":       req.Phase,
		"ODIN_TEMPERATURE": strconv.FormatFloat(req.Temperature, 'f', -1, 64),
		"ODIN_MAX_TOKENS":  strconv.Itoa(req.MaxTokens),
	}
	for k, v := range g.Env {
		env[k] = v
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, g.Command, g.Args...)
	if g.WorkDir != "" {
		cmd.Dir = g.WorkDir
	}
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = mergeEnv(os.Environ(), env)

	runErr := cmd.Run()
	g.writeTranscript(req.Phase, prompt, stdout.String(), stderr.String())
	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return nil, callError(g.Name(), req, fmt.Errorf("exit code %d: %s: %w", exitCodeFromError(runErr), msg, runErr))
	}

	obj, err := ParseObject(stdout.String())
	if err != nil {
		return nil, invalidError(g.Name(), req, err)
	}
	return obj, nil
}

func renderCommandPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("# System\n\n")
	b.WriteString(strings.TrimSpace(req.SystemPrompt))
	b.WriteString("\n\n# Task\n\n")
	b.WriteString(strings.TrimSpace(req.UserPrompt))
	b.WriteString("\n\nRespond with a single JSON object and nothing else.\n")
	return b.String()
}

func (g *CommandGenerator) writeTranscript(phase, prompt, stdout, stderr string) {
	if g.TranscriptDir == "" {
		return
	}
	if err := os.MkdirAll(g.TranscriptDir, 0o755); err != nil {
		g.logger().Warn("create transcript dir failed", zap.String("dir", g.TranscriptDir), zap.Error(err))
		return
	}
	name := phase
	if name == "" {
		name = "request"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "== prompt ==\n%s\n== stdout ==\n%s\n== stderr ==\n%s\n", prompt, stdout, stderr)
	path := filepath.Join(g.TranscriptDir, name+".log")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		g.logger().Warn("write transcript failed", zap.String("path", path), zap.Error(err))
	}
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]struct{}, len(overrides))
	for key := range overrides {
		seen[key] = struct{}{}
	}
	for _, entry := range base {
		key := entry
		if idx := strings.IndexByte(entry, '='); idx >= 0 {
			key = entry[:idx]
		}
		if _, ok := seen[key]; ok {
			continue
		}
		merged = append(merged, entry)
	}
	for key, value := range overrides {
		merged = append(merged, fmt.Sprintf("%s=%s", key, value))
	}
	return merged
}

func exitCodeFromError(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return 124
	}
	return 1
}
