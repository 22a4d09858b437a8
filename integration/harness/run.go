package harness

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
)

// Result is the outcome of one CLI invocation.
type Result struct {
	Args   []string
	Stdout string
	Stderr string
	Code   int
}

// String formats the invocation for failure messages.
func (r Result) String() string {
	return "odin " + strings.Join(r.Args, " ") +
		"\nexit code: " + strconv.Itoa(r.Code) +
		"\nstdout:\n" + r.Stdout +
		"\nstderr:\n" + r.Stderr
}

// Run executes the CLI in workDir.
func Run(t *testing.T, binPath, workDir string, args ...string) Result {
	t.Helper()
	return run(t, binPath, workDir, nil, args)
}

// RunWithEnv executes the CLI with extra environment variables layered over
// the test process environment.
func RunWithEnv(t *testing.T, binPath, workDir string, env map[string]string, args ...string) Result {
	t.Helper()
	return run(t, binPath, workDir, env, args)
}

// MustRun fails the test unless the CLI exits zero.
func MustRun(t *testing.T, binPath, workDir string, args ...string) Result {
	t.Helper()
	res := run(t, binPath, workDir, nil, args)
	if res.Code != 0 {
		t.Fatalf("command failed\n%s", res)
	}
	return res
}

// DecodeJSON unmarshals the command's stdout into v.
func (r Result) DecodeJSON(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(r.Stdout), v); err != nil {
		t.Fatalf("decode stdout: %v\n%s", err, r)
	}
}

func run(t *testing.T, binPath, workDir string, env map[string]string, args []string) Result {
	t.Helper()

	cmd := exec.Command(binPath, args...)
	cmd.Dir = workDir
	// Keep the caller's ODIN_* settings from leaking into a test workspace.
	cmd.Env = append(scrubbedEnv(), flattenEnv(env)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res := Result{Args: args}
	if err := cmd.Run(); err != nil {
		ee, ok := err.(*exec.ExitError)
		if !ok {
			t.Fatalf("run %s: %v", binPath, err)
		}
		res.Code = ee.ExitCode()
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res
}

func scrubbedEnv() []string {
	var out []string
	for _, entry := range os.Environ() {
		if strings.HasPrefix(entry, "ODIN_") {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

