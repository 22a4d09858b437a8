package notify

import (
	"errors"
	"runtime"
	"strings"
	"testing"
)

func TestFormatStrategyCreated(t *testing.T) {
	title, msg := FormatStrategyCreated("0f8fad5b-d9cb-469f-a165-70867728950e", "pursue", 0.78, 50_000_000_000)
	if !strings.Contains(title, "Validated") {
		t.Fatalf("title = %q", title)
	}
	if msg != "0f8fad5b: pursue (confidence 0.78, TAM $50.0B)" {
		t.Fatalf("message = %q", msg)
	}

	title, _ = FormatStrategyCreated("abc", "modify", 0.5, 1200)
	if !strings.Contains(title, "Drafted") {
		t.Fatalf("title = %q", title)
	}
}

func TestFormatStrategyTransition(t *testing.T) {
	title, msg := FormatStrategyTransition("abc", "validated", "approved")
	if !strings.Contains(title, "Approved") || msg != "abc: validated → approved" {
		t.Fatalf("got %q / %q", title, msg)
	}
}

func TestFormatRunFailed(t *testing.T) {
	_, msg := FormatRunFailed("validation", "rate limit exceeded")
	if msg != "validation phase: rate limit exceeded" {
		t.Fatalf("message = %q", msg)
	}
}

func TestSendDisabledIsNoop(t *testing.T) {
	called := false
	n := &Notifier{run: func(string, ...string) error { called = true; return nil }}
	if err := n.Send("t", "m"); err != nil || called {
		t.Fatalf("disabled notifier ran a command")
	}
}

func TestSendUsesPlatformCommand(t *testing.T) {
	var got []string
	n := &Notifier{Enabled: true, run: func(name string, args ...string) error {
		got = append([]string{name}, args...)
		return errors.New("no display")
	}}
	err := n.Send(`say "hi"`, "body")
	switch runtime.GOOS {
	case "darwin":
		if err == nil || got[0] != "osascript" || !strings.Contains(got[2], `say \"hi\"`) {
			t.Fatalf("got %v, err %v", got, err)
		}
	case "linux":
		if err == nil || got[0] != "notify-send" {
			t.Fatalf("got %v, err %v", got, err)
		}
	default:
		if err != nil || got != nil {
			t.Fatalf("unsupported platform should be a no-op")
		}
	}
}
