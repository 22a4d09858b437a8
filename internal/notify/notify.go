package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Notifier sends desktop notifications.
type Notifier struct {
	Enabled bool

	// run executes the notification command; tests replace it.
	run func(name string, args ...string) error
}

// Send sends a desktop notification.
// macOS uses osascript and Linux uses notify-send; other platforms are a no-op.
func (n *Notifier) Send(title, message string) error {
	if n == nil || !n.Enabled {
		return nil
	}
	run := n.run
	if run == nil {
		run = runCommand
	}

	switch runtime.GOOS {
	case "darwin":
		return run("osascript", "-e", macOSScript(title, message))
	case "linux":
		return run("notify-send", "--app-name=odin", title, message)
	}
	return nil
}

func macOSScript(title, message string) string {
	title = strings.ReplaceAll(title, `"`, `\"`)
	message = strings.ReplaceAll(message, `"`, `\"`)
	return fmt.Sprintf(`display notification "%s" with title "%s"`, message, title)
}

func runCommand(name string, args ...string) error {
	if err := exec.Command(name, args...).Run(); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// FormatStrategyCreated formats the notification for a newly stored strategy.
func FormatStrategyCreated(strategyID, recommendation string, confidence float64, marketSize int64) (title, message string) {
	switch recommendation {
	case "pursue":
		title = "✅ odin: Strategy Validated"
	case "abandon":
		title = "🛑 odin: Strategy Recommends Abandon"
	default:
		title = "📝 odin: Strategy Drafted"
	}
	message = fmt.Sprintf("%s: %s (confidence %.2f, TAM %s)", shortID(strategyID), recommendation, confidence, humanMoney(marketSize))
	return title, message
}

// FormatStrategyTransition formats a lifecycle change.
func FormatStrategyTransition(strategyID, from, to string) (title, message string) {
	switch to {
	case "approved":
		title = "🎉 odin: Strategy Approved"
	case "rejected":
		title = "⚠️ odin: Strategy Rejected"
	case "archived":
		title = "🗄 odin: Strategy Archived"
	default:
		title = "📊 odin: Strategy Status Update"
	}
	message = fmt.Sprintf("%s: %s → %s", shortID(strategyID), from, to)
	return title, message
}

// FormatRunFailed formats a failed pipeline run.
func FormatRunFailed(phase, errMsg string) (title, message string) {
	title = "⚠️ odin: Strategy Run Failed"
	if phase == "" {
		return title, errMsg
	}
	return title, fmt.Sprintf("%s phase: %s", phase, errMsg)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func humanMoney(v int64) string {
	f := float64(v)
	switch {
	case f >= 1e9:
		return fmt.Sprintf("$%.1fB", f/1e9)
	case f >= 1e6:
		return fmt.Sprintf("$%.1fM", f/1e6)
	case f >= 1e3:
		return fmt.Sprintf("$%.1fK", f/1e3)
	}
	return fmt.Sprintf("$%d", v)
}
