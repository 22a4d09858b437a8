package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

const appName = "odin"

func main() {
	flag.String("workspace", "", "Path to workspace root (default $ODIN_WORKSPACE or .)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s: outcome-driven innovation strategy service\n\n", appName)
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [command] [flags]\n\n", appName)
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  init      Initialize a new workspace")
		fmt.Fprintln(os.Stderr, "  run       Run the strategy pipeline once")
		fmt.Fprintln(os.Stderr, "  strategy  List, show, diff and transition strategies")
		fmt.Fprintln(os.Stderr, "  report    Print an analytics report")
		fmt.Fprintln(os.Stderr, "  serve     Serve the HTTP API")
		fmt.Fprintln(os.Stderr, "  daemon    Manage the background daemon")
		fmt.Fprintln(os.Stderr, "  events    Relay pending lifecycle events")
		fmt.Fprintln(os.Stderr, "  intel     Maintain the market intelligence cache")
		fmt.Fprintln(os.Stderr, "  help      Show this help")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flag.PrintDefaults()
	}

	workspacePath, remaining, err := extractWorkspaceFlag(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	args := remaining
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		flag.Usage()
		return
	}

	commands := map[string]func([]string, string) error{
		"init":     runInit,
		"run":      runRun,
		"strategy": runStrategy,
		"report":   runReport,
		"serve":    runServe,
		"daemon":   runDaemon,
		"events":   runEvents,
		"intel":    runIntel,
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		flag.Usage()
		os.Exit(1)
	}
	if err := cmd(args[1:], workspacePath); err != nil {
		fmt.Fprintln(os.Stderr, errorText(err))
		os.Exit(1)
	}
}

// extractWorkspaceFlag pulls --workspace out of args so it may appear
// anywhere on the command line.
func extractWorkspaceFlag(args []string) (string, []string, error) {
	var workspacePath string
	remaining := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--workspace" {
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--workspace requires a value")
			}
			workspacePath = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--workspace=") {
			workspacePath = strings.TrimPrefix(arg, "--workspace=")
			continue
		}
		remaining = append(remaining, arg)
	}
	if strings.TrimSpace(workspacePath) == "" {
		workspacePath = os.Getenv("ODIN_WORKSPACE")
	}
	if strings.TrimSpace(workspacePath) == "" {
		workspacePath = "."
	}
	return workspacePath, remaining, nil
}

func isHelp(args []string) bool {
	return len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help"
}
