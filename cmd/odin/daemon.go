package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"odin/internal/daemon"
	"odin/internal/notify"
	"odin/internal/workspace"
)

func runDaemon(args []string, workspacePath string) error {
	if isHelp(args) {
		return fmt.Errorf("%s daemon: missing subcommand (run, status, enqueue, install, uninstall, start, stop)", appName)
	}

	switch args[0] {
	case "run":
		return runDaemonRun(args[1:], workspacePath)
	case "status":
		return runDaemonStatus(args[1:], workspacePath)
	case "enqueue":
		return runDaemonEnqueue(args[1:], workspacePath)
	case "install", "uninstall", "start", "stop":
		return runDaemonService(args[0], workspacePath)
	default:
		return fmt.Errorf("%s daemon: unknown subcommand %q", appName, args[0])
	}
}

// openDaemon builds the daemon from the workspace config. The caller closes
// both the daemon and the app.
func openDaemon(ctx context.Context, workspacePath string, poll, lease time.Duration) (*daemon.Daemon, *app, error) {
	a, err := openApp(ctx, workspacePath, appOptions{})
	if err != nil {
		return nil, nil, err
	}
	cfg := a.cfg
	d, err := daemon.New(daemon.Options{
		StorePath: a.ws.StateDBPath,
		TimeZone:  cfg.Schedule.TimeZone,
		Schedule: map[string]string{
			daemon.JobStrategyRun:  cfg.Schedule.StrategyRun,
			daemon.JobArchiveSweep: cfg.Schedule.ArchiveSweep,
			daemon.JobIntelPurge:   cfg.Schedule.IntelPurge,
			daemon.JobEventRelay:   cfg.Schedule.EventRelay,
		},
		InboxDir: a.ws.InboxDir,
		Deps: &daemon.Deps{
			Service:         a.svc,
			Intel:           a.store,
			Relay:           a.publisher,
			Notifier:        &notify.Notifier{Enabled: cfg.Events.Notify},
			ArchiveMaxAge:   cfg.Archive.MaxAge,
			ArchiveUser:     cfg.Archive.User,
			RelayMaxRetries: cfg.Events.RelayMaxRetries,
			RelayBatch:      cfg.Events.RelayBatch,
		},
		Audit:        a.audit,
		Logger:       a.log,
		LeaseFor:     lease,
		PollInterval: poll,
	})
	if err != nil {
		a.Close()
		return nil, nil, fmt.Errorf("create daemon: %w", err)
	}
	return d, a, nil
}

func runDaemonRun(args []string, workspacePath string) error {
	fs := flag.NewFlagSet("daemon run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	pollInterval := fs.Duration("poll", time.Second, "Poll interval for checking jobs")
	leaseDuration := fs.Duration("lease", 10*time.Minute, "Lease duration for claimed jobs")
	once := fs.Bool("once", false, "Tick the scheduler, run due jobs and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, a, err := openDaemon(ctx, workspacePath, *pollInterval, *leaseDuration)
	if err != nil {
		return err
	}
	defer a.Close()
	defer d.Close()

	if *once {
		if _, err := d.Watcher.Scan(ctx); err != nil {
			return err
		}
		sum := d.RunOnce(ctx)
		fmt.Fprintf(os.Stdout, "Scheduled %d, succeeded %s, failed %s\n",
			sum.Scheduled, green(sum.Succeeded), red(sum.Failed))
		return nil
	}

	fmt.Fprintf(os.Stdout, "Starting daemon for workspace: %s\n", a.ws.Root)
	fmt.Fprintf(os.Stdout, "Poll interval: %s, Lease: %s, Inbox: %s\n", *pollInterval, *leaseDuration, a.ws.InboxDir)
	return d.Run(ctx)
}

func runDaemonStatus(args []string, workspacePath string) error {
	fs := flag.NewFlagSet("daemon status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	limit := fs.Int("limit", 10, "Jobs to show per section")
	asJSON := fs.Bool("json", false, "Print as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	d, a, err := openDaemon(ctx, workspacePath, 0, 0)
	if err != nil {
		return err
	}
	defer a.Close()
	defer d.Close()

	st, err := d.Status(ctx, *limit)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(st)
	}

	if running, _ := daemon.IsRunning(a.ws); running {
		fmt.Fprintf(os.Stdout, "Service: %s\n", green("running"))
	}
	if st.LatestRun != nil {
		fmt.Fprintf(os.Stdout, "Last run: %s started=%s\n", statusText(st.LatestRun.Status), st.LatestRun.StartedAt.Local().Format(time.RFC3339))
	}
	fmt.Fprintln(os.Stdout)

	fmt.Fprintf(os.Stdout, "Running jobs: %d\n", len(st.Running))
	for _, job := range st.Running {
		var started, expires string
		if job.StartedAt != nil {
			started = job.StartedAt.Local().Format(time.RFC3339)
		}
		if job.LeaseExpiresAt != nil {
			expires = job.LeaseExpiresAt.Local().Format(time.RFC3339)
		}
		fmt.Fprintf(os.Stdout, "  %s [%s] started=%s lease_expires=%s\n", job.ID, job.Type, started, expires)
	}
	fmt.Fprintln(os.Stdout)

	fmt.Fprintf(os.Stdout, "Queued jobs (next %d):\n", len(st.Queued))
	for _, job := range st.Queued {
		fmt.Fprintf(os.Stdout, "  %s [%s] scheduled=%s\n", job.ID, job.Type, job.ScheduledAt.Local().Format(time.RFC3339))
	}
	fmt.Fprintln(os.Stdout)

	fmt.Fprintf(os.Stdout, "Recent completed jobs (last %d):\n", len(st.Recent))
	for _, job := range st.Recent {
		var finished string
		if job.FinishedAt != nil {
			finished = job.FinishedAt.Local().Format(time.RFC3339)
		}
		fmt.Fprintf(os.Stdout, "  %s [%s] status=%s finished=%s\n", job.ID, job.Type, statusText(job.Status), finished)
		if job.ResultJSON != "" {
			fmt.Fprintf(os.Stdout, "    result: %s\n", job.ResultJSON)
		}
	}
	fmt.Fprintln(os.Stdout)

	types := make([]string, 0, len(st.NextRuns))
	for t := range st.NextRuns {
		types = append(types, t)
	}
	sort.Strings(types)
	fmt.Fprintln(os.Stdout, "Next scheduled runs:")
	for _, t := range types {
		fmt.Fprintf(os.Stdout, "  %-14s %s\n", t, st.NextRuns[t].Local().Format(time.RFC3339))
	}
	return nil
}

func runDaemonEnqueue(args []string, workspacePath string) error {
	if len(args) == 0 {
		return fmt.Errorf("job type is required (%v)", daemon.JobTypes)
	}
	jobType := args[0]

	fs := flag.NewFlagSet("daemon enqueue", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	payloadJSON := fs.String("payload-json", "", "Job payload as JSON")
	input := fs.String("input", "", "Request JSON file for strategy_run")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	var payload any
	switch {
	case *input != "":
		body, err := readBody(*input)
		if err != nil {
			return err
		}
		payload = daemon.StrategyRunPayload{Request: body}
	case *payloadJSON != "":
		var raw map[string]any
		if err := json.Unmarshal([]byte(*payloadJSON), &raw); err != nil {
			return fmt.Errorf("parse --payload-json: %w", err)
		}
		payload = raw
	}

	ctx := context.Background()
	d, a, err := openDaemon(ctx, workspacePath, 0, 0)
	if err != nil {
		return err
	}
	defer a.Close()
	defer d.Close()

	jobID, err := d.Enqueue(ctx, jobType, payload)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	fmt.Fprintf(os.Stdout, "Enqueued job: %s\n", jobID)
	return nil
}

func runDaemonService(action, workspacePath string) error {
	ws, err := workspace.Resolve(workspacePath)
	if err != nil {
		return err
	}
	switch action {
	case "install":
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate odin binary: %w", err)
		}
		path, err := daemon.Install(ws, exe)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Installed %s\n", path)
		fmt.Fprintf(os.Stdout, "Logs: %s\n", daemon.LogPath(ws))
	case "uninstall":
		if err := daemon.Uninstall(ws); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "Uninstalled background service")
	case "start":
		if err := daemon.Start(ws); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Started %s\n", daemon.ServiceLabel(ws.Root))
	case "stop":
		if err := daemon.Stop(ws); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Stopped %s\n", daemon.ServiceLabel(ws.Root))
	}
	return nil
}
