package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"odin/internal/config"
	"odin/internal/server"
	"odin/internal/service"
	"odin/internal/store"
	"odin/internal/strategy"
	"odin/internal/workspace"
)

func runInit(args []string, workspacePath string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	force := fs.Bool("force", false, "Overwrite an existing odin.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ws, err := workspace.Create(workspacePath)
	if err != nil {
		return err
	}

	if _, err := os.Stat(ws.ConfigPath); err == nil && !*force {
		fmt.Fprintf(os.Stdout, "Config already exists: %s\n", ws.ConfigPath)
	} else {
		if err := os.WriteFile(ws.ConfigPath, []byte(config.Template), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", workspace.ConfigFile, err)
		}
		fmt.Fprintf(os.Stdout, "Wrote %s\n", ws.ConfigPath)
	}

	// Touch the store so the schema exists before the first run.
	st, err := store.Open(ws.DBPath)
	if err != nil {
		return err
	}
	st.Close()

	fmt.Fprintf(os.Stdout, "%s workspace: %s\n", green("Initialized"), ws.Root)
	fmt.Fprintln(os.Stdout, "Next steps:")
	fmt.Fprintf(os.Stdout, "  %s run --workspace %s --generator mock\n", appName, ws.Root)
	fmt.Fprintf(os.Stdout, "  %s strategy list --workspace %s\n", appName, ws.Root)
	fmt.Fprintf(os.Stdout, "  drop request JSON files into %s and run `%s daemon run`\n", ws.InboxDir, appName)
	return nil
}

func runRun(args []string, workspacePath string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	generator := fs.String("generator", "", "Generator provider override (mock, openai, gemini, command)")
	recommendation := fs.String("recommendation", "", "Recommendation the mock generator returns")
	input := fs.String("input", "", "Request JSON file, or - for stdin")
	asJSON := fs.Bool("json", false, "Print the response as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	body, err := readBody(*input)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a, err := openApp(ctx, workspacePath, appOptions{generator: *generator, recommendation: *recommendation})
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.svc.CreateStrategy(ctx, service.RequestFromBody(body))
	if err != nil {
		if *asJSON {
			_ = printJSON(service.FailureFor(err, time.Now()))
		}
		return err
	}
	if *asJSON {
		return printJSON(resp)
	}

	fmt.Fprintf(os.Stdout, "Strategy %s %s\n", bold(resp.StrategyID), resp.Status)
	fmt.Fprintf(os.Stdout, "  recommendation: %s\n", statusText(string(resp.Recommendation)))
	fmt.Fprintf(os.Stdout, "  confidence:     %.2f\n", resp.ConfidenceScore)
	fmt.Fprintf(os.Stdout, "  opportunity:    %.2f\n", resp.MarketOpportunityScore)
	fmt.Fprintf(os.Stdout, "  market size:    %d\n", resp.EstimatedMarketSize)
	for _, o := range resp.TopOpportunities {
		fmt.Fprintf(os.Stdout, "  - %s (%.1f)\n", o.Outcome, o.OpportunityScore)
	}
	for _, w := range resp.Warnings {
		fmt.Fprintf(os.Stdout, "  %s %s\n", yellow("warning:"), w)
	}
	if resp.EventPending {
		fmt.Fprintf(os.Stdout, "  %s created event not delivered; `%s events relay` will retry\n", yellow("note:"), appName)
	}
	return nil
}

func runStrategy(args []string, workspacePath string) error {
	if isHelp(args) {
		return fmt.Errorf("%s strategy: missing subcommand (list, show, diff, validate, approve, reject, archive, update)", appName)
	}
	switch args[0] {
	case "list":
		return runStrategyList(args[1:], workspacePath)
	case "show":
		return runStrategyShow(args[1:], workspacePath)
	case "diff":
		return runStrategyDiff(args[1:], workspacePath)
	}
	if _, err := strategy.ParseAction(args[0]); err == nil {
		return runStrategyTransition(args[0], args[1:], workspacePath)
	}
	return fmt.Errorf("%s strategy: unknown subcommand %q", appName, args[0])
}

func runStrategyList(args []string, workspacePath string) error {
	fs := flag.NewFlagSet("strategy list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	statuses := fs.String("status", "", "Comma-separated statuses to include")
	rec := fs.String("recommendation", "", "Only strategies with this recommendation")
	limit := fs.Int("limit", 20, "Maximum number of strategies")
	asJSON := fs.Bool("json", false, "Print as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var f store.Filter
	f.Limit = *limit
	if *statuses != "" {
		for _, part := range strings.Split(*statuses, ",") {
			st, err := strategy.ParseStatus(strings.TrimSpace(part))
			if err != nil {
				return err
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if *rec != "" {
		r, ok := strategy.ParseRecommendation(*rec)
		if !ok {
			return fmt.Errorf("unknown recommendation %q", *rec)
		}
		f.Recommendation = r
	}

	ctx := context.Background()
	a, err := openApp(ctx, workspacePath, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.store.FindStrategies(ctx, f)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(os.Stdout, "No strategies.")
		return nil
	}
	for _, d := range docs {
		fmt.Fprintf(os.Stdout, "%s  %-10s %-20s conf=%.2f  %s\n",
			d.ID,
			statusText(string(d.Status)),
			statusText(string(d.AIInsights.Recommendation)),
			d.AIInsights.ConfidenceScore,
			d.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	return nil
}

func runStrategyShow(args []string, workspacePath string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s strategy show <id>", appName)
	}
	ctx := context.Background()
	a, err := openApp(ctx, workspacePath, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.store.GetStrategy(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(doc)
}

func runStrategyDiff(args []string, workspacePath string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: %s strategy diff <id-a> <id-b>", appName)
	}
	ctx := context.Background()
	a, err := openApp(ctx, workspacePath, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	left, err := a.store.GetStrategy(ctx, args[0])
	if err != nil {
		return err
	}
	right, err := a.store.GetStrategy(ctx, args[1])
	if err != nil {
		return err
	}
	diff, err := strategy.Diff(left, right)
	if err != nil {
		return err
	}
	if diff == "" {
		fmt.Fprintln(os.Stdout, "Strategies are identical.")
		return nil
	}
	for _, line := range strings.SplitAfter(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			fmt.Fprint(os.Stdout, bold(line))
		case strings.HasPrefix(line, "+"):
			fmt.Fprint(os.Stdout, green(line))
		case strings.HasPrefix(line, "-"):
			fmt.Fprint(os.Stdout, red(line))
		default:
			fmt.Fprint(os.Stdout, line)
		}
	}
	return nil
}

func runStrategyTransition(verb string, args []string, workspacePath string) error {
	fs := flag.NewFlagSet("strategy "+verb, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	user := fs.String("user", os.Getenv("USER"), "User recorded in the audit trail")
	reason := fs.String("reason", "", "Reason recorded in the audit trail")
	level := fs.String("approval-level", "", "Approval level for approve")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: %s strategy %s <id> [--user u] [--reason r]", appName, verb)
	}
	action, err := strategy.ParseAction(verb)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := openApp(ctx, workspacePath, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.svc.Transition(ctx, fs.Arg(0), strategy.Transition{
		Action:        action,
		User:          *user,
		Reason:        *reason,
		ApprovalLevel: *level,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Strategy %s is now %s\n", doc.ID, statusText(string(doc.Status)))
	return nil
}

func runReport(args []string, workspacePath string) error {
	if len(args) != 1 || isHelp(args) {
		return fmt.Errorf("usage: %s report <%s>", appName, strings.Join(store.ReportNames, "|"))
	}
	ctx := context.Background()
	a, err := openApp(ctx, workspacePath, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.store.Report(ctx, args[0], time.Now())
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runServe(args []string, workspacePath string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	addr := fs.String("addr", "", "Listen address (default from odin.yaml)")
	generator := fs.String("generator", "", "Generator provider override")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a, err := openApp(ctx, workspacePath, appOptions{generator: *generator})
	if err != nil {
		return err
	}
	defer a.Close()

	listen := *addr
	if listen == "" {
		listen = a.cfg.Server.Addr
	}
	fmt.Fprintf(os.Stdout, "Serving %s on http://%s\n", a.ws.Root, listen)
	return server.New(a.svc, a.store, a.log).ListenAndServe(ctx, listen)
}

func runEvents(args []string, workspacePath string) error {
	if isHelp(args) || args[0] != "relay" {
		return fmt.Errorf("usage: %s events relay [--limit n]", appName)
	}
	fs := flag.NewFlagSet("events relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	limit := fs.Int("limit", 0, "Maximum events to relay (default from odin.yaml)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := openApp(ctx, workspacePath, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	batch := a.cfg.Events.RelayBatch
	if *limit > 0 {
		batch = *limit
	}
	res, err := a.publisher.Relay(ctx, a.cfg.Events.RelayMaxRetries, batch)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Relayed %d events: %s delivered, %s failed\n",
		res.Attempted, green(res.Delivered), red(res.Failed))
	return nil
}

func runIntel(args []string, workspacePath string) error {
	if isHelp(args) || args[0] != "purge" {
		return fmt.Errorf("usage: %s intel purge", appName)
	}
	ctx := context.Background()
	a, err := openApp(ctx, workspacePath, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.store.PurgeExpired(ctx, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Purged %d expired intelligence records\n", n)
	return nil
}
