// Package daemon runs scheduled and inbox-triggered strategy work from a
// SQLite-backed job queue.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"odin/internal/audit"
)

// ErrUnknownJobType is returned when no handler is registered for a type.
var ErrUnknownJobType = errors.New("unknown job type")

// Daemon claims queued jobs and executes them.
type Daemon struct {
	Store        *Store
	Scheduler    *Scheduler
	Watcher      *InboxWatcher
	Handlers     map[string]HandlerFunc
	Audit        *audit.Logger
	Logger       *zap.Logger
	LeaseOwner   string
	LeaseFor     time.Duration
	PollInterval time.Duration

	now func() time.Time
}

// Options configures New.
type Options struct {
	StorePath string
	TimeZone  string
	// Schedule maps job types to six-field cron specs.
	Schedule map[string]string
	// InboxDir enables the inbox watcher when set.
	InboxDir     string
	Deps         *Deps
	Audit        *audit.Logger
	Logger       *zap.Logger
	LeaseOwner   string
	LeaseFor     time.Duration
	PollInterval time.Duration
}

// New opens the state store and wires the scheduler, watcher and handlers.
func New(opts Options) (*Daemon, error) {
	store, err := OpenStore(opts.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	scheduler, err := NewScheduler(store, opts.TimeZone, opts.Schedule)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LeaseOwner == "" {
		hostname, _ := os.Hostname()
		opts.LeaseOwner = fmt.Sprintf("daemon-%s-%d", hostname, os.Getpid())
	}
	if opts.LeaseFor == 0 {
		opts.LeaseFor = 10 * time.Minute
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Second
	}

	d := &Daemon{
		Store:        store,
		Scheduler:    scheduler,
		Handlers:     map[string]HandlerFunc{},
		Audit:        opts.Audit,
		Logger:       logger,
		LeaseOwner:   opts.LeaseOwner,
		LeaseFor:     opts.LeaseFor,
		PollInterval: opts.PollInterval,
		now:          time.Now,
	}
	if opts.Deps != nil {
		if opts.Deps.Logger == nil {
			opts.Deps.Logger = logger
		}
		if opts.Deps.InboxDir == "" {
			opts.Deps.InboxDir = opts.InboxDir
		}
		d.Handlers = opts.Deps.Handlers()
	}
	if opts.InboxDir != "" {
		d.Watcher = NewInboxWatcher(opts.InboxDir, store, logger)
	}
	return d, nil
}

// RegisterHandler registers a handler for a job type.
func (d *Daemon) RegisterHandler(jobType string, handler HandlerFunc) {
	d.Handlers[jobType] = handler
}

// Enqueue queues a job of a registered type to run now.
func (d *Daemon) Enqueue(ctx context.Context, jobType string, payload any) (string, error) {
	if _, ok := d.Handlers[jobType]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	id, _, err := d.Store.EnqueueUnique(ctx, jobType, d.now(), payload)
	return id, err
}

// Summary counts what a run or a single pass did.
type Summary struct {
	Scheduled int `json:"scheduled"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

func (s *Summary) add(o Summary) {
	s.Scheduled += o.Scheduled
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
}

// Run executes the poll loop until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	runID, err := d.Store.StartRun(ctx, map[string]any{
		"lease_owner":   d.LeaseOwner,
		"poll_interval": d.PollInterval.String(),
	})
	if err != nil {
		return err
	}
	d.Audit.LogEvent(ctx, audit.TypeInfo, "daemon started", map[string]any{
		"run_id":        runID,
		"lease_owner":   d.LeaseOwner,
		"lease_for":     d.LeaseFor.String(),
		"poll_interval": d.PollInterval.String(),
	})
	d.Logger.Info("daemon started", zap.String("run_id", runID), zap.String("lease_owner", d.LeaseOwner))

	if n, err := d.Store.RequeueExpired(ctx, d.now()); err != nil {
		d.Logger.Warn("requeue expired jobs failed", zap.Error(err))
	} else if n > 0 {
		d.Logger.Info("requeued jobs with expired leases", zap.Int64("count", n))
	}

	if d.Watcher != nil {
		if err := d.Watcher.Start(ctx); err != nil {
			_ = d.Store.FinishRun(context.Background(), runID, StatusFailed, map[string]string{"error": err.Error()})
			return err
		}
		defer d.Watcher.Stop()
	}

	var total Summary
	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// ctx is gone; the final bookkeeping needs its own.
			stopCtx := context.Background()
			if err := d.Store.FinishRun(stopCtx, runID, "stopped", total); err != nil {
				d.Logger.Warn("finish run failed", zap.Error(err))
			}
			d.Audit.LogEvent(stopCtx, audit.TypeInfo, "daemon stopped", map[string]any{
				"run_id":    runID,
				"succeeded": total.Succeeded,
				"failed":    total.Failed,
			})
			d.Logger.Info("daemon stopped",
				zap.Int("succeeded", total.Succeeded),
				zap.Int("failed", total.Failed),
			)
			return nil
		case <-ticker.C:
			total.add(d.RunOnce(ctx))
		}
	}
}

// RunOnce ticks the scheduler and then executes every job that is due.
func (d *Daemon) RunOnce(ctx context.Context) Summary {
	var sum Summary
	ids, err := d.Scheduler.Tick(ctx, d.now())
	if err != nil {
		d.Logger.Warn("scheduler tick failed", zap.Error(err))
	}
	sum.Scheduled = len(ids)

	for ctx.Err() == nil {
		ran, err := d.claimAndExecute(ctx)
		if !ran {
			if err != nil {
				d.Logger.Warn("claim job failed", zap.Error(err))
			}
			break
		}
		if err != nil {
			sum.Failed++
			continue
		}
		sum.Succeeded++
	}
	return sum
}

// claimAndExecute runs at most one job. ran is false when nothing was
// claimed.
func (d *Daemon) claimAndExecute(ctx context.Context) (ran bool, err error) {
	job, err := d.Store.ClaimNext(ctx, d.now(), d.LeaseOwner, d.LeaseFor)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	fields := map[string]any{"job_id": job.ID, "job_type": job.Type}
	d.Audit.LogEvent(ctx, audit.TypeDebug, "job started", fields)

	handler, ok := d.Handlers[job.Type]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownJobType, job.Type)
		d.fail(ctx, job, err)
		return true, err
	}

	started := time.Now()
	result, execErr := handler(ctx, job)
	if execErr != nil {
		d.fail(ctx, job, execErr)
		return true, execErr
	}
	if err := d.Store.Succeed(ctx, job.ID, result); err != nil {
		return true, fmt.Errorf("mark job succeeded: %w", err)
	}
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	d.Audit.LogEvent(ctx, audit.TypeInfo, "job succeeded", fields)
	d.Logger.Info("job succeeded",
		zap.String("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.Duration("elapsed", time.Since(started)),
	)
	return true, nil
}

func (d *Daemon) fail(ctx context.Context, job *Job, jobErr error) {
	// a cancelled ctx must not leave the job marked running
	if err := d.Store.Fail(context.WithoutCancel(ctx), job.ID, jobErr); err != nil {
		d.Logger.Warn("mark job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	d.Audit.LogError(ctx, jobErr, map[string]any{"job_id": job.ID, "job_type": job.Type})
	d.Logger.Warn("job failed",
		zap.String("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.Error(jobErr),
	)
}

// Status is a snapshot of the queue for `odin daemon status`.
type Status struct {
	LatestRun *Run                 `json:"latest_run,omitempty"`
	Running   []Job                `json:"running"`
	Queued    []Job                `json:"queued"`
	Recent    []Job                `json:"recent"`
	NextRuns  map[string]time.Time `json:"next_runs"`
}

// Status reads the current queue state.
func (d *Daemon) Status(ctx context.Context, limit int) (*Status, error) {
	st := &Status{NextRuns: d.Scheduler.Next(d.now())}
	var err error
	if st.LatestRun, err = d.Store.LatestRun(ctx); err != nil {
		return nil, err
	}
	if st.Running, err = d.Store.ListRunning(ctx); err != nil {
		return nil, err
	}
	if st.Queued, err = d.Store.ListQueued(ctx, limit); err != nil {
		return nil, err
	}
	if st.Recent, err = d.Store.ListRecentCompleted(ctx, limit); err != nil {
		return nil, err
	}
	return st, nil
}

// Close closes the state store.
func (d *Daemon) Close() error {
	return d.Store.Close()
}
