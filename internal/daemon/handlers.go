package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"odin/internal/events"
	"odin/internal/notify"
	"odin/internal/pipeline"
	"odin/internal/service"
)

// Job types.
const (
	JobStrategyRun  = "strategy_run"
	JobArchiveSweep = "archive_sweep"
	JobIntelPurge   = "intel_purge"
	JobEventRelay   = "event_relay"
)

// JobTypes lists every job type the daemon can execute.
var JobTypes = []string{JobStrategyRun, JobArchiveSweep, JobIntelPurge, JobEventRelay}

// HandlerFunc executes one claimed job and returns its result.
type HandlerFunc func(ctx context.Context, job *Job) (any, error)

// StrategyRunPayload is the payload of a strategy_run job. File names an
// inbox file holding a request body; Request is an inline body. With
// neither, the run relies on the configured signal providers.
type StrategyRunPayload struct {
	File          string         `json:"file,omitempty"`
	Request       map[string]any `json:"request,omitempty"`
	ScheduledTime string         `json:"scheduled_time,omitempty"`
}

// IntelPurger drops expired market intelligence. *store.Store implements it.
type IntelPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Relayer re-delivers pending events. *events.Publisher implements it.
type Relayer interface {
	Relay(ctx context.Context, maxRetries, limit int) (events.RelayResult, error)
}

// Deps holds what the built-in handlers need.
type Deps struct {
	Service         *service.Service
	Intel           IntelPurger
	Relay           Relayer
	Notifier        *notify.Notifier
	InboxDir        string
	ArchiveMaxAge   time.Duration
	ArchiveUser     string
	RelayMaxRetries int
	RelayBatch      int
	Logger          *zap.Logger
	Now             func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Handlers returns the built-in handler table.
func (d *Deps) Handlers() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		JobStrategyRun:  d.handleStrategyRun,
		JobArchiveSweep: d.handleArchiveSweep,
		JobIntelPurge:   d.handleIntelPurge,
		JobEventRelay:   d.handleEventRelay,
	}
}

func (d *Deps) handleStrategyRun(ctx context.Context, job *Job) (any, error) {
	if d.Service == nil {
		return nil, errors.New("strategy service not configured")
	}
	var payload StrategyRunPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, err
	}

	body := payload.Request
	if payload.File != "" {
		loaded, err := readRequestFile(payload.File)
		if err != nil {
			d.settleInboxFile(payload.File, false)
			d.notifyFailure("", err)
			return nil, err
		}
		body = loaded
	}
	if len(body) == 0 {
		body = map[string]any{"source": "schedule", "job_id": job.ID}
		if payload.ScheduledTime != "" {
			body["scheduled_time"] = payload.ScheduledTime
		}
	}

	resp, err := d.Service.CreateStrategy(ctx, service.RequestFromBody(body))
	if payload.File != "" {
		d.settleInboxFile(payload.File, err == nil)
	}
	if err != nil {
		var perr *pipeline.PipelineError
		phase := ""
		if errors.As(err, &perr) {
			phase = string(perr.Phase)
		}
		d.notifyFailure(phase, err)
		return nil, err
	}
	return resp, nil
}

func (d *Deps) handleArchiveSweep(ctx context.Context, _ *Job) (any, error) {
	if d.Service == nil {
		return nil, errors.New("strategy service not configured")
	}
	return d.Service.ArchiveSweep(ctx, d.ArchiveMaxAge, d.ArchiveUser)
}

func (d *Deps) handleIntelPurge(ctx context.Context, _ *Job) (any, error) {
	if d.Intel == nil {
		return nil, errors.New("intelligence store not configured")
	}
	n, err := d.Intel.PurgeExpired(ctx, d.now())
	if err != nil {
		return nil, err
	}
	return map[string]any{"purged": n}, nil
}

func (d *Deps) handleEventRelay(ctx context.Context, _ *Job) (any, error) {
	if d.Relay == nil {
		return nil, errors.New("event publisher not configured")
	}
	return d.Relay.Relay(ctx, d.RelayMaxRetries, d.RelayBatch)
}

func readRequestFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request file: %w", err)
	}
	body := map[string]any{}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("request file %s must hold a JSON object: %w", filepath.Base(path), err)
	}
	return body, nil
}

// settleInboxFile moves a consumed inbox file to processed/ or failed/.
// Files outside the inbox are left where they are.
func (d *Deps) settleInboxFile(path string, ok bool) {
	if d.InboxDir == "" || filepath.Dir(path) != filepath.Clean(d.InboxDir) {
		return
	}
	sub := "failed"
	if ok {
		sub = "processed"
	}
	dest := filepath.Join(d.InboxDir, sub, fmt.Sprintf("%s-%s", d.now().UTC().Format("20060102T150405"), filepath.Base(path)))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err == nil {
		err = os.Rename(path, dest)
		if err == nil {
			return
		}
	}
	if d.Logger != nil {
		d.Logger.Warn("could not move inbox file", zap.String("file", path), zap.String("dest", dest))
	}
}

func (d *Deps) notifyFailure(phase string, err error) {
	title, message := notify.FormatRunFailed(phase, err.Error())
	if sendErr := d.Notifier.Send(title, message); sendErr != nil && d.Logger != nil {
		d.Logger.Warn("notification failed", zap.Error(sendErr))
	}
}
