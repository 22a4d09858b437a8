package daemon

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
)

const watermarkKey = "scheduler_watermark"

// specParser accepts six-field specs with a leading seconds field.
var specParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type entry struct {
	jobType  string
	spec     string
	schedule cron.Schedule
}

// Scheduler turns cron specs into queued jobs. Each Tick enqueues the most
// recent occurrence of every spec that fell between the stored watermark
// and now; older missed occurrences coalesce into that one job.
type Scheduler struct {
	store    *Store
	location *time.Location
	entries  []entry
}

// NewScheduler parses specs, keyed by job type, in the named time zone.
// Empty specs are skipped.
func NewScheduler(store *Store, tzName string, specs map[string]string) (*Scheduler, error) {
	if tzName == "" {
		tzName = "UTC"
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", tzName, err)
	}
	s := &Scheduler{store: store, location: loc}
	for jobType, spec := range specs {
		if spec == "" {
			continue
		}
		sched, err := specParser.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("register %s schedule: %w", jobType, err)
		}
		s.entries = append(s.entries, entry{jobType: jobType, spec: spec, schedule: sched})
	}
	sort.Slice(s.entries, func(i, j int) bool { return s.entries[i].jobType < s.entries[j].jobType })
	return s, nil
}

// Next reports the next fire time of each registered job type after now.
func (s *Scheduler) Next(now time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(s.entries))
	for _, e := range s.entries {
		out[e.jobType] = e.schedule.Next(now.In(s.location))
	}
	return out
}

// Tick enqueues due jobs and advances the watermark. The first tick only
// sets the watermark, so a fresh daemon does not replay history.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) ([]string, error) {
	raw, err := s.store.GetKV(ctx, watermarkKey)
	if err != nil {
		return nil, fmt.Errorf("get scheduler watermark: %w", err)
	}
	if raw == "" {
		if err := s.store.SetKV(ctx, watermarkKey, formatStateTime(now)); err != nil {
			return nil, fmt.Errorf("set initial watermark: %w", err)
		}
		return nil, nil
	}
	watermark, err := time.Parse(stateTimeLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("parse watermark: %w", err)
	}

	var enqueued []string
	for _, e := range s.entries {
		due, ok := latestDue(e.schedule, watermark.In(s.location), now.In(s.location))
		if !ok {
			continue
		}
		id, created, err := s.store.EnqueueUnique(ctx, e.jobType, due, map[string]any{
			"scheduled_time": due.Format(time.RFC3339),
			"spec":           e.spec,
		})
		if err != nil {
			return enqueued, fmt.Errorf("enqueue %s at %s: %w", e.jobType, due, err)
		}
		if created {
			enqueued = append(enqueued, id)
		}
	}

	if err := s.store.SetKV(ctx, watermarkKey, formatStateTime(now)); err != nil {
		return enqueued, fmt.Errorf("update watermark: %w", err)
	}
	return enqueued, nil
}

// latestDue returns the last occurrence in (after, now].
func latestDue(sched cron.Schedule, after, now time.Time) (time.Time, bool) {
	var due time.Time
	for t := sched.Next(after); !t.IsZero() && !t.After(now); t = sched.Next(t) {
		due = t
	}
	return due, !due.IsZero()
}
