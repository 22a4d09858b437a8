// Package pipeline runs the five ODI phases in order, feeding each phase the
// whole output of the one before it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"odin/internal/adapters"
	"odin/internal/audit"
	"odin/internal/prompts"
	"odin/internal/store"
	"odin/internal/strategy"
)

// PipelineError wraps the failure of one phase. Phases after it never ran.
type PipelineError struct {
	Phase prompts.Phase
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s phase failed: %v", e.Phase, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Inputs are the collected signals a run starts from.
type Inputs struct {
	Trigger     map[string]any
	Market      map[string]any
	Customer    map[string]any
	Competitive map[string]any
	Company     map[string]any
	// DataSources names the sources that contributed data.
	DataSources []string
}

// PhaseTiming records how long one phase took.
type PhaseTiming struct {
	Phase    prompts.Phase `json:"phase"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
}

// Draft is the raw result of a complete run, before assembly.
type Draft struct {
	Discovery  adapters.Object
	Validation adapters.Object
	PreSell    adapters.Object
	Strategy   adapters.Object
	Scoring    adapters.Object

	Warnings   []string
	Timings    []PhaseTiming
	Model      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Outputs hands the phase objects to the assembler.
func (d *Draft) Outputs() strategy.PhaseOutputs {
	return strategy.PhaseOutputs{
		Discovery:  d.Discovery,
		Validation: d.Validation,
		PreSell:    d.PreSell,
		Strategy:   d.Strategy,
		Scoring:    d.Scoring,
	}
}

// Duration is the wall time of the run.
func (d *Draft) Duration() time.Duration {
	return d.FinishedAt.Sub(d.StartedAt)
}

// GenerationTime sums the time spent inside phases.
func (d *Draft) GenerationTime() time.Duration {
	var total time.Duration
	for _, t := range d.Timings {
		total += t.Duration
	}
	return total
}

func (d *Draft) set(phase prompts.Phase, out adapters.Object) {
	switch phase {
	case prompts.Discovery:
		d.Discovery = out
	case prompts.Validation:
		d.Validation = out
	case prompts.PreSell:
		d.PreSell = out
	case prompts.Strategy:
		d.Strategy = out
	case prompts.Scoring:
		d.Scoring = out
	}
}

// Orchestrator drives a Generator through the phases.
type Orchestrator struct {
	Generator adapters.Generator
	Prompts   *prompts.Builder
	// PhaseAttempts bounds how often a phase is asked again after answering
	// with unparsable output. Values below 1 mean a single attempt.
	PhaseAttempts int
	Audit         *audit.Logger
	Logger        *zap.Logger
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Run executes every phase in order. On failure it returns a *PipelineError
// and no draft.
func (o *Orchestrator) Run(ctx context.Context, in Inputs) (*Draft, error) {
	if o.Generator == nil {
		return nil, errors.New("pipeline: generator is required")
	}
	draft := &Draft{
		Model:     o.Generator.Model(),
		StartedAt: time.Now().UTC(),
	}

	var prior any = prompts.DiscoveryInput{
		Market:      in.Market,
		Customer:    in.Customer,
		Competitive: in.Competitive,
		Company:     optional(in.Company),
		Request:     optional(in.Trigger),
	}
	for _, phase := range prompts.Phases {
		if err := ctx.Err(); err != nil {
			return nil, &PipelineError{Phase: phase, Err: err}
		}
		o.Audit.LogEvent(ctx, audit.TypeDebug, "phase started", map[string]any{
			"phase":     string(phase),
			"generator": o.Generator.Name(),
		})

		start := time.Now()
		out, attempts, err := o.runPhase(ctx, phase, prior)
		elapsed := time.Since(start)
		if err != nil {
			o.logger().Warn("phase failed",
				zap.String("phase", string(phase)),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			return nil, &PipelineError{Phase: phase, Err: err}
		}

		warnings := checkOutput(phase, out)
		draft.Warnings = append(draft.Warnings, warnings...)
		draft.Timings = append(draft.Timings, PhaseTiming{Phase: phase, Duration: elapsed, Attempts: attempts})
		draft.set(phase, out)

		o.Audit.LogPerformance(ctx, fmt.Sprintf("%s phase completed", phase), store.PerformanceMetrics{
			ExecutionTimeMS:    elapsed.Milliseconds(),
			AIProcessingTimeMS: elapsed.Milliseconds(),
		})
		o.logger().Debug("phase completed",
			zap.String("phase", string(phase)),
			zap.Duration("elapsed", elapsed),
			zap.Int("attempts", attempts),
			zap.Strings("warnings", warnings),
		)
		prior = out
	}
	draft.FinishedAt = time.Now().UTC()
	return draft, nil
}

// RunPhase renders and executes a single phase against prior, which is the
// previous phase's output (or a prompts.DiscoveryInput for discovery).
func (o *Orchestrator) RunPhase(ctx context.Context, phase prompts.Phase, prior any) (adapters.Object, error) {
	if o.Generator == nil {
		return nil, errors.New("pipeline: generator is required")
	}
	out, _, err := o.runPhase(ctx, phase, prior)
	if err != nil {
		return nil, &PipelineError{Phase: phase, Err: err}
	}
	return out, nil
}

func (o *Orchestrator) runPhase(ctx context.Context, phase prompts.Phase, prior any) (adapters.Object, int, error) {
	req, err := o.Prompts.Build(phase, prior)
	if err != nil {
		return nil, 0, err
	}
	attempts := o.PhaseAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		out, err := o.Generator.Generate(ctx, req)
		if err == nil {
			return out, i, nil
		}
		lastErr = err
		if !adapters.IsInvalidResponse(err) || ctx.Err() != nil {
			return nil, i, err
		}
		if i < attempts {
			o.Audit.LogEvent(ctx, audit.TypeWarning, "phase output unparsable, asking again", map[string]any{
				"phase":   string(phase),
				"attempt": i,
				"error":   err.Error(),
			})
		}
	}
	return nil, attempts, lastErr
}

// optional keeps empty maps out of the prompt.
func optional(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	return m
}
