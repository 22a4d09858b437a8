package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"odin/internal/adapters"
	"odin/internal/audit"
	"odin/internal/prompts"
	"odin/internal/store"
)

type memorySink struct {
	mu   sync.Mutex
	rows []store.ServiceLog
}

func (s *memorySink) InsertLog(_ context.Context, entry *store.ServiceLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, *entry)
	return nil
}

func (s *memorySink) count(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		if r.EventType == eventType {
			n++
		}
	}
	return n
}

func sampleInputs() Inputs {
	return Inputs{
		Trigger:  map[string]any{"initiative": "ops automation"},
		Market:   map[string]any{"market_size": 50000000000.0},
		Customer: map[string]any{"pain_points": []any{"Manual data entry"}},
	}
}

func TestRunExecutesPhasesInOrder(t *testing.T) {
	gen := &adapters.MockGenerator{}
	sink := &memorySink{}
	o := &Orchestrator{Generator: gen, Prompts: &prompts.Builder{}, Audit: audit.NewLogger(sink, nil)}

	draft, err := o.Run(context.Background(), sampleInputs())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"discovery", "validation", "presell", "strategy", "scoring"}
	got := gen.Phases()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	if draft.Discovery == nil || draft.Validation == nil || draft.PreSell == nil || draft.Strategy == nil || draft.Scoring == nil {
		t.Fatalf("draft is missing a phase output: %+v", draft)
	}
	if len(draft.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", draft.Warnings)
	}
	if len(draft.Timings) != 5 {
		t.Errorf("timings = %d, want 5", len(draft.Timings))
	}
	if draft.Model != "mock-odi-1" {
		t.Errorf("model = %q", draft.Model)
	}
	if draft.FinishedAt.Before(draft.StartedAt) {
		t.Errorf("finished %v before started %v", draft.FinishedAt, draft.StartedAt)
	}
	if n := sink.count(audit.TypeDebug); n != 5 {
		t.Errorf("debug rows = %d, want 5", n)
	}
	if n := sink.count(audit.TypePerformance); n != 5 {
		t.Errorf("performance rows = %d, want 5", n)
	}
}

func TestRunEmbedsPriorOutputWhole(t *testing.T) {
	gen := &adapters.MockGenerator{}
	o := &Orchestrator{Generator: gen}

	if _, err := o.Run(context.Background(), sampleInputs()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	calls := gen.Calls()
	if !strings.Contains(calls[0].UserPrompt, `"initiative": "ops automation"`) {
		t.Errorf("discovery prompt lacks the trigger context:\n%s", calls[0].UserPrompt)
	}
	// Every discovery outcome reaches validation, indented.
	for _, want := range []string{
		`"outcome": "Minimize time spent on manual data entry"`,
		`"outcome": "Minimize time to locate a record"`,
		`"market_gaps": [`,
	} {
		if !strings.Contains(calls[1].UserPrompt, want) {
			t.Errorf("validation prompt missing %s", want)
		}
	}
	if calls[4].MaxTokens != 1500 || calls[4].Temperature != 0.1 {
		t.Errorf("scoring settings = %v/%d", calls[4].Temperature, calls[4].MaxTokens)
	}
}

func TestRunStopsAtFailingPhase(t *testing.T) {
	gen := &adapters.MockGenerator{FailPhase: "validation"}
	o := &Orchestrator{Generator: gen, PhaseAttempts: 3}

	draft, err := o.Run(context.Background(), sampleInputs())
	if draft != nil {
		t.Fatalf("draft = %+v, want nil", draft)
	}
	var perr *PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *PipelineError", err)
	}
	if perr.Phase != prompts.Validation {
		t.Errorf("phase = %q, want validation", perr.Phase)
	}
	var gerr *adapters.GenerationError
	if !errors.As(err, &gerr) || gerr.Kind != adapters.KindCall {
		t.Errorf("error = %v, want call GenerationError", err)
	}
	got := gen.Phases()
	if len(got) != 2 || got[1] != "validation" {
		t.Errorf("phases = %v, want discovery then a single validation call", got)
	}
}

func TestRunAsksAgainAfterUnparsableOutput(t *testing.T) {
	gen := &adapters.MockGenerator{InvalidPhase: "strategy", InvalidTimes: 1}
	sink := &memorySink{}
	o := &Orchestrator{Generator: gen, PhaseAttempts: 2, Audit: audit.NewLogger(sink, nil)}

	draft, err := o.Run(context.Background(), sampleInputs())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := draft.Timings[3]; got.Phase != prompts.Strategy || got.Attempts != 2 {
		t.Errorf("strategy timing = %+v, want 2 attempts", got)
	}
	if n := len(gen.Calls()); n != 6 {
		t.Errorf("calls = %d, want 6", n)
	}
	if n := sink.count(audit.TypeWarning); n != 1 {
		t.Errorf("warning rows = %d, want 1", n)
	}
}

func TestRunWithoutPhaseRetryFailsOnUnparsableOutput(t *testing.T) {
	gen := &adapters.MockGenerator{InvalidPhase: "presell"}
	o := &Orchestrator{Generator: gen}

	_, err := o.Run(context.Background(), sampleInputs())
	if !adapters.IsInvalidResponse(err) {
		t.Fatalf("error = %v, want invalid response", err)
	}
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Phase != prompts.PreSell {
		t.Errorf("error = %v, want presell PipelineError", err)
	}
	if n := len(gen.Calls()); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestRunRecordsMissingKeysAsWarnings(t *testing.T) {
	gen := &adapters.MockGenerator{Overrides: map[string]adapters.Object{
		"scoring": {"strategic_recommendation": "maybe later"},
	}}
	o := &Orchestrator{Generator: gen}

	draft, err := o.Run(context.Background(), sampleInputs())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{
		"scoring: missing market_opportunity_strength",
		"scoring: missing overall_confidence",
		`scoring: unknown strategic_recommendation "maybe later"`,
	}
	if strings.Join(draft.Warnings, "|") != strings.Join(want, "|") {
		t.Errorf("warnings = %q, want %q", draft.Warnings, want)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := &adapters.MockGenerator{}
	o := &Orchestrator{Generator: gen}

	_, err := o.Run(ctx, sampleInputs())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if n := len(gen.Calls()); n != 0 {
		t.Errorf("calls = %d, want 0", n)
	}
}

func TestRunPhase(t *testing.T) {
	gen := &adapters.MockGenerator{}
	o := &Orchestrator{Generator: gen}

	out, err := o.RunPhase(context.Background(), prompts.Scoring, adapters.Object{"customer_outcomes": []any{}})
	if err != nil {
		t.Fatalf("RunPhase() error = %v", err)
	}
	if out["strategic_recommendation"] != "pursue" {
		t.Errorf("recommendation = %v", out["strategic_recommendation"])
	}

	if _, err := o.RunPhase(context.Background(), prompts.Discovery, 42); err == nil {
		t.Error("RunPhase() accepted a non-DiscoveryInput discovery context")
	}
}
