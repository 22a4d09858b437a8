package prompts

import (
	"strings"
	"testing"
)

func TestBuildUsesPhaseSettings(t *testing.T) {
	var b Builder
	for _, phase := range Phases {
		var ctx any = map[string]any{"k": "v"}
		if phase == Discovery {
			ctx = DiscoveryInput{Market: map[string]any{"size": 1}}
		}
		req, err := b.Build(phase, ctx)
		if err != nil {
			t.Fatalf("%s: %v", phase, err)
		}
		want := DefaultSettings[phase]
		if req.Temperature != want.Temperature || req.MaxTokens != want.MaxTokens {
			t.Fatalf("%s: got %v/%d, want %v/%d", phase, req.Temperature, req.MaxTokens, want.Temperature, want.MaxTokens)
		}
		if req.Phase != string(phase) || req.SystemPrompt == "" || req.UserPrompt == "" {
			t.Fatalf("%s: incomplete request %+v", phase, req)
		}
	}
}

func TestBuildEmbedsWholePriorOutput(t *testing.T) {
	long := strings.Repeat("x", 20000)
	prior := map[string]any{
		"validated_opportunities": []any{map[string]any{"opportunity": "Automated capture", "notes": long}},
	}
	req, err := (&Builder{}).Build(PreSell, prior)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(req.UserPrompt, long) {
		t.Fatalf("prior output was truncated")
	}
	if !strings.Contains(req.UserPrompt, "\n  \"validated_opportunities\": [") {
		t.Fatalf("prior output not indented:\n%s", req.UserPrompt[:200])
	}
	if !strings.HasPrefix(req.UserPrompt, "Design pre-sell testing strategies") {
		t.Fatalf("unexpected prompt start: %q", req.UserPrompt[:60])
	}
}

func TestBuildDiscoveryContext(t *testing.T) {
	b := &Builder{}
	req, err := b.Build(Discovery, DiscoveryInput{
		Market:   map[string]any{"trends": []string{"AI automation demand"}},
		Customer: map[string]any{"pain_points": []string{"Manual processes"}},
		Company:  map[string]any{"capabilities": []string{"ML"}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, want := range []string{"AI automation demand", "Manual processes", "Company Context", "Competitive Data: null", "customer_jobs"} {
		if !strings.Contains(req.UserPrompt, want) {
			t.Fatalf("discovery prompt missing %q", want)
		}
	}
	if _, err := b.Build(Discovery, "not an input"); err == nil {
		t.Fatalf("expected error for wrong discovery context type")
	}
}

func TestBuilderOverrides(t *testing.T) {
	b := &Builder{Overrides: map[Phase]Settings{Strategy: {MaxTokens: 4000}}}
	req, err := b.Build(Strategy, map[string]any{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if req.MaxTokens != 4000 || req.Temperature != 0.2 {
		t.Fatalf("got %v/%d, want 0.2/4000", req.Temperature, req.MaxTokens)
	}
	if _, err := b.Build(Phase("launch"), nil); err == nil {
		t.Fatalf("expected error for unknown phase")
	}
}

func TestParsePhase(t *testing.T) {
	for in, want := range map[string]Phase{"Discovery": Discovery, "pre-sell": PreSell, "PRE_SELL": PreSell, " scoring ": Scoring} {
		got, err := ParsePhase(in)
		if err != nil || got != want {
			t.Fatalf("ParsePhase(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParsePhase("launch"); err == nil {
		t.Fatalf("expected error")
	}
}
