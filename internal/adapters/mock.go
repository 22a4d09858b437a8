package adapters

import (
	"context"
	"errors"
	"sync"
)

var _ Generator = (*MockGenerator)(nil)

// MockGenerator is a deterministic, offline generator used for end-to-end
// testing of the pipeline. It answers each phase with canned output.
type MockGenerator struct {
	// Recommendation is returned by the scoring phase; defaults to "pursue".
	Recommendation string
	// FailPhase makes the named phase fail with a call error.
	FailPhase string
	// InvalidPhase makes the named phase answer with text that is not JSON.
	InvalidPhase string
	// InvalidTimes limits how many times InvalidPhase misbehaves; zero means always.
	InvalidTimes int
	// Overrides replaces the canned output for a phase.
	Overrides map[string]Object

	mu       sync.Mutex
	calls    []Request
	invalids int
}

func (g *MockGenerator) Name() string  { return "mock" }
func (g *MockGenerator) Model() string { return "mock-odi-1" }

// Calls returns the requests received so far, in order.
func (g *MockGenerator) Calls() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Request, len(g.calls))
	copy(out, g.calls)
	return out
}

// Phases returns the phase of every request received so far.
func (g *MockGenerator) Phases() []string {
	calls := g.Calls()
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Phase)
	}
	return out
}

func (g *MockGenerator) Generate(ctx context.Context, req Request) (Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, callError(g.Name(), req, err)
	}

	g.mu.Lock()
	g.calls = append(g.calls, req)
	invalid := false
	if req.Phase != "" && req.Phase == g.InvalidPhase {
		if g.InvalidTimes == 0 || g.invalids < g.InvalidTimes {
			invalid = true
			g.invalids++
		}
	}
	g.mu.Unlock()

	if req.Phase != "" && req.Phase == g.FailPhase {
		return nil, callError(g.Name(), req, errors.New("mock generator: injected failure"))
	}
	if invalid {
		_, err := ParseObject("I'm sorry, I cannot produce JSON for that.")
		return nil, invalidError(g.Name(), req, err)
	}
	if out, ok := g.Overrides[req.Phase]; ok {
		return cloneObject(out), nil
	}
	return g.canned(req.Phase), nil
}

func (g *MockGenerator) canned(phase string) Object {
	switch phase {
	case "discovery":
		return Object{
			"customer_jobs": []any{"Keep operational records accurate", "Find information quickly"},
			"outcomes": []any{
				Object{"outcome": "Minimize time spent on manual data entry", "importance_score": 9.0, "satisfaction_score": 4.0, "opportunity_score": 45.0},
				Object{"outcome": "Minimize time to locate a record", "importance_score": 8.0, "satisfaction_score": 5.0, "opportunity_score": 24.0},
			},
			"segments": []any{
				Object{"segment_name": "Mid-market operations teams", "size": 180000.0, "opportunity_score": 42.0},
			},
			"market_gaps":           []any{"AI-powered automation", "Seamless integrations", "Outcome-focused metrics"},
			"confidence_indicators": Object{"data_quality": 0.7, "reliability": 0.75},
		}
	case "validation":
		return Object{
			"validated_opportunities": []any{
				Object{"opportunity": "Automated data capture", "market_opportunity_score": 8.2, "strategic_fit_score": 7.5, "execution_difficulty_score": 5.0, "time_to_market_score": 6.5},
			},
			"market_analysis": Object{
				"total_addressable_market":       50000000000.0,
				"serviceable_addressable_market": 5000000000.0,
				"serviceable_obtainable_market":  500000000.0,
			},
			"risk_assessment": Object{"overall": "medium"},
		}
	case "presell":
		return Object{
			"test_plans": []any{
				Object{"opportunity": "Automated data capture", "methodology": "landing page + interviews", "success_threshold": "15% signup rate"},
			},
			"go_no_go_criteria": []any{"15% signup rate", "5 design partners"},
			"projected_outcomes": Object{"conversion_rate": 0.18},
		}
	case "strategy":
		return Object{
			"customer_outcomes": []any{
				Object{
					"outcome": "Minimize time spent on manual data entry", "importance_score": 9.0, "satisfaction_score": 4.0, "opportunity_score": 45.0,
					"segment_data": Object{"primary_segment": "Mid-market operations teams", "segment_size": 180000.0, "willingness_to_pay": 1200.0},
				},
				Object{"outcome": "Minimize time to locate a record", "importance_score": 8.0, "satisfaction_score": 5.0, "opportunity_score": 24.0},
				Object{"outcome": "Reduce integration setup effort", "importance_score": 7.0, "satisfaction_score": 3.0, "opportunity_score": 28.0},
				Object{"outcome": "Increase confidence in reported metrics", "importance_score": 6.0, "satisfaction_score": 5.0, "opportunity_score": 6.0},
			},
			"market_segments": []any{
				Object{"segment_name": "Mid-market operations teams", "size": 180000.0, "growth_rate": 0.12, "opportunity_score": 42.0, "willingness_to_pay": 1200.0, "competitive_intensity": "medium", "accessibility": "moderate"},
			},
			"value_propositions": []any{
				Object{"proposition": "Capture operational data automatically", "target_segment": "Mid-market operations teams", "differentiation": "Outcome-focused automation", "supporting_features": []any{"Inbox parsing", "CRM sync"}},
			},
			"market_analysis": Object{
				"total_addressable_market":       50000000000.0,
				"serviceable_addressable_market": 5000000000.0,
				"serviceable_obtainable_market":  500000000.0,
				"market_growth_rate":             0.35,
				"market_maturity":                "growth",
				"key_trends":                     []any{"AI automation demand", "Remote work solutions"},
			},
			"competitive_analysis": Object{
				"direct_competitors": []any{
					Object{"name": "Competitor A", "market_share": 0.25, "strengths": []any{"Brand"}, "weaknesses": []any{"Innovation"}},
					Object{"name": "Competitor B", "market_share": 0.18, "strengths": []any{"Price"}, "weaknesses": []any{"UX"}},
				},
				"competitive_gaps": []any{"AI-powered automation"},
			},
			"success_metrics": []any{
				Object{"metric_name": "Weekly active teams", "target_value": "500", "tracking_frequency": "weekly", "category": "customer"},
			},
			"implementation_roadmap": Object{
				"phases": []any{Object{"phase_name": "MVP", "duration_months": 3.0, "objectives": []any{"Ship data capture beta"}}},
			},
			"resource_requirements": Object{"budget_estimate": 1000000.0, "timeline_estimate": "12 months"},
		}
	case "scoring":
		rec := g.Recommendation
		if rec == "" {
			rec = "pursue"
		}
		return Object{
			"market_opportunity_strength":     8.0,
			"customer_validation_confidence":  7.0,
			"competitive_advantage_potential": 7.5,
			"technical_feasibility":           8.0,
			"business_model_viability":        7.0,
			"strategic_alignment":             8.5,
			"risk_assessment":                 6.0,
			"overall_confidence":              0.78,
			"key_success_factors":             []any{"Fast onboarding", "Integration breadth"},
			"primary_risks":                   []any{"Incumbent response"},
			"strategic_recommendation":        rec,
		}
	}
	return Object{"phase": phase}
}

func cloneObject(in Object) Object {
	out := make(Object, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
