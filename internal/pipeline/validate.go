package pipeline

import (
	"fmt"
	"sort"

	"odin/internal/adapters"
	"odin/internal/prompts"
	"odin/internal/strategy"
)

// expectedKeys lists the top-level fields each phase is asked to return.
// Missing ones become warnings; the assembler fills defaults for them.
var expectedKeys = map[prompts.Phase][]string{
	prompts.Discovery:  {"customer_jobs", "outcomes", "segments", "market_gaps", "confidence_indicators"},
	prompts.Validation: {"market_analysis"},
	prompts.PreSell:    {"test_plans", "go_no_go_criteria"},
	prompts.Strategy:   {"customer_outcomes", "market_segments", "value_propositions", "market_analysis"},
	prompts.Scoring:    {"overall_confidence", "strategic_recommendation", "market_opportunity_strength"},
}

// checkOutput reports expected keys that are absent or null in out.
func checkOutput(phase prompts.Phase, out adapters.Object) []string {
	var warnings []string
	for _, key := range expectedKeys[phase] {
		if v, ok := out[key]; !ok || v == nil {
			warnings = append(warnings, fmt.Sprintf("%s: missing %s", phase, key))
		}
	}
	if phase == prompts.Scoring {
		if rec, ok := out["strategic_recommendation"].(string); ok {
			if _, known := strategy.ParseRecommendation(rec); !known {
				warnings = append(warnings, fmt.Sprintf("%s: unknown strategic_recommendation %q", phase, rec))
			}
		}
	}
	sort.Strings(warnings)
	return warnings
}
