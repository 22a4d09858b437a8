package scoring

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"odin/internal/strategy"
)

// OpportunityTolerance is the allowed drift between a stored opportunity
// score and the recomputed formula.
const OpportunityTolerance = 0.1

var versionPattern = regexp.MustCompile(`^\d+\.\d+$`)

// Violation captures a single document-level invariant failure.
type Violation struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (v Violation) Error() string {
	if v.Field == "" {
		return v.Message
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// Violations aggregates multiple invariant failures.
type Violations []Violation

func (vs Violations) Error() string {
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		parts = append(parts, v.Error())
	}
	return strings.Join(parts, "\n")
}

// Messages returns the plain messages, for audit trail annotations.
func (vs Violations) Messages() []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Error())
	}
	return out
}

// OpportunityScore is the ODI formula: importance * (importance - satisfaction).
func OpportunityScore(importance, satisfaction float64) float64 {
	return importance * (importance - satisfaction)
}

// CheckOpportunityScore reports whether the outcome's stored score matches
// the formula within OpportunityTolerance.
func CheckOpportunityScore(o strategy.CustomerOutcome) bool {
	expected := OpportunityScore(o.ImportanceScore, o.SatisfactionScore)
	return math.Abs(expected-o.OpportunityScore) <= OpportunityTolerance
}

// CheckMarketSizing enforces SAM <= TAM and SOM <= SAM.
func CheckMarketSizing(m strategy.MarketAnalysis) Violations {
	var out Violations
	if m.ServiceableAddressableMarket > m.TotalAddressableMarket {
		out = append(out, Violation{Field: "market_analysis", Message: "SAM cannot exceed TAM"})
	}
	if m.ServiceableObtainableMarket > m.ServiceableAddressableMarket {
		out = append(out, Violation{Field: "market_analysis", Message: "SOM cannot exceed SAM"})
	}
	return out
}

// CheckConfidenceBounds reports a confidence score outside [0,1].
func CheckConfidenceBounds(ai strategy.AIInsights) Violations {
	if ai.ConfidenceScore < 0 || ai.ConfidenceScore > 1 {
		return Violations{{Field: "ai_insights.confidence_score", Message: "AI confidence score must be between 0 and 1"}}
	}
	return nil
}

// CheckRanges covers the remaining per-field bounds of the document.
func CheckRanges(doc *strategy.Document) Violations {
	var out Violations
	for i, o := range doc.CustomerOutcomes {
		field := fmt.Sprintf("customer_outcomes[%d]", i)
		out = appendRange(out, field+".importance_score", o.ImportanceScore, 1, 10)
		out = appendRange(out, field+".satisfaction_score", o.SatisfactionScore, 1, 10)
		out = appendRange(out, field+".opportunity_score", o.OpportunityScore, 0, 100)
	}
	for i, s := range doc.MarketSegments {
		field := fmt.Sprintf("market_segments[%d]", i)
		out = appendRange(out, field+".opportunity_score", s.OpportunityScore, 0, 100)
		if s.Size < 0 {
			out = append(out, Violation{Field: field + ".size", Message: "must be non-negative"})
		}
	}
	m := doc.MarketAnalysis
	if m.TotalAddressableMarket < 0 || m.ServiceableAddressableMarket < 0 || m.ServiceableObtainableMarket < 0 {
		out = append(out, Violation{Field: "market_analysis", Message: "market sizes must be non-negative"})
	}
	scores := doc.ValidationData.ValidationScores
	for _, name := range dimensionOrder {
		out = appendRange(out, "validation_scores."+name, scores.Dimensions()[name], 0, 10)
	}
	out = appendRange(out, "validation_scores.overall_confidence", scores.OverallConfidence, 0, 1)
	out = appendRange(out, "ai_insights.market_opportunity_score", doc.AIInsights.MarketOpportunityScore, 0, 10)
	if !versionPattern.MatchString(doc.Version) {
		out = append(out, Violation{Field: "version", Message: fmt.Sprintf("must match %s", versionPattern)})
	}
	return out
}

var dimensionOrder = []string{
	"market_opportunity_strength",
	"customer_validation_confidence",
	"competitive_advantage_potential",
	"technical_feasibility",
	"business_model_viability",
	"strategic_alignment",
	"risk_assessment",
}

func appendRange(out Violations, field string, v, lo, hi float64) Violations {
	if v < lo || v > hi {
		out = append(out, Violation{Field: field, Message: fmt.Sprintf("%g outside [%g,%g]", v, lo, hi)})
	}
	return out
}

// Validate runs every check against the document.
func Validate(doc *strategy.Document) Violations {
	var out Violations
	for i, o := range doc.CustomerOutcomes {
		if !CheckOpportunityScore(o) {
			out = append(out, Violation{
				Field:   fmt.Sprintf("customer_outcomes[%d]", i),
				Message: fmt.Sprintf("Opportunity score mismatch in outcome %d", i),
			})
		}
	}
	out = append(out, CheckMarketSizing(doc.MarketAnalysis)...)
	out = append(out, CheckConfidenceBounds(doc.AIInsights)...)
	out = append(out, CheckRanges(doc)...)
	return out
}
