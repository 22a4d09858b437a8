package scoring

import (
	"errors"
	"strings"
	"testing"
	"time"

	"odin/internal/strategy"
)

func TestOpportunityScore(t *testing.T) {
	if got, want := OpportunityScore(9, 4), 45.0; got != want {
		t.Fatalf("OpportunityScore(9, 4) = %v, want %v", got, want)
	}
	if got, want := OpportunityScore(5, 5), 0.0; got != want {
		t.Fatalf("OpportunityScore(5, 5) = %v, want %v", got, want)
	}
}

func TestCheckOpportunityScore(t *testing.T) {
	cases := []struct {
		name string
		opp  float64
		want bool
	}{
		{"exact", 45, true},
		{"within tolerance", 45.09, true},
		{"below within tolerance", 44.95, true},
		{"outside tolerance", 45.2, false},
		{"wrong", 30, false},
	}
	for _, tc := range cases {
		o := strategy.CustomerOutcome{ImportanceScore: 9, SatisfactionScore: 4, OpportunityScore: tc.opp}
		if got := CheckOpportunityScore(o); got != tc.want {
			t.Errorf("%s: CheckOpportunityScore = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCheckMarketSizing(t *testing.T) {
	got := CheckMarketSizing(strategy.MarketAnalysis{TotalAddressableMarket: 1000, ServiceableAddressableMarket: 1500})
	if len(got) != 1 || got[0].Message != "SAM cannot exceed TAM" {
		t.Fatalf("violations = %v, want SAM cannot exceed TAM", got)
	}

	got = CheckMarketSizing(strategy.MarketAnalysis{TotalAddressableMarket: 1000, ServiceableAddressableMarket: 500, ServiceableObtainableMarket: 600})
	if len(got) != 1 || got[0].Message != "SOM cannot exceed SAM" {
		t.Fatalf("violations = %v, want SOM cannot exceed SAM", got)
	}

	if got := CheckMarketSizing(strategy.MarketAnalysis{TotalAddressableMarket: 1000, ServiceableAddressableMarket: 1000, ServiceableObtainableMarket: 10}); len(got) != 0 {
		t.Fatalf("expected no violations, got %v", got)
	}
}

func TestCheckConfidenceBounds(t *testing.T) {
	for _, c := range []float64{-0.1, 1.2} {
		if got := CheckConfidenceBounds(strategy.AIInsights{ConfidenceScore: c}); len(got) != 1 {
			t.Errorf("confidence %v: violations = %v, want 1", c, got)
		}
	}
	for _, c := range []float64{0, 0.5, 1} {
		if got := CheckConfidenceBounds(strategy.AIInsights{ConfidenceScore: c}); len(got) != 0 {
			t.Errorf("confidence %v: unexpected violations %v", c, got)
		}
	}
}

func validDocument() *strategy.Document {
	return &strategy.Document{
		Status:  strategy.StatusDraft,
		Version: "1.0",
		CustomerOutcomes: []strategy.CustomerOutcome{
			{Outcome: "Minimize manual entry", ImportanceScore: 9, SatisfactionScore: 4, OpportunityScore: 45},
		},
		MarketSegments: []strategy.MarketSegment{{SegmentName: "SMB", Size: 100, OpportunityScore: 40}},
		MarketAnalysis: strategy.MarketAnalysis{TotalAddressableMarket: 1000, ServiceableAddressableMarket: 100, ServiceableObtainableMarket: 10},
		ValidationData: strategy.ValidationData{ValidationScores: strategy.ValidationScores{MarketOpportunityStrength: 8, OverallConfidence: 0.8}},
		AIInsights:     strategy.AIInsights{ConfidenceScore: 0.8, MarketOpportunityScore: 8},
		AuditTrail:     []strategy.AuditEntry{{Action: strategy.ActionCreated, User: strategy.SystemUser}},
	}
}

func TestValidate(t *testing.T) {
	if got := Validate(validDocument()); len(got) != 0 {
		t.Fatalf("expected valid document, got %v", got)
	}

	doc := validDocument()
	doc.CustomerOutcomes[0].OpportunityScore = 30
	doc.MarketAnalysis.ServiceableAddressableMarket = 1500
	doc.AIInsights.ConfidenceScore = 1.2
	doc.Version = "v1"

	got := Validate(doc)
	joined := got.Error()
	for _, want := range []string{
		"Opportunity score mismatch in outcome 0",
		"SAM cannot exceed TAM",
		"AI confidence score must be between 0 and 1",
		"version",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("violations missing %q:\n%s", want, joined)
		}
	}
}

func TestPolicyRecordAnnotatesAuditTrail(t *testing.T) {
	doc := validDocument()
	doc.MarketAnalysis.ServiceableAddressableMarket = 1500

	violations, err := PolicyRecord.Apply(doc, time.Now())
	if err != nil {
		t.Fatalf("record policy returned error: %v", err)
	}
	if len(violations) == 0 {
		t.Fatalf("expected violations to be reported")
	}
	entry := doc.AuditTrail[0]
	msgs, ok := entry.Changes["violations"].([]string)
	if !ok || len(msgs) != 1 || !strings.Contains(msgs[0], "SAM cannot exceed TAM") {
		t.Fatalf("audit changes = %+v", entry.Changes)
	}
	if entry.Reason == "" {
		t.Fatalf("expected a reason on the created entry")
	}
}

func TestPolicyEnforceFails(t *testing.T) {
	doc := validDocument()
	doc.AIInsights.ConfidenceScore = 1.2

	_, err := PolicyEnforce.Apply(doc, time.Now())
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if len(doc.AuditTrail[0].Changes) != 0 {
		t.Fatalf("enforce policy must not annotate the document")
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p != PolicyRecord {
		t.Fatalf("ParsePolicy(\"\") = %q, %v", p, err)
	}
	if p, err := ParsePolicy("ENFORCE"); err != nil || p != PolicyEnforce {
		t.Fatalf("ParsePolicy(ENFORCE) = %q, %v", p, err)
	}
	if _, err := ParsePolicy("block"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
