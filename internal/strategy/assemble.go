package strategy

import (
	"time"
)

// DocumentVersion is stamped on every newly assembled document.
const DocumentVersion = "1.0"

// SystemUser is the audit trail user for changes made by the pipeline.
const SystemUser = "system"

// PhaseOutputs carries the raw object produced by each pipeline phase.
type PhaseOutputs struct {
	Discovery  map[string]any
	Validation map[string]any
	PreSell    map[string]any
	Strategy   map[string]any
	Scoring    map[string]any
}

// AssembleOptions supplies the run metadata that is not part of any phase output.
type AssembleOptions struct {
	Now         time.Time
	Model       string
	DataSources []string
	InputHash   string
	Node        string
	Duration    time.Duration
	User        string
	Warnings    []string
}

// StatusFor maps the final recommendation onto the initial document status.
func StatusFor(rec Recommendation) Status {
	if rec == RecommendationPursue {
		return StatusValidated
	}
	return StatusDraft
}

// Assemble maps the pipeline outputs onto the canonical document shape.
// Absent sections become empty values; the status is derived from the
// scoring recommendation.
func Assemble(out PhaseOutputs, opts AssembleOptions) *Document {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	user := opts.User
	if user == "" {
		user = SystemUser
	}

	s := out.Strategy
	doc := &Document{
		CustomerOutcomes:      decodeOutcomes(objects(s, "customer_outcomes", "target_customer_outcomes", "outcomes")),
		MarketSegments:        decodeSegments(objects(s, "market_segments", "market_segmentation", "segments")),
		ValuePropositions:     decodePropositions(objects(s, "value_propositions", "value_proposition_architecture")),
		MarketAnalysis:        decodeMarketAnalysis(firstObject(object(s, "market_analysis"), object(out.Validation, "market_analysis", "market_size"), object(out.Discovery, "market_analysis", "market_size"))),
		CompetitiveAnalysis:   decodeCompetitive(firstObject(object(s, "competitive_analysis", "competitive_positioning"), object(out.Validation, "competitive_analysis", "competitive_dynamics"))),
		SuccessMetrics:        decodeMetrics(objects(s, "success_metrics", "kpis")),
		ImplementationRoadmap: decodeRoadmap(object(s, "implementation_roadmap", "innovation_roadmap")),
		ResourceRequirements:  decodeResources(object(s, "resource_requirements", "resource_allocation")),
		CreatedAt:             now,
		UpdatedAt:             now,
		Version:               DocumentVersion,
	}
	if len(doc.CustomerOutcomes) == 0 {
		doc.CustomerOutcomes = decodeOutcomes(objects(out.Discovery, "outcomes", "customer_outcomes"))
	}
	if len(doc.MarketSegments) == 0 {
		doc.MarketSegments = decodeSegments(objects(out.Discovery, "segments", "market_segments"))
	}

	doc.ValidationData = ValidationData{
		DiscoveryPhase:   orEmpty(out.Discovery),
		ValidationPhase:  orEmpty(out.Validation),
		PreSellPhase:     orEmpty(out.PreSell),
		ValidationScores: decodeScores(out.Scoring),
	}
	doc.AIInsights = assembleInsights(out, doc, opts.Model, now)
	doc.Status = StatusFor(doc.AIInsights.Recommendation)

	sources := append([]string{}, opts.DataSources...)
	doc.ProcessingMetadata = ProcessingMetadata{
		AIModelUsed:          opts.Model,
		ProcessingDurationMS: opts.Duration.Milliseconds(),
		DataSources:          sources,
		ConfidenceLevel:      doc.AIInsights.ConfidenceScore,
		ProcessingNode:       opts.Node,
		InputDataHash:        opts.InputHash,
		Warnings:             opts.Warnings,
	}

	doc.AuditTrail = []AuditEntry{{
		Action:    ActionCreated,
		Timestamp: now,
		User:      user,
		Changes: map[string]any{
			"status":         string(doc.Status),
			"recommendation": string(doc.AIInsights.Recommendation),
		},
	}}
	return doc
}

func assembleInsights(out PhaseOutputs, doc *Document, model string, now time.Time) AIInsights {
	prior := object(out.Strategy, "ai_insights")
	scores := doc.ValidationData.ValidationScores

	insights := AIInsights{
		ModelVersion:              model,
		ProcessingTimestamp:       now,
		ConfidenceScore:           scores.OverallConfidence,
		MarketOpportunityScore:    scores.MarketOpportunityStrength,
		Recommendation:            recommendationFrom(out.Scoring),
		KeySuccessFactors:         strs(out.Scoring, "key_success_factors"),
		PrimaryRisks:              strs(out.Scoring, "primary_risks"),
		MarketTrendsAnalysis:      strs(prior, "market_trends_analysis"),
		CompetitiveGapsIdentified: strs(prior, "competitive_gaps_identified"),
		InnovationOpportunities:   strs(prior, "innovation_opportunities"),
		AIGeneratedInsights:       strs(prior, "ai_generated_insights", "insights"),
	}
	if len(insights.MarketTrendsAnalysis) == 0 {
		insights.MarketTrendsAnalysis = append([]string{}, doc.MarketAnalysis.KeyTrends...)
	}
	if len(insights.CompetitiveGapsIdentified) == 0 {
		insights.CompetitiveGapsIdentified = strs(out.Discovery, "market_gaps")
	}
	if len(insights.InnovationOpportunities) == 0 {
		insights.InnovationOpportunities = strs(out.Strategy, "innovation_opportunities", "innovation_roadmap_priorities")
	}
	return insights
}

// recommendationFrom reads strategic_recommendation, which may be a bare
// string or an object carrying the value plus a rationale.
func recommendationFrom(scoring map[string]any) Recommendation {
	raw := str(scoring, "strategic_recommendation", "recommendation")
	if nested := object(scoring, "strategic_recommendation"); nested != nil {
		raw = str(nested, "recommendation", "decision", "value")
	}
	if rec, ok := ParseRecommendation(raw); ok {
		return rec
	}
	return RecommendationInvestigateFurther
}

func firstObject(candidates ...map[string]any) map[string]any {
	for _, c := range candidates {
		if len(c) > 0 {
			return c
		}
	}
	return nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
