package strategy

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a strategy document.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusValidated Status = "validated"
	StatusApproved  Status = "approved"
	StatusArchived  Status = "archived"
	StatusRejected  Status = "rejected"
)

// Statuses lists every valid status in lifecycle order.
var Statuses = []Status{StatusDraft, StatusValidated, StatusApproved, StatusArchived, StatusRejected}

// ParseStatus normalizes and validates a status string.
func ParseStatus(value string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Statuses {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", value)
}

// Recommendation is the scoring phase's final call on a strategy.
type Recommendation string

const (
	RecommendationPursue             Recommendation = "pursue"
	RecommendationModify             Recommendation = "modify"
	RecommendationAbandon            Recommendation = "abandon"
	RecommendationInvestigateFurther Recommendation = "investigate_further"
)

// ParseRecommendation accepts the enum values case-insensitively, treating
// spaces and dashes as underscores.
func ParseRecommendation(value string) (Recommendation, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	switch Recommendation(normalized) {
	case RecommendationPursue, RecommendationModify, RecommendationAbandon, RecommendationInvestigateFurther:
		return Recommendation(normalized), true
	}
	return "", false
}

// Action names an audit trail entry.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionValidated Action = "validated"
	ActionApproved  Action = "approved"
	ActionRejected  Action = "rejected"
	ActionArchived  Action = "archived"
)

// Document is the canonical innovation strategy produced by one pipeline run.
type Document struct {
	ID                    string                `json:"id,omitempty"`
	Status                Status                `json:"status"`
	CustomerOutcomes      []CustomerOutcome     `json:"customer_outcomes"`
	MarketSegments        []MarketSegment       `json:"market_segments"`
	ValuePropositions     []ValueProposition    `json:"value_propositions"`
	MarketAnalysis        MarketAnalysis        `json:"market_analysis"`
	CompetitiveAnalysis   CompetitiveAnalysis   `json:"competitive_analysis"`
	ValidationData        ValidationData        `json:"validation_data"`
	AIInsights            AIInsights            `json:"ai_insights"`
	SuccessMetrics        []SuccessMetric       `json:"success_metrics"`
	ImplementationRoadmap ImplementationRoadmap `json:"implementation_roadmap"`
	ResourceRequirements  ResourceRequirements  `json:"resource_requirements"`
	ProcessingMetadata    ProcessingMetadata    `json:"processing_metadata"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
	ArchivedAt            *time.Time            `json:"archived_at,omitempty"`
	Version               string                `json:"version"`
	AuditTrail            []AuditEntry          `json:"audit_trail"`
}

type CustomerOutcome struct {
	Outcome           string          `json:"outcome"`
	ImportanceScore   float64         `json:"importance_score"`
	SatisfactionScore float64         `json:"satisfaction_score"`
	OpportunityScore  float64         `json:"opportunity_score"`
	SegmentData       *SegmentData    `json:"segment_data,omitempty"`
	ValidationData    *OutcomeSupport `json:"validation_data,omitempty"`
}

type SegmentData struct {
	PrimarySegment   string  `json:"primary_segment"`
	SegmentSize      int64   `json:"segment_size"`
	WillingnessToPay float64 `json:"willingness_to_pay"`
}

// OutcomeSupport records how an outcome's scores were measured.
type OutcomeSupport struct {
	SampleSize      int64   `json:"sample_size"`
	ConfidenceLevel float64 `json:"confidence_level"`
	DataSource      string  `json:"data_source"`
	CollectionDate  string  `json:"collection_date,omitempty"`
}

type MarketSegment struct {
	SegmentName          string    `json:"segment_name"`
	Description          string    `json:"description,omitempty"`
	Size                 int64     `json:"size"`
	GrowthRate           float64   `json:"growth_rate"`
	OpportunityScore     float64   `json:"opportunity_score"`
	WillingnessToPay     float64   `json:"willingness_to_pay"`
	CompetitiveIntensity string    `json:"competitive_intensity,omitempty"`
	Accessibility        string    `json:"accessibility,omitempty"`
	Personas             []Persona `json:"personas,omitempty"`
}

type Persona struct {
	Name         string   `json:"name"`
	Demographics string   `json:"demographics,omitempty"`
	PainPoints   []string `json:"pain_points,omitempty"`
	Goals        []string `json:"goals,omitempty"`
}

type ValueProposition struct {
	Proposition          string        `json:"proposition"`
	TargetSegment        string        `json:"target_segment"`
	Differentiation      string        `json:"differentiation"`
	SupportingFeatures   []string      `json:"supporting_features,omitempty"`
	CompetitiveAdvantage string        `json:"competitive_advantage,omitempty"`
	ValueMetrics         *ValueMetrics `json:"value_metrics,omitempty"`
}

type ValueMetrics struct {
	CostSavings      float64 `json:"cost_savings"`
	TimeSavings      float64 `json:"time_savings"`
	EfficiencyGain   float64 `json:"efficiency_gain"`
	RevenuePotential float64 `json:"revenue_potential"`
}

// MarketAnalysis holds the TAM/SAM/SOM sizing; SOM <= SAM <= TAM.
type MarketAnalysis struct {
	TotalAddressableMarket       int64    `json:"total_addressable_market"`
	ServiceableAddressableMarket int64    `json:"serviceable_addressable_market"`
	ServiceableObtainableMarket  int64    `json:"serviceable_obtainable_market"`
	MarketGrowthRate             float64  `json:"market_growth_rate"`
	MarketMaturity               string   `json:"market_maturity,omitempty"`
	KeyTrends                    []string `json:"key_trends"`
	MarketDrivers                []string `json:"market_drivers"`
	BarriersToEntry              []string `json:"barriers_to_entry"`
}

type CompetitiveAnalysis struct {
	DirectCompetitors     []Competitor `json:"direct_competitors"`
	IndirectCompetitors   []Competitor `json:"indirect_competitors"`
	CompetitiveGaps       []string     `json:"competitive_gaps"`
	CompetitiveAdvantages []string     `json:"competitive_advantages"`
}

type Competitor struct {
	Name            string   `json:"name"`
	MarketShare     float64  `json:"market_share"`
	Strengths       []string `json:"strengths,omitempty"`
	Weaknesses      []string `json:"weaknesses,omitempty"`
	PricingStrategy string   `json:"pricing_strategy,omitempty"`
	TargetSegments  []string `json:"target_segments,omitempty"`
}

// ValidationData keeps the raw phase outputs alongside the final scores.
type ValidationData struct {
	DiscoveryPhase   map[string]any   `json:"discovery_phase"`
	ValidationPhase  map[string]any   `json:"validation_phase"`
	PreSellPhase     map[string]any   `json:"pre_sell_phase"`
	ValidationScores ValidationScores `json:"validation_scores"`
}

// ValidationScores are the seven scoring dimensions (0-10) plus the overall
// confidence (0-1).
type ValidationScores struct {
	MarketOpportunityStrength     float64 `json:"market_opportunity_strength"`
	CustomerValidationConfidence  float64 `json:"customer_validation_confidence"`
	CompetitiveAdvantagePotential float64 `json:"competitive_advantage_potential"`
	TechnicalFeasibility          float64 `json:"technical_feasibility"`
	BusinessModelViability        float64 `json:"business_model_viability"`
	StrategicAlignment            float64 `json:"strategic_alignment"`
	RiskAssessment                float64 `json:"risk_assessment"`
	OverallConfidence             float64 `json:"overall_confidence"`
}

// Dimensions returns the seven 0-10 dimensions keyed by field name.
func (v ValidationScores) Dimensions() map[string]float64 {
	return map[string]float64{
		"market_opportunity_strength":     v.MarketOpportunityStrength,
		"customer_validation_confidence":  v.CustomerValidationConfidence,
		"competitive_advantage_potential": v.CompetitiveAdvantagePotential,
		"technical_feasibility":           v.TechnicalFeasibility,
		"business_model_viability":        v.BusinessModelViability,
		"strategic_alignment":             v.StrategicAlignment,
		"risk_assessment":                 v.RiskAssessment,
	}
}

type AIInsights struct {
	ModelVersion              string         `json:"model_version"`
	ProcessingTimestamp       time.Time      `json:"processing_timestamp"`
	ConfidenceScore           float64        `json:"confidence_score"`
	MarketOpportunityScore    float64        `json:"market_opportunity_score"`
	Recommendation            Recommendation `json:"recommendation"`
	KeySuccessFactors         []string       `json:"key_success_factors"`
	PrimaryRisks              []string       `json:"primary_risks"`
	MarketTrendsAnalysis      []string       `json:"market_trends_analysis"`
	CompetitiveGapsIdentified []string       `json:"competitive_gaps_identified"`
	InnovationOpportunities   []string       `json:"innovation_opportunities"`
	AIGeneratedInsights       []string       `json:"ai_generated_insights"`
}

type SuccessMetric struct {
	MetricName        string `json:"metric_name"`
	Description       string `json:"description,omitempty"`
	TargetValue       string `json:"target_value"`
	CurrentBaseline   string `json:"current_baseline,omitempty"`
	MeasurementMethod string `json:"measurement_method,omitempty"`
	TrackingFrequency string `json:"tracking_frequency,omitempty"`
	Owner             string `json:"owner,omitempty"`
	Category          string `json:"category,omitempty"`
}

type ImplementationRoadmap struct {
	Phases              []RoadmapPhase `json:"phases"`
	CriticalPath        []string       `json:"critical_path"`
	RiskMitigationPlans []string       `json:"risk_mitigation_plans"`
}

type RoadmapPhase struct {
	PhaseName       string   `json:"phase_name"`
	DurationMonths  float64  `json:"duration_months"`
	Objectives      []string `json:"objectives,omitempty"`
	Deliverables    []string `json:"deliverables,omitempty"`
	SuccessCriteria []string `json:"success_criteria,omitempty"`
	Dependencies    []string `json:"dependencies,omitempty"`
}

type ResourceRequirements struct {
	BudgetEstimate   float64    `json:"budget_estimate"`
	TeamRequirements []TeamRole `json:"team_requirements"`
	TechnologyStack  []string   `json:"technology_stack"`
	TimelineEstimate string     `json:"timeline_estimate,omitempty"`
}

type TeamRole struct {
	Role           string   `json:"role"`
	Count          int      `json:"count"`
	SkillsRequired []string `json:"skills_required,omitempty"`
}

// ProcessingMetadata describes how the document was produced.
type ProcessingMetadata struct {
	AIModelUsed          string   `json:"ai_model_used"`
	ProcessingDurationMS int64    `json:"processing_duration_ms"`
	DataSources          []string `json:"data_sources"`
	ConfidenceLevel      float64  `json:"confidence_level"`
	ProcessingNode       string   `json:"processing_node,omitempty"`
	InputDataHash        string   `json:"input_data_hash,omitempty"`
	Warnings             []string `json:"warnings,omitempty"`
}

// AuditEntry is one append-only record of a change to the document.
type AuditEntry struct {
	Action        Action         `json:"action"`
	Timestamp     time.Time      `json:"timestamp"`
	User          string         `json:"user"`
	Changes       map[string]any `json:"changes,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	ApprovalLevel string         `json:"approval_level,omitempty"`
}

// TopOutcomes returns up to n customer outcomes in document order.
func (d *Document) TopOutcomes(n int) []CustomerOutcome {
	if n > len(d.CustomerOutcomes) {
		n = len(d.CustomerOutcomes)
	}
	out := make([]CustomerOutcome, n)
	copy(out, d.CustomerOutcomes[:n])
	return out
}
