// Package prompts renders the per-phase instructions sent to the generator.
package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"odin/internal/adapters"
)

// Phase names one step of the strategy pipeline.
type Phase string

const (
	Discovery  Phase = "discovery"
	Validation Phase = "validation"
	PreSell    Phase = "presell"
	Strategy   Phase = "strategy"
	Scoring    Phase = "scoring"
)

// Phases lists the pipeline steps in execution order.
var Phases = []Phase{Discovery, Validation, PreSell, Strategy, Scoring}

// ParsePhase accepts a phase name in any case.
func ParsePhase(s string) (Phase, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "", "_", "").Replace(norm)
	for _, p := range Phases {
		if string(p) == norm {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Settings are the sampling parameters for one phase.
type Settings struct {
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

// DefaultSettings holds the sampling parameters each phase runs with unless
// overridden.
var DefaultSettings = map[Phase]Settings{
	Discovery:  {Temperature: 0.3, MaxTokens: 2000},
	Validation: {Temperature: 0.2, MaxTokens: 2000},
	PreSell:    {Temperature: 0.3, MaxTokens: 2000},
	Strategy:   {Temperature: 0.2, MaxTokens: 3000},
	Scoring:    {Temperature: 0.1, MaxTokens: 1500},
}

var systemPrompts = map[Phase]string{
	Discovery:  "You are an expert in Outcome-Driven Innovation methodology and market analysis. Provide detailed, data-driven insights in valid JSON format.",
	Validation: "You are a strategic business analyst specializing in market validation and opportunity prioritization.",
	PreSell:    "You are a product validation expert specializing in pre-sell testing and market validation experiments.",
	Strategy:   "You are a strategic innovation consultant expert in Outcome-Driven Innovation and business strategy formulation.",
	Scoring:    "You are a senior strategy analyst providing final validation and scoring for innovation strategies.",
}

// DiscoveryInput is the context of the first phase: the collected market
// signals. Any field may be nil.
type DiscoveryInput struct {
	Market      any `json:"market_data"`
	Customer    any `json:"customer_data"`
	Competitive any `json:"competitive_data"`
	Company     any `json:"company_context,omitempty"`
	Request     any `json:"request,omitempty"`
}

// Builder renders requests. The zero value uses DefaultSettings.
type Builder struct {
	Overrides map[Phase]Settings
}

// Settings returns the effective sampling parameters for phase. Zero fields
// in an override fall back to the default.
func (b *Builder) Settings(phase Phase) Settings {
	s := DefaultSettings[phase]
	if b == nil {
		return s
	}
	if o, ok := b.Overrides[phase]; ok {
		if o.Temperature > 0 {
			s.Temperature = o.Temperature
		}
		if o.MaxTokens > 0 {
			s.MaxTokens = o.MaxTokens
		}
	}
	return s
}

// Build renders the request for phase. For Discovery, context should be a
// DiscoveryInput; later phases take the previous phase's output, which is
// embedded whole as indented JSON.
func (b *Builder) Build(phase Phase, context any) (adapters.Request, error) {
	sys, ok := systemPrompts[phase]
	if !ok {
		return adapters.Request{}, fmt.Errorf("unknown phase %q", phase)
	}
	var (
		user string
		err  error
	)
	switch phase {
	case Discovery:
		user, err = discoveryPrompt(context)
	case Validation:
		user, err = validationPrompt(context)
	case PreSell:
		user, err = preSellPrompt(context)
	case Strategy:
		user, err = strategyPrompt(context)
	case Scoring:
		user, err = scoringPrompt(context)
	}
	if err != nil {
		return adapters.Request{}, fmt.Errorf("render %s prompt: %w", phase, err)
	}
	s := b.Settings(phase)
	return adapters.Request{
		Phase:        string(phase),
		SystemPrompt: sys,
		UserPrompt:   user,
		Temperature:  s.Temperature,
		MaxTokens:    s.MaxTokens,
	}, nil
}

func indent(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func discoveryPrompt(context any) (string, error) {
	var in DiscoveryInput
	switch v := context.(type) {
	case DiscoveryInput:
		in = v
	case *DiscoveryInput:
		if v != nil {
			in = *v
		}
	case nil:
	default:
		return "", fmt.Errorf("discovery context must be DiscoveryInput, got %T", context)
	}
	market, err := indent(in.Market)
	if err != nil {
		return "", err
	}
	customer, err := indent(in.Customer)
	if err != nil {
		return "", err
	}
	competitive, err := indent(in.Competitive)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Analyze the following data sources for unmet market needs using ODI methodology:\n\n")
	fmt.Fprintf(&b, "Market Data: %s\n", market)
	fmt.Fprintf(&b, "Customer Data: %s\n", customer)
	fmt.Fprintf(&b, "Competitive Data: %s\n", competitive)
	if in.Company != nil {
		company, err := indent(in.Company)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "Company Context: %s\n", company)
	}
	if in.Request != nil {
		request, err := indent(in.Request)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "Request Context: %s\n", request)
	}
	b.WriteString("\nApply Outcome-Driven Innovation principles to:\n")
	b.WriteString("1. Identify customer jobs-to-be-done\n")
	b.WriteString("2. Discover underserved outcomes\n")
	b.WriteString("3. Quantify opportunity scores (importance × (importance - satisfaction))\n")
	b.WriteString("4. Segment customers by unmet needs\n")
	b.WriteString("5. Identify market white spaces\n\n")
	b.WriteString("Return structured JSON with:\n")
	b.WriteString("- customer_jobs: Array of jobs-to-be-done\n")
	b.WriteString("- outcomes: Array with outcome, importance_score, satisfaction_score and opportunity_score\n")
	b.WriteString("- segments: Customer segments with segment_name, size and opportunity_score\n")
	b.WriteString("- market_gaps: Identified white space opportunities\n")
	b.WriteString("- confidence_indicators: Data quality and reliability scores\n")
	return b.String(), nil
}

func validationPrompt(context any) (string, error) {
	prior, err := indent(context)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("Validate and prioritize these market opportunities using ODI validation framework:\n\n")
	fmt.Fprintf(&b, "Discovery Results: %s\n\n", prior)
	b.WriteString("Apply validation criteria:\n")
	b.WriteString("1. Market size validation (TAM/SAM/SOM)\n")
	b.WriteString("2. Customer willingness-to-pay assessment\n")
	b.WriteString("3. Competitive dynamics analysis\n")
	b.WriteString("4. Technical feasibility evaluation\n")
	b.WriteString("5. Business model viability\n")
	b.WriteString("6. Risk assessment matrix\n\n")
	b.WriteString("Prioritize opportunities by:\n")
	b.WriteString("- Market opportunity score\n")
	b.WriteString("- Strategic fit score\n")
	b.WriteString("- Execution difficulty score\n")
	b.WriteString("- Time-to-market score\n\n")
	b.WriteString("Report market size under market_analysis with total_addressable_market, serviceable_addressable_market and serviceable_obtainable_market.\n")
	b.WriteString("Return structured JSON with validated and scored opportunities.\n")
	return b.String(), nil
}

func preSellPrompt(context any) (string, error) {
	prior, err := indent(context)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("Design pre-sell testing strategies for validated opportunities:\n\n")
	fmt.Fprintf(&b, "Validated Opportunities: %s\n\n", prior)
	b.WriteString("For each top opportunity, design:\n")
	b.WriteString("1. Value proposition testing approach\n")
	b.WriteString("2. Pricing sensitivity analysis\n")
	b.WriteString("3. Feature priority validation\n")
	b.WriteString("4. Market positioning tests\n")
	b.WriteString("5. Channel partnership assessment\n")
	b.WriteString("6. Revenue model validation\n\n")
	b.WriteString("Include:\n")
	b.WriteString("- Test methodologies (surveys, interviews, MVP tests)\n")
	b.WriteString("- Success metrics and thresholds\n")
	b.WriteString("- Risk mitigation strategies\n")
	b.WriteString("- Go/no-go decision criteria\n\n")
	b.WriteString("Return structured JSON with pre-sell test plans and projected outcomes.\n")
	return b.String(), nil
}

func strategyPrompt(context any) (string, error) {
	prior, err := indent(context)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("Formulate comprehensive innovation strategy based on ODI insights:\n\n")
	fmt.Fprintf(&b, "Pre-Sell Results: %s\n\n", prior)
	b.WriteString("Create strategic framework including:\n")
	b.WriteString("1. Target customer outcomes (jobs-to-be-done focus)\n")
	b.WriteString("2. Market segmentation strategy\n")
	b.WriteString("3. Value proposition architecture\n")
	b.WriteString("4. Competitive positioning\n")
	b.WriteString("5. Innovation roadmap priorities\n")
	b.WriteString("6. Success metrics and KPIs\n")
	b.WriteString("7. Resource allocation recommendations\n")
	b.WriteString("8. Risk mitigation strategies\n")
	b.WriteString("9. Implementation timeline\n")
	b.WriteString("10. Expected business impact\n\n")
	b.WriteString("Ensure alignment with ODI principles:\n")
	b.WriteString("- Customer outcome-driven approach\n")
	b.WriteString("- Market segment prioritization\n")
	b.WriteString("- Quantified opportunity scoring\n")
	b.WriteString("- Validated market assumptions\n\n")
	b.WriteString("Use these top-level keys:\n")
	b.WriteString("- customer_outcomes: outcome, importance_score (1-10), satisfaction_score (1-10), opportunity_score = importance × (importance - satisfaction)\n")
	b.WriteString("- market_segments: segment_name, description, size, growth_rate, opportunity_score, willingness_to_pay, competitive_intensity (low/medium/high), accessibility (easy/moderate/difficult)\n")
	b.WriteString("- value_propositions: proposition, target_segment, differentiation, supporting_features, competitive_advantage\n")
	b.WriteString("- market_analysis: total_addressable_market, serviceable_addressable_market, serviceable_obtainable_market, market_growth_rate, market_maturity, key_trends\n")
	b.WriteString("- competitive_analysis: direct_competitors, indirect_competitors, competitive_gaps\n")
	b.WriteString("- success_metrics: metric_name, target_value, measurement_method, tracking_frequency, category\n")
	b.WriteString("- implementation_roadmap: phases with phase_name, duration_months, objectives, deliverables\n")
	b.WriteString("- resource_requirements: team_composition, budget_estimate, timeline_estimate\n\n")
	b.WriteString("Return comprehensive strategy document in structured JSON.\n")
	return b.String(), nil
}

func scoringPrompt(context any) (string, error) {
	prior, err := indent(context)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("Provide final validation scoring for this innovation strategy:\n\n")
	fmt.Fprintf(&b, "Strategy: %s\n\n", prior)
	b.WriteString("Calculate scores (0-10 scale) for:\n")
	b.WriteString("1. Market opportunity strength (market_opportunity_strength)\n")
	b.WriteString("2. Customer validation confidence (customer_validation_confidence)\n")
	b.WriteString("3. Competitive advantage potential (competitive_advantage_potential)\n")
	b.WriteString("4. Technical feasibility (technical_feasibility)\n")
	b.WriteString("5. Business model viability (business_model_viability)\n")
	b.WriteString("6. Strategic alignment (strategic_alignment)\n")
	b.WriteString("7. Risk assessment (risk_assessment)\n")
	b.WriteString("8. Overall recommendation confidence\n\n")
	b.WriteString("Provide:\n")
	b.WriteString("- Individual scores with rationale\n")
	b.WriteString("- Overall confidence score (0-1) as overall_confidence\n")
	b.WriteString("- Key success factors as key_success_factors\n")
	b.WriteString("- Primary risks as primary_risks\n")
	b.WriteString("- Strategic recommendation (pursue/modify/abandon) as strategic_recommendation\n\n")
	b.WriteString("Return structured JSON with scores and analysis.\n")
	return b.String(), nil
}
