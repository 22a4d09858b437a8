package strategy

import "strings"

func decodeOutcomes(raw []map[string]any) []CustomerOutcome {
	out := make([]CustomerOutcome, 0, len(raw))
	for _, m := range raw {
		o := CustomerOutcome{
			Outcome:           str(m, "outcome", "description", "name"),
			ImportanceScore:   num(m, "importance_score", "importance"),
			SatisfactionScore: num(m, "satisfaction_score", "satisfaction"),
			OpportunityScore:  num(m, "opportunity_score", "opportunity"),
		}
		if seg := object(m, "segment_data"); seg != nil {
			o.SegmentData = &SegmentData{
				PrimarySegment:   str(seg, "primary_segment", "segment"),
				SegmentSize:      integer(seg, "segment_size", "size"),
				WillingnessToPay: num(seg, "willingness_to_pay"),
			}
		}
		if v := object(m, "validation_data"); v != nil {
			o.ValidationData = &OutcomeSupport{
				SampleSize:      integer(v, "sample_size"),
				ConfidenceLevel: num(v, "confidence_level"),
				DataSource:      str(v, "data_source"),
				CollectionDate:  str(v, "collection_date"),
			}
		}
		if o.Outcome == "" {
			continue
		}
		out = append(out, o)
	}
	return out
}

func decodeSegments(raw []map[string]any) []MarketSegment {
	out := make([]MarketSegment, 0, len(raw))
	for _, m := range raw {
		s := MarketSegment{
			SegmentName:          str(m, "segment_name", "name", "segment"),
			Description:          str(m, "description"),
			Size:                 integer(m, "size", "segment_size"),
			GrowthRate:           num(m, "growth_rate"),
			OpportunityScore:     num(m, "opportunity_score"),
			WillingnessToPay:     num(m, "willingness_to_pay"),
			CompetitiveIntensity: enumOrEmpty(str(m, "competitive_intensity"), "low", "medium", "high"),
			Accessibility:        enumOrEmpty(str(m, "accessibility"), "easy", "moderate", "difficult"),
		}
		for _, p := range objects(m, "personas") {
			s.Personas = append(s.Personas, Persona{
				Name:         str(p, "name"),
				Demographics: str(p, "demographics"),
				PainPoints:   strs(p, "pain_points"),
				Goals:        strs(p, "goals"),
			})
		}
		if s.SegmentName == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func decodePropositions(raw []map[string]any) []ValueProposition {
	out := make([]ValueProposition, 0, len(raw))
	for _, m := range raw {
		vp := ValueProposition{
			Proposition:          str(m, "proposition", "value_proposition", "statement"),
			TargetSegment:        str(m, "target_segment", "segment"),
			Differentiation:      str(m, "differentiation"),
			SupportingFeatures:   strs(m, "supporting_features", "features"),
			CompetitiveAdvantage: str(m, "competitive_advantage"),
		}
		if vm := object(m, "value_metrics"); vm != nil {
			vp.ValueMetrics = &ValueMetrics{
				CostSavings:      num(vm, "cost_savings"),
				TimeSavings:      num(vm, "time_savings"),
				EfficiencyGain:   num(vm, "efficiency_gain"),
				RevenuePotential: num(vm, "revenue_potential"),
			}
		}
		if vp.Proposition == "" {
			continue
		}
		out = append(out, vp)
	}
	return out
}

func decodeMarketAnalysis(m map[string]any) MarketAnalysis {
	return MarketAnalysis{
		TotalAddressableMarket:       nonNegative(integer(m, "total_addressable_market", "tam")),
		ServiceableAddressableMarket: nonNegative(integer(m, "serviceable_addressable_market", "sam")),
		ServiceableObtainableMarket:  nonNegative(integer(m, "serviceable_obtainable_market", "som")),
		MarketGrowthRate:             num(m, "market_growth_rate", "growth_rate"),
		MarketMaturity:               enumOrEmpty(str(m, "market_maturity"), "emerging", "growth", "mature", "declining"),
		KeyTrends:                    strs(m, "key_trends", "trends"),
		MarketDrivers:                strs(m, "market_drivers", "drivers"),
		BarriersToEntry:              strs(m, "barriers_to_entry", "barriers"),
	}
}

func decodeCompetitive(m map[string]any) CompetitiveAnalysis {
	return CompetitiveAnalysis{
		DirectCompetitors:     decodeCompetitors(objects(m, "direct_competitors", "competitors")),
		IndirectCompetitors:   decodeCompetitors(objects(m, "indirect_competitors")),
		CompetitiveGaps:       strs(m, "competitive_gaps", "gaps"),
		CompetitiveAdvantages: strs(m, "competitive_advantages", "advantages"),
	}
}

func decodeCompetitors(raw []map[string]any) []Competitor {
	out := make([]Competitor, 0, len(raw))
	for _, m := range raw {
		c := Competitor{
			Name:            str(m, "name"),
			MarketShare:     num(m, "market_share"),
			Strengths:       strs(m, "strengths"),
			Weaknesses:      strs(m, "weaknesses"),
			PricingStrategy: str(m, "pricing_strategy"),
			TargetSegments:  strs(m, "target_segments"),
		}
		if c.Name == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func decodeScores(m map[string]any) ValidationScores {
	return ValidationScores{
		MarketOpportunityStrength:     score(m, "market_opportunity_strength"),
		CustomerValidationConfidence:  score(m, "customer_validation_confidence"),
		CompetitiveAdvantagePotential: score(m, "competitive_advantage_potential"),
		TechnicalFeasibility:          score(m, "technical_feasibility"),
		BusinessModelViability:        score(m, "business_model_viability"),
		StrategicAlignment:            score(m, "strategic_alignment"),
		RiskAssessment:                score(m, "risk_assessment"),
		OverallConfidence:             num(m, "overall_confidence", "confidence"),
	}
}

// score reads a dimension that may be a bare number or {score, rationale}.
func score(m map[string]any, key string) float64 {
	if nested := object(m, key); nested != nil {
		return num(nested, "score", "value")
	}
	if nested := object(m, "scores", "individual_scores"); nested != nil {
		if v, ok := lookup(nested, key); ok {
			if obj, ok := v.(map[string]any); ok {
				return num(obj, "score", "value")
			}
			f, _ := asFloat(v)
			return f
		}
	}
	return num(m, key)
}

func decodeMetrics(raw []map[string]any) []SuccessMetric {
	out := make([]SuccessMetric, 0, len(raw))
	for _, m := range raw {
		sm := SuccessMetric{
			MetricName:        str(m, "metric_name", "name", "metric"),
			Description:       str(m, "description"),
			TargetValue:       str(m, "target_value", "target"),
			CurrentBaseline:   str(m, "current_baseline", "baseline"),
			MeasurementMethod: str(m, "measurement_method"),
			TrackingFrequency: enumOrEmpty(str(m, "tracking_frequency"), "daily", "weekly", "monthly", "quarterly"),
			Owner:             str(m, "owner"),
			Category:          enumOrEmpty(str(m, "category"), "customer", "business", "operational", "innovation"),
		}
		if sm.MetricName == "" {
			continue
		}
		out = append(out, sm)
	}
	return out
}

func decodeRoadmap(m map[string]any) ImplementationRoadmap {
	r := ImplementationRoadmap{
		Phases:              []RoadmapPhase{},
		CriticalPath:        strs(m, "critical_path"),
		RiskMitigationPlans: strs(m, "risk_mitigation_plans", "risk_mitigation"),
	}
	for _, p := range objects(m, "phases") {
		r.Phases = append(r.Phases, RoadmapPhase{
			PhaseName:       str(p, "phase_name", "name", "phase"),
			DurationMonths:  num(p, "duration_months", "duration"),
			Objectives:      strs(p, "objectives"),
			Deliverables:    strs(p, "deliverables"),
			SuccessCriteria: strs(p, "success_criteria"),
			Dependencies:    strs(p, "dependencies"),
		})
	}
	return r
}

func decodeResources(m map[string]any) ResourceRequirements {
	r := ResourceRequirements{
		BudgetEstimate:   num(m, "budget_estimate", "budget"),
		TeamRequirements: []TeamRole{},
		TechnologyStack:  strs(m, "technology_stack"),
		TimelineEstimate: str(m, "timeline_estimate", "timeline"),
	}
	for _, t := range objects(m, "team_requirements", "team") {
		r.TeamRequirements = append(r.TeamRequirements, TeamRole{
			Role:           str(t, "role"),
			Count:          int(integer(t, "count")),
			SkillsRequired: strs(t, "skills_required", "skills"),
		})
	}
	return r
}

func enumOrEmpty(value string, allowed ...string) string {
	value = strings.ToLower(value)
	for _, a := range allowed {
		if value == a {
			return value
		}
	}
	return ""
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
