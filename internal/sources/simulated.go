package sources

// Simulated returns the sample data used when no signal file is present.
func Simulated(kind Kind) map[string]any {
	switch kind {
	case Market:
		return map[string]any{
			"industry_trends": []any{
				map[string]any{"trend": "AI automation demand", "growth_rate": 0.35, "confidence": 0.8},
				map[string]any{"trend": "Remote work solutions", "growth_rate": 0.28, "confidence": 0.9},
			},
			"market_size": map[string]any{
				"total_addressable_market":       50000000000,
				"serviceable_addressable_market": 5000000000,
				"serviceable_obtainable_market":  500000000,
			},
			"emerging_needs": []any{"Process automation", "Decision support", "Integration simplification"},
		}
	case Customer:
		return map[string]any{
			"pain_points": []any{
				map[string]any{"pain": "Manual data entry takes too long", "frequency": 0.7, "intensity": 8},
				map[string]any{"pain": "Difficult to find information quickly", "frequency": 0.6, "intensity": 7},
			},
			"feature_requests": []any{
				map[string]any{"request": "Better search functionality", "votes": 150, "priority": 9},
				map[string]any{"request": "Mobile optimization", "votes": 120, "priority": 8},
			},
			"satisfaction_scores": map[string]any{
				"overall":              6.5,
				"ease_of_use":          5.8,
				"feature_completeness": 6.2,
				"performance":          7.1,
			},
		}
	case Competitive:
		return map[string]any{
			"competitors": []any{
				map[string]any{"name": "Competitor A", "market_share": 0.25, "strengths": []any{"Brand"}, "weaknesses": []any{"Innovation"}},
				map[string]any{"name": "Competitor B", "market_share": 0.18, "strengths": []any{"Price"}, "weaknesses": []any{"UX"}},
			},
			"market_gaps": []any{"AI-powered automation", "Seamless integrations", "Outcome-focused metrics"},
		}
	case Company:
		return map[string]any{
			"capabilities":    []any{"Software development", "AI/ML", "Cloud infrastructure"},
			"resources":       map[string]any{"budget": 1000000, "team_size": 15, "timeline_months": 12},
			"strategic_goals": []any{"Market expansion", "Revenue growth", "Innovation leadership"},
		}
	}
	return nil
}
