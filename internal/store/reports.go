package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"odin/internal/strategy"
)

// Report names accepted by Report.
const (
	ReportTopOpportunities = "top-opportunities"
	ReportAIPerformance    = "ai-performance"
	ReportMarketTrends     = "market-trends"
	ReportWeeklySummary    = "weekly-summary"
)

// ErrUnknownReport is returned by Report for names outside ReportNames.
var ErrUnknownReport = errors.New("unknown report")

// ReportNames lists every report in display order.
var ReportNames = []string{ReportTopOpportunities, ReportAIPerformance, ReportMarketTrends, ReportWeeklySummary}

type OutcomeScore struct {
	Outcome string  `json:"outcome"`
	Score   float64 `json:"score"`
}

// SegmentOpportunity aggregates validated and approved strategies per segment.
type SegmentOpportunity struct {
	Segment             string         `json:"segment"`
	AvgOpportunityScore float64        `json:"avg_opportunity_score"`
	TotalMarketSize     int64          `json:"total_market_size"`
	StrategyCount       int            `json:"strategy_count"`
	TopOutcomes         []OutcomeScore `json:"top_outcomes"`
}

type RecommendationCounts struct {
	Pursue  int `json:"pursue"`
	Modify  int `json:"modify"`
	Abandon int `json:"abandon"`
}

// ModelPerformance aggregates scoring results per model version.
type ModelPerformance struct {
	ModelVersion    string               `json:"model_version"`
	AvgConfidence   float64              `json:"avg_confidence"`
	AvgMarketScore  float64              `json:"avg_market_score"`
	TotalStrategies int                  `json:"total_strategies"`
	Recommendations RecommendationCounts `json:"recommendations"`
}

// TrendFrequency counts how often a market trend appears across strategies.
type TrendFrequency struct {
	Trend         string  `json:"trend"`
	Frequency     int     `json:"frequency"`
	AvgMarketSize float64 `json:"avg_market_size"`
	SuccessRate   float64 `json:"success_rate"`
}

// WeeklySummary covers strategies created in the seven days before a point in time.
type WeeklySummary struct {
	From               time.Time      `json:"from"`
	To                 time.Time      `json:"to"`
	TotalStrategies    int            `json:"total_strategies"`
	AvgConfidence      float64        `json:"avg_confidence"`
	StatusDistribution map[string]int `json:"status_distribution"`
	TopSegments        []string       `json:"top_segments"`
}

const maxTrends = 20

// TopOpportunitiesBySegment pairs every outcome with every segment of each
// validated or approved strategy and groups the pairs by segment name,
// highest average opportunity first.
func (s *Store) TopOpportunitiesBySegment(ctx context.Context) ([]SegmentOpportunity, error) {
	docs, err := s.FindStrategies(ctx, Filter{Statuses: []strategy.Status{strategy.StatusValidated, strategy.StatusApproved}})
	if err != nil {
		return nil, err
	}
	type acc struct {
		sum      float64
		size     int64
		count    int
		outcomes []OutcomeScore
	}
	groups := map[string]*acc{}
	for _, doc := range docs {
		for _, outcome := range doc.CustomerOutcomes {
			for _, seg := range doc.MarketSegments {
				a := groups[seg.SegmentName]
				if a == nil {
					a = &acc{}
					groups[seg.SegmentName] = a
				}
				a.sum += outcome.OpportunityScore
				a.size += seg.Size
				a.count++
				a.outcomes = append(a.outcomes, OutcomeScore{Outcome: outcome.Outcome, Score: outcome.OpportunityScore})
			}
		}
	}

	out := make([]SegmentOpportunity, 0, len(groups))
	for name, a := range groups {
		sort.SliceStable(a.outcomes, func(i, j int) bool { return a.outcomes[i].Score > a.outcomes[j].Score })
		top := a.outcomes
		if len(top) > 3 {
			top = top[:3]
		}
		out = append(out, SegmentOpportunity{
			Segment:             name,
			AvgOpportunityScore: a.sum / float64(a.count),
			TotalMarketSize:     a.size,
			StrategyCount:       a.count,
			TopOutcomes:         top,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgOpportunityScore != out[j].AvgOpportunityScore {
			return out[i].AvgOpportunityScore > out[j].AvgOpportunityScore
		}
		return out[i].Segment < out[j].Segment
	})
	return out, nil
}

// AIPerformance groups strategies by the model that produced them.
func (s *Store) AIPerformance(ctx context.Context) ([]ModelPerformance, error) {
	docs, err := s.FindStrategies(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	type acc struct {
		conf, market float64
		total        int
		recs         RecommendationCounts
	}
	groups := map[string]*acc{}
	for _, doc := range docs {
		model := doc.AIInsights.ModelVersion
		a := groups[model]
		if a == nil {
			a = &acc{}
			groups[model] = a
		}
		a.conf += doc.AIInsights.ConfidenceScore
		a.market += doc.AIInsights.MarketOpportunityScore
		a.total++
		switch doc.AIInsights.Recommendation {
		case strategy.RecommendationPursue:
			a.recs.Pursue++
		case strategy.RecommendationModify:
			a.recs.Modify++
		case strategy.RecommendationAbandon:
			a.recs.Abandon++
		}
	}

	out := make([]ModelPerformance, 0, len(groups))
	for model, a := range groups {
		out = append(out, ModelPerformance{
			ModelVersion:    model,
			AvgConfidence:   round(a.conf/float64(a.total), 3),
			AvgMarketScore:  round(a.market/float64(a.total), 2),
			TotalStrategies: a.total,
			Recommendations: a.recs,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelVersion < out[j].ModelVersion })
	return out, nil
}

// MarketTrends returns the most frequent key trends, at most twenty.
func (s *Store) MarketTrends(ctx context.Context) ([]TrendFrequency, error) {
	docs, err := s.FindStrategies(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	type acc struct {
		count   int
		tam     float64
		pursued int
	}
	groups := map[string]*acc{}
	for _, doc := range docs {
		for _, trend := range doc.MarketAnalysis.KeyTrends {
			a := groups[trend]
			if a == nil {
				a = &acc{}
				groups[trend] = a
			}
			a.count++
			a.tam += float64(doc.MarketAnalysis.TotalAddressableMarket)
			if doc.AIInsights.Recommendation == strategy.RecommendationPursue {
				a.pursued++
			}
		}
	}

	out := make([]TrendFrequency, 0, len(groups))
	for trend, a := range groups {
		out = append(out, TrendFrequency{
			Trend:         trend,
			Frequency:     a.count,
			AvgMarketSize: a.tam / float64(a.count),
			SuccessRate:   float64(a.pursued) / float64(a.count),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Trend < out[j].Trend
	})
	if len(out) > maxTrends {
		out = out[:maxTrends]
	}
	return out, nil
}

// WeeklySummary summarizes strategies created in the seven days before now.
func (s *Store) WeeklySummary(ctx context.Context, now time.Time) (*WeeklySummary, error) {
	from := now.Add(-7 * 24 * time.Hour)
	docs, err := s.FindStrategies(ctx, Filter{CreatedAfter: from, CreatedBefore: now.Add(time.Microsecond)})
	if err != nil {
		return nil, err
	}
	summary := &WeeklySummary{
		From:               from.UTC(),
		To:                 now.UTC(),
		StatusDistribution: map[string]int{},
		TopSegments:        []string{},
	}
	segmentCounts := map[string]int{}
	var conf float64
	for _, doc := range docs {
		summary.TotalStrategies++
		conf += doc.AIInsights.ConfidenceScore
		summary.StatusDistribution[string(doc.Status)]++
		for _, seg := range doc.MarketSegments {
			if segmentCounts[seg.SegmentName] == 0 {
				summary.TopSegments = append(summary.TopSegments, seg.SegmentName)
			}
			segmentCounts[seg.SegmentName]++
		}
	}
	if summary.TotalStrategies > 0 {
		summary.AvgConfidence = conf / float64(summary.TotalStrategies)
	}
	sort.SliceStable(summary.TopSegments, func(i, j int) bool {
		return segmentCounts[summary.TopSegments[i]] > segmentCounts[summary.TopSegments[j]]
	})
	return summary, nil
}

// Report runs a report by name. The result is JSON-encodable.
func (s *Store) Report(ctx context.Context, name string, now time.Time) (any, error) {
	switch name {
	case ReportTopOpportunities:
		return s.TopOpportunitiesBySegment(ctx)
	case ReportAIPerformance:
		return s.AIPerformance(ctx)
	case ReportMarketTrends:
		return s.MarketTrends(ctx)
	case ReportWeeklySummary:
		return s.WeeklySummary(ctx, now)
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownReport, name)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
