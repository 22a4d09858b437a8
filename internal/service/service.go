// Package service runs the full strategy creation flow: collect signals,
// run the pipeline, assemble, validate, store and publish.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"odin/internal/audit"
	"odin/internal/events"
	"odin/internal/pipeline"
	"odin/internal/scoring"
	"odin/internal/sources"
	"odin/internal/store"
	"odin/internal/strategy"
)

// ErrNoInput means none of trigger, market or customer data was provided.
var ErrNoInput = errors.New("at least one data source must be provided")

// InputValidationError rejects a request before any generation happens.
type InputValidationError struct {
	Err error
}

func (e *InputValidationError) Error() string { return "invalid input: " + e.Err.Error() }

func (e *InputValidationError) Unwrap() error { return e.Err }

// NextActions are suggested to the caller after every successful run.
var NextActions = []string{
	"validate_with_stakeholders",
	"conduct_customer_interviews",
	"begin_project_planning",
}

// Request is one strategy creation request. Signal maps given here take
// precedence over what the providers collect.
type Request struct {
	Trigger     map[string]any `json:"trigger,omitempty"`
	Market      map[string]any `json:"market_data,omitempty"`
	Customer    map[string]any `json:"customer_data,omitempty"`
	Competitive map[string]any `json:"competitive_data,omitempty"`
	Company     map[string]any `json:"company_data,omitempty"`
}

// RequestFromBody splits a request body into the signal sections it names
// and the remaining trigger payload.
func RequestFromBody(body map[string]any) Request {
	req := Request{Trigger: map[string]any{}}
	for k, v := range body {
		section, _ := v.(map[string]any)
		switch k {
		case "market_data":
			req.Market = section
		case "customer_data":
			req.Customer = section
		case "competitive_data":
			req.Competitive = section
		case "company_data", "company_context":
			req.Company = section
		default:
			req.Trigger[k] = v
		}
	}
	if len(req.Trigger) == 0 {
		req.Trigger = nil
	}
	return req
}

// Response is returned for a stored strategy.
type Response struct {
	StrategyID             string                     `json:"strategy_id"`
	Status                 string                     `json:"status"`
	ConfidenceScore        float64                    `json:"confidence_score"`
	MarketOpportunityScore float64                    `json:"market_opportunity_score"`
	NextActions            []string                   `json:"next_actions"`
	EstimatedMarketSize    int64                      `json:"estimated_market_size"`
	TopOpportunities       []strategy.CustomerOutcome `json:"top_opportunities"`
	Recommendation         strategy.Recommendation    `json:"recommendation"`
	Warnings               []string                   `json:"warnings,omitempty"`
	EventPending           bool                       `json:"event_pending,omitempty"`
}

// Failure is the body returned for any failed run.
type Failure struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// FailureFor renders err as a failure body.
func FailureFor(err error, now time.Time) Failure {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Failure{Error: msg, Timestamp: now.UTC()}
}

// StrategyStore is the persistence the service needs. *store.Store implements it.
type StrategyStore interface {
	InsertStrategy(ctx context.Context, doc *strategy.Document) (string, error)
	GetStrategy(ctx context.Context, id string) (*strategy.Document, error)
	Transition(ctx context.Context, id string, t strategy.Transition) (*strategy.Document, error)
	ArchiveOlderThan(ctx context.Context, cutoff time.Time, user string) ([]string, error)
}

// EventPublisher emits lifecycle events. *events.Publisher implements it.
type EventPublisher interface {
	Publish(ctx context.Context, ev events.Event) (string, error)
}

// Service wires the creation flow together.
type Service struct {
	Pipeline  *pipeline.Orchestrator
	Sources   []sources.Provider
	Store     StrategyStore
	Publisher EventPublisher
	Audit     *audit.Logger
	Policy    scoring.Policy
	Logger    *zap.Logger
	Now       func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// CreateStrategy runs the whole flow for req. Nothing is stored unless every
// phase succeeded and the document passed the validation policy. A delivery
// failure after the insert leaves the event in the outbox and is reported
// through EventPending, not as an error.
func (s *Service) CreateStrategy(ctx context.Context, req Request) (*Response, error) {
	ctx = audit.WithCorrelationID(ctx, uuid.NewString())
	resp, err := s.create(ctx, req)
	if err != nil {
		s.Audit.LogError(ctx, err, req)
		s.logger().Error("strategy run failed",
			zap.String("correlation_id", audit.CorrelationID(ctx)),
			zap.Error(err),
		)
		return nil, err
	}
	return resp, nil
}

func (s *Service) create(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()
	inputs, err := s.gather(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(inputs.Trigger) == 0 && len(inputs.Market) == 0 && len(inputs.Customer) == 0 {
		return nil, &InputValidationError{Err: ErrNoInput}
	}
	hash, err := inputHash(inputs)
	if err != nil {
		return nil, fmt.Errorf("hash inputs: %w", err)
	}

	draft, err := s.Pipeline.Run(ctx, inputs)
	if err != nil {
		return nil, err
	}

	node, _ := os.Hostname()
	doc := strategy.Assemble(draft.Outputs(), strategy.AssembleOptions{
		Now:         s.now(),
		Model:       draft.Model,
		DataSources: inputs.DataSources,
		InputHash:   hash,
		Node:        node,
		Duration:    draft.Duration(),
		Warnings:    draft.Warnings,
	})

	violations, err := s.Policy.Apply(doc, s.now())
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		s.Audit.LogEvent(ctx, audit.TypeWarning, "strategy stored with score violations", map[string]any{
			"violations": violations.Messages(),
		})
		s.logger().Warn("score violations recorded", zap.Strings("violations", violations.Messages()))
	}

	id, err := s.Store.InsertStrategy(ctx, doc)
	if err != nil {
		return nil, err
	}
	doc.ID = id

	resp := buildResponse(doc, draft.Warnings)
	if s.Publisher != nil {
		if _, err := s.Publisher.Publish(ctx, events.CreatedEvent(doc, s.now())); err != nil {
			s.Audit.LogError(ctx, err, map[string]any{"strategy_id": id})
			var perr *events.PublishError
			switch {
			case errors.As(err, &perr) && !perr.Recorded && !perr.Delivered:
				s.logger().Error("created event lost", zap.String("strategy_id", id), zap.Error(err))
			case errors.As(err, &perr) && !perr.Pending():
				s.logger().Warn("created event has no outbox record", zap.String("strategy_id", id), zap.Error(err))
			default:
				resp.EventPending = true
				s.logger().Warn("created event not delivered", zap.String("strategy_id", id), zap.Error(err))
			}
		}
	}

	elapsed := time.Since(started)
	s.Audit.LogPerformance(ctx, "innovation strategy created", store.PerformanceMetrics{
		ExecutionTimeMS:      elapsed.Milliseconds(),
		AIProcessingTimeMS:   draft.GenerationTime().Milliseconds(),
		StoreOperationsCount: 2,
	})
	s.logger().Info("strategy created",
		zap.String("strategy_id", id),
		zap.String("recommendation", string(doc.AIInsights.Recommendation)),
		zap.String("status", string(doc.Status)),
		zap.Duration("elapsed", elapsed),
	)
	return resp, nil
}

// gather collects provider signals and overlays the request's own sections.
func (s *Service) gather(ctx context.Context, req Request) (pipeline.Inputs, error) {
	in := pipeline.Inputs{Trigger: req.Trigger}
	if len(s.Sources) > 0 {
		collected, err := sources.CollectAll(ctx, s.Sources)
		if err != nil {
			return in, fmt.Errorf("collect signals: %w", err)
		}
		in.Market = collected.Market
		in.Customer = collected.Customer
		in.Competitive = collected.Competitive
		in.Company = collected.Company
	}
	if len(req.Market) > 0 {
		in.Market = req.Market
	}
	if len(req.Customer) > 0 {
		in.Customer = req.Customer
	}
	if len(req.Competitive) > 0 {
		in.Competitive = req.Competitive
	}
	if len(req.Company) > 0 {
		in.Company = req.Company
	}

	for _, src := range []struct {
		name string
		data map[string]any
	}{
		{"trigger", in.Trigger},
		{string(sources.Market), in.Market},
		{string(sources.Customer), in.Customer},
		{string(sources.Competitive), in.Competitive},
		{string(sources.Company), in.Company},
	} {
		if len(src.data) > 0 {
			in.DataSources = append(in.DataSources, src.name)
		}
	}
	return in, nil
}

func inputHash(in pipeline.Inputs) (string, error) {
	data, err := json.Marshal(map[string]any{
		"trigger":          in.Trigger,
		"market_data":      in.Market,
		"customer_data":    in.Customer,
		"competitive_data": in.Competitive,
		"company_data":     in.Company,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func buildResponse(doc *strategy.Document, warnings []string) *Response {
	top := doc.CustomerOutcomes
	if len(top) > 3 {
		top = top[:3]
	}
	return &Response{
		StrategyID:             doc.ID,
		Status:                 "created",
		ConfidenceScore:        doc.AIInsights.ConfidenceScore,
		MarketOpportunityScore: doc.AIInsights.MarketOpportunityScore,
		NextActions:            append([]string(nil), NextActions...),
		EstimatedMarketSize:    doc.MarketAnalysis.TotalAddressableMarket,
		TopOpportunities:       append([]strategy.CustomerOutcome{}, top...),
		Recommendation:         doc.AIInsights.Recommendation,
		Warnings:               warnings,
	}
}
