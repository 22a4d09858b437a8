// Package events emits strategy lifecycle events and keeps an outbox copy
// of each one in the store.
package events

import (
	"fmt"
	"time"

	"odin/internal/store"
	"odin/internal/strategy"
)

// Service is the emitting service name.
const Service = "innovation"

// DocumentRefPrefix prefixes the document_ref of every event.
const DocumentRefPrefix = "odin://innovation_strategies/"

// Event types.
const (
	TypeCreated   = "innovation_strategy_created"
	TypeUpdated   = "innovation_strategy_updated"
	TypeValidated = "innovation_strategy_validated"
	TypeApproved  = "innovation_strategy_approved"
	TypeRejected  = "innovation_strategy_rejected"
)

// Event is the wire shape delivered to buses.
type Event struct {
	ID          string         `json:"id,omitempty"`
	EventType   string         `json:"event_type"`
	Service     string         `json:"service"`
	DocumentID  string         `json:"document_id"`
	DocumentRef string         `json:"document_ref"`
	Status      string         `json:"status"`
	Metadata    map[string]any `json:"metadata"`
	AIInsights  map[string]any `json:"ai_insights,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// DocumentRef returns the reference URI for a stored strategy.
func DocumentRef(id string) string {
	return DocumentRefPrefix + id
}

// CreatedEvent describes a newly stored strategy.
func CreatedEvent(doc *strategy.Document, now time.Time) Event {
	top := ""
	if len(doc.CustomerOutcomes) > 0 {
		top = doc.CustomerOutcomes[0].Outcome
	}
	return Event{
		EventType:   TypeCreated,
		Service:     Service,
		DocumentID:  doc.ID,
		DocumentRef: DocumentRef(doc.ID),
		Status:      string(doc.Status),
		Metadata: map[string]any{
			"market_opportunity_score": doc.AIInsights.MarketOpportunityScore,
			"confidence_score":         doc.AIInsights.ConfidenceScore,
			"target_segments":          len(doc.MarketSegments),
			"identified_outcomes":      len(doc.CustomerOutcomes),
			"strategic_recommendation": string(doc.AIInsights.Recommendation),
		},
		AIInsights: map[string]any{
			"recommendation":  string(doc.AIInsights.Recommendation),
			"confidence":      doc.AIInsights.ConfidenceScore,
			"market_size":     doc.MarketAnalysis.TotalAddressableMarket,
			"top_opportunity": top,
		},
		Timestamp: now.UTC(),
	}
}

var actionTypes = map[strategy.Action]string{
	strategy.ActionUpdated:   TypeUpdated,
	strategy.ActionValidated: TypeValidated,
	strategy.ActionApproved:  TypeApproved,
	strategy.ActionRejected:  TypeRejected,
	strategy.ActionArchived:  TypeUpdated,
}

// TransitionEvent describes the most recent audit entry of doc, which must
// come from a lifecycle transition.
func TransitionEvent(doc *strategy.Document) (Event, error) {
	if len(doc.AuditTrail) == 0 {
		return Event{}, fmt.Errorf("strategy %s has no audit trail", doc.ID)
	}
	entry := doc.AuditTrail[len(doc.AuditTrail)-1]
	eventType, ok := actionTypes[entry.Action]
	if !ok {
		return Event{}, fmt.Errorf("no event for action %q", entry.Action)
	}
	meta := map[string]any{
		"action": string(entry.Action),
		"user":   entry.User,
	}
	if entry.Reason != "" {
		meta["reason"] = entry.Reason
	}
	if entry.ApprovalLevel != "" {
		meta["approval_level"] = entry.ApprovalLevel
	}
	if change, ok := entry.Changes["status"].(map[string]any); ok {
		meta["previous_status"] = change["from"]
	}
	return Event{
		EventType:   eventType,
		Service:     Service,
		DocumentID:  doc.ID,
		DocumentRef: DocumentRef(doc.ID),
		Status:      string(doc.Status),
		Metadata:    meta,
		Timestamp:   entry.Timestamp.UTC(),
	}, nil
}

func toRecord(ev Event) *store.ServiceEvent {
	return &store.ServiceEvent{
		ID:          ev.ID,
		EventType:   ev.EventType,
		Service:     ev.Service,
		DocumentID:  ev.DocumentID,
		DocumentRef: ev.DocumentRef,
		Status:      ev.Status,
		Metadata:    ev.Metadata,
		AIInsights:  ev.AIInsights,
		Timestamp:   ev.Timestamp,
	}
}

func fromRecord(rec store.ServiceEvent) Event {
	return Event{
		ID:          rec.ID,
		EventType:   rec.EventType,
		Service:     rec.Service,
		DocumentID:  rec.DocumentID,
		DocumentRef: rec.DocumentRef,
		Status:      rec.Status,
		Metadata:    rec.Metadata,
		AIInsights:  rec.AIInsights,
		Timestamp:   rec.Timestamp,
	}
}
