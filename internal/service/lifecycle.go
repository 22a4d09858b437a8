package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"odin/internal/events"
	"odin/internal/strategy"
)

// Transition applies a lifecycle action to a stored strategy and emits the
// matching event. A delivery failure is logged; the event stays in the
// outbox for the relay.
func (s *Service) Transition(ctx context.Context, id string, t strategy.Transition) (*strategy.Document, error) {
	if t.At.IsZero() {
		t.At = s.now()
	}
	doc, err := s.Store.Transition(ctx, id, t)
	if err != nil {
		return nil, err
	}
	s.publishTransition(ctx, doc)
	return doc, nil
}

// ArchiveResult lists what an archive sweep changed.
type ArchiveResult struct {
	Cutoff   time.Time `json:"cutoff"`
	Archived []string  `json:"archived"`
}

// ArchiveSweep archives every strategy created before now-maxAge that is
// neither approved nor already archived.
func (s *Service) ArchiveSweep(ctx context.Context, maxAge time.Duration, user string) (*ArchiveResult, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("archive max age must be positive, got %v", maxAge)
	}
	cutoff := s.now().Add(-maxAge)
	ids, err := s.Store.ArchiveOlderThan(ctx, cutoff, user)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		doc, err := s.Store.GetStrategy(ctx, id)
		if err != nil {
			s.logger().Warn("reload archived strategy failed", zap.String("strategy_id", id), zap.Error(err))
			continue
		}
		s.publishTransition(ctx, doc)
	}
	if ids == nil {
		ids = []string{}
	}
	return &ArchiveResult{Cutoff: cutoff, Archived: ids}, nil
}

func (s *Service) publishTransition(ctx context.Context, doc *strategy.Document) {
	if s.Publisher == nil {
		return
	}
	ev, err := events.TransitionEvent(doc)
	if err != nil {
		s.logger().Warn("no event for transition", zap.String("strategy_id", doc.ID), zap.Error(err))
		return
	}
	if _, err := s.Publisher.Publish(ctx, ev); err != nil {
		s.Audit.LogError(ctx, err, map[string]any{"strategy_id": doc.ID, "event_type": ev.EventType})
		s.logger().Warn("lifecycle event not delivered",
			zap.String("strategy_id", doc.ID),
			zap.String("event_type", ev.EventType),
			zap.Error(err),
		)
	}
}
