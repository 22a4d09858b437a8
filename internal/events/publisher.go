package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"odin/internal/store"
)

// PublishError reports an event that did not complete both halves of
// publishing. When Recorded is set the outbox row stays unprocessed and a
// later Relay retries it. Otherwise there is nothing to relay: Delivered says
// whether the direct emit still reached the bus.
type PublishError struct {
	EventType string
	Recorded  bool
	Delivered bool
	Err       error
}

// Pending reports whether a later Relay will deliver the event.
func (e *PublishError) Pending() bool { return e.Recorded && !e.Delivered }

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.EventType, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Outbox is the durable side of publishing. *store.Store implements it.
type Outbox interface {
	InsertEvent(ctx context.Context, ev *store.ServiceEvent) error
	MarkProcessed(ctx context.Context, id string) error
	IncrementRetry(ctx context.Context, id string, cause error) error
	ListUnprocessed(ctx context.Context, maxRetries, limit int) ([]store.ServiceEvent, error)
}

// Publisher appends each event to the outbox, emits it, and marks it
// processed once the bus accepts it.
type Publisher struct {
	outbox Outbox
	bus    Bus
	log    *zap.Logger
}

// NewPublisher wires a publisher. A nil bus means events are only recorded.
func NewPublisher(outbox Outbox, bus Bus, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{outbox: outbox, bus: bus, log: logger}
}

// Publish records and emits ev. It returns the outbox id.
func (p *Publisher) Publish(ctx context.Context, ev Event) (string, error) {
	rec := toRecord(ev)
	if err := p.outbox.InsertEvent(ctx, rec); err != nil {
		return "", p.emitUnrecorded(ctx, ev, err)
	}
	ev.ID = rec.ID
	if err := p.deliver(ctx, ev); err != nil {
		return rec.ID, err
	}
	return rec.ID, nil
}

// emitUnrecorded sends ev straight to the bus after the outbox write failed.
// The event has no audit copy either way.
func (p *Publisher) emitUnrecorded(ctx context.Context, ev Event, cause error) error {
	perr := &PublishError{EventType: ev.EventType, Err: cause}
	if p.bus == nil {
		return perr
	}
	if err := p.bus.Emit(ctx, ev); err != nil {
		perr.Err = fmt.Errorf("%w; emit: %v", cause, err)
		return perr
	}
	perr.Delivered = true
	p.log.Warn("event emitted without outbox record",
		zap.String("event_type", ev.EventType),
		zap.String("document_id", ev.DocumentID),
		zap.Error(cause),
	)
	return perr
}

func (p *Publisher) deliver(ctx context.Context, ev Event) error {
	if p.bus == nil {
		return p.markProcessed(ctx, ev)
	}
	if err := p.bus.Emit(ctx, ev); err != nil {
		if rerr := p.outbox.IncrementRetry(context.WithoutCancel(ctx), ev.ID, err); rerr != nil {
			p.log.Warn("record event retry failed", zap.String("event_id", ev.ID), zap.Error(rerr))
		}
		return &PublishError{EventType: ev.EventType, Recorded: true, Err: err}
	}
	return p.markProcessed(ctx, ev)
}

func (p *Publisher) markProcessed(ctx context.Context, ev Event) error {
	if err := p.outbox.MarkProcessed(context.WithoutCancel(ctx), ev.ID); err != nil {
		// Delivered; a relay may deliver it again.
		p.log.Warn("mark event processed failed", zap.String("event_id", ev.ID), zap.Error(err))
	}
	return nil
}

// RelayResult summarizes one relay pass.
type RelayResult struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Relay re-emits unprocessed outbox rows, oldest first. Rows that already
// failed maxRetries times are left alone when maxRetries > 0.
func (p *Publisher) Relay(ctx context.Context, maxRetries, limit int) (RelayResult, error) {
	var res RelayResult
	pending, err := p.outbox.ListUnprocessed(ctx, maxRetries, limit)
	if err != nil {
		return res, fmt.Errorf("list pending events: %w", err)
	}
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempted++
		if err := p.deliver(ctx, fromRecord(rec)); err != nil {
			res.Failed++
			p.log.Warn("relay delivery failed",
				zap.String("event_id", rec.ID),
				zap.String("event_type", rec.EventType),
				zap.Int("retry_count", rec.RetryCount+1),
				zap.Error(err),
			)
			continue
		}
		res.Delivered++
	}
	return res, nil
}
