package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

// Publisher emits canonical events keyed by aggregate.
type Publisher interface {
	Publish(ctx context.Context, aggregate string, evt CanonicalEvent) error
}

// QueuePublisher sends envelopes straight to a queue.
type QueuePublisher struct {
	queue  Queue
	logger *logging.Logger
}

func NewQueuePublisher(queue Queue, logger *logging.Logger) *QueuePublisher {
	if queue == nil {
		panic("events: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &QueuePublisher{queue: queue, logger: logger}
}

func (p *QueuePublisher) Publish(ctx context.Context, aggregate string, evt CanonicalEvent) error {
	env, err := NewEnvelope(aggregate, correlationOf(evt), evt)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	if err := p.queue.Send(ctx, string(body)); err != nil {
		return fmt.Errorf("events: publish %s: %w", env.EventType, err)
	}
	p.logger.Debug("event published", "event_id", env.EventID, "type", env.EventType, "session_id", env.CorrelationID)
	return nil
}

// OutboxPublisher writes events to the outbox; a Deliverer forwards them later.
type OutboxPublisher struct {
	store *OutboxStore
}

func NewOutboxPublisher(store *OutboxStore) *OutboxPublisher {
	return &OutboxPublisher{store: store}
}

func (p *OutboxPublisher) Publish(ctx context.Context, aggregate string, evt CanonicalEvent) error {
	_, err := p.store.Append(ctx, aggregate, evt)
	return err
}

// QueueForwarder is a DeliveryHandler that relays outbox rows onto a queue.
type QueueForwarder struct {
	queue Queue
}

func NewQueueForwarder(queue Queue) *QueueForwarder {
	return &QueueForwarder{queue: queue}
}

// Handle sends the stored envelope unchanged.
func (f *QueueForwarder) Handle(ctx context.Context, entry OutboxEntry) error {
	return f.queue.Send(ctx, string(entry.Payload))
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, CanonicalEvent) error { return nil }
