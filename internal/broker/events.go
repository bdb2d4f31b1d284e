package broker

import (
	"context"

	"storefront-checkout/internal/models"
)

const (
	headerEventID   = "event_id"
	headerEventType = "event_type"
)

// EventPublisher publishes domain events recorded in the outbox
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOutboxEvent sends a stored event as is, keyed by its aggregate
// (the order number). The payload was encoded when the order committed.
func (ep *EventPublisher) PublishOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	return ep.producer.Publish(ctx, event.AggregateKey, event.Payload, map[string]string{
		headerEventID:   event.EventID,
		headerEventType: event.EventType,
	})
}

