package worker

import (
	"context"
	"sync"
	"time"

	"storefront-checkout/internal/models"
	"storefront-checkout/internal/util"

	"go.uber.org/zap"
)

const defaultBatchSize = 100

// OutboxStore is the part of the store the relay reads and updates.
type OutboxStore interface {
	FetchUnpublishedEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkEventPublished(ctx context.Context, id int64) error
}

type EventPublisher interface {
	PublishOutboxEvent(ctx context.Context, event *models.OutboxEvent) error
}

// OutboxRelay publishes events committed together with their orders.
// Delivery is at least once: an event published right before a crash is
// published again on restart.
type OutboxRelay struct {
	store     OutboxStore
	publisher EventPublisher
	interval  time.Duration
	batchSize int
	stop      chan struct{}
	stopOnce  sync.Once
	logger    *zap.Logger
}

// NewOutboxRelay creates a relay polling every interval
func NewOutboxRelay(store OutboxStore, publisher EventPublisher, interval time.Duration) *OutboxRelay {
	if interval <= 0 {
		interval = time.Second
	}
	return &OutboxRelay{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batchSize: defaultBatchSize,
		stop:      make(chan struct{}),
		logger:    util.GetLogger(),
	}
}

// Start polls until ctx is cancelled or Stop is called
func (r *OutboxRelay) Start(ctx context.Context) error {
	r.logger.Info("Starting outbox relay", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("Outbox relay pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay context cancelled, stopping...")
			return ctx.Err()
		case <-r.stop:
			return nil
		case <-ticker.C:
		}
	}
}

// Stop stops the relay
func (r *OutboxRelay) Stop() {
	r.logger.Info("Stopping outbox relay...")
	r.stopOnce.Do(func() { close(r.stop) })
}

// RelayOnce publishes one batch in id order and returns how many events were
// delivered. It stops at the first failure so later events never overtake it.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	events, err := r.store.FetchUnpublishedEvents(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for i := range events {
		event := &events[i]

		if err := r.publisher.PublishOutboxEvent(ctx, event); err != nil {
			util.OutboxPublishFailedTotal.Inc()
			r.logger.Warn("Failed to publish outbox event",
				zap.String("event_id", event.EventID),
				zap.String("aggregate_key", event.AggregateKey),
				zap.Error(err))
			return published, err
		}

		if err := r.store.MarkEventPublished(ctx, event.ID); err != nil {
			return published, err
		}

		util.OutboxPublishedTotal.Inc()
		published++
	}

	if published > 0 {
		r.logger.Debug("Outbox events relayed", zap.Int("count", published))
	}
	return published, nil
}
