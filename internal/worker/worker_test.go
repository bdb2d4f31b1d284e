package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront-checkout/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memOutbox struct {
	mu        sync.Mutex
	events    []models.OutboxEvent
	published map[int64]bool
}

func newMemOutbox(n int) *memOutbox {
	m := &memOutbox{published: map[int64]bool{}}
	for i := 1; i <= n; i++ {
		m.events = append(m.events, models.OutboxEvent{
			ID:           int64(i),
			EventID:      "evt",
			EventType:    models.EventTypeOrderPlaced,
			AggregateKey: "ORD",
			Payload:      []byte(`{}`),
		})
	}
	return m
}

func (m *memOutbox) FetchUnpublishedEvents(_ context.Context, limit int) ([]models.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.OutboxEvent
	for _, e := range m.events {
		if !m.published[e.ID] && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memOutbox) MarkEventPublished(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[id] = true
	return nil
}

func (m *memOutbox) publishedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

type stubPublisher struct {
	mu     sync.Mutex
	sent   []int64
	failOn int64
}

func (p *stubPublisher) PublishOutboxEvent(_ context.Context, event *models.OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event.ID == p.failOn {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, event.ID)
	return nil
}

func TestRelayOncePublishesInOrder(t *testing.T) {
	store := newMemOutbox(3)
	pub := &stubPublisher{}
	relay := NewOutboxRelay(store, pub, time.Second)

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{1, 2, 3}, pub.sent)

	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayOnceStopsAtFirstFailure(t *testing.T) {
	store := newMemOutbox(3)
	pub := &stubPublisher{failOn: 2}
	relay := NewOutboxRelay(store, pub, time.Second)

	n, err := relay.RelayOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, pub.sent)
	assert.Equal(t, 1, store.publishedCount())

	pub.failOn = 0
	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2, 3}, pub.sent)
}

func TestRelayOnceHonoursBatchSize(t *testing.T) {
	store := newMemOutbox(5)
	relay := NewOutboxRelay(store, &stubPublisher{}, time.Second)
	relay.batchSize = 2

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStartRunsUntilStopped(t *testing.T) {
	store := newMemOutbox(2)
	relay := NewOutboxRelay(store, &stubPublisher{}, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- relay.Start(context.Background()) }()

	assert.Eventually(t, func() bool { return store.publishedCount() == 2 }, time.Second, 5*time.Millisecond)

	relay.Stop()
	relay.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestStartReturnsOnContextCancel(t *testing.T) {
	relay := NewOutboxRelay(newMemOutbox(0), &stubPublisher{}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
