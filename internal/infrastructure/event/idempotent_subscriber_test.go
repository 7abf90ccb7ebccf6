package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devtrack/backend/internal/domain/shared"
	"github.com/devtrack/backend/internal/infrastructure/cache"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newIdempotencyStore(t *testing.T) *cache.InMemoryIdempotencyStore {
	t.Helper()
	store := cache.NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// failingIdempotencyStore simulates an unreachable dedup backend
type failingIdempotencyStore struct{ err error }

func (s *failingIdempotencyStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return false, s.err
}

func (s *failingIdempotencyStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	return false, s.err
}

func (s *failingIdempotencyStore) Close() error { return nil }

func TestIdempotentSubscriber_HandlesEventOnce(t *testing.T) {
	inner := newTestSubscriber()
	subscriber := NewIdempotentSubscriber(inner, newIdempotencyStore(t), zap.NewNop())

	event := newTestEvent("TaskCreated", uuid.New())

	require.NoError(t, subscriber.Handle(context.Background(), event))
	require.NoError(t, subscriber.Handle(context.Background(), event))

	assert.Len(t, inner.getHandled(), 1)

	stats := subscriber.Metrics().Stats()
	assert.Equal(t, int64(1), stats.EventsProcessed)
	assert.Equal(t, int64(1), stats.EventsDuplicate)
}

func TestIdempotentSubscriber_DistinctEventsAllProcessed(t *testing.T) {
	inner := newTestSubscriber()
	subscriber := NewIdempotentSubscriber(inner, newIdempotencyStore(t), zap.NewNop())

	require.NoError(t, subscriber.Handle(context.Background(), newTestEvent("TaskCreated", uuid.New())))
	require.NoError(t, subscriber.Handle(context.Background(), newTestEvent("TaskAssigned", uuid.New())))

	assert.Len(t, inner.getHandled(), 2)
	assert.Equal(t, int64(2), subscriber.Metrics().Stats().EventsProcessed)
}

func TestIdempotentSubscriber_Disabled(t *testing.T) {
	inner := newTestSubscriber()
	store := newIdempotencyStore(t)
	subscriber := NewIdempotentSubscriber(inner, store, zap.NewNop(),
		WithIdempotencyConfig(shared.IdempotencyConfig{Enabled: false}),
	)

	event := newTestEvent("TaskCreated", uuid.New())
	require.NoError(t, subscriber.Handle(context.Background(), event))
	require.NoError(t, subscriber.Handle(context.Background(), event))

	// With dedup off every delivery reaches the subscriber and nothing is
	// written to the store.
	assert.Len(t, inner.getHandled(), 2)
	assert.Equal(t, 0, store.Size())
}

func TestIdempotentSubscriber_StoreFailureFailsOpen(t *testing.T) {
	inner := newTestSubscriber()
	store := &failingIdempotencyStore{err: errors.New("redis unreachable")}
	subscriber := NewIdempotentSubscriber(inner, store, zap.NewNop())

	event := newTestEvent("TaskCreated", uuid.New())
	require.NoError(t, subscriber.Handle(context.Background(), event))
	require.NoError(t, subscriber.Handle(context.Background(), event))

	// Processing twice beats dropping the event when dedup is unavailable.
	assert.Len(t, inner.getHandled(), 2)
}

func TestIdempotentSubscriber_HandlerErrorKeepsKey(t *testing.T) {
	inner := newTestSubscriber()
	inner.setError(errors.New("projection rebuild required"))
	subscriber := NewIdempotentSubscriber(inner, newIdempotencyStore(t), zap.NewNop())

	event := newTestEvent("TaskCreated", uuid.New())

	err := subscriber.Handle(context.Background(), event)
	require.Error(t, err)
	assert.Equal(t, int64(1), subscriber.Metrics().Stats().EventsFailed)

	// The key stays until the TTL runs out, so an immediate redelivery is
	// treated as a duplicate instead of retried.
	inner.setError(nil)
	require.NoError(t, subscriber.Handle(context.Background(), event))
	assert.Len(t, inner.getHandled(), 1)
	assert.Equal(t, int64(1), subscriber.Metrics().Stats().EventsDuplicate)
}

func TestIdempotentSubscriber_TTLExpiryAllowsReprocessing(t *testing.T) {
	inner := newTestSubscriber()
	subscriber := NewIdempotentSubscriber(inner, newIdempotencyStore(t), zap.NewNop(),
		WithIdempotencyConfig(shared.IdempotencyConfig{Enabled: true, TTL: 10 * time.Millisecond}),
	)

	event := newTestEvent("TaskCreated", uuid.New())
	require.NoError(t, subscriber.Handle(context.Background(), event))

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, subscriber.Handle(context.Background(), event))
	assert.Len(t, inner.getHandled(), 2)
}

func TestIdempotentSubscriber_InterestedIn_Delegates(t *testing.T) {
	inner := newTestSubscriber("TaskCreated")
	subscriber := NewIdempotentSubscriber(inner, newIdempotencyStore(t), zap.NewNop())

	assert.True(t, subscriber.InterestedIn(newTestEvent("TaskCreated", uuid.New())))
	assert.False(t, subscriber.InterestedIn(newTestEvent("ReviewRequested", uuid.New())))
}

func TestIdempotentSubscriber_Unwrap(t *testing.T) {
	inner := newTestSubscriber()
	subscriber := NewIdempotentSubscriber(inner, newIdempotencyStore(t), zap.NewNop())

	assert.Same(t, inner, subscriber.Unwrap().(*testSubscriber))
}

func TestWrapSubscribersWithIdempotency(t *testing.T) {
	first := newTestSubscriber()
	second := newTestSubscriber()
	store := newIdempotencyStore(t)

	wrapped := WrapSubscribersWithIdempotency([]shared.Subscriber{first, second}, store, zap.NewNop())

	require.Len(t, wrapped, 2)
	firstWrapped, ok := wrapped[0].(*IdempotentSubscriber)
	require.True(t, ok)
	assert.Same(t, first, firstWrapped.Unwrap().(*testSubscriber))
	secondWrapped, ok := wrapped[1].(*IdempotentSubscriber)
	require.True(t, ok)
	assert.Same(t, second, secondWrapped.Unwrap().(*testSubscriber))
}
