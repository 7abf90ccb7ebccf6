package event

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/devtrack/backend/internal/domain/shared"
	"github.com/devtrack/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// DefaultFanoutParallelism delivers to one subscriber at a time. Fan-out
// across subscribers of a single event may be widened via
// WithFanoutParallelism; fan-out across events is always sequential.
const DefaultFanoutParallelism = 1

// BusOption configures an InMemorySubscriberBus
type BusOption func(*InMemorySubscriberBus)

// WithFanoutParallelism bounds how many subscribers of one event may run
// concurrently. Values below 1 fall back to sequential delivery.
func WithFanoutParallelism(n int) BusOption {
	return func(b *InMemorySubscriberBus) {
		if n < 1 {
			n = DefaultFanoutParallelism
		}
		b.parallelism = n
	}
}

// InMemorySubscriberBus fans published events out to registered subscribers
// in process. The registered set is identity-keyed; the set consulted for a
// publish is a snapshot taken at dispatch time. Subscriber failures and
// panics are logged and counted, never propagated.
type InMemorySubscriberBus struct {
	mu          sync.RWMutex
	subscribers []shared.Subscriber
	logger      *zap.Logger
	parallelism int

	delivered    atomic.Int64
	failed       atomic.Int64
	panics       atomic.Int64
	emptyFanouts atomic.Int64
}

// NewInMemorySubscriberBus creates a new in-memory subscriber bus
func NewInMemorySubscriberBus(logger *zap.Logger, opts ...BusOption) *InMemorySubscriberBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := &InMemorySubscriberBus{
		logger:      logger,
		parallelism: DefaultFanoutParallelism,
	}
	for _, opt := range opts {
		opt(bus)
	}
	return bus
}

// Subscribe adds a subscriber. Subscribing the same instance twice has the
// effect of one subscription.
func (b *InMemorySubscriberBus) Subscribe(subscriber shared.Subscriber) {
	if subscriber == nil {
		b.logger.Warn("ignoring nil subscriber")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.subscribers {
		if existing == subscriber {
			return
		}
	}
	b.subscribers = append(b.subscribers, subscriber)
	b.logger.Debug("subscriber registered", zap.Int("subscribers", len(b.subscribers)))
}

// Unsubscribe removes a subscriber. Events already in flight still see the
// set snapshotted at their dispatch time.
func (b *InMemorySubscriberBus) Unsubscribe(subscriber shared.Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, existing := range b.subscribers {
		if existing == subscriber {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			b.logger.Debug("subscriber removed", zap.Int("subscribers", len(b.subscribers)))
			return
		}
	}
}

// SubscriberCount returns the current size of the registered set
func (b *InMemorySubscriberBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Publish delivers one event to every interested subscriber, isolating
// their failures from one another. The only non-nil return is context
// cancellation observed between invocations.
func (b *InMemorySubscriberBus) Publish(ctx context.Context, event shared.DomainEvent) error {
	if event == nil {
		return fmt.Errorf("publish event: %w", shared.ErrInvalidInput)
	}

	snapshot := b.snapshot()
	interested := make([]shared.Subscriber, 0, len(snapshot))
	for _, subscriber := range snapshot {
		if b.isInterested(subscriber, event) {
			interested = append(interested, subscriber)
		}
	}

	if len(interested) == 0 {
		b.emptyFanouts.Add(1)
		b.logger.Info("no subscribers interested in event",
			zap.String("event_type", event.EventType()),
			zap.String("event_id", event.EventID().String()),
		)
		return nil
	}

	if b.parallelism <= 1 || len(interested) == 1 {
		for _, subscriber := range interested {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("deliver event %s: %w", event.EventID(), err)
			}
			b.dispatch(ctx, subscriber, event)
		}
		return nil
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("deliver event %s: %w", event.EventID(), err)
	}

	sem := make(chan struct{}, b.parallelism)
	var wg sync.WaitGroup
	for _, subscriber := range interested {
		wg.Add(1)
		sem <- struct{}{}
		go func(s shared.Subscriber) {
			defer wg.Done()
			defer func() { <-sem }()
			b.dispatch(ctx, s, event)
		}(subscriber)
	}
	wg.Wait()
	return nil
}

// PublishAll delivers events in order; event K's fan-out completes before
// event K+1 begins.
func (b *InMemorySubscriberBus) PublishAll(ctx context.Context, events []shared.DomainEvent) error {
	for _, event := range events {
		if err := b.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// BusMetricsSnapshot is a point-in-time view of the bus counters
type BusMetricsSnapshot struct {
	Delivered    int64
	Failed       int64
	Panics       int64
	EmptyFanouts int64
}

// Metrics returns the bus delivery counters
func (b *InMemorySubscriberBus) Metrics() BusMetricsSnapshot {
	return BusMetricsSnapshot{
		Delivered:    b.delivered.Load(),
		Failed:       b.failed.Load(),
		Panics:       b.panics.Load(),
		EmptyFanouts: b.emptyFanouts.Load(),
	}
}

func (b *InMemorySubscriberBus) snapshot() []shared.Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snapshot := make([]shared.Subscriber, len(b.subscribers))
	copy(snapshot, b.subscribers)
	return snapshot
}

// isInterested evaluates the subscription predicate, treating a panicking
// predicate as not interested.
func (b *InMemorySubscriberBus) isInterested(subscriber shared.Subscriber, event shared.DomainEvent) (interested bool) {
	defer func() {
		if r := recover(); r != nil {
			interested = false
			b.panics.Add(1)
			b.logger.Error("subscriber predicate panicked",
				zap.String("event_type", event.EventType()),
				zap.String("event_id", event.EventID().String()),
				zap.Any("panic", r),
			)
		}
	}()
	return subscriber.InterestedIn(event)
}

// dispatch invokes one subscriber, absorbing its errors and panics
func (b *InMemorySubscriberBus) dispatch(ctx context.Context, subscriber shared.Subscriber, event shared.DomainEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.failed.Add(1)
			b.logger.Error("subscriber panicked while handling event",
				zap.String("event_type", event.EventType()),
				zap.String("event_id", event.EventID().String()),
				zap.Any("panic", r),
			)
		}
	}()

	labels := telemetry.EventDispatchLabels(event.EventType(), fmt.Sprintf("%T", subscriber))

	var err error
	telemetry.WithProfilingLabels(ctx, labels, func(c context.Context) {
		err = subscriber.Handle(c, event)
	})
	if err != nil {
		b.failed.Add(1)
		b.logger.Error("subscriber failed to handle event",
			zap.String("event_type", event.EventType()),
			zap.String("event_id", event.EventID().String()),
			zap.Error(err),
		)
		return
	}
	b.delivered.Add(1)
}

// Ensure InMemorySubscriberBus implements SubscriberBus
var _ shared.SubscriberBus = (*InMemorySubscriberBus)(nil)
