package event

import (
	"context"
	"sync/atomic"

	"github.com/devtrack/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// IdempotencyMetrics tracks idempotency-related statistics
type IdempotencyMetrics struct {
	// EventsProcessed is the total number of events processed (first time)
	EventsProcessed atomic.Int64

	// EventsDuplicate is the total number of duplicate deliveries detected
	EventsDuplicate atomic.Int64

	// EventsFailed is the total number of events that failed to process
	EventsFailed atomic.Int64
}

// Stats returns a snapshot of the current metrics
func (m *IdempotencyMetrics) Stats() IdempotencyStats {
	return IdempotencyStats{
		EventsProcessed: m.EventsProcessed.Load(),
		EventsDuplicate: m.EventsDuplicate.Load(),
		EventsFailed:    m.EventsFailed.Load(),
	}
}

// IdempotencyStats is a snapshot of idempotency metrics
type IdempotencyStats struct {
	EventsProcessed int64 `json:"events_processed"`
	EventsDuplicate int64 `json:"events_duplicate"`
	EventsFailed    int64 `json:"events_failed"`
}

// IdempotentSubscriber wraps a Subscriber with idempotency checking so each
// event is handled at most once even when the pipeline redelivers it, as it
// does when a publish is retried after a lost acknowledgement.
type IdempotentSubscriber struct {
	subscriber shared.Subscriber
	store      shared.IdempotencyStore
	config     shared.IdempotencyConfig
	logger     *zap.Logger
	metrics    *IdempotencyMetrics
}

// IdempotentSubscriberOption is a functional option for IdempotentSubscriber
type IdempotentSubscriberOption func(*IdempotentSubscriber)

// WithIdempotencyConfig sets the idempotency configuration
func WithIdempotencyConfig(config shared.IdempotencyConfig) IdempotentSubscriberOption {
	return func(s *IdempotentSubscriber) {
		s.config = config
	}
}

// WithIdempotencyMetrics sets the metrics collector
func WithIdempotencyMetrics(metrics *IdempotencyMetrics) IdempotentSubscriberOption {
	return func(s *IdempotentSubscriber) {
		s.metrics = metrics
	}
}

// NewIdempotentSubscriber creates a new idempotent subscriber wrapper
func NewIdempotentSubscriber(
	subscriber shared.Subscriber,
	store shared.IdempotencyStore,
	logger *zap.Logger,
	opts ...IdempotentSubscriberOption,
) *IdempotentSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &IdempotentSubscriber{
		subscriber: subscriber,
		store:      store,
		config:     shared.DefaultIdempotencyConfig(),
		logger:     logger,
		metrics:    &IdempotencyMetrics{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// InterestedIn delegates to the wrapped subscriber's predicate
func (s *IdempotentSubscriber) InterestedIn(event shared.DomainEvent) bool {
	return s.subscriber.InterestedIn(event)
}

// Handle processes the event with idempotency checking
func (s *IdempotentSubscriber) Handle(ctx context.Context, event shared.DomainEvent) error {
	// If idempotency is disabled, process directly
	if !s.config.Enabled {
		return s.subscriber.Handle(ctx, event)
	}

	eventID := event.EventID().String()

	// Try to mark as processed (atomic check-and-set)
	isNew, err := s.store.MarkProcessed(ctx, eventID, s.config.TTL)
	if err != nil {
		// Better to risk duplicate processing than to drop events
		s.logger.Warn("failed to check idempotency, processing anyway",
			zap.String("event_id", eventID),
			zap.String("event_type", event.EventType()),
			zap.Error(err),
		)
	} else if !isNew {
		s.metrics.EventsDuplicate.Add(1)
		s.logger.Debug("duplicate delivery detected, skipping",
			zap.String("event_id", eventID),
			zap.String("event_type", event.EventType()),
		)
		return nil
	}

	if err := s.subscriber.Handle(ctx, event); err != nil {
		s.metrics.EventsFailed.Add(1)
		s.logger.Error("subscriber failed",
			zap.String("event_id", eventID),
			zap.String("event_type", event.EventType()),
			zap.Error(err),
		)
		// The idempotency key is kept on failure; it expires after the TTL,
		// which allows a retry after a cooldown instead of immediately.
		return err
	}

	s.metrics.EventsProcessed.Add(1)
	s.logger.Debug("event processed",
		zap.String("event_id", eventID),
		zap.String("event_type", event.EventType()),
	)

	return nil
}

// Metrics returns the metrics for this subscriber
func (s *IdempotentSubscriber) Metrics() *IdempotencyMetrics {
	return s.metrics
}

// Unwrap returns the underlying subscriber (useful for testing)
func (s *IdempotentSubscriber) Unwrap() shared.Subscriber {
	return s.subscriber
}

// Ensure IdempotentSubscriber implements Subscriber
var _ shared.Subscriber = (*IdempotentSubscriber)(nil)

// WrapSubscribersWithIdempotency wraps multiple subscribers with idempotency
// checking. This is a convenience function for wrapping all subscribers at
// once before registering them on a bus.
func WrapSubscribersWithIdempotency(
	subscribers []shared.Subscriber,
	store shared.IdempotencyStore,
	logger *zap.Logger,
	opts ...IdempotentSubscriberOption,
) []shared.Subscriber {
	wrapped := make([]shared.Subscriber, len(subscribers))
	for i, s := range subscribers {
		wrapped[i] = NewIdempotentSubscriber(s, store, logger, opts...)
	}
	return wrapped
}
