package shared

import (
	"context"

	"github.com/google/uuid"
)

// Subscriber reacts to published domain events. InterestedIn is the
// subscription predicate consulted at dispatch time; Handle is invoked for
// every event the predicate accepts.
type Subscriber interface {
	InterestedIn(event DomainEvent) bool
	Handle(ctx context.Context, event DomainEvent) error
}

// SubscriberBus fans a published event out to every interested subscriber.
// Subscriber failures are isolated: one failing handler never prevents the
// others from running and never fails the publish call itself.
type SubscriberBus interface {
	// Subscribe adds a subscriber. Subscribing the same instance twice has
	// the effect of one subscription.
	Subscribe(subscriber Subscriber)
	// Unsubscribe removes a subscriber. Events already in flight still see
	// the set snapshotted at their dispatch time.
	Unsubscribe(subscriber Subscriber)
	// Publish delivers one event to all interested subscribers.
	Publish(ctx context.Context, event DomainEvent) error
	// PublishAll delivers events in order; event K's fan-out completes
	// before event K+1 begins.
	PublishAll(ctx context.Context, events []DomainEvent) error
}

// EventPublisher is the write surface offered to aggregates and application
// services: events become durable before any subscriber sees them.
type EventPublisher interface {
	// Publish appends a single event for the tenant, then delivers it.
	Publish(ctx context.Context, tenantID uuid.UUID, event DomainEvent) error
	// PublishAll appends the batch atomically, then delivers the events in
	// input order. An empty batch is a no-op.
	PublishAll(ctx context.Context, tenantID uuid.UUID, events []DomainEvent) error
}

// SubscriberFunc adapts a predicate and handler function pair into a
// Subscriber. A nil Predicate matches every event.
type SubscriberFunc struct {
	Predicate func(event DomainEvent) bool
	Handler   func(ctx context.Context, event DomainEvent) error
}

// NewSubscriberFunc creates a subscriber from a predicate and a handler
func NewSubscriberFunc(predicate func(event DomainEvent) bool, handler func(ctx context.Context, event DomainEvent) error) *SubscriberFunc {
	return &SubscriberFunc{Predicate: predicate, Handler: handler}
}

// InterestedIn reports whether the predicate accepts the event
func (s *SubscriberFunc) InterestedIn(event DomainEvent) bool {
	if s.Predicate == nil {
		return true
	}
	return s.Predicate(event)
}

// Handle invokes the wrapped handler
func (s *SubscriberFunc) Handle(ctx context.Context, event DomainEvent) error {
	if s.Handler == nil {
		return nil
	}
	return s.Handler(ctx, event)
}

// TypeSubscriber subscribes a handler to a fixed set of event types. An
// empty type list matches every event.
type TypeSubscriber struct {
	Types   []string
	Handler func(ctx context.Context, event DomainEvent) error
}

// NewTypeSubscriber creates a subscriber interested in the given event types
func NewTypeSubscriber(handler func(ctx context.Context, event DomainEvent) error, eventTypes ...string) *TypeSubscriber {
	return &TypeSubscriber{Types: eventTypes, Handler: handler}
}

// InterestedIn reports whether the event's type is in the subscribed set
func (s *TypeSubscriber) InterestedIn(event DomainEvent) bool {
	if len(s.Types) == 0 {
		return true
	}
	for _, t := range s.Types {
		if t == event.EventType() {
			return true
		}
	}
	return false
}

// Handle invokes the wrapped handler
func (s *TypeSubscriber) Handle(ctx context.Context, event DomainEvent) error {
	if s.Handler == nil {
		return nil
	}
	return s.Handler(ctx, event)
}
