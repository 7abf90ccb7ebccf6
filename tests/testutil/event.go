// Package testutil provides common test utilities for the event platform.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/devtrack/backend/internal/domain/shared"
)

// RecordingSubscriber is a Subscriber double that records every event it
// handles. An empty type list makes it interested in every event.
type RecordingSubscriber struct {
	mu      sync.Mutex
	types   []string
	handled []shared.DomainEvent
	err     error
}

// NewRecordingSubscriber creates a subscriber interested in the given event
// types, or in everything when none are given.
func NewRecordingSubscriber(eventTypes ...string) *RecordingSubscriber {
	return &RecordingSubscriber{
		types:   eventTypes,
		handled: make([]shared.DomainEvent, 0),
	}
}

// InterestedIn reports whether the event's type is in the subscribed set.
func (s *RecordingSubscriber) InterestedIn(event shared.DomainEvent) bool {
	if len(s.types) == 0 {
		return true
	}
	for _, t := range s.types {
		if t == event.EventType() {
			return true
		}
	}
	return false
}

// Handle records the event and returns the configured error.
func (s *RecordingSubscriber) Handle(ctx context.Context, event shared.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handled = append(s.handled, event)
	return s.err
}

// Handled returns a copy of all handled events.
func (s *RecordingSubscriber) Handled() []shared.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]shared.DomainEvent, len(s.handled))
	copy(result, s.handled)
	return result
}

// HandledCount returns the number of handled events.
func (s *RecordingSubscriber) HandledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handled)
}

// SetError sets the error to return from Handle.
func (s *RecordingSubscriber) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Reset clears all handled events and the configured error.
func (s *RecordingSubscriber) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handled = make([]shared.DomainEvent, 0)
	s.err = nil
}

// TestEvent is a simple domain event for testing.
type TestEvent struct {
	shared.BaseDomainEvent
	Data string `json:"data"`
}

// NewTestEvent creates a new test event.
func NewTestEvent(eventType string, tenantID uuid.UUID) *TestEvent {
	return &TestEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, "TestAggregate", uuid.New(), tenantID),
		Data:            "test-data",
	}
}

// NewTestEventWithID creates a test event with a specific event ID.
func NewTestEventWithID(eventID uuid.UUID, eventType string, tenantID uuid.UUID) *TestEvent {
	event := NewTestEvent(eventType, tenantID)
	event.ID = eventID
	return event
}

// NewTestEventForAggregate creates a test event for a specific aggregate with
// an explicit occurrence time, for ordering tests.
func NewTestEventForAggregate(eventType string, tenantID, aggregateID uuid.UUID, occurredAt time.Time) *TestEvent {
	event := NewTestEvent(eventType, tenantID)
	event.AggID = aggregateID
	event.Timestamp = occurredAt
	return event
}

// WaitForCondition waits for a condition to become true.
// Returns true if the condition was met, false if timeout occurred.
func WaitForCondition(t *testing.T, condition func() bool, timeout, interval time.Duration) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}
	return false
}

// WaitForEventCount waits until the subscriber has handled at least n events.
func WaitForEventCount(t *testing.T, subscriber *RecordingSubscriber, count int, timeout time.Duration) bool {
	t.Helper()

	return WaitForCondition(t, func() bool {
		return subscriber.HandledCount() >= count
	}, timeout, 10*time.Millisecond)
}
