package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordingSubscriber_InterestedIn(t *testing.T) {
	subscriber := NewRecordingSubscriber("Event1", "Event2")

	assert.True(t, subscriber.InterestedIn(NewTestEvent("Event1", uuid.New())))
	assert.True(t, subscriber.InterestedIn(NewTestEvent("Event2", uuid.New())))
	assert.False(t, subscriber.InterestedIn(NewTestEvent("Event3", uuid.New())))
}

func TestRecordingSubscriber_InterestedInEverythingByDefault(t *testing.T) {
	subscriber := NewRecordingSubscriber()

	assert.True(t, subscriber.InterestedIn(NewTestEvent("AnyEvent", uuid.New())))
}

func TestRecordingSubscriber_Handle(t *testing.T) {
	subscriber := NewRecordingSubscriber("TestEvent")
	tenantID := uuid.New()
	event := NewTestEvent("TestEvent", tenantID)

	err := subscriber.Handle(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, 1, subscriber.HandledCount())
	assert.Equal(t, event, subscriber.Handled()[0])
}

func TestRecordingSubscriber_SetError(t *testing.T) {
	subscriber := NewRecordingSubscriber("TestEvent")
	expectedErr := assert.AnError

	subscriber.SetError(expectedErr)

	err := subscriber.Handle(context.Background(), NewTestEvent("TestEvent", uuid.New()))
	assert.Equal(t, expectedErr, err)
}

func TestRecordingSubscriber_Reset(t *testing.T) {
	subscriber := NewRecordingSubscriber("TestEvent")
	subscriber.SetError(assert.AnError)

	_ = subscriber.Handle(context.Background(), NewTestEvent("TestEvent", uuid.New()))
	assert.Equal(t, 1, subscriber.HandledCount())

	subscriber.Reset()

	assert.Equal(t, 0, subscriber.HandledCount())
	require.NoError(t, subscriber.Handle(context.Background(), NewTestEvent("TestEvent", uuid.New())))
}

func TestNewTestEvent(t *testing.T) {
	tenantID := uuid.New()
	event := NewTestEvent("TestEvent", tenantID)

	assert.NotEqual(t, uuid.Nil, event.EventID())
	assert.Equal(t, "TestEvent", event.EventType())
	assert.Equal(t, tenantID, event.TenantID())
	assert.Equal(t, "TestAggregate", event.AggregateType())
	assert.NotEqual(t, uuid.Nil, event.AggregateID())
	assert.False(t, event.OccurredAt().IsZero())
	assert.Equal(t, "test-data", event.Data)
}

func TestNewTestEventWithID(t *testing.T) {
	eventID := uuid.New()
	tenantID := uuid.New()
	event := NewTestEventWithID(eventID, "CustomEvent", tenantID)

	assert.Equal(t, eventID, event.EventID())
	assert.Equal(t, "CustomEvent", event.EventType())
	assert.Equal(t, tenantID, event.TenantID())
}

func TestNewTestEventForAggregate(t *testing.T) {
	aggregateID := uuid.New()
	occurredAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	event := NewTestEventForAggregate("TestEvent", uuid.New(), aggregateID, occurredAt)

	assert.Equal(t, aggregateID, event.AggregateID())
	assert.Equal(t, occurredAt, event.OccurredAt())
}

func TestWaitForCondition(t *testing.T) {
	t.Run("condition met", func(t *testing.T) {
		done := make(chan struct{})
		go func() {
			time.Sleep(20 * time.Millisecond)
			close(done)
		}()

		result := WaitForCondition(t, func() bool {
			select {
			case <-done:
				return true
			default:
				return false
			}
		}, 200*time.Millisecond, 10*time.Millisecond)

		assert.True(t, result)
	})

	t.Run("condition not met within timeout", func(t *testing.T) {
		result := WaitForCondition(t, func() bool {
			return false
		}, 50*time.Millisecond, 10*time.Millisecond)

		assert.False(t, result)
	})
}

func TestWaitForEventCount(t *testing.T) {
	subscriber := NewRecordingSubscriber("TestEvent")
	tenantID := uuid.New()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = subscriber.Handle(context.Background(), NewTestEvent("TestEvent", tenantID))
		_ = subscriber.Handle(context.Background(), NewTestEvent("TestEvent", tenantID))
	}()

	result := WaitForEventCount(t, subscriber, 2, 200*time.Millisecond)
	assert.True(t, result)
}
