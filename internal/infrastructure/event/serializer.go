package event

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/devtrack/backend/internal/domain/shared"
)

// EventSerializer handles JSON serialization of domain events and, through
// its type registry, turns stored records back into concrete event structs.
// The store itself stays schemaless; only consumers that want typed events
// need to register their types here.
type EventSerializer struct {
	mu       sync.RWMutex
	registry map[string]reflect.Type // eventType -> Go type
}

// NewEventSerializer creates a new event serializer
func NewEventSerializer() *EventSerializer {
	return &EventSerializer{
		registry: make(map[string]reflect.Type),
	}
}

// Register registers an event type for deserialization. The eventType must
// match what EventType() returns on the event.
func (s *EventSerializer) Register(eventType string, prototype shared.DomainEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := reflect.TypeOf(prototype)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	s.registry[eventType] = t
}

// Serialize serializes a domain event to JSON bytes
func (s *EventSerializer) Serialize(event shared.DomainEvent) ([]byte, error) {
	return json.Marshal(event)
}

// Deserialize deserializes JSON bytes into a new instance of the registered
// event type
func (s *EventSerializer) Deserialize(eventType string, data []byte) (shared.DomainEvent, error) {
	s.mu.RLock()
	t, ok := s.registry[eventType]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}

	eventPtr := reflect.New(t).Interface()
	if err := json.Unmarshal(data, eventPtr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	event, ok := eventPtr.(shared.DomainEvent)
	if !ok {
		return nil, fmt.Errorf("deserialized object does not implement DomainEvent")
	}
	return event, nil
}

// DeserializeRecord turns a stored record into a concrete event struct of
// the registered type. Redacted records cannot be deserialized; their
// payload is gone.
func (s *EventSerializer) DeserializeRecord(record *shared.EventRecord) (shared.DomainEvent, error) {
	if record == nil {
		return nil, fmt.Errorf("deserialize record: %w", shared.ErrInvalidInput)
	}
	if record.IsRedacted {
		return nil, fmt.Errorf("deserialize record %s: event is redacted", record.EventID)
	}
	return s.Deserialize(record.EventType, record.EventData)
}

// IsRegistered checks if an event type is registered
func (s *EventSerializer) IsRegistered(eventType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.registry[eventType]
	return ok
}

// RegisteredTypes returns all registered event types
func (s *EventSerializer) RegisteredTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make([]string, 0, len(s.registry))
	for t := range s.registry {
		types = append(types, t)
	}
	return types
}
