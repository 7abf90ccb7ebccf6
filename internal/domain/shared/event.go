package shared

import (
	"time"

	"github.com/google/uuid"
)

// DefaultSchemaVersion is assumed for events that never declare a version.
// Versions follow the "v<N>" format ("v1", "v2", ...).
const DefaultSchemaVersion = "v1"

// DomainEvent represents a business fact that occurred in the domain.
// Envelope fields and payload are immutable once the event is handed to
// the publication pipeline.
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	AggregateID() uuid.UUID
	AggregateType() string
	TenantID() uuid.UUID
}

// VersionedEvent extends DomainEvent with schema versioning support.
// Events implement it when their payload shape evolves over time and old
// stored records need to be upgraded on read.
type VersionedEvent interface {
	DomainEvent
	// SchemaVersion returns the "v<N>" version of the event schema.
	SchemaVersion() string
}

// MetadataCarrier exposes the optional free-form metadata of an event
// (correlation id, causation id, source, tags).
type MetadataCarrier interface {
	EventMetadata() map[string]any
}

// BaseDomainEvent provides the common envelope fields for all domain events
type BaseDomainEvent struct {
	ID         uuid.UUID      `json:"event_id"`
	Type       string         `json:"event_type"`
	Timestamp  time.Time      `json:"occurred_at"`
	AggID      uuid.UUID      `json:"aggregate_id"`
	AggType    string         `json:"aggregate_type"`
	Tenant     uuid.UUID      `json:"tenant_id"`
	Version    string         `json:"event_version,omitempty"`
	UserID     *uuid.UUID     `json:"user_id,omitempty"`
	AggVersion int64          `json:"aggregate_version,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EventID returns the unique event identifier
func (e *BaseDomainEvent) EventID() uuid.UUID {
	return e.ID
}

// EventType returns the type of the event
func (e *BaseDomainEvent) EventType() string {
	return e.Type
}

// OccurredAt returns the business time at which the fact happened
func (e *BaseDomainEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID returns the ID of the aggregate that produced this event
func (e *BaseDomainEvent) AggregateID() uuid.UUID {
	return e.AggID
}

// AggregateType returns the type of the aggregate
func (e *BaseDomainEvent) AggregateType() string {
	return e.AggType
}

// TenantID returns the tenant partition the event belongs to
func (e *BaseDomainEvent) TenantID() uuid.UUID {
	return e.Tenant
}

// SchemaVersion returns the schema version of the event, or
// DefaultSchemaVersion when none was set.
func (e *BaseDomainEvent) SchemaVersion() string {
	if e.Version == "" {
		return DefaultSchemaVersion
	}
	return e.Version
}

// EventMetadata returns the optional correlation metadata map, which may
// be nil.
func (e *BaseDomainEvent) EventMetadata() map[string]any {
	return e.Metadata
}

// NewBaseDomainEvent creates a new base domain event at the default schema
// version
func NewBaseDomainEvent(eventType, aggType string, aggID, tenantID uuid.UUID) BaseDomainEvent {
	return BaseDomainEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
		AggID:     aggID,
		AggType:   aggType,
		Tenant:    tenantID,
		Version:   DefaultSchemaVersion,
	}
}

// NewVersionedBaseDomainEvent creates a new base domain event with an
// explicit schema version. An empty version falls back to the default.
func NewVersionedBaseDomainEvent(eventType, aggType string, aggID, tenantID uuid.UUID, schemaVersion string) BaseDomainEvent {
	if schemaVersion == "" {
		schemaVersion = DefaultSchemaVersion
	}
	base := NewBaseDomainEvent(eventType, aggType, aggID, tenantID)
	base.Version = schemaVersion
	return base
}

// ExtractSchemaVersion returns the schema version of an event, defaulting to
// DefaultSchemaVersion for events that do not implement VersionedEvent or
// declare an empty version.
func ExtractSchemaVersion(event DomainEvent) string {
	if versioned, ok := event.(VersionedEvent); ok {
		if v := versioned.SchemaVersion(); v != "" {
			return v
		}
	}
	return DefaultSchemaVersion
}
