package shared

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RedactionMarker replaces the event data of a redacted record. The record
// itself stays in the log; only its payload is erased.
var RedactionMarker = []byte(`{"redacted":true}`)

// EventRecord is the persisted form of a domain event. Records are
// append-only: after the initial insert the only sanctioned mutations are
// snapshot tagging and redaction.
type EventRecord struct {
	EventID       uuid.UUID
	TenantID      uuid.UUID
	AggregateID   uuid.UUID
	AggregateType string
	EventType     string
	EventVersion  string
	OccurredAt    time.Time
	StoredAt      time.Time
	EventData     []byte
	Metadata      []byte
	SnapshotID    *uuid.UUID
	IsRedacted    bool
}

// NewEventRecord builds a record from a domain event and its serialized
// form. StoredAt is left zero; the store stamps it at append time.
func NewEventRecord(tenantID uuid.UUID, event DomainEvent, eventData []byte) *EventRecord {
	return &EventRecord{
		EventID:       event.EventID(),
		TenantID:      tenantID,
		AggregateID:   event.AggregateID(),
		AggregateType: event.AggregateType(),
		EventType:     event.EventType(),
		EventVersion:  ExtractSchemaVersion(event),
		OccurredAt:    event.OccurredAt(),
		EventData:     eventData,
	}
}

// Version returns the record's schema version, treating a missing version
// as DefaultSchemaVersion.
func (r *EventRecord) Version() string {
	if r.EventVersion == "" {
		return DefaultSchemaVersion
	}
	return r.EventVersion
}

// DataMap decodes the record's event data into a map
func (r *EventRecord) DataMap() (map[string]any, error) {
	data := make(map[string]any)
	if len(r.EventData) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(r.EventData, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// Clone returns a deep copy of the record
func (r *EventRecord) Clone() *EventRecord {
	clone := *r
	if r.EventData != nil {
		clone.EventData = make([]byte, len(r.EventData))
		copy(clone.EventData, r.EventData)
	}
	if r.Metadata != nil {
		clone.Metadata = make([]byte, len(r.Metadata))
		copy(clone.Metadata, r.Metadata)
	}
	if r.SnapshotID != nil {
		id := *r.SnapshotID
		clone.SnapshotID = &id
	}
	return &clone
}

// EventRecordStore is the sole authority for durable event storage and its
// temporal and typed queries. Every operation is scoped by tenant; no query
// may span tenants. The store performs no internal retries; retry policy
// belongs to the caller.
type EventRecordStore interface {
	// Append inserts exactly one record. An already-stored event ID
	// surfaces ErrDuplicateEvent.
	Append(ctx context.Context, record *EventRecord) error
	// AppendBatch inserts all records as a single atomic unit. An empty
	// batch is a no-op.
	AppendBatch(ctx context.Context, records []*EventRecord) error
	// FindByAggregate returns the aggregate's full history ordered by
	// (occurred_at, stored_at) ascending.
	FindByAggregate(ctx context.Context, tenantID, aggregateID uuid.UUID) ([]*EventRecord, error)
	// FindSince returns records with occurred_at strictly after the given
	// time, ascending.
	FindSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]*EventRecord, error)
	// FindByEventType returns records of one event type, ascending.
	FindByEventType(ctx context.Context, tenantID uuid.UUID, eventType string) ([]*EventRecord, error)
	// FindByAggregateType returns records of one aggregate type, ascending.
	FindByAggregateType(ctx context.Context, tenantID uuid.UUID, aggregateType string) ([]*EventRecord, error)
	// CountByTenant returns the total record count for the tenant.
	CountByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error)
	// TagSnapshot marks the aggregate's records occurring strictly after
	// the reference event with a snapshot pointer and returns how many rows
	// were tagged. A missing reference event is ErrNotFound.
	TagSnapshot(ctx context.Context, tenantID, aggregateID, snapshotID, afterEventID uuid.UUID) (int64, error)
	// Redact erases one record's payload in place, replacing it with
	// RedactionMarker. A missing record is ErrNotFound.
	Redact(ctx context.Context, tenantID, eventID uuid.UUID) error
	// WipeTenant deletes all records for a tenant and returns how many rows
	// were removed. Intended for test and offboarding paths only.
	WipeTenant(ctx context.Context, tenantID uuid.UUID) (int64, error)
}
