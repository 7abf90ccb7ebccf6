package models

import (
	"time"

	"github.com/devtrack/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// EventRecordModel is the persistence model for the append-only domain
// event log. Rows are never updated after insert except for snapshot
// tagging and redaction.
type EventRecordModel struct {
	EventID       uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TenantID      uuid.UUID  `gorm:"type:uuid;not null;index:idx_domain_events_tenant_aggregate,priority:1;index:idx_domain_events_tenant_type,priority:1;index:idx_domain_events_tenant_occurred,priority:1;index:idx_domain_events_tenant_aggregate_type,priority:1"`
	AggregateID   uuid.UUID  `gorm:"type:uuid;not null;index:idx_domain_events_tenant_aggregate,priority:2"`
	AggregateType string     `gorm:"type:varchar(100);not null;index:idx_domain_events_tenant_aggregate_type,priority:2"`
	EventType     string     `gorm:"type:varchar(100);not null;index:idx_domain_events_tenant_type,priority:2"`
	EventVersion  string     `gorm:"type:varchar(20);not null;default:v1"`
	OccurredAt    time.Time  `gorm:"not null;index:idx_domain_events_tenant_occurred,priority:2"`
	StoredAt      time.Time  `gorm:"not null"`
	EventData     []byte     `gorm:"type:jsonb;not null"`
	Metadata      []byte     `gorm:"type:jsonb"`
	SnapshotID    *uuid.UUID `gorm:"type:uuid"`
	IsRedacted    bool       `gorm:"not null;default:false"`
}

// TableName returns the table name for GORM
func (EventRecordModel) TableName() string {
	return "domain_events"
}

// ToDomain converts the persistence model to a domain EventRecord
func (m *EventRecordModel) ToDomain() *shared.EventRecord {
	return &shared.EventRecord{
		EventID:       m.EventID,
		TenantID:      m.TenantID,
		AggregateID:   m.AggregateID,
		AggregateType: m.AggregateType,
		EventType:     m.EventType,
		EventVersion:  m.EventVersion,
		OccurredAt:    m.OccurredAt,
		StoredAt:      m.StoredAt,
		EventData:     m.EventData,
		Metadata:      m.Metadata,
		SnapshotID:    m.SnapshotID,
		IsRedacted:    m.IsRedacted,
	}
}

// FromDomain populates the persistence model from a domain EventRecord
func (m *EventRecordModel) FromDomain(r *shared.EventRecord) {
	m.EventID = r.EventID
	m.TenantID = r.TenantID
	m.AggregateID = r.AggregateID
	m.AggregateType = r.AggregateType
	m.EventType = r.EventType
	m.EventVersion = r.EventVersion
	m.OccurredAt = r.OccurredAt
	m.StoredAt = r.StoredAt
	m.EventData = r.EventData
	m.Metadata = r.Metadata
	m.SnapshotID = r.SnapshotID
	m.IsRedacted = r.IsRedacted
}

// EventRecordModelFromDomain creates a new persistence model from a domain
// EventRecord
func EventRecordModelFromDomain(r *shared.EventRecord) *EventRecordModel {
	m := &EventRecordModel{}
	m.FromDomain(r)
	return m
}
