package event

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devtrack/backend/internal/domain/shared"
	"github.com/devtrack/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormEventStore implements EventRecordStore on a relational database using
// GORM. All queries go through EventRecordModel so the table layout is
// defined in exactly one place.
type GormEventStore struct {
	db *gorm.DB
}

// NewGormEventStore creates a new GORM-backed event record store
func NewGormEventStore(db *gorm.DB) *GormEventStore {
	return &GormEventStore{db: db}
}

// WithTx returns a new store instance bound to the given transaction
func (s *GormEventStore) WithTx(tx *gorm.DB) *GormEventStore {
	return &GormEventStore{db: tx}
}

// Append inserts exactly one record
func (s *GormEventStore) Append(ctx context.Context, record *shared.EventRecord) error {
	if record == nil {
		return fmt.Errorf("append event record: %w", shared.ErrInvalidInput)
	}

	model := models.EventRecordModelFromDomain(record)
	stampStored(model)

	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("append event %s: %w", record.EventID, shared.ErrDuplicateEvent)
		}
		return fmt.Errorf("append event %s: %w", record.EventID, err)
	}
	return nil
}

// AppendBatch inserts all records as one atomic multi-row insert. Either
// every row becomes visible or none does.
func (s *GormEventStore) AppendBatch(ctx context.Context, records []*shared.EventRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := make([]*models.EventRecordModel, len(records))
	for i, record := range records {
		if record == nil {
			return fmt.Errorf("append event batch: record %d is nil: %w", i, shared.ErrInvalidInput)
		}
		model := models.EventRecordModelFromDomain(record)
		stampStored(model)
		batch[i] = model
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(batch).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("append event batch: %w", shared.ErrDuplicateEvent)
		}
		return fmt.Errorf("append event batch: %w", err)
	}
	return nil
}

// FindByAggregate returns the aggregate's history ordered by business time,
// with append time breaking ties.
func (s *GormEventStore) FindByAggregate(ctx context.Context, tenantID, aggregateID uuid.UUID) ([]*shared.EventRecord, error) {
	var rows []*models.EventRecordModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND aggregate_id = ?", tenantID, aggregateID).
		Order("occurred_at ASC, stored_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find events for aggregate %s: %w", aggregateID, err)
	}
	return toDomainRecords(rows), nil
}

// FindSince returns records that occurred strictly after the given time
func (s *GormEventStore) FindSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]*shared.EventRecord, error) {
	var rows []*models.EventRecordModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND occurred_at > ?", tenantID, since).
		Order("occurred_at ASC, stored_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find events since %s: %w", since.Format(time.RFC3339), err)
	}
	return toDomainRecords(rows), nil
}

// FindByEventType returns all records of one event type
func (s *GormEventStore) FindByEventType(ctx context.Context, tenantID uuid.UUID, eventType string) ([]*shared.EventRecord, error) {
	var rows []*models.EventRecordModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND event_type = ?", tenantID, eventType).
		Order("occurred_at ASC, stored_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find events of type %s: %w", eventType, err)
	}
	return toDomainRecords(rows), nil
}

// FindByAggregateType returns all records of one aggregate type
func (s *GormEventStore) FindByAggregateType(ctx context.Context, tenantID uuid.UUID, aggregateType string) ([]*shared.EventRecord, error) {
	var rows []*models.EventRecordModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND aggregate_type = ?", tenantID, aggregateType).
		Order("occurred_at ASC, stored_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find events of aggregate type %s: %w", aggregateType, err)
	}
	return toDomainRecords(rows), nil
}

// CountByTenant returns the total record count for the tenant
func (s *GormEventStore) CountByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.EventRecordModel{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count events for tenant %s: %w", tenantID, err)
	}
	return count, nil
}

// TagSnapshot marks records occurring strictly after the reference event
// with a snapshot pointer. Correctness of replay never depends on tags; they
// only let a future replay skip already-folded history.
func (s *GormEventStore) TagSnapshot(ctx context.Context, tenantID, aggregateID, snapshotID, afterEventID uuid.UUID) (int64, error) {
	var tagged int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ref models.EventRecordModel
		err := tx.
			Where("tenant_id = ? AND event_id = ?", tenantID, afterEventID).
			First(&ref).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("snapshot reference event %s: %w", afterEventID, shared.ErrNotFound)
			}
			return err
		}

		result := tx.Model(&models.EventRecordModel{}).
			Where("tenant_id = ? AND aggregate_id = ?", tenantID, aggregateID).
			Where("occurred_at > ? OR (occurred_at = ? AND stored_at > ?)", ref.OccurredAt, ref.OccurredAt, ref.StoredAt).
			Update("snapshot_id", snapshotID)
		if result.Error != nil {
			return result.Error
		}
		tagged = result.RowsAffected
		return nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("tag snapshot for aggregate %s: %w", aggregateID, err)
	}
	return tagged, nil
}

// Redact erases one record's payload in place
func (s *GormEventStore) Redact(ctx context.Context, tenantID, eventID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Model(&models.EventRecordModel{}).
		Where("tenant_id = ? AND event_id = ?", tenantID, eventID).
		Updates(map[string]interface{}{
			"event_data":  shared.RedactionMarker,
			"is_redacted": true,
		})
	if result.Error != nil {
		return fmt.Errorf("redact event %s: %w", eventID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("redact event %s: %w", eventID, shared.ErrNotFound)
	}
	return nil
}

// WipeTenant deletes all records for a tenant
func (s *GormEventStore) WipeTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Delete(&models.EventRecordModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("wipe tenant %s: %w", tenantID, result.Error)
	}
	return result.RowsAffected, nil
}

// stampStored assigns the append timestamp when the caller left it zero
func stampStored(model *models.EventRecordModel) {
	if model.StoredAt.IsZero() {
		model.StoredAt = time.Now().UTC()
	}
	if model.EventVersion == "" {
		model.EventVersion = shared.DefaultSchemaVersion
	}
}

func toDomainRecords(rows []*models.EventRecordModel) []*shared.EventRecord {
	records := make([]*shared.EventRecord, len(rows))
	for i, row := range rows {
		records[i] = row.ToDomain()
	}
	return records
}

// isDuplicateKey recognizes primary-key violations across the dialects this
// store runs on, with or without GORM error translation enabled.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// Ensure GormEventStore implements EventRecordStore
var _ shared.EventRecordStore = (*GormEventStore)(nil)
