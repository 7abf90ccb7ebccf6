package event

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/devtrack/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// InMemoryEventStore implements EventRecordStore with an in-memory log.
// It mirrors the relational store's semantics (duplicate detection, atomic
// batch append, ordering, tenant scoping) and is suitable for tests and
// single-process embedding.
type InMemoryEventStore struct {
	mu      sync.RWMutex
	records []*shared.EventRecord
	byID    map[uuid.UUID]*shared.EventRecord
}

// NewInMemoryEventStore creates an empty in-memory event record store
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		byID: make(map[uuid.UUID]*shared.EventRecord),
	}
}

// Append inserts exactly one record
func (s *InMemoryEventStore) Append(ctx context.Context, record *shared.EventRecord) error {
	if record == nil {
		return fmt.Errorf("append event record: %w", shared.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[record.EventID]; exists {
		return fmt.Errorf("append event %s: %w", record.EventID, shared.ErrDuplicateEvent)
	}
	s.insertLocked(record)
	return nil
}

// AppendBatch inserts all records or none of them
func (s *InMemoryEventStore) AppendBatch(ctx context.Context, records []*shared.EventRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uuid.UUID]struct{}, len(records))
	for i, record := range records {
		if record == nil {
			return fmt.Errorf("append event batch: record %d is nil: %w", i, shared.ErrInvalidInput)
		}
		if _, exists := s.byID[record.EventID]; exists {
			return fmt.Errorf("append event batch: %w", shared.ErrDuplicateEvent)
		}
		if _, dup := seen[record.EventID]; dup {
			return fmt.Errorf("append event batch: %w", shared.ErrDuplicateEvent)
		}
		seen[record.EventID] = struct{}{}
	}
	for _, record := range records {
		s.insertLocked(record)
	}
	return nil
}

// FindByAggregate returns the aggregate's ordered history
func (s *InMemoryEventStore) FindByAggregate(ctx context.Context, tenantID, aggregateID uuid.UUID) ([]*shared.EventRecord, error) {
	return s.collect(func(r *shared.EventRecord) bool {
		return r.TenantID == tenantID && r.AggregateID == aggregateID
	}), nil
}

// FindSince returns records that occurred strictly after the given time
func (s *InMemoryEventStore) FindSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]*shared.EventRecord, error) {
	return s.collect(func(r *shared.EventRecord) bool {
		return r.TenantID == tenantID && r.OccurredAt.After(since)
	}), nil
}

// FindByEventType returns all records of one event type
func (s *InMemoryEventStore) FindByEventType(ctx context.Context, tenantID uuid.UUID, eventType string) ([]*shared.EventRecord, error) {
	return s.collect(func(r *shared.EventRecord) bool {
		return r.TenantID == tenantID && r.EventType == eventType
	}), nil
}

// FindByAggregateType returns all records of one aggregate type
func (s *InMemoryEventStore) FindByAggregateType(ctx context.Context, tenantID uuid.UUID, aggregateType string) ([]*shared.EventRecord, error) {
	return s.collect(func(r *shared.EventRecord) bool {
		return r.TenantID == tenantID && r.AggregateType == aggregateType
	}), nil
}

// CountByTenant returns the total record count for the tenant
func (s *InMemoryEventStore) CountByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, r := range s.records {
		if r.TenantID == tenantID {
			count++
		}
	}
	return count, nil
}

// TagSnapshot marks records occurring strictly after the reference event
func (s *InMemoryEventStore) TagSnapshot(ctx context.Context, tenantID, aggregateID, snapshotID, afterEventID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, exists := s.byID[afterEventID]
	if !exists || ref.TenantID != tenantID {
		return 0, fmt.Errorf("snapshot reference event %s: %w", afterEventID, shared.ErrNotFound)
	}

	var tagged int64
	for _, r := range s.records {
		if r.TenantID != tenantID || r.AggregateID != aggregateID {
			continue
		}
		if occursAfter(r, ref) {
			id := snapshotID
			r.SnapshotID = &id
			tagged++
		}
	}
	return tagged, nil
}

// Redact erases one record's payload in place
func (s *InMemoryEventStore) Redact(ctx context.Context, tenantID, eventID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.byID[eventID]
	if !exists || r.TenantID != tenantID {
		return fmt.Errorf("redact event %s: %w", eventID, shared.ErrNotFound)
	}
	r.EventData = append([]byte(nil), shared.RedactionMarker...)
	r.IsRedacted = true
	return nil
}

// WipeTenant deletes all records for a tenant
func (s *InMemoryEventStore) WipeTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []*shared.EventRecord
	var removed int64
	for _, r := range s.records {
		if r.TenantID == tenantID {
			delete(s.byID, r.EventID)
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return removed, nil
}

// insertLocked stores a defensive copy; callers must hold the write lock
func (s *InMemoryEventStore) insertLocked(record *shared.EventRecord) {
	stored := record.Clone()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now().UTC()
	}
	if stored.EventVersion == "" {
		stored.EventVersion = shared.DefaultSchemaVersion
	}
	s.records = append(s.records, stored)
	s.byID[stored.EventID] = stored
}

// collect returns copies of matching records in (occurred_at, stored_at)
// order, with insertion order as the final tiebreak.
func (s *InMemoryEventStore) collect(match func(*shared.EventRecord) bool) []*shared.EventRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*shared.EventRecord, 0)
	for _, r := range s.records {
		if match(r) {
			result = append(result, r.Clone())
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].OccurredAt.Equal(result[j].OccurredAt) {
			return result[i].OccurredAt.Before(result[j].OccurredAt)
		}
		return result[i].StoredAt.Before(result[j].StoredAt)
	})
	return result
}

// occursAfter reports whether r comes strictly after ref in the
// (occurred_at, stored_at) order.
func occursAfter(r, ref *shared.EventRecord) bool {
	if r.OccurredAt.After(ref.OccurredAt) {
		return true
	}
	return r.OccurredAt.Equal(ref.OccurredAt) && r.StoredAt.After(ref.StoredAt)
}

// Ensure InMemoryEventStore implements EventRecordStore
var _ shared.EventRecordStore = (*InMemoryEventStore)(nil)
