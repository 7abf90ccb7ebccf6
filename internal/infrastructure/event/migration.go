package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/devtrack/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// TransformFunc upgrades an event payload map by exactly one schema version.
// Transforms must be pure with respect to the stored record; they receive a
// freshly decoded map and return the upgraded map.
type TransformFunc func(payload map[string]any) (map[string]any, error)

// MigrationError reports a failed migration step. It names the event type
// and the failing version transition and unwraps to the transform's error.
type MigrationError struct {
	EventType   string
	FromVersion string
	ToVersion   string
	Err         error
}

// Error implements the error interface
func (e *MigrationError) Error() string {
	return fmt.Sprintf("migrate %s from %s to %s: %v", e.EventType, e.FromVersion, e.ToVersion, e.Err)
}

// Unwrap returns the underlying transform error
func (e *MigrationError) Unwrap() error {
	return e.Err
}

// envelopeDataKeys lists the JSON keys of the fixed event envelope inside a
// record's event data, mirroring BaseDomainEvent's tags. Transforms may only
// reshape keys outside this set; event_version is the one envelope key the
// engine itself rewrites.
var envelopeDataKeys = []string{
	"event_id",
	"event_type",
	"aggregate_id",
	"aggregate_type",
	"tenant_id",
	"occurred_at",
	"user_id",
	"aggregate_version",
	"metadata",
}

const versionDataKey = "event_version"

// MigrationRegistry holds per-event-type version transforms and tracks each
// type's latest known version. It is built once at wiring time and handed to
// the publication pipeline; registration is write-once-then-read-mostly.
type MigrationRegistry struct {
	mu         sync.RWMutex
	transforms map[string]map[string]TransformFunc // eventType -> "v1->v2" -> transform
	latest     map[string]string                   // eventType -> latest version
	logger     *zap.Logger

	migrated     atomic.Int64
	skippedSteps atomic.Int64
	failed       atomic.Int64
}

// NewMigrationRegistry creates an empty migration registry
func NewMigrationRegistry(logger *zap.Logger) *MigrationRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MigrationRegistry{
		transforms: make(map[string]map[string]TransformFunc),
		latest:     make(map[string]string),
		logger:     logger,
	}
}

// Register stores a transform for one version step of an event type and
// moves the type's latest-version marker to toVersion. The last registration
// for a type wins as the frontier. Steps must be consecutive ("v<N>" to
// "v<N+1>").
func (r *MigrationRegistry) Register(eventType, fromVersion, toVersion string, transform TransformFunc) error {
	if eventType == "" {
		return fmt.Errorf("register migration: event type is empty: %w", shared.ErrInvalidInput)
	}
	if transform == nil {
		return fmt.Errorf("register migration for %s: transform is nil: %w", eventType, shared.ErrInvalidInput)
	}

	fromNum := versionNumber(fromVersion)
	toNum := versionNumber(toVersion)
	if toNum != fromNum+1 {
		return fmt.Errorf("register migration for %s: step must be sequential, got %s -> %s", eventType, fromVersion, toVersion)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	steps, ok := r.transforms[eventType]
	if !ok {
		steps = make(map[string]TransformFunc)
		r.transforms[eventType] = steps
	}
	steps[stepKey(fromNum)] = transform
	r.latest[eventType] = toVersion

	r.logger.Debug("registered event migration",
		zap.String("event_type", eventType),
		zap.String("from_version", versionString(fromNum)),
		zap.String("to_version", versionString(toNum)),
	)
	return nil
}

// LatestVersion returns the tracked latest version for an event type, or
// the default version for unknown types.
func (r *MigrationRegistry) LatestVersion(eventType string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if latest, ok := r.latest[eventType]; ok {
		return latest
	}
	return shared.DefaultSchemaVersion
}

// NeedsMigration reports whether the record's version differs from its
// type's latest version. A missing record version counts as the default.
func (r *MigrationRegistry) NeedsMigration(record *shared.EventRecord) bool {
	if record == nil {
		return false
	}
	return record.Version() != r.LatestVersion(record.EventType)
}

// Migrate upgrades a record to its type's latest version by applying each
// consecutive version step in order. The input record is never mutated; a
// new record is returned whenever at least one step applies. A missing step
// stops the walk with a warning and the record stays below latest. A failing
// or panicking transform aborts with a MigrationError.
func (r *MigrationRegistry) Migrate(record *shared.EventRecord) (*shared.EventRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("migrate record: %w", shared.ErrInvalidInput)
	}

	current := record.Version()
	latest := r.LatestVersion(record.EventType)
	if current == latest {
		return record, nil
	}

	currentNum := versionNumber(current)
	latestNum := versionNumber(latest)
	if currentNum >= latestNum {
		return record, nil
	}

	data, err := record.DataMap()
	if err != nil {
		return nil, &MigrationError{
			EventType:   record.EventType,
			FromVersion: current,
			ToVersion:   latest,
			Err:         fmt.Errorf("decode event data: %w", err),
		}
	}
	envelope := captureEnvelope(data)

	version := current
	for step := currentNum; step < latestNum; step++ {
		transform := r.transformFor(record.EventType, step)
		if transform == nil {
			r.skippedSteps.Add(1)
			r.logger.Warn("missing migration step, record stays below latest version",
				zap.String("event_type", record.EventType),
				zap.String("event_id", record.EventID.String()),
				zap.String("from_version", versionString(step)),
				zap.String("to_version", versionString(step+1)),
			)
			break
		}

		data, err = applyTransform(transform, data)
		if err != nil {
			r.failed.Add(1)
			return nil, &MigrationError{
				EventType:   record.EventType,
				FromVersion: versionString(step),
				ToVersion:   versionString(step + 1),
				Err:         err,
			}
		}
		version = versionString(step + 1)
		data[versionDataKey] = version
	}

	if version == current {
		return record, nil
	}

	restoreEnvelope(data, envelope)
	data[versionDataKey] = version

	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, &MigrationError{
			EventType:   record.EventType,
			FromVersion: current,
			ToVersion:   version,
			Err:         fmt.Errorf("encode event data: %w", err),
		}
	}

	migrated := record.Clone()
	migrated.EventVersion = version
	migrated.EventData = encoded
	r.migrated.Add(1)
	return migrated, nil
}

// ValidateChain checks at wiring time that every step from the default
// version up to the type's latest is registered, reporting all gaps.
func (r *MigrationRegistry) ValidateChain(eventType string) error {
	latestNum := versionNumber(r.LatestVersion(eventType))

	r.mu.RLock()
	defer r.mu.RUnlock()

	steps := r.transforms[eventType]
	var missing []string
	for v := 1; v < latestNum; v++ {
		if _, ok := steps[stepKey(v)]; !ok {
			missing = append(missing, fmt.Sprintf("%s->%s", versionString(v), versionString(v+1)))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("migration chain for %s has gaps: %s", eventType, strings.Join(missing, ", "))
	}
	return nil
}

// RegisteredTypes returns all event types with at least one registered step
func (r *MigrationRegistry) RegisteredTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.transforms))
	for t := range r.transforms {
		types = append(types, t)
	}
	return types
}

// MigrationStatsSnapshot is a point-in-time view of the registry's counters
type MigrationStatsSnapshot struct {
	Migrated     int64
	SkippedSteps int64
	Failed       int64
}

// Stats returns the registry's migration counters
func (r *MigrationRegistry) Stats() MigrationStatsSnapshot {
	return MigrationStatsSnapshot{
		Migrated:     r.migrated.Load(),
		SkippedSteps: r.skippedSteps.Load(),
		Failed:       r.failed.Load(),
	}
}

func (r *MigrationRegistry) transformFor(eventType string, fromNum int) TransformFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()

	steps, ok := r.transforms[eventType]
	if !ok {
		return nil
	}
	return steps[stepKey(fromNum)]
}

// applyTransform runs one transform, turning panics into errors so a broken
// transform surfaces as a MigrationError instead of crashing replay.
func applyTransform(transform TransformFunc, data map[string]any) (out map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = fmt.Errorf("transform panicked: %v", rec)
		}
	}()

	out, err = transform(data)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("transform returned nil payload")
	}
	return out, nil
}

// captureEnvelope remembers the envelope keys present before the chain runs
func captureEnvelope(data map[string]any) map[string]any {
	captured := make(map[string]any, len(envelopeDataKeys))
	for _, key := range envelopeDataKeys {
		if value, ok := data[key]; ok {
			captured[key] = value
		}
	}
	return captured
}

// restoreEnvelope reasserts the original envelope after the chain, removing
// envelope keys a transform invented and restoring any it changed.
func restoreEnvelope(data, captured map[string]any) {
	for _, key := range envelopeDataKeys {
		if value, ok := captured[key]; ok {
			data[key] = value
		} else {
			delete(data, key)
		}
	}
}

// versionNumber parses the numeric suffix of a "v<N>" version string.
// Non-numeric or missing suffixes default to 1.
func versionNumber(version string) int {
	trimmed := strings.TrimPrefix(version, "v")
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func versionString(n int) string {
	return "v" + strconv.Itoa(n)
}

func stepKey(fromNum int) string {
	return fmt.Sprintf("v%d->v%d", fromNum, fromNum+1)
}

// Transforms provides constructors for common payload migration patterns
type Transforms struct{}

// AddField creates a transform that sets a field to a default value
func (Transforms) AddField(fieldName string, defaultValue any) TransformFunc {
	return func(data map[string]any) (map[string]any, error) {
		data[fieldName] = defaultValue
		return data, nil
	}
}

// RemoveField creates a transform that removes a field
func (Transforms) RemoveField(fieldName string) TransformFunc {
	return func(data map[string]any) (map[string]any, error) {
		delete(data, fieldName)
		return data, nil
	}
}

// RenameField creates a transform that renames a field when present
func (Transforms) RenameField(oldName, newName string) TransformFunc {
	return func(data map[string]any) (map[string]any, error) {
		if value, ok := data[oldName]; ok {
			data[newName] = value
			delete(data, oldName)
		}
		return data, nil
	}
}

// TransformField creates a transform that rewrites a field value when present
func (Transforms) TransformField(fieldName string, fn func(any) any) TransformFunc {
	return func(data map[string]any) (map[string]any, error) {
		if value, ok := data[fieldName]; ok {
			data[fieldName] = fn(value)
		}
		return data, nil
	}
}

// MergeFields creates a transform that folds several fields into one
func (Transforms) MergeFields(fieldNames []string, targetName string, merge func(map[string]any) any) TransformFunc {
	return func(data map[string]any) (map[string]any, error) {
		values := make(map[string]any)
		for _, name := range fieldNames {
			if value, ok := data[name]; ok {
				values[name] = value
				delete(data, name)
			}
		}
		data[targetName] = merge(values)
		return data, nil
	}
}
