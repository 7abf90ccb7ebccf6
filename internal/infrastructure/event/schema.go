package event

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/devtrack/backend/internal/domain/shared"
)

// FieldType names a JSON primitive kind for schema validation
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldObject  FieldType = "object"
	FieldArray   FieldType = "array"
)

// Schema describes the expected shape of an event payload: field name to
// expected JSON kind.
type Schema map[string]FieldType

// SchemaValidationError lists the fields of a payload that are missing or
// carry the wrong kind of value.
type SchemaValidationError struct {
	EventType  string
	Missing    []string
	Mismatched []string
}

// Error implements the error interface
func (e *SchemaValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing fields: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Mismatched) > 0 {
		parts = append(parts, fmt.Sprintf("mismatched fields: %s", strings.Join(e.Mismatched, ", ")))
	}
	return fmt.Sprintf("event %s failed schema validation: %s", e.EventType, strings.Join(parts, "; "))
}

// ValidateSchema structurally checks an event against a schema. It is a
// defensive check; no core operation aborts on a validation failure.
func ValidateSchema(event shared.DomainEvent, schema Schema) error {
	if event == nil {
		return fmt.Errorf("validate schema: %w", shared.ErrInvalidInput)
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("validate schema for %s: encode event: %w", event.EventType(), err)
	}
	payload := make(map[string]any)
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("validate schema for %s: decode event: %w", event.EventType(), err)
	}
	return ValidatePayload(event.EventType(), payload, schema)
}

// ValidatePayload structurally checks a payload map against a schema
func ValidatePayload(eventType string, payload map[string]any, schema Schema) error {
	result := &SchemaValidationError{EventType: eventType}

	for field, expected := range schema {
		value, ok := payload[field]
		if !ok || value == nil {
			result.Missing = append(result.Missing, field)
			continue
		}
		if !matchesFieldType(value, expected) {
			result.Mismatched = append(result.Mismatched, fmt.Sprintf("%s (want %s)", field, expected))
		}
	}

	if len(result.Missing) == 0 && len(result.Mismatched) == 0 {
		return nil
	}
	sort.Strings(result.Missing)
	sort.Strings(result.Mismatched)
	return result
}

// matchesFieldType checks a decoded JSON value against an expected kind
func matchesFieldType(value any, expected FieldType) bool {
	switch expected {
	case FieldString:
		_, ok := value.(string)
		return ok
	case FieldNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64, json.Number:
			return true
		}
		return false
	case FieldBoolean:
		_, ok := value.(bool)
		return ok
	case FieldObject:
		_, ok := value.(map[string]any)
		return ok
	case FieldArray:
		_, ok := value.([]any)
		return ok
	default:
		return false
	}
}
