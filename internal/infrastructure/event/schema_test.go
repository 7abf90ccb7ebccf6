package event

import (
	"testing"

	"github.com/devtrack/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSchema(t *testing.T) {
	event := newTestEvent("TaskCreated", uuid.New())
	schema := Schema{
		"event_id": FieldString,
		"title":    FieldString,
	}

	assert.NoError(t, ValidateSchema(event, schema))
}

func TestValidateSchema_NilEvent(t *testing.T) {
	err := ValidateSchema(nil, Schema{})

	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestValidateSchema_MissingField(t *testing.T) {
	event := newTestEvent("TaskCreated", uuid.New())
	schema := Schema{
		"title":    FieldString,
		"assignee": FieldString,
	}

	err := ValidateSchema(event, schema)

	require.Error(t, err)
	var validationErr *SchemaValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, []string{"assignee"}, validationErr.Missing)
	assert.Empty(t, validationErr.Mismatched)
}

func TestValidateSchema_MismatchedField(t *testing.T) {
	event := newTestEvent("TaskCreated", uuid.New())
	schema := Schema{
		"title": FieldNumber,
	}

	err := ValidateSchema(event, schema)

	require.Error(t, err)
	var validationErr *SchemaValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Empty(t, validationErr.Missing)
	require.Len(t, validationErr.Mismatched, 1)
	assert.Contains(t, validationErr.Mismatched[0], "title")
}

func TestValidatePayload(t *testing.T) {
	payload := map[string]any{
		"title":    "fix flaky build",
		"estimate": float64(3),
		"urgent":   true,
		"labels":   []any{"ci", "build"},
		"reporter": map[string]any{"name": "dev"},
		"dangling": nil,
	}
	schema := Schema{
		"title":    FieldString,
		"estimate": FieldNumber,
		"urgent":   FieldBoolean,
		"labels":   FieldArray,
		"reporter": FieldObject,
	}

	assert.NoError(t, ValidatePayload("TaskCreated", payload, schema))
}

func TestValidatePayload_NilValueCountsAsMissing(t *testing.T) {
	payload := map[string]any{"title": nil}
	schema := Schema{"title": FieldString}

	err := ValidatePayload("TaskCreated", payload, schema)

	require.Error(t, err)
	var validationErr *SchemaValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, []string{"title"}, validationErr.Missing)
}

func TestValidatePayload_ReportsAllProblemsSorted(t *testing.T) {
	payload := map[string]any{
		"estimate": "three",
		"urgent":   "yes",
	}
	schema := Schema{
		"title":    FieldString,
		"assignee": FieldString,
		"estimate": FieldNumber,
		"urgent":   FieldBoolean,
	}

	err := ValidatePayload("TaskCreated", payload, schema)

	require.Error(t, err)
	var validationErr *SchemaValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, []string{"assignee", "title"}, validationErr.Missing)
	require.Len(t, validationErr.Mismatched, 2)
	assert.Contains(t, err.Error(), "missing fields")
	assert.Contains(t, err.Error(), "mismatched fields")
	assert.Contains(t, err.Error(), "TaskCreated")
}
