package apperr

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"validation", Validation("reason", "is required"), ErrValidation},
		{"duplicate", &DuplicateError{Key: "TENANT_DOCUMENT/document/d1"}, ErrDuplicate},
		{"invalid state", &InvalidStateError{ID: "v1", Current: "VERIFIED", Attempted: "REJECTED"}, ErrInvalidState},
		{"not found", &NotFoundError{Kind: "verification", ID: "v1"}, ErrNotFound},
		{"storage", Storage("create verification", sql.ErrConnDone), ErrStorage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			wrapped := fmt.Errorf("failed to handle request: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
		})
	}
}

func TestStorageUnwrapsDriverError(t *testing.T) {
	err := Storage("find grants", sql.ErrConnDone)
	assert.ErrorIs(t, err, sql.ErrConnDone)

	var se *StorageError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "find grants", se.Op)
}

func TestStorageKeepsClassifiedErrors(t *testing.T) {
	original := &InvalidStateError{ID: "v1", Current: "REJECTED", Attempted: "VERIFIED"}
	err := Storage("transition", original)
	assert.Same(t, original, err)
	assert.False(t, errors.Is(err, ErrStorage))

	assert.Nil(t, Storage("noop", nil))
}

func TestValidationMessage(t *testing.T) {
	assert.Equal(t, "validation failed: reason: is required", Validation("reason", "is required").Error())
	assert.Equal(t, "validation failed: bad input", (&ValidationError{Message: "bad input"}).Error())
}
