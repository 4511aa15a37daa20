package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by ValidationError
	ErrValidation = errors.New("validation failed")
	// ErrDuplicate is matched by DuplicateError
	ErrDuplicate = errors.New("duplicate record")
	// ErrInvalidState is matched by InvalidStateError
	ErrInvalidState = errors.New("invalid state transition")
	// ErrStorage is matched by StorageError
	ErrStorage = errors.New("storage failure")
	// ErrNotFound is matched by NotFoundError
	ErrNotFound = errors.New("not found")
)

// ValidationError reports a missing or malformed input field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validation builds a ValidationError
func Validation(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// DuplicateError reports a uniqueness violation on create
type DuplicateError struct {
	Key string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate record: %s", e.Key)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

// InvalidStateError reports a transition attempted from an ineligible state
type InvalidStateError struct {
	ID        string
	Current   string
	Attempted string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state transition for %s: cannot move from %s to %s", e.ID, e.Current, e.Attempted)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// NotFoundError reports a lookup by id that matched nothing
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StorageError wraps a backing-store failure. The engine never retries it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError unless it is nil or already
// classified by this package.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClassified(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsClassified reports whether err already belongs to the taxonomy
func IsClassified(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicate) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrNotFound)
}
