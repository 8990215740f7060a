package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStoreUnavailable matches every StoreError.
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrSessionNotFound is returned by updates and lookups of unknown ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnidentified means no identity source was available for a request.
	ErrUnidentified = errors.New("session could not be identified")

	// ErrInvalidConfig is returned for config updates that violate the
	// config_name rules.
	ErrInvalidConfig = errors.New("invalid session config")
)

// StoreError represents a failure of the backing store.
type StoreError struct {
	Backend   string // Store backend ("sqlite")
	Operation string // Operation that failed ("upsert", "list", ...)
	Cause     error  // Underlying error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("session store error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is makes every StoreError match ErrStoreUnavailable.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// Busy reports whether the store was locked by another writer.
func (e *StoreError) Busy() bool {
	if e.Cause == nil {
		return false
	}
	msg := strings.ToLower(e.Cause.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_locked")
}

// NewStoreError creates a new StoreError.
func NewStoreError(backend, operation string, cause error) *StoreError {
	return &StoreError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}
