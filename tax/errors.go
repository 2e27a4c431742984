/*
errors.go - Centralized error types for the tax engine

ERROR CATEGORIES:
  1. Date errors       - Query or event date fails strict parsing
  2. Repository errors - A store failed while fetching or appending
  3. Event errors      - Malformed stored records (skipped, never surfaced)
  4. Ingestion errors  - Invalid events rejected before they are stored

PROPAGATION:
  The resolution engine recovers from nothing. It returns either a fully
  resolved position or one of the caller-visible errors below, unmodified.
  There is no retry logic in this package.

USAGE:
  if errors.Is(err, tax.ErrInvalidDateFormat) {
      // 400 Bad Request
  }
*/
package tax

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidDateFormat is returned when a date string fails strict
	// ISO-8601 parsing or calendar validation.
	ErrInvalidDateFormat = errors.New("invalid date format")

	// ErrRepository matches every *RepositoryError.
	ErrRepository = errors.New("repository failure")

	// ErrMalformedEvent matches every *MalformedEventError.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrInvalidEvent is returned by the ledger when an event is rejected
	// before it reaches the store.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrDuplicateIdempotencyKey is returned when an event with the same
	// idempotency key was already stored. Expected on client retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DateFormatError describes why a date string was rejected.
type DateFormatError struct {
	Input  string
	Reason string
}

func (e *DateFormatError) Error() string {
	return fmt.Sprintf("invalid date format %q: %s", e.Input, e.Reason)
}

func (e *DateFormatError) Unwrap() error { return ErrInvalidDateFormat }

// RepositoryError wraps a failure raised by a store.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() []error { return []error{ErrRepository, e.Err} }

// MalformedEventError names the record and the missing field that caused a
// record to be skipped.
type MalformedEventError struct {
	Kind  string // "SALES", "TAX_PAYMENT", "AMENDMENT", "ITEM"
	ID    string
	Field string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s event %s: missing %s", e.Kind, e.ID, e.Field)
}

func (e *MalformedEventError) Unwrap() error { return ErrMalformedEvent }

// ValidationError describes a rejected ingestion field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidEvent }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidDateFormat) ||
		errors.Is(err, ErrInvalidEvent)
}

// IsConflict returns true if the error is a duplicate write.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey)
}
