/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error categories in one place. Callers dispatch with errors.Is/As;
  the store and migrator wrap these with additional context.

ERROR CATEGORIES:
  1. Validation errors - A single record fails identity or unit rules
  2. Constraint errors - Legacy uniqueness constraints fired on a live write
  3. Migration errors  - Schema rebuild/replay failures (always rolled back)
  4. Concurrency errors - Lock-wait timeout, retriable by the caller

PROPAGATION POLICY:
  Validation errors reject only the offending record and are collected
  per-record in batch operations. Constraint and migration errors abort and
  roll back the operation that raised them. Concurrency errors are retried a
  bounded number of times internally before being surfaced. No error is ever
  converted into a silent no-op write.

SEE ALSO:
  - units.go: Produces ConversionError
  - store/sqlite: Produces ErrLegacyConstraint, ErrLockTimeout, MigrationError
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of every single-record rejection.
	ErrValidation = errors.New("record validation failed")

	// ErrUnconvertibleUnit is returned when a quantity cannot be expressed
	// in the category's basis unit. Never downgraded to a guess.
	ErrUnconvertibleUnit = fmt.Errorf("%w: unit not convertible to basis unit", ErrValidation)

	// ErrEmptyName is returned when a name normalizes to the empty string.
	ErrEmptyName = fmt.Errorf("%w: name is empty after normalization", ErrValidation)

	// ErrNegativeQty is returned for a negative incoming quantity.
	ErrNegativeQty = fmt.Errorf("%w: quantity is negative", ErrValidation)

	// ErrLegacyConstraint is returned when a uniqueness constraint narrower
	// than the canonical identity fires outside the migration path. The
	// store triggers a schema rebuild when it sees this; it is never swallowed.
	ErrLegacyConstraint = errors.New("legacy uniqueness constraint violated")

	// ErrLockTimeout is returned when a write could not acquire the database
	// within the bounded busy timeout. Safe to retry.
	ErrLockTimeout = errors.New("database lock wait timed out")

	// ErrMigration is the root of every schema rebuild failure. The
	// pre-migration table remains authoritative when this is returned.
	ErrMigration = errors.New("schema migration failed")

	// ErrNotFound is returned when a delete targets a missing row.
	ErrNotFound = errors.New("entry not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports why one record was rejected.
type ValidationError struct {
	Field  string // "name", "qty", "unit"
	Reason string
	Err    error // sentinel cause
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrValidation
}

// ConversionError reports a failed basis-unit conversion: which category,
// which unit, and why the required sub-values could not be derived.
type ConversionError struct {
	Category Category
	Unit     string
	Reason   string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert unit %q in category %q: %s", e.Unit, e.Category, e.Reason)
}

func (e *ConversionError) Unwrap() error { return ErrUnconvertibleUnit }

// MigrationError wraps a failure during schema rebuild or legacy replay.
type MigrationError struct {
	Step string // "detect", "rebuild", "replay", "version"
	Err  error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s: %v", e.Step, e.Err)
}

func (e *MigrationError) Unwrap() error { return ErrMigration }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation reports whether err rejects a single record (the rest of a
// batch may still proceed).
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsRetryable reports whether the operation might succeed if retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}
