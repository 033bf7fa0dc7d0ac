package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrClaimLost is returned when an event's claim token no longer matches,
// meaning another dispatcher took the event over after our claim went stale.
var ErrClaimLost = errors.New("event claim lost")

// DBError represents a database operation error with context
type DBError struct {
	Operation string
	Err       error
}

// Error implements the error interface
func (e *DBError) Error() string {
	return fmt.Sprintf("database error in %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *DBError) Unwrap() error {
	return e.Err
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       interface{}
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("%s not found: %v", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// ValidationError represents a validation error
type ValidationError struct {
	Field  string
	Reason string
	Value  interface{}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed for field '%s': %s (value: %v)", e.Field, e.Reason, e.Value)
	}
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Reason)
}

// WrapDBError wraps a database error with operation context.
// ErrClaimLost and NotFoundError pass through unwrapped so callers can
// classify them without digging.
func WrapDBError(operation string, err error) error {
	if err == nil {
		return nil
	}
	var nf *NotFoundError
	if errors.Is(err, ErrClaimLost) || errors.As(err, &nf) {
		return err
	}
	return &DBError{
		Operation: operation,
		Err:       err,
	}
}

// NewNotFoundErrorWithID creates a new NotFoundError with an ID
func NewNotFoundErrorWithID(resource string, id interface{}) error {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// NewValidationErrorWithValue creates a new ValidationError with a value
func NewValidationErrorWithValue(field, reason string, value interface{}) error {
	return &ValidationError{
		Field:  field,
		Reason: reason,
		Value:  value,
	}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsDataError reports whether err carries a Postgres data exception (SQLSTATE
// class 22) or integrity constraint violation (class 23). Those are caused by
// the row being written and fail the same way on every retry.
func IsDataError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")
}

// IsSystemic reports whether err means storage itself is failing: a DBError
// that is not a data error.
func IsSystemic(err error) bool {
	var dbErr *DBError
	return errors.As(err, &dbErr) && !IsDataError(err)
}
