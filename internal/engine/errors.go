package engine

import (
	"errors"
	"fmt"
)

// ValidationError is a malformed ping or request field. Never retried server-side.
type ValidationError struct {
	Field   string
	Message string
	Err     error // Underlying cause, e.g. geo.ErrInvalidCoordinate
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrAlreadyOnShift   = errors.New("driver is already on shift")
	ErrNotOnShift       = errors.New("driver is not on shift")
	ErrAlertNotFound    = errors.New("stagnation alert not found")
	ErrAlertNotActive   = errors.New("stagnation alert is no longer active")
	ErrGeofenceNotFound = errors.New("geofence not found")
	ErrBatchTooLarge    = errors.New("batch exceeds maximum size")
)

// IsValidation reports whether err is (or wraps) a *ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
