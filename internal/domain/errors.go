package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTokenNotFound       = errors.New("token not found")
	ErrDuplicateToken      = errors.New("token already registered")
	ErrInvalidAddress      = errors.New("invalid contract address")

	// ErrDuplicateIdempotencyKey signals a create racing an existing record.
	// Callers resolve it by returning the already persisted record.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")

	// ErrBusy is returned when the submission queue is at capacity.
	ErrBusy = errors.New("submission queue is full")
)

// ValidationError marks bad input. It is never retried and surfaces
// immediately to the caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
