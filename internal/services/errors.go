package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrUserNotFound indicates the requesting user does not exist.
	ErrUserNotFound = errors.New("order: user not found")
	// ErrInvalidStatusTransition indicates a transition outside the whitelist.
	ErrInvalidStatusTransition = errors.New("order: invalid status transition")
	// ErrAlreadyConfirmed indicates payment confirmation was already recorded.
	ErrAlreadyConfirmed = errors.New("order: payment already confirmed")
	// ErrOrderNumberExhausted indicates the generator ran out of retry
	// attempts without finding an unclaimed number.
	ErrOrderNumberExhausted = errors.New("order: order number attempts exhausted")
	// ErrOrderConflict indicates duplicates or concurrent-update conflicts.
	ErrOrderConflict = errors.New("order: conflict")
)

// FieldError is one field-scoped validation failure.
type FieldError struct {
	Field   string
	Code    string
	Message string
	// Requested and Available carry quantities for inventory shortfalls so
	// clients can adjust without guesswork.
	Requested int
	Available int
}

// ValidationError aggregates every violation found in one validation pass.
type ValidationError struct {
	Errors []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewValidationError wraps the collected field errors, or returns nil when
// there are none.
func NewValidationError(fields []FieldError) error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Errors: fields}
}

// AsValidationError unwraps a ValidationError when the chain carries one.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
