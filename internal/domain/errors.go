package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected before any store call.
	ErrValidation = errors.New("validation failed")
	// ErrNotAuthenticated is returned when a store call needs a principal and there is none.
	ErrNotAuthenticated = errors.New("You need to be logged in")
	// ErrListenFailed marks a failure reported by a store subscription.
	ErrListenFailed = errors.New("listen failed")
	// ErrWriteFailed marks a failure reported by a store mutation.
	ErrWriteFailed = errors.New("write failed")
	// ErrNotFound is returned when a referenced deck, card or session card is absent.
	ErrNotFound = errors.New("not found")
)

// ValidationError describes a rejected field. Message is shown to the user as is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

type storeError struct {
	kind   error
	prefix string
	cause  error
}

func (e *storeError) Error() string {
	return fmt.Sprintf("%s: %v", e.prefix, e.cause)
}

func (e *storeError) Is(target error) bool {
	return target == e.kind
}

func (e *storeError) Unwrap() error {
	return e.cause
}

// ListenFailed wraps a subscription failure. Its message reads "Listen failed: <cause>".
func ListenFailed(cause error) error {
	return &storeError{kind: ErrListenFailed, prefix: "Listen failed", cause: cause}
}

// WriteFailed wraps a mutation failure. Its message reads "<Verb> failed: <cause>",
// where the verb follows the operation.
func WriteFailed(op Op, cause error) error {
	return &storeError{kind: ErrWriteFailed, prefix: op.verb() + " failed", cause: cause}
}
