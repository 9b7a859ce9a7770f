package engine

import (
	"errors"
	"fmt"

	"github.com/avaraline/incarnator/internal/stator"
)

// HandlerError wraps a failure returned or raised by a state handler.
//
// It carries enough context to find the entity again: the model, the entity
// id and the state the handler ran for.
type HandlerError struct {
	// Model is the name of the model whose handler failed.
	Model string

	// EntityID identifies the entity being processed.
	EntityID string

	// State is the state the handler was invoked for.
	State stator.StateName

	// Err is the underlying error. For panics it describes the panic value.
	Err error

	// Panic is set when the handler panicked instead of returning.
	Panic bool
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	kind := "failed"
	if e.Panic {
		kind = "panicked"
	}
	return fmt.Sprintf("%s handler for %s %s %s: %v", e.Model, e.State, e.EntityID, kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// IsPanic returns true if the error is a recovered handler panic.
// Uses errors.As to handle wrapped errors.
func IsPanic(err error) bool {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Panic
	}
	return false
}

// IsHandlerError returns true if the error came from a state handler.
func IsHandlerError(err error) bool {
	var he *HandlerError
	return errors.As(err, &he)
}
