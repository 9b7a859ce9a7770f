package stator

import (
	"errors"
	"fmt"
)

// ValidationCode categorizes graph and model validation failures.
type ValidationCode string

const (
	ErrCodeNoInitial         ValidationCode = "NO_INITIAL"
	ErrCodeMultipleInitial   ValidationCode = "MULTIPLE_INITIAL"
	ErrCodeDuplicateState    ValidationCode = "DUPLICATE_STATE"
	ErrCodeUndeclaredState   ValidationCode = "UNDECLARED_STATE"
	ErrCodeUnreachableState  ValidationCode = "UNREACHABLE_STATE"
	ErrCodeMissingInterval   ValidationCode = "MISSING_INTERVAL"
	ErrCodeBadTimeout        ValidationCode = "BAD_TIMEOUT"
	ErrCodeTerminalTiming    ValidationCode = "TERMINAL_TIMING"
	ErrCodeHandlerOnExternal ValidationCode = "HANDLER_ON_EXTERNAL"
	ErrCodeHandlerOnTerminal ValidationCode = "HANDLER_ON_TERMINAL"
	ErrCodeMissingHandler    ValidationCode = "MISSING_HANDLER"
	ErrCodeDuplicateModel    ValidationCode = "DUPLICATE_MODEL"
)

// ValidationError is returned when a graph, model or registry is malformed.
type ValidationError struct {
	Graph   string
	Code    ValidationCode
	State   StateName
	Message string
}

func (e *ValidationError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("graph %s: %s: %s (state=%s)", e.Graph, e.Code, e.Message, e.State)
	}
	return fmt.Sprintf("graph %s: %s: %s", e.Graph, e.Code, e.Message)
}

// HasValidationCode reports whether err is a ValidationError with code.
func HasValidationCode(err error, code ValidationCode) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code == code
	}
	return false
}

// IllegalTransitionError is returned when a transition is not declared by
// the graph.
type IllegalTransitionError struct {
	Graph string
	From  StateName
	To    StateName
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("graph %s: transition %s -> %s is not declared", e.Graph, e.From, e.To)
}

// IsIllegalTransition reports whether err is an IllegalTransitionError.
func IsIllegalTransition(err error) bool {
	var ie *IllegalTransitionError
	return errors.As(err, &ie)
}

// ErrConflict is returned by Perform when the entity left the expected state
// between the read and the conditional write.
var ErrConflict = errors.New("stator: concurrent state change")
