package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownAction is returned for an action type no handler is
	// registered for.
	ErrUnknownAction = errors.New("unknown action type")

	// ErrNotFound is returned for operations on unregistered workflow ids.
	ErrNotFound = errors.New("workflow not found")

	// ErrInvalid wraps workflow definition validation failures.
	ErrInvalid = errors.New("invalid workflow")
)

// ActionError is an action's own failure. It ends the run it occurred in
// and nothing else.
type ActionError struct {
	// Index is the 1-based position of the action in the workflow.
	Index int
	Type  string
	Err   error
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	return fmt.Sprintf("action %d (%s): %v", e.Index, e.Type, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ActionError) Unwrap() error { return e.Err }

// IsActionError reports whether err is or wraps an ActionError.
func IsActionError(err error) bool {
	var ae *ActionError
	return errors.As(err, &ae)
}
