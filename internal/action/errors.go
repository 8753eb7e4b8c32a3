package action

import (
	"errors"
	"fmt"
)

// Action error codes. Protocol errors and timeouts are absorbed by the state
// machine; these surface misuse to the caller or describe why an action
// failed.
var (
	ErrAlreadyStarted    = errors.New("ALREADY_STARTED")
	ErrNotStarted        = errors.New("NOT_STARTED")
	ErrFinished          = errors.New("FINISHED")
	ErrUnexpectedMessage = errors.New("UNEXPECTED_MESSAGE")
	ErrAborted           = errors.New("ABORTED")
	ErrTimeout           = errors.New("TIMEOUT")
	ErrRetryExhausted    = errors.New("RETRY_EXHAUSTED")
	ErrUnknownType       = errors.New("UNKNOWN_ACTION_TYPE")
)

// StateError wraps an error code with the action and state it was raised in.
type StateError struct {
	Code   error  // One of the Err* codes above
	Action Type   // Action that raised it
	State  string // State name at the time
	Detail string // Free-form diagnostic
}

func (e *StateError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v (%s at %s)", e.Code, e.Action, e.State)
	}
	return fmt.Sprintf("%v (%s at %s: %s)", e.Code, e.Action, e.State, e.Detail)
}

func (e *StateError) Unwrap() error {
	return e.Code
}
