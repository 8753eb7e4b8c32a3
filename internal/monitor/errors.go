package monitor

import "errors"

var (
	// ErrBusy is returned when the dispatch queue is full or another action
	// is still running.
	ErrBusy = errors.New("BUSY")
	// ErrUnavailable is returned when a synchronous request did not complete
	// in time.
	ErrUnavailable = errors.New("UNAVAILABLE")
	// ErrNoActiveAction is returned by requests that target the active action
	// when there is none.
	ErrNoActiveAction = errors.New("NO_ACTIVE_ACTION")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("CLOSED")
)
