// Package action implements the device procedures driven by the monitor.
//
// An Action is a protocol state machine bound to a Listener at construction.
// It starts in IDLE, moves to its first working state on Start, and advances
// one state per matching input until it reaches its success state or FAILED.
// The state discriminant is atomic so status readers may query StateName,
// IsActionDone and Outcome while the dispatch goroutine mutates it.
// Everything else (retry counters, timers, results) is only touched on the
// dispatch path; callers must serialize HandleReception, HandleSignal,
// HandleUserEvent and timer callbacks.
//
// Waiting for the device is always a state plus a timer. Handlers never block.
package action
