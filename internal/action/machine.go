package action

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/krystian-wojtas/skydive/internal/message"
	"github.com/krystian-wojtas/skydive/internal/timer"
)

// stateIdle is shared by every action.
const stateIdle int32 = 0

// machine holds the bookkeeping common to all actions. Concrete actions
// embed it and supply their state table.
type machine struct {
	self     Action
	typ      Type
	listener Listener
	opts     Options
	names    []string
	first    int32
	done     int32
	failed   int32

	// The outcome is derived from the state so one load sees both.
	state atomic.Int32

	errMu sync.Mutex
	err   error

	// Dispatch path only.
	retries   int
	timer     timer.Timer
	onTimeout func()
	onReset   func()
}

func (m *machine) setup(self Action, typ Type, l Listener, opts Options, names []string, first, done, failed int32) {
	m.self = self
	m.typ = typ
	m.listener = l
	m.opts = opts.withDefaults()
	m.names = names
	m.first = first
	m.done = done
	m.failed = failed
}

func (m *machine) Type() Type { return m.typ }

func (m *machine) StateName() string { return m.name(m.state.Load()) }

func (m *machine) IsActionDone() bool { return m.state.Load() == m.done }

func (m *machine) Outcome() Outcome {
	_, o := m.Snapshot()
	return o
}

// Snapshot returns the state name and the outcome read from the same state.
func (m *machine) Snapshot() (string, Outcome) {
	s := m.state.Load()
	switch s {
	case m.done:
		return m.name(s), OutcomeSucceeded
	case m.failed:
		return m.name(s), OutcomeFailed
	default:
		return m.name(s), OutcomePending
	}
}

func (m *machine) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.err
}

func (m *machine) name(s int32) string {
	if s >= 0 && int(s) < len(m.names) {
		return m.names[s]
	}
	return fmt.Sprintf("STATE_%d", s)
}

func (m *machine) current() int32 { return m.state.Load() }

func (m *machine) terminal() bool {
	s := m.state.Load()
	return s == m.done || s == m.failed
}

func (m *machine) tracef(format string, args ...interface{}) {
	m.listener.Trace(m.typ.String() + ": " + fmt.Sprintf(format, args...))
}

// transition stores the new state and resets the per-state retry counter.
func (m *machine) transition(to int32) {
	from := m.state.Swap(to)
	m.retries = 0
	m.tracef("transition: %s -> %s", m.name(from), m.name(to))
}

func (m *machine) stateError(code error, detail string) error {
	return &StateError{Code: code, Action: m.typ, State: m.StateName(), Detail: detail}
}

// begin applies the start policy and enters the first working state.
func (m *machine) begin() error {
	if m.current() != stateIdle {
		if m.opts.StartPolicy != StartRestart {
			return m.stateError(ErrAlreadyStarted, "start policy is reject")
		}
		m.tracef("restarting from %s", m.StateName())
		m.stopTimer()
	}

	m.setErr(nil)
	m.transition(m.first)
	m.listener.ActionStarted(m.self)
	return nil
}

// checkRunning rejects input on an action that is idle or finished.
func (m *machine) checkRunning() error {
	switch s := m.current(); {
	case s == stateIdle:
		return m.stateError(ErrNotStarted, "")
	case s == m.done || s == m.failed:
		return m.stateError(ErrFinished, "")
	}
	return nil
}

// checkReception validates a message against the expected type.
func (m *machine) checkReception(msg message.Message, expected message.MessageType) error {
	if err := m.checkRunning(); err != nil {
		return err
	}
	if msg.Type() != expected {
		return m.stateError(ErrUnexpectedMessage, fmt.Sprintf("got %s, want %s", msg.Type(), expected))
	}
	return nil
}

func (m *machine) send(msg message.Message) {
	m.listener.Send(msg)
}

func (m *machine) unexpected(what fmt.Stringer) {
	m.tracef("unexpected %s at state %s", what, m.StateName())
}

// armTimer starts the state timer, creating it on first use.
func (m *machine) armTimer(d time.Duration) {
	if m.timer == nil {
		m.timer = m.listener.CreateTimer(m.handleTimeout)
	}
	m.timer.Start(d)
}

func (m *machine) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
	}
}

func (m *machine) handleTimeout() {
	if m.terminal() || m.current() == stateIdle {
		return
	}
	m.tracef("timeout at state %s", m.StateName())
	if m.onTimeout != nil {
		m.onTimeout()
	}
}

// retry counts a failed attempt at the current state. Under the bound it
// re-sends msg and re-arms the response timer; past it the action fails.
func (m *machine) retry(msg message.Message) {
	m.retries++
	if m.retries > m.opts.MaxRetries {
		m.fail(m.stateError(ErrRetryExhausted, fmt.Sprintf("%d retries", m.opts.MaxRetries)))
		return
	}
	m.tracef("retry %d/%d at state %s", m.retries, m.opts.MaxRetries, m.StateName())
	m.send(msg)
	m.armTimer(m.opts.ResponseTimeout)
}

func (m *machine) succeed() {
	m.stopTimer()
	m.transition(m.done)
	m.listener.ActionDone(m.self)
}

func (m *machine) fail(err error) {
	m.stopTimer()
	m.setErr(err)
	m.transition(m.failed)
	m.listener.ActionFailed(m.self, err)
}

func (m *machine) setErr(err error) {
	m.errMu.Lock()
	m.err = err
	m.errMu.Unlock()
}

// handlePilot applies operator input common to every action. Abort moves
// any unfinished action to FAILED.
func (m *machine) handlePilot(event message.PilotEvent) error {
	if m.terminal() {
		return m.stateError(ErrFinished, "")
	}
	switch event.Kind {
	case message.PilotAbort:
		m.fail(m.stateError(ErrAborted, "pilot abort"))
	default:
		m.tracef("pilot %s ignored at state %s", event.Kind, m.StateName())
	}
	return nil
}

// Reset returns the action to IDLE and drops any result.
func (m *machine) Reset() {
	m.stopTimer()
	m.retries = 0
	m.setErr(nil)
	if m.onReset != nil {
		m.onReset()
	}
	if from := m.state.Swap(stateIdle); from != stateIdle {
		m.tracef("reset from %s", m.name(from))
	}
}

// Close releases the timer.
func (m *machine) Close() {
	if m.timer != nil {
		m.timer.Close()
		m.timer = nil
	}
}
