package action

import (
	"fmt"
	"time"

	"github.com/krystian-wojtas/skydive/internal/message"
	"github.com/krystian-wojtas/skydive/internal/timer"
)

// Type identifies a concrete procedure independent of its current state.
type Type int

const (
	TypeUnknown Type = iota
	TypeConnect
	TypeRadioCalibration
)

var typeNames = map[Type]string{
	TypeUnknown:          "unknown",
	TypeConnect:          "connect",
	TypeRadioCalibration: "radio_calibration",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType resolves an action type by name.
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if n == name && t != TypeUnknown {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("%w: %q", ErrUnknownType, name)
}

// Outcome tells success apart from failure once an action is finished.
type Outcome int32

const (
	OutcomePending Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int32(o))
	}
}

// StartPolicy decides what Start does on an action that already left IDLE.
type StartPolicy int

const (
	// StartReject returns ErrAlreadyStarted and leaves the action untouched.
	StartReject StartPolicy = iota
	// StartRestart cancels the running attempt and begins a fresh one.
	StartRestart
)

func (p StartPolicy) String() string {
	switch p {
	case StartReject:
		return "reject"
	case StartRestart:
		return "restart"
	default:
		return fmt.Sprintf("StartPolicy(%d)", int(p))
	}
}

// ParseStartPolicy resolves a policy by name.
func ParseStartPolicy(name string) (StartPolicy, error) {
	switch name {
	case "", "reject":
		return StartReject, nil
	case "restart":
		return StartRestart, nil
	default:
		return StartReject, fmt.Errorf("unknown start policy %q", name)
	}
}

// Action is one in-flight protocol procedure against the device.
type Action interface {
	// Start leaves IDLE and sends the first command.
	Start() error

	// ExpectedControlMessageType reports which message kind the current
	// state waits for. MessageUnknown means no message is expected.
	ExpectedControlMessageType() message.MessageType

	// IsActionDone reports whether the procedure reached its success state.
	IsActionDone() bool

	// Outcome reports pending, succeeded or failed.
	Outcome() Outcome

	// Err returns the failure reason once Outcome is OutcomeFailed.
	Err() error

	Type() Type

	// StateName is for diagnostics only.
	StateName() string

	HandleReception(msg message.Message) error
	HandleSignal(param message.Parameter) error
	HandleUserEvent(event message.PilotEvent) error

	// Reset cancels timers and returns the action to IDLE.
	Reset()

	// Close cancels every timer the action owns. The action must not be
	// driven afterwards.
	Close()
}

// Listener is the coordinator surface an action reports to.
type Listener interface {
	Send(msg message.Message)
	CreateTimer(fn func()) timer.Timer
	NotifyUavEvent(event message.UavEvent)
	Trace(msg string)

	ActionStarted(a Action)
	ActionDone(a Action)
	ActionFailed(a Action, err error)
}

// ControlSource is implemented by actions that dictate the control frame
// while they run.
type ControlSource interface {
	ControlData() (message.ControlData, bool)
}

// RadioCalibrationResult is implemented by actions that measure radio
// channel ranges.
type RadioCalibrationResult interface {
	RadioCalibration() (message.RadioCalibration, bool)
}

// CalibrationResult is implemented by actions that receive sensor
// calibration settings.
type CalibrationResult interface {
	CalibrationSettings() (message.CalibrationSettings, bool)
}

// Snapshotter is implemented by actions that can report state and outcome
// from a single read.
type Snapshotter interface {
	Snapshot() (state string, outcome Outcome)
}

// Snapshot returns the state name and outcome of a. Actions that are not a
// Snapshotter are read with two calls.
func Snapshot(a Action) (string, Outcome) {
	if s, ok := a.(Snapshotter); ok {
		return s.Snapshot()
	}
	return a.StateName(), a.Outcome()
}

// Finished reports whether a reached a terminal state, successful or not.
func Finished(a Action) bool {
	return a.Outcome() != OutcomePending
}

// Options tunes timing and retry behavior shared by all actions.
type Options struct {
	ResponseTimeout time.Duration
	ConnectTimeout  time.Duration
	MaxRetries      int
	StartPolicy     StartPolicy
}

// DefaultOptions returns the baseline timing.
func DefaultOptions() Options {
	return Options{
		ResponseTimeout: 500 * time.Millisecond,
		ConnectTimeout:  5 * time.Second,
		MaxRetries:      3,
		StartPolicy:     StartReject,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = def.ResponseTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	return o
}
