package action

import (
	"github.com/krystian-wojtas/skydive/internal/message"
)

// Radio calibration states.
const (
	radioIdle int32 = iota
	radioInitialCommand
	radioCalibrationCommand
	radioCalibrationResponse
	radioBreaking
	radioCheck
	radioFinalCommand
	radioCalibrationReception
	radioFailed
)

var radioStateNames = []string{
	radioIdle:                 "IDLE",
	radioInitialCommand:       "INITIAL_COMMAND",
	radioCalibrationCommand:   "CALIBRATION_COMMAND",
	radioCalibrationResponse:  "CALIBRATION_RESPONSE",
	radioBreaking:             "BREAKING",
	radioCheck:                "CHECK",
	radioFinalCommand:         "FINAL_COMMAND",
	radioCalibrationReception: "CALIBRATION_RECEPTION",
	radioFailed:               "FAILED",
}

// RadioCalibAction measures the radio channel ranges and verifies the
// failsafe by breaking and restoring the link.
//
//	IDLE -> INITIAL_COMMAND -> CALIBRATION_COMMAND -> CALIBRATION_RESPONSE
//	     -> BREAKING -> CHECK -> FINAL_COMMAND -> CALIBRATION_RECEPTION
type RadioCalibAction struct {
	machine

	result    message.RadioCalibration
	hasResult bool
}

var (
	_ Action                 = (*RadioCalibAction)(nil)
	_ ControlSource          = (*RadioCalibAction)(nil)
	_ RadioCalibrationResult = (*RadioCalibAction)(nil)
	_ Snapshotter            = (*RadioCalibAction)(nil)
)

// NewRadioCalibAction creates an idle radio calibration bound to l.
func NewRadioCalibAction(l Listener, opts Options) *RadioCalibAction {
	a := &RadioCalibAction{}
	a.setup(a, TypeRadioCalibration, l, opts, radioStateNames, radioInitialCommand, radioCalibrationReception, radioFailed)
	a.onTimeout = a.timeout
	a.onReset = a.clearResult
	return a
}

// Start sends the initial command.
func (a *RadioCalibAction) Start() error {
	if err := a.begin(); err != nil {
		return err
	}
	a.clearResult()
	a.enter(radioInitialCommand)
	return nil
}

// ExpectedControlMessageType is a payload while the device reports channel
// ranges and a signal message in every other working state.
func (a *RadioCalibAction) ExpectedControlMessageType() message.MessageType {
	switch a.current() {
	case radioIdle, radioCalibrationReception, radioFailed:
		return message.MessageUnknown
	case radioCalibrationResponse:
		return message.MessageSignalPayload
	default:
		return message.MessageSignalData
	}
}

func (a *RadioCalibAction) HandleReception(msg message.Message) error {
	if err := a.checkReception(msg, a.ExpectedControlMessageType()); err != nil {
		return err
	}

	switch a.current() {
	case radioInitialCommand:
		if msg.Matches(message.CommandRadioCalibration, message.ParamAck) {
			a.advance(radioCalibrationCommand)
			return nil
		}

	case radioCalibrationCommand:
		if msg.Matches(message.CommandRadioSettings, message.ParamAck) {
			a.advance(radioCalibrationResponse)
			return nil
		}

	case radioCalibrationResponse:
		if msg.IsPayload(message.CommandRadioSettingsData) {
			a.handleResponse(msg)
			return nil
		}

	case radioFinalCommand:
		if msg.Matches(message.CommandRadioCalibration, message.ParamAck) {
			a.succeed()
			a.listener.NotifyUavEvent(message.NewUavEvent(message.UavRadioCalibrated, ""))
			return nil
		}
	}

	a.unexpected(msg)
	return nil
}

func (a *RadioCalibAction) handleResponse(msg message.Message) {
	cal, err := message.DecodeRadioCalibration(msg.Payload())
	if err != nil || !cal.IsValid() {
		a.tracef("radio settings invalid, responding with DATA_INVALID")
		a.retry(a.command(radioCalibrationResponse))
		return
	}

	a.result = cal
	a.hasResult = true
	a.send(message.NewSignal(message.CommandRadioSettings, message.ParamAck))
	a.advance(radioBreaking)
}

// HandleSignal consumes link-layer signals during the failsafe check.
func (a *RadioCalibAction) HandleSignal(param message.Parameter) error {
	if err := a.checkRunning(); err != nil {
		return err
	}

	switch a.current() {
	case radioBreaking:
		if param == message.ParamBreak {
			a.advance(radioCheck)
			return nil
		}

	case radioCheck:
		switch param {
		case message.ParamValid:
			a.advance(radioFinalCommand)
			return nil
		case message.ParamInvalid:
			a.tracef("link check failed")
			a.retry(a.command(radioCheck))
			return nil
		}
	}

	a.unexpected(param)
	return nil
}

func (a *RadioCalibAction) HandleUserEvent(event message.PilotEvent) error {
	return a.handlePilot(event)
}

// ControlData holds the vehicle while calibration is running.
func (a *RadioCalibAction) ControlData() (message.ControlData, bool) {
	if a.current() == radioIdle || a.terminal() {
		return message.ControlData{}, false
	}
	return message.NeutralControl(message.ControlHold), true
}

// RadioCalibration returns the measured ranges. Only meaningful after the
// response was accepted.
func (a *RadioCalibAction) RadioCalibration() (message.RadioCalibration, bool) {
	if !a.hasResult {
		return message.RadioCalibration{}, false
	}
	out := message.RadioCalibration{Channels: append([]message.ChannelRange(nil), a.result.Channels...)}
	return out, true
}

func (a *RadioCalibAction) clearResult() {
	a.result = message.RadioCalibration{}
	a.hasResult = false
}

// advance moves one state forward and sends that state's command.
func (a *RadioCalibAction) advance(to int32) {
	a.transition(to)
	a.enter(to)
}

func (a *RadioCalibAction) enter(s int32) {
	if s != radioCalibrationResponse {
		a.send(a.command(s))
	}
	a.armTimer(a.opts.ResponseTimeout)
}

// command is the message a state sends on entry and on retry. While waiting
// for the response payload a retry asks the device to send it again.
func (a *RadioCalibAction) command(s int32) message.Message {
	switch s {
	case radioInitialCommand:
		return message.NewSignal(message.CommandRadioCalibration, message.ParamStart)
	case radioCalibrationCommand:
		return message.NewSignal(message.CommandRadioSettings, message.ParamStart)
	case radioCalibrationResponse:
		return message.NewSignal(message.CommandRadioSettings, message.ParamDataInvalid)
	case radioBreaking:
		return message.NewSignal(message.CommandRadioBreak, message.ParamStart)
	case radioCheck:
		return message.NewSignal(message.CommandRadioBreak, message.ParamStop)
	case radioFinalCommand:
		return message.NewSignal(message.CommandRadioCalibration, message.ParamStop)
	default:
		return message.Message{}
	}
}

func (a *RadioCalibAction) timeout() {
	a.retry(a.command(a.current()))
}
