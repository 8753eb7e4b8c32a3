package action

import (
	"github.com/krystian-wojtas/skydive/internal/message"
)

const (
	connectIdle int32 = iota
	connectInitialCommand
	connectWaitingForCalibration
	connectWaitingForCalibrationData
	connectFinalCommand
	connectConnected
	connectFailed
)

var connectStateNames = []string{
	connectIdle:                      "IDLE",
	connectInitialCommand:            "INITIAL_COMMAND",
	connectWaitingForCalibration:     "WAITING_FOR_CALIBRATION",
	connectWaitingForCalibrationData: "WAITING_FOR_CALIBRATION_DATA",
	connectFinalCommand:              "FINAL_COMMAND",
	connectConnected:                 "CONNECTED",
	connectFailed:                    "FAILED",
}

// ConnectTimeoutMessage is reported to the UAV event stream when the device
// never acknowledges the start command.
const ConnectTimeoutMessage = "Timeout waiting for initial command response."

// ConnectAction performs the connection handshake. The device runs an ad hoc
// sensor calibration in the middle of it and reports the resulting settings.
type ConnectAction struct {
	machine

	settings    message.CalibrationSettings
	hasSettings bool
}

var (
	_ Action            = (*ConnectAction)(nil)
	_ CalibrationResult = (*ConnectAction)(nil)
	_ Snapshotter       = (*ConnectAction)(nil)
)

// NewConnectAction creates an idle connect procedure bound to l.
func NewConnectAction(l Listener, opts Options) *ConnectAction {
	a := &ConnectAction{}
	a.setup(a, TypeConnect, l, opts, connectStateNames, connectInitialCommand, connectConnected, connectFailed)
	a.onTimeout = a.timeout
	a.onReset = a.clearSettings
	return a
}

func (a *ConnectAction) Start() error {
	if err := a.begin(); err != nil {
		return err
	}
	a.clearSettings()
	a.send(message.NewSignal(message.CommandStart, message.ParamStart))
	a.armTimer(a.opts.ConnectTimeout)
	return nil
}

func (a *ConnectAction) ExpectedControlMessageType() message.MessageType {
	switch a.current() {
	case connectIdle, connectConnected, connectFailed:
		return message.MessageUnknown
	case connectWaitingForCalibrationData:
		return message.MessageSignalPayload
	default:
		return message.MessageSignalData
	}
}

func (a *ConnectAction) HandleReception(msg message.Message) error {
	if err := a.checkReception(msg, a.ExpectedControlMessageType()); err != nil {
		return err
	}

	switch a.current() {
	case connectInitialCommand:
		if msg.Matches(message.CommandStart, message.ParamAck) {
			a.stopTimer()
			a.transition(connectWaitingForCalibration)
			return nil
		}

	case connectWaitingForCalibration:
		if msg.Matches(message.CommandCalibrationSettings, message.ParamReady) {
			a.transition(connectWaitingForCalibrationData)
			return nil
		}
		if msg.Matches(message.CommandCalibrationSettings, message.ParamNonStatic) {
			a.tracef("calibration non static")
			a.listener.NotifyUavEvent(message.NewUavEvent(message.UavCalibrationNonStatic, ""))
			return nil
		}

	case connectWaitingForCalibrationData:
		if msg.IsPayload(message.CommandCalibrationSettingsData) {
			a.handleSettings(msg)
			return nil
		}

	case connectFinalCommand:
		if msg.Matches(message.CommandAppLoop, message.ParamAck) {
			a.succeed()
			a.listener.NotifyUavEvent(message.NewUavEvent(message.UavConnected, ""))
			return nil
		}
	}

	a.unexpected(msg)
	return nil
}

func (a *ConnectAction) handleSettings(msg message.Message) {
	settings, err := message.DecodeCalibrationSettings(msg.Payload())
	if err != nil || !settings.IsValid() {
		a.tracef("calibration settings invalid, responding with DATA_INVALID")
		a.retries++
		if a.retries > a.opts.MaxRetries {
			a.fail(a.stateError(ErrRetryExhausted, "calibration settings"))
			return
		}
		a.send(message.NewSignal(message.CommandCalibrationSettings, message.ParamDataInvalid))
		return
	}

	a.settings = settings
	a.hasSettings = true
	a.send(message.NewSignal(message.CommandCalibrationSettings, message.ParamAck))
	a.transition(connectFinalCommand)
	a.send(message.NewSignal(message.CommandAppLoop, message.ParamStart))
	a.armTimer(a.opts.ResponseTimeout)
}

// HandleSignal has no link-layer signals to consume during the handshake.
func (a *ConnectAction) HandleSignal(param message.Parameter) error {
	if err := a.checkRunning(); err != nil {
		return err
	}
	a.unexpected(param)
	return nil
}

func (a *ConnectAction) HandleUserEvent(event message.PilotEvent) error {
	return a.handlePilot(event)
}

// CalibrationSettings returns the settings accepted during the handshake.
func (a *ConnectAction) CalibrationSettings() (message.CalibrationSettings, bool) {
	return a.settings, a.hasSettings
}

func (a *ConnectAction) clearSettings() {
	a.settings = message.CalibrationSettings{}
	a.hasSettings = false
}

func (a *ConnectAction) timeout() {
	switch a.current() {
	case connectInitialCommand:
		a.listener.NotifyUavEvent(message.NewUavEvent(message.UavError, ConnectTimeoutMessage))
		a.fail(a.stateError(ErrTimeout, "initial command"))
	case connectFinalCommand:
		a.retry(message.NewSignal(message.CommandAppLoop, message.ParamStart))
	}
}
