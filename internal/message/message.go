package message

import (
	"bytes"
	"fmt"
)

// MessageType identifies the protocol message kind an action waits for.
type MessageType int

const (
	MessageUnknown MessageType = iota
	MessageControl
	MessageSignalData
	MessageSignalPayload
)

var messageTypeNames = map[MessageType]string{
	MessageUnknown:       "UNKNOWN",
	MessageControl:       "CONTROL",
	MessageSignalData:    "SIGNAL_DATA",
	MessageSignalPayload: "SIGNAL_PAYLOAD",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Command names the subject of a signal message.
type Command int

const (
	CommandUnknown Command = iota
	CommandStart
	CommandCalibrationSettings
	CommandCalibrationSettingsData
	CommandAppLoop
	CommandRadioCalibration
	CommandRadioSettings
	CommandRadioSettingsData
	CommandRadioBreak
)

var commandNames = map[Command]string{
	CommandUnknown:                 "UNKNOWN",
	CommandStart:                   "START_CMD",
	CommandCalibrationSettings:     "CALIBRATION_SETTINGS",
	CommandCalibrationSettingsData: "CALIBRATION_SETTINGS_DATA",
	CommandAppLoop:                 "APP_LOOP",
	CommandRadioCalibration:        "RADIO_CALIBRATION",
	CommandRadioSettings:           "RADIO_SETTINGS",
	CommandRadioSettingsData:       "RADIO_SETTINGS_DATA",
	CommandRadioBreak:              "RADIO_BREAK",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// Parameter is the argument of a signal message. The same values are used
// for link-layer signals delivered outside the message channel.
type Parameter int

const (
	ParamNone Parameter = iota
	ParamStart
	ParamStop
	ParamAck
	ParamDataInvalid
	ParamReady
	ParamNonStatic
	ParamBreak
	ParamValid
	ParamInvalid
)

var parameterNames = map[Parameter]string{
	ParamNone:        "NONE",
	ParamStart:       "START",
	ParamStop:        "STOP",
	ParamAck:         "ACK",
	ParamDataInvalid: "DATA_INVALID",
	ParamReady:       "READY",
	ParamNonStatic:   "NON_STATIC",
	ParamBreak:       "BREAK",
	ParamValid:       "VALID",
	ParamInvalid:     "INVALID",
}

func (p Parameter) String() string {
	if name, ok := parameterNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Parameter(%d)", int(p))
}

// ParseParameter resolves a parameter by its wire name.
func ParseParameter(name string) (Parameter, error) {
	for p, n := range parameterNames {
		if n == name {
			return p, nil
		}
	}
	return ParamNone, fmt.Errorf("unknown parameter %q", name)
}

// Message is an inbound or outbound protocol message. It is immutable once
// constructed: the payload is copied in and copied out.
type Message struct {
	typ       MessageType
	command   Command
	parameter Parameter
	payload   []byte
}

// NewSignal builds a signal message pairing a command with a parameter.
func NewSignal(cmd Command, param Parameter) Message {
	return Message{typ: MessageSignalData, command: cmd, parameter: param}
}

// NewSignalPayload builds a payload message for the given data command.
func NewSignalPayload(cmd Command, payload []byte) Message {
	return Message{typ: MessageSignalPayload, command: cmd, payload: bytes.Clone(payload)}
}

// New builds a message of an arbitrary type. Used by decoders.
func New(typ MessageType, cmd Command, param Parameter, payload []byte) Message {
	return Message{typ: typ, command: cmd, parameter: param, payload: bytes.Clone(payload)}
}

func (m Message) Type() MessageType    { return m.typ }
func (m Message) Command() Command     { return m.command }
func (m Message) Parameter() Parameter { return m.parameter }

// Payload returns a copy of the message payload.
func (m Message) Payload() []byte {
	return bytes.Clone(m.payload)
}

// Matches reports whether m is the signal (cmd, param).
func (m Message) Matches(cmd Command, param Parameter) bool {
	return m.typ == MessageSignalData && m.command == cmd && m.parameter == param
}

// IsPayload reports whether m is a payload message for the given data command.
func (m Message) IsPayload(cmd Command) bool {
	return m.typ == MessageSignalPayload && m.command == cmd
}

// LinkEvent reports whether m is a device link report: a RADIO_BREAK signal
// sent by the device carrying BREAK, VALID or INVALID. Reports are not
// protocol replies; they become UAV link events.
func (m Message) LinkEvent() (UavEvent, bool) {
	if m.typ != MessageSignalData || m.command != CommandRadioBreak {
		return UavEvent{}, false
	}
	switch m.parameter {
	case ParamBreak:
		return NewUavEvent(UavLinkBroken, ""), true
	case ParamValid:
		return NewUavEvent(UavLinkRestored, ""), true
	case ParamInvalid:
		return NewUavEvent(UavLinkDegraded, ""), true
	default:
		return UavEvent{}, false
	}
}

func (m Message) String() string {
	switch m.typ {
	case MessageSignalData:
		return fmt.Sprintf("%s(%s)", m.command, m.parameter)
	case MessageSignalPayload:
		return fmt.Sprintf("%s[%d bytes]", m.command, len(m.payload))
	default:
		return m.typ.String()
	}
}
