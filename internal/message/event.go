package message

import "fmt"

// DeviceEventKind classifies generic device-originated events.
type DeviceEventKind int

const (
	DeviceConnected DeviceEventKind = iota
	DeviceDisconnected
	DeviceError
)

func (k DeviceEventKind) String() string {
	switch k {
	case DeviceConnected:
		return "CONNECTED"
	case DeviceDisconnected:
		return "DISCONNECTED"
	case DeviceError:
		return "ERROR"
	default:
		return fmt.Sprintf("DeviceEventKind(%d)", int(k))
	}
}

// DeviceEvent is a generic event raised by the transport about the device.
type DeviceEvent struct {
	Kind   DeviceEventKind
	Detail string
}

// UavEventType classifies UAV state events.
type UavEventType int

const (
	UavNone UavEventType = iota
	UavConnected
	UavDisconnected
	UavCalibrationNonStatic
	UavRadioCalibrated
	UavError
	UavLinkBroken
	UavLinkRestored
	UavLinkDegraded
)

var uavEventNames = map[UavEventType]string{
	UavNone:                 "NONE",
	UavConnected:            "CONNECTED",
	UavDisconnected:         "DISCONNECTED",
	UavCalibrationNonStatic: "CALIBRATION_NON_STATIC",
	UavRadioCalibrated:      "RADIO_CALIBRATED",
	UavError:                "ERROR",
	UavLinkBroken:           "LINK_BROKEN",
	UavLinkRestored:         "LINK_RESTORED",
	UavLinkDegraded:         "LINK_DEGRADED",
}

func (t UavEventType) String() string {
	if name, ok := uavEventNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UavEventType(%d)", int(t))
}

// ParseUavEventType resolves a UAV event type by name.
func ParseUavEventType(name string) (UavEventType, error) {
	for t, n := range uavEventNames {
		if n == name {
			return t, nil
		}
	}
	return UavNone, fmt.Errorf("unknown uav event %q", name)
}

func (t UavEventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *UavEventType) UnmarshalText(text []byte) error {
	v, err := ParseUavEventType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// UavEvent reports a UAV state change. All fields are values so a copy
// handed to the monitor shares nothing with the producer.
type UavEvent struct {
	Type    UavEventType `json:"type"`
	Message string       `json:"message,omitempty"`
}

// NewUavEvent builds an event with an optional message.
func NewUavEvent(t UavEventType, msg string) UavEvent {
	return UavEvent{Type: t, Message: msg}
}

// IsZero reports whether the event is empty.
func (e UavEvent) IsZero() bool {
	return e.Type == UavNone && e.Message == ""
}

// Signal maps link events to the link-layer signal an action consumes.
func (e UavEvent) Signal() (Parameter, bool) {
	switch e.Type {
	case UavLinkBroken:
		return ParamBreak, true
	case UavLinkRestored:
		return ParamValid, true
	case UavLinkDegraded:
		return ParamInvalid, true
	default:
		return ParamNone, false
	}
}

func (e UavEvent) String() string {
	if e.Message == "" {
		return e.Type.String()
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// PilotEventKind classifies operator input.
type PilotEventKind int

const (
	PilotNone PilotEventKind = iota
	PilotAbort
	PilotControl
	PilotConfirm
)

var pilotEventNames = map[PilotEventKind]string{
	PilotNone:    "none",
	PilotAbort:   "abort",
	PilotControl: "control",
	PilotConfirm: "confirm",
}

func (k PilotEventKind) String() string {
	if name, ok := pilotEventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("PilotEventKind(%d)", int(k))
}

// ParsePilotEventKind resolves a pilot event kind by name.
func ParsePilotEventKind(name string) (PilotEventKind, error) {
	for k, n := range pilotEventNames {
		if n == name {
			return k, nil
		}
	}
	return PilotNone, fmt.Errorf("unknown pilot event %q", name)
}

func (k PilotEventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PilotEventKind) UnmarshalText(text []byte) error {
	v, err := ParsePilotEventKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// PilotEvent is operator input. Stick values are only meaningful for
// PilotControl events.
type PilotEvent struct {
	Kind     PilotEventKind `json:"kind"`
	Roll     float32        `json:"roll,omitempty"`
	Pitch    float32        `json:"pitch,omitempty"`
	Yaw      float32        `json:"yaw,omitempty"`
	Throttle float32        `json:"throttle,omitempty"`
}

// Control converts stick input to a manual control frame.
func (e PilotEvent) Control() ControlData {
	return ControlData{
		Roll:     e.Roll,
		Pitch:    e.Pitch,
		Yaw:      e.Yaw,
		Throttle: e.Throttle,
		Command:  ControlManual,
	}
}
