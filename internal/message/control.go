package message

import "fmt"

// ControlCommand tells the device how to interpret a control frame.
type ControlCommand int

const (
	ControlStop ControlCommand = iota
	ControlManual
	ControlHold
)

func (c ControlCommand) String() string {
	switch c {
	case ControlStop:
		return "STOP"
	case ControlManual:
		return "MANUAL"
	case ControlHold:
		return "HOLD"
	default:
		return fmt.Sprintf("ControlCommand(%d)", int(c))
	}
}

// ControlData is the periodic outbound control frame. It is produced fresh
// for every request and has no identity beyond its sequence number.
type ControlData struct {
	Roll     float32        `json:"roll"`
	Pitch    float32        `json:"pitch"`
	Yaw      float32        `json:"yaw"`
	Throttle float32        `json:"throttle"`
	Command  ControlCommand `json:"command"`
	Seq      uint32         `json:"seq"`
}

// NeutralControl returns a frame with centered sticks and zero throttle.
func NeutralControl(cmd ControlCommand) ControlData {
	return ControlData{Command: cmd}
}
