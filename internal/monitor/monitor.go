package monitor

import (
	"github.com/krystian-wojtas/skydive/internal/message"
	"github.com/krystian-wojtas/skydive/internal/timer"
)

// DefaultControlDataSendingFreq is the control frame rate in Hz used when a
// monitor does not choose its own.
const DefaultControlDataSendingFreq = 25.0

// Monitor is the surface the control loop and the link consume.
type Monitor interface {
	// NotifyUavEvent takes ownership of event.
	NotifyUavEvent(event message.UavEvent)

	// ControlDataToSend produces the next outbound control frame.
	ControlDataToSend() message.ControlData

	// CreateTimer returns a stopped timer bound to fn. The caller owns it
	// and must Close it on teardown.
	CreateTimer(fn func()) timer.Timer

	// Trace records a diagnostic line. It never fails.
	Trace(msg string)
}

// FrequencyProvider is implemented by monitors that choose their own control
// frame rate.
type FrequencyProvider interface {
	ControlDataSendingFreq() float64
}

// ControlDataSendingFreq returns the rate at which ControlDataToSend should
// be polled for m.
func ControlDataSendingFreq(m Monitor) float64 {
	if p, ok := m.(FrequencyProvider); ok {
		return p.ControlDataSendingFreq()
	}
	return DefaultControlDataSendingFreq
}

// Base can be embedded by monitors that keep the default frame rate.
type Base struct{}

func (Base) ControlDataSendingFreq() float64 { return DefaultControlDataSendingFreq }

// NotifyUavEventPtr moves *ev into m. The pointee is zeroed afterwards so the
// monitor holds the only live copy; the caller must not reuse it. A nil ev is
// ignored.
func NotifyUavEventPtr(m Monitor, ev *message.UavEvent) {
	if ev == nil {
		return
	}
	owned := *ev
	*ev = message.UavEvent{}
	m.NotifyUavEvent(owned)
}
