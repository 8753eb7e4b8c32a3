package action

import (
	"strings"
	"time"

	"github.com/krystian-wojtas/skydive/internal/message"
	"github.com/krystian-wojtas/skydive/internal/timer"
)

// fakeListener records everything an action reports and hands out timers
// on a manual clock.
type fakeListener struct {
	clock   *timer.ManualClock
	sent    []message.Message
	events  []message.UavEvent
	traces  []string
	started int
	done    int
	failed  []error
}

var _ Listener = (*fakeListener)(nil)

func newFakeListener() *fakeListener {
	return &fakeListener{clock: timer.NewManualClock(time.Unix(0, 0))}
}

func (l *fakeListener) Send(msg message.Message) { l.sent = append(l.sent, msg) }

func (l *fakeListener) CreateTimer(fn func()) timer.Timer {
	return timer.New(fn, timer.WithClock(l.clock))
}

func (l *fakeListener) NotifyUavEvent(event message.UavEvent) { l.events = append(l.events, event) }
func (l *fakeListener) Trace(msg string)                      { l.traces = append(l.traces, msg) }
func (l *fakeListener) ActionStarted(Action)                  { l.started++ }
func (l *fakeListener) ActionDone(Action)                     { l.done++ }
func (l *fakeListener) ActionFailed(_ Action, err error)      { l.failed = append(l.failed, err) }

func (l *fakeListener) lastSent() message.Message {
	if len(l.sent) == 0 {
		return message.Message{}
	}
	return l.sent[len(l.sent)-1]
}

func (l *fakeListener) traced(substr string) bool {
	for _, tr := range l.traces {
		if strings.Contains(tr, substr) {
			return true
		}
	}
	return false
}

func testOptions() Options {
	return Options{
		ResponseTimeout: 100 * time.Millisecond,
		ConnectTimeout:  time.Second,
		MaxRetries:      2,
		StartPolicy:     StartReject,
	}
}

func validRadioPayload() []byte {
	cal := message.RadioCalibration{Channels: []message.ChannelRange{
		{Min: 1000, Center: 1500, Max: 2000},
		{Min: 1000, Center: 1500, Max: 2000},
		{Min: 1000, Center: 1500, Max: 2000},
		{Min: 1000, Center: 1500, Max: 2000},
	}}
	payload, _ := cal.MarshalBinary()
	return payload
}

func validSettingsPayload() []byte {
	settings := message.CalibrationSettings{AccelScale: [3]float32{1, 1, 1}}
	payload, _ := settings.MarshalBinary()
	return payload
}
