package monitor

import (
	"github.com/krystian-wojtas/skydive/internal/action"
	"github.com/krystian-wojtas/skydive/internal/message"
	"github.com/krystian-wojtas/skydive/internal/timer"
)

// actionListener is what the monitor hands to its actions. Every method is
// called from the dispatch worker while an action handler runs, so nothing
// here goes back through the queue.
type actionListener struct {
	m *DeviceMonitor
}

var _ action.Listener = (*actionListener)(nil)

func (l *actionListener) Send(msg message.Message) {
	if l.m.sender == nil {
		l.m.tracef("no sender, dropping %s", msg)
		return
	}
	if err := l.m.sender.Send(msg); err != nil {
		l.m.tracef("send %s failed: %v", msg, err)
	}
}

func (l *actionListener) CreateTimer(fn func()) timer.Timer {
	return l.m.CreateTimer(fn)
}

// NotifyUavEvent records events raised by the action itself. They are not
// routed back into it.
func (l *actionListener) NotifyUavEvent(event message.UavEvent) {
	l.m.recordUavEvent(event)
}

func (l *actionListener) Trace(msg string) {
	l.m.Trace(msg)
}

func (l *actionListener) ActionStarted(a action.Action) {
	l.m.logAudit(l.m.auditCtx, a.Type().String(), "STARTED", 0)
	l.m.publish("actionStarted", map[string]interface{}{
		"actionId": l.m.activeID,
		"action":   a.Type().String(),
		"state":    a.StateName(),
	})
}

func (l *actionListener) ActionDone(a action.Action) {
	l.m.tracef("%s done", a.Type())
}

func (l *actionListener) ActionFailed(a action.Action, err error) {
	l.m.tracef("%s failed: %v", a.Type(), err)
}
