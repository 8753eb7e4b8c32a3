// Package control runs the periodic control frame loop.
package control

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/krystian-wojtas/skydive/internal/message"
	"github.com/krystian-wojtas/skydive/internal/monitor"
)

// Sender delivers control frames to the device.
type Sender interface {
	SendControl(data message.ControlData) error
}

// Loop polls a monitor for control frames at the rate it asks for.
type Loop struct {
	monitor monitor.Monitor
	sender  Sender
	log     *logrus.Entry

	sent   atomic.Uint64
	failed atomic.Uint64

	// Run goroutine only.
	streak int
}

// NewLoop creates a loop feeding frames from m to s.
func NewLoop(m monitor.Monitor, s Sender, log *logrus.Entry) *Loop {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Loop{monitor: m, sender: s, log: log}
}

// Run sends frames until ctx ends. The rate is re-read after every frame
// and the ticker follows when it changes.
func (l *Loop) Run(ctx context.Context) error {
	freq := monitor.ControlDataSendingFreq(l.monitor)
	ticker := time.NewTicker(period(freq))
	defer ticker.Stop()

	l.log.WithField("hz", freq).Info("Control loop started")

	for {
		select {
		case <-ctx.Done():
			l.log.WithFields(logrus.Fields{
				"sent":   l.sent.Load(),
				"failed": l.failed.Load(),
			}).Info("Control loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.tick()

			if f := monitor.ControlDataSendingFreq(l.monitor); f != freq {
				l.log.WithFields(logrus.Fields{"from": freq, "to": f}).Info("Control rate changed")
				freq = f
				ticker.Reset(period(freq))
			}
		}
	}
}

func (l *Loop) tick() {
	data := l.monitor.ControlDataToSend()
	if err := l.sender.SendControl(data); err != nil {
		l.failed.Add(1)
		l.streak++
		if l.streak == 1 {
			l.log.WithError(err).WithField("seq", data.Seq).Warn("Control frame not sent")
		}
		return
	}
	if l.streak > 0 {
		l.log.WithField("lost", l.streak).Info("Control frames resumed")
		l.streak = 0
	}
	l.sent.Add(1)
}

// Stats returns the number of frames sent and failed so far.
func (l *Loop) Stats() (sent, failed uint64) {
	return l.sent.Load(), l.failed.Load()
}

func period(hz float64) time.Duration {
	if hz <= 0 {
		hz = monitor.DefaultControlDataSendingFreq
	}
	return time.Duration(float64(time.Second) / hz)
}
