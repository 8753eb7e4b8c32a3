package transport

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/krystian-wojtas/skydive/internal/codec"
	"github.com/krystian-wojtas/skydive/internal/message"
)

// Sink receives what the pump reads off the link.
type Sink interface {
	DispatchMessage(msg message.Message) error
	NotifyUavEvent(event message.UavEvent)
}

// Pump forwards received messages to sink until ctx ends or the link fails.
// Link reports from the device become UAV events. Frames that do not decode
// are logged and skipped. A link failure is
// reported to sink as a disconnect before Pump returns it.
func Pump(ctx context.Context, t Transport, sink Sink, log *logrus.Entry) error {
	for {
		msg, err := t.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, codec.ErrInvalidPacketFormat) {
				log.WithError(err).Warn("Skipping invalid frame")
				continue
			}
			sink.NotifyUavEvent(message.NewUavEvent(message.UavDisconnected, err.Error()))
			return err
		}

		if event, ok := msg.LinkEvent(); ok {
			sink.NotifyUavEvent(event)
			continue
		}
		if err := sink.DispatchMessage(msg); err != nil {
			log.WithError(err).WithField("message", msg.String()).Warn("Dispatch failed")
		}
	}
}
