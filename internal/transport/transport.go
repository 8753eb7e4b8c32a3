// Package transport moves device messages over serial, TCP or MQTT links.
package transport

import (
	"context"
	"errors"

	"github.com/krystian-wojtas/skydive/internal/message"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport closed")

// Transport is a bidirectional device link.
type Transport interface {
	// Send delivers a signal message to the device.
	Send(msg message.Message) error
	// SendControl delivers a control frame to the device.
	SendControl(data message.ControlData) error
	// Receive blocks until the next device message arrives. Bodies that do
	// not decode are reported with codec.ErrInvalidPacketFormat.
	Receive(ctx context.Context) (message.Message, error)
	Close() error
}
