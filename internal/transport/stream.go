package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/krystian-wojtas/skydive/internal/codec"
	"github.com/krystian-wojtas/skydive/internal/message"
)

// StreamTransport frames messages over a byte stream such as a serial port
// or a TCP connection.
type StreamTransport struct {
	Stream io.ReadWriteCloser

	writeLock sync.Mutex
	readLock  sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

var _ Transport = (*StreamTransport)(nil)

// NewStreamTransport wraps stream.
func NewStreamTransport(stream io.ReadWriteCloser) *StreamTransport {
	return &StreamTransport{Stream: stream, closed: make(chan struct{})}
}

// OpenSerial opens a serial port in 8N1 mode.
func OpenSerial(port string, baudRate int) (*StreamTransport, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return NewStreamTransport(p), nil
}

// DialTCP connects to a device bridged over TCP.
func DialTCP(ctx context.Context, addr string, timeout time.Duration) (*StreamTransport, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return NewStreamTransport(conn), nil
}

func (st *StreamTransport) Send(msg message.Message) error {
	return st.write(codec.EncodeMessage(msg))
}

func (st *StreamTransport) SendControl(data message.ControlData) error {
	return st.write(codec.EncodeControl(data))
}

func (st *StreamTransport) write(body []byte) error {
	if st.isClosed() {
		return ErrClosed
	}
	st.writeLock.Lock()
	defer st.writeLock.Unlock()
	return codec.WriteFrame(st.Stream, body)
}

// Receive reads the next frame. The read itself cannot be interrupted by
// ctx; Close the transport to unblock it.
func (st *StreamTransport) Receive(ctx context.Context) (message.Message, error) {
	if err := ctx.Err(); err != nil {
		return message.Message{}, err
	}

	st.readLock.Lock()
	buf, err := codec.ReadFrame(st.Stream)
	st.readLock.Unlock()
	if err != nil {
		if st.isClosed() {
			return message.Message{}, ErrClosed
		}
		return message.Message{}, err
	}

	return codec.DecodeMessage(buf)
}

func (st *StreamTransport) Close() error {
	err := ErrClosed
	st.closeOnce.Do(func() {
		if st.closed != nil {
			close(st.closed)
		}
		err = st.Stream.Close()
	})
	return err
}

func (st *StreamTransport) isClosed() bool {
	if st.closed == nil {
		return false
	}
	select {
	case <-st.closed:
		return true
	default:
		return false
	}
}
