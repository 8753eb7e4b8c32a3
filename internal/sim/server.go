package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/krystian-wojtas/skydive/internal/codec"
	"github.com/krystian-wojtas/skydive/internal/transport"
)

// Server accepts ground station connections over TCP.
type Server struct {
	scenario Scenario
	log      *logrus.Entry

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer creates a server that runs one vehicle with scenario s per
// connection.
func NewServer(s Scenario, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		scenario: s,
		log:      log.WithField("component", "sim"),
		conns:    make(map[net.Conn]struct{}),
		stopChan: make(chan struct{}),
	}
}

// ListenAndServe listens on addr and serves until Close.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Close. It returns nil after Close.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.log.WithField("addr", l.Addr().String()).Info("Vehicle simulator listening")

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.handleConnection(conn)
		}()
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleConnection(conn net.Conn) {
	log := s.log.WithField("remote", conn.RemoteAddr().String())
	log.Info("Ground station connected")

	out := transport.NewStreamTransport(conn)
	v := NewVehicle(s.scenario, out, log)
	defer v.Close()
	defer out.Close()

	if err := Run(context.Background(), conn, v, log); err != nil {
		log.WithError(err).Warn("Ground station connection failed")
		return
	}
	stats := v.Stats()
	log.WithFields(logrus.Fields{
		"received":      stats.Received,
		"controlFrames": stats.ControlFrames,
	}).Info("Ground station disconnected")
}

// Close stops accepting, drops every connection and waits for handlers.
func (s *Server) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopChan)

		s.mu.Lock()
		if s.listener != nil {
			err = s.listener.Close()
		}
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
	})
	return err
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// Run reads ground frames from r and feeds them to v until r ends or ctx is
// canceled. Control frames are counted; undecodable frames are skipped. A
// clean end of stream returns nil.
func Run(ctx context.Context, r io.ReadCloser, v *Vehicle, log *logrus.Entry) error {
	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()

	for {
		frame, err := codec.ReadFrame(r)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}

		if msg, err := codec.DecodeMessage(frame); err == nil {
			if err := v.Handle(msg); err != nil {
				log.WithError(err).WithField("message", msg.String()).Warn("Vehicle dropped message")
			}
			continue
		}
		if data, err := codec.DecodeControl(frame); err == nil {
			v.HandleControl(data)
			continue
		}
		log.WithField("size", len(frame)).Warn("Skipping undecodable frame")
	}
}
