package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/krystian-wojtas/skydive/internal/message"
	"github.com/krystian-wojtas/skydive/internal/telemetry"
)

const consoleWriteWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Operators connect from the field laptop UI
	},
}

// consoleConn serializes writes to one console socket.
type consoleConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *consoleConn) send(event telemetry.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(consoleWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *consoleConn) sendError(code, msg string) {
	_ = c.send(telemetry.Event{
		Type: "error",
		Data: map[string]interface{}{"code": code, "message": msg},
	})
}

// handleConsole handles GET /console. Each text frame from the client is a
// pilot event; telemetry for the link is pushed back on the same socket.
func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	sub, err := s.hub.Subscribe(s.monitor.LinkID(), 0)
	if err != nil {
		WriteErrorFrom(w, err)
		return
	}
	defer s.hub.Unsubscribe(sub.ID)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("Failed to upgrade console connection")
		return
	}
	c := &consoleConn{conn: conn}
	log := s.log.WithFields(logrus.Fields{"remote": r.RemoteAddr, "subscription": sub.ID})
	log.Info("Console connected")

	// The writer owns the socket lifetime: when the subscription ends the
	// connection is closed, which unblocks the reader below.
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer conn.Close()
		for event := range sub.Events {
			if err := c.send(event); err != nil {
				log.WithError(err).Debug("Console write failed")
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("Console connection error")
			}
			break
		}

		var event message.PilotEvent
		if err := json.Unmarshal(data, &event); err != nil || event.Kind == message.PilotNone {
			c.sendError("BAD_REQUEST", "invalid pilot event")
			continue
		}
		if err := s.monitor.DispatchPilotEvent(event); err != nil {
			_, code := classify(err)
			c.sendError(code, err.Error())
		}
	}

	s.hub.Unsubscribe(sub.ID)
	<-done
	log.Info("Console disconnected")
}
