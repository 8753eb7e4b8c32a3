package telemetry

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/krystian-wojtas/skydive/internal/config"
)

// ErrStopped is returned by Publish and Subscribe after Stop.
var ErrStopped = errors.New("UNAVAILABLE")

// globalLink keys the ID counter of events that belong to no link.
const globalLink = "global"

// Event represents a telemetry event.
type Event struct {
	ID   int64                  `json:"id,omitempty"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
	Link string                 `json:"link,omitempty"`
}

// Subscription is one consumer of the hub. Events is closed when the
// subscription ends.
type Subscription struct {
	ID     string
	Link   string
	Events <-chan Event

	events chan Event
	once   sync.Once
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.events) })
}

// Hub manages telemetry distribution with per-link buffering.
//
// LOCK ORDERING:
// 1. h.mu protects subs, linkIDs, buffers and the heartbeat ticker
// 2. EventBuffer.mu protects individual buffer state
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	linkIDs map[string]*int64
	buffers map[string]*EventBuffer

	config config.TelemetryConfig

	heartbeatTicker *time.Ticker
	stopHeartbeat   chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHub creates a telemetry hub.
func NewHub(cfg config.TelemetryConfig) *Hub {
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 50
	}
	if cfg.ClientBufferSize <= 0 {
		cfg.ClientBufferSize = 100
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}

	return &Hub{
		subs:    make(map[string]*Subscription),
		linkIDs: make(map[string]*int64),
		buffers: make(map[string]*EventBuffer),
		config:  cfg,
		done:    make(chan struct{}),
	}
}

// Subscribe registers a consumer for link (empty for all links) and queues
// buffered events newer than lastEventID.
func (h *Hub) Subscribe(link string, lastEventID int64) (*Subscription, error) {
	select {
	case <-h.done:
		return nil, ErrStopped
	default:
	}

	events := make(chan Event, h.config.ClientBufferSize)
	sub := &Subscription{
		ID:     uuid.NewString(),
		Link:   link,
		Events: events,
		events: events,
	}

	// Replay before registering so live events follow buffered ones
	if lastEventID > 0 && link != "" {
		h.mu.RLock()
		buffer, ok := h.buffers[link]
		h.mu.RUnlock()
		if ok {
			for _, event := range buffer.GetEventsAfter(lastEventID) {
				select {
				case events <- event:
				default:
				}
			}
		}
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	if h.heartbeatTicker == nil {
		h.startHeartbeat()
	}
	h.mu.Unlock()

	return sub, nil
}

// Unsubscribe removes a consumer and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	sub.close()

	// Stop heartbeat if no subscribers remain
	if len(h.subs) == 0 {
		h.stopHeartbeatLocked()
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers an event to every matching subscriber. Slow subscribers
// lose events rather than block the publisher.
func (h *Hub) Publish(event Event) error {
	select {
	case <-h.done:
		return ErrStopped
	default:
	}

	if event.ID == 0 {
		event.ID = h.nextEventID(event.Link)
	}
	if event.Link != "" {
		h.bufferEvent(event)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.Link != "" && event.Link != "" && sub.Link != event.Link {
			continue
		}
		select {
		case sub.events <- event:
		default:
			// Drop event if subscriber is slow to prevent blocking
		}
	}

	return nil
}

// PublishLink publishes an event for a specific link.
func (h *Hub) PublishLink(link string, event Event) error {
	event.Link = link
	return h.Publish(event)
}

// nextEventID returns the next monotonic event ID for a link.
func (h *Hub) nextEventID(link string) int64 {
	if link == "" {
		link = globalLink
	}

	h.mu.RLock()
	counter, exists := h.linkIDs[link]
	h.mu.RUnlock()

	if exists {
		return atomic.AddInt64(counter, 1)
	}

	h.mu.Lock()
	counter, exists = h.linkIDs[link]
	if !exists {
		var initial int64
		counter = &initial
		h.linkIDs[link] = counter
	}
	h.mu.Unlock()

	return atomic.AddInt64(counter, 1)
}

// bufferEvent adds an event to the per-link buffer. Buffers are never
// removed, so the reference stays valid after h.mu is released.
func (h *Hub) bufferEvent(event Event) {
	h.mu.Lock()
	buffer, exists := h.buffers[event.Link]
	if !exists {
		buffer = NewEventBuffer(h.config.EventBufferSize)
		h.buffers[event.Link] = buffer
	}
	h.mu.Unlock()

	buffer.AddEvent(event)
}

// startHeartbeat starts the heartbeat ticker. Caller holds h.mu.
func (h *Hub) startHeartbeat() {
	h.heartbeatTicker = time.NewTicker(h.config.HeartbeatInterval)
	h.stopHeartbeat = make(chan struct{})

	ticker := h.heartbeatTicker
	stop := h.stopHeartbeat

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ticker.C:
				h.sendHeartbeat()
			case <-stop:
				return
			case <-h.done:
				return
			}
		}
	}()
}

func (h *Hub) stopHeartbeatLocked() {
	if h.heartbeatTicker != nil {
		h.heartbeatTicker.Stop()
		h.heartbeatTicker = nil
	}
	if h.stopHeartbeat != nil {
		close(h.stopHeartbeat)
		h.stopHeartbeat = nil
	}
}

func (h *Hub) sendHeartbeat() {
	_ = h.Publish(Event{
		Type: "heartbeat",
		Data: map[string]interface{}{
			"ts": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// Stop shuts the hub down and closes every subscription.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		h.stopHeartbeatLocked()
		for id, sub := range h.subs {
			sub.close()
			delete(h.subs, id)
		}
		h.mu.Unlock()

		done := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			// Goroutines may be stuck; give up waiting
		}
	})
}

// Done is closed when the hub stops.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

