// Package eventbus fans out memory lifecycle events to Server-Sent Events
// subscribers. The register/unregister/broadcast channel shape mirrors the
// WebSocket hub this project grew up from; only the wire transport changed.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a single occurrence published onto the bus. ID and Timestamp are
// assigned by the bus itself, never the publisher, so every subscriber sees
// a consistent ordering key regardless of how long a caller held the event
// before publishing it.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Hash      string    `json:"content_hash,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	EventMemoryStored          = "memory_stored"
	EventMemoryDeleted         = "memory_deleted"
	EventSearchCompleted       = "search_completed"
	EventHealthUpdate          = "health_update"
	EventHeartbeat             = "heartbeat"
	EventConnectionEstablished = "connection_established"
	EventConnectionClosed      = "connection_closed"
)

// Subscriber is a single SSE connection's mailbox.
type Subscriber struct {
	send chan []byte
}

func (s *Subscriber) Messages() <-chan []byte { return s.send }

// Hub fans events out to all subscribed SSE connections. A full subscriber
// queue is dropped rather than blocking the publisher, the same
// slow-client-drops-not-stalls policy the original hub used for broadcast.
type Hub struct {
	subscribers map[*Subscriber]time.Time // value: time of the last frame sent, for idle-ping tracking
	broadcast   chan Event
	register    chan *Subscriber
	unregister  chan *Subscriber
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc

	heartbeatInterval time.Duration
	idlePingInterval  time.Duration

	totalPublished int64
	statsMu        sync.Mutex
}

// New creates a Hub. heartbeatInterval governs how often the bus broadcasts
// a typed heartbeat event (default 30s); a separate, longer idle-ping
// keepalive (60s) covers connections that haven't seen any frame at all,
// typed or heartbeat, within that window.
func New(heartbeatInterval time.Duration) *Hub {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		subscribers:       make(map[*Subscriber]time.Time),
		broadcast:         make(chan Event, 256),
		register:          make(chan *Subscriber),
		unregister:        make(chan *Subscriber),
		ctx:               ctx,
		cancel:            cancel,
		heartbeatInterval: heartbeatInterval,
		idlePingInterval:  60 * time.Second,
	}
}

// Run processes registration and broadcast traffic until Stop is called.
// Callers run this in its own goroutine.
func (h *Hub) Run() {
	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()
	idleCheck := time.NewTicker(5 * time.Second)
	defer idleCheck.Stop()

	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = time.Now()
			count := len(h.subscribers)
			h.mu.Unlock()
			log.Printf("eventbus: subscriber connected (total: %d)", count)
			h.sendTo(sub, h.connectionEstablishedFrame())

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.send)
			}
			count := len(h.subscribers)
			h.mu.Unlock()
			log.Printf("eventbus: subscriber disconnected (total: %d)", count)
			h.publishNow(Event{Type: EventConnectionClosed, Payload: map[string]any{"active_connections": count}})

		case evt := <-h.broadcast:
			h.publishNow(evt)

		case <-heartbeat.C:
			h.mu.RLock()
			active := len(h.subscribers)
			h.mu.RUnlock()
			h.publishNow(Event{Type: EventHeartbeat, Payload: map[string]any{
				"timestamp":          time.Now(),
				"active_connections": active,
				"server_status":      "healthy",
			}})

		case <-idleCheck.C:
			h.pingIdleSubscribers()

		case <-h.ctx.Done():
			log.Println("eventbus: hub stopping")
			return
		}
	}
}

// publishNow stamps the event with a fresh bus-assigned id and timestamp
// (replacing any the caller set), encodes the event as its own named SSE
// event (not a generic "message"), and fans it out. Used both for
// caller-published events and the bus's own heartbeat/connection-lifecycle
// events.
func (h *Hub) publishNow(evt Event) {
	evt.ID = uuid.NewString()
	evt.Timestamp = time.Now()
	frame, err := encodeSSE(evt.Type, evt)
	if err != nil {
		log.Printf("eventbus: failed to encode event: %v", err)
		return
	}
	h.statsMu.Lock()
	h.totalPublished++
	h.statsMu.Unlock()
	h.fanOut(frame)
}

func (h *Hub) connectionEstablishedFrame() []byte {
	evt := Event{
		ID:   uuid.NewString(),
		Type: EventConnectionEstablished,
		Payload: map[string]any{
			"heartbeat_interval_seconds": h.heartbeatInterval.Seconds(),
		},
		Timestamp: time.Now(),
	}
	frame, err := encodeSSE(evt.Type, evt)
	if err != nil {
		log.Printf("eventbus: failed to encode connection_established: %v", err)
		return nil
	}
	return frame
}

func (h *Hub) fanOut(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	for sub := range h.subscribers {
		select {
		case sub.send <- frame:
			h.subscribers[sub] = now
		default:
			close(sub.send)
			delete(h.subscribers, sub)
		}
	}
}

// sendTo delivers frame to a single subscriber, used for the
// connection_established greeting that only the newly joined connection
// should receive.
func (h *Hub) sendTo(sub *Subscriber, frame []byte) {
	if frame == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	select {
	case sub.send <- frame:
		h.subscribers[sub] = time.Now()
	default:
		close(sub.send)
		delete(h.subscribers, sub)
	}
}

// pingIdleSubscribers sends a bare keepalive frame to any subscriber that
// hasn't received a frame (typed event or prior ping) within
// idlePingInterval, to defeat intermediary idle-connection timeouts. This is
// distinct from the 30s typed heartbeat event: a subscriber that's actively
// receiving heartbeats never needs one.
func (h *Hub) pingIdleSubscribers() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	for sub, last := range h.subscribers {
		if now.Sub(last) < h.idlePingInterval {
			continue
		}
		select {
		case sub.send <- pingFrame():
			h.subscribers[sub] = now
		default:
			close(sub.send)
			delete(h.subscribers, sub)
		}
	}
}

// Stop shuts the hub down and closes every subscriber channel.
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		close(sub.send)
	}
	h.subscribers = make(map[*Subscriber]time.Time)
}

// Publish enqueues an event for broadcast, dropping it if the hub's internal
// queue is saturated rather than blocking the caller (typically a store
// write in progress).
func (h *Hub) Publish(evt Event) {
	select {
	case h.broadcast <- evt:
	default:
		log.Println("eventbus: broadcast queue full, dropping event")
	}
}

// Subscribe registers a new SSE connection and returns its mailbox. Callers
// must eventually call Unsubscribe.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{send: make(chan []byte, 64)}
	h.register <- sub
	return sub
}

// Unsubscribe removes a subscriber from the hub.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.ctx.Done():
	}
}

// Stats reports bus-level counters for the /api/events/stats endpoint.
type Stats struct {
	ActiveSubscribers int   `json:"active_subscribers"`
	TotalPublished    int64 `json:"total_published"`
}

func (h *Hub) StatsSnapshot() Stats {
	h.mu.RLock()
	active := len(h.subscribers)
	h.mu.RUnlock()

	h.statsMu.Lock()
	total := h.totalPublished
	h.statsMu.Unlock()

	return Stats{ActiveSubscribers: active, TotalPublished: total}
}

func encodeSSE(event string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)), nil
}

func pingFrame() []byte {
	return []byte("event: ping\ndata: {}\n\n")
}
