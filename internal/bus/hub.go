// Package bus implements C9: the command/event surface between the UI
// and the orchestrator. Hub is grounded verbatim on the teacher's
// internal/sse.Hub (register/unregister/broadcast/done channel shape,
// drop-on-full-buffer with a counter so a slow subscriber never blocks
// the producer) — renamed Client→Subscriber and generalized from raw
// SSE-framed []byte payloads to typed Event values, since the in-process
// Hub doesn't need wire framing; the Dispatcher's SSE handler (HandleSSE
// in dispatch.go) serializes at the edge.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Event is one message broadcast to subscribers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Subscriber is a connected listener; Events delivers broadcast events in
// order. When its buffer is full the new event is dropped for this
// subscriber (never blocking the producer) and counted in Dropped.
type Subscriber struct {
	ID     string
	Events chan Event
}

// Hub manages subscriber registration and broadcasts events to all of
// them, replaying the last event per type to newly-registered
// subscribers so they don't miss current state. Replay is keyed by event
// type only: for `playback.update` that is the latest update of whichever
// deck published last, not one per deck.
type Hub struct {
	mu         sync.RWMutex
	subs       map[*Subscriber]bool
	lastByType map[string]Event

	broadcast  chan Event
	register   chan *Subscriber
	unregister chan *Subscriber
	done       chan struct{}

	dropped atomic.Uint64
}

// NewHub creates a new event hub.
func NewHub() *Hub {
	return &Hub{
		subs:       make(map[*Subscriber]bool),
		lastByType: make(map[string]Event),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		done:       make(chan struct{}),
	}
}

// Run drives the hub's event loop; call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subs[sub] = true
			for _, ev := range h.lastByType {
				select {
				case sub.Events <- ev:
				default:
				}
			}
			h.mu.Unlock()

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.Events)
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.mu.Lock()
			h.lastByType[ev.Type] = ev
			for sub := range h.subs {
				select {
				case sub.Events <- ev:
				default:
					h.dropped.Add(1)
					slog.Warn("bus: subscriber buffer full, dropping event", "id", sub.ID, "type", ev.Type)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for sub := range h.subs {
				close(sub.Events)
				delete(h.subs, sub)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Register adds sub to the hub. Safe to call after Close (no-op).
func (h *Hub) Register(sub *Subscriber) {
	select {
	case h.register <- sub:
	case <-h.done:
	}
}

// Unregister removes sub from the hub. Safe to call after Close (no-op).
func (h *Hub) Unregister(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Publish broadcasts ev to all subscribers.
func (h *Hub) Publish(ev Event) {
	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns the cumulative count of events dropped because a
// subscriber's buffer was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close shuts down the hub and disconnects every subscriber.
func (h *Hub) Close() {
	close(h.done)
}
