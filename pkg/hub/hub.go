// Package hub fans conversation events out to websocket clients using the
// channel-based broadcast pattern. The web layer pushes state changes,
// transcript turns, and notices through one hub; every connected browser
// tab sees the same stream.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-talkmode/internal/log"
)

// Hub maintains the set of active clients and broadcasts messages to them.
// Register, unregister, and broadcast all funnel through Run's loop, so the
// client set has a single writer.
type Hub struct {
	name string
	log  *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// mu guards clients for ClientCount readers outside the loop.
	mu      sync.RWMutex
	clients map[*Client]bool
}

// New creates a hub. The name tags its log lines.
func New(name string) *Hub {
	return &Hub{
		name:       name,
		log:        log.Component("hub").With("hub", name),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run drives the hub until ctx is cancelled, then disconnects every client.
// Call it in its own goroutine before accepting connections.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", "clients", count)

		case client := <-h.unregister:
			h.remove(client, "")

		case msg := <-h.broadcast:
			// Collect stalled clients outside the read lock; only the loop
			// mutates the map.
			var slow []*Client
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range slow {
				h.remove(c, "send buffer full")
			}
		}
	}
}

// remove drops a client from the set and closes its send channel exactly
// once. Safe against a slow-client drop racing the client's own unregister.
func (h *Hub) remove(c *Client, cause string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	count := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	close(c.send)
	if cause != "" {
		h.log.Warn("client dropped", "cause", cause, "clients", count)
	} else {
		h.log.Debug("client disconnected", "clients", count)
	}
}

// Broadcast queues raw bytes for delivery to every client. When the hub is
// saturated the message is dropped; event consumers resync from the status
// endpoint, so losing one update is tolerable.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		h.log.Warn("broadcast queue full, dropping message")
	}
}

// BroadcastJSON encodes v and broadcasts it.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
