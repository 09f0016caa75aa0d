package websocket

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Lolevel/thunderclap/internal/refresh"
)

// Hub routes refresh events to connected clients. A client either follows a
// single team or, with no filter, every team. The hub satisfies refresh.Sink
// so it plugs straight into the progress publisher.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	events     chan refresh.Event
	count      chan chan int
	done       chan struct{}
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan refresh.Event, 64),
		count:      make(chan chan int),
		done:       make(chan struct{}),
	}
}

var _ refresh.Sink = (*Hub)(nil)

// Run owns the client set. All membership changes and deliveries go through
// this loop, so no locking is needed anywhere else.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			log.Debug().Str("component", "ws_hub").Int("clients", len(h.clients)).
				Msg("client connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case event := <-h.events:
			h.deliver(event)

		case reply := <-h.count:
			reply <- len(h.clients)

		case <-h.done:
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return
		}
	}
}

// add registers a client. A no-op once the hub has stopped, so late
// connections during shutdown cannot block forever.
func (h *Hub) add(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// remove unregisters a client. Safe to call after Stop.
func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Deliver queues an event for broadcast. Drops when the hub is saturated
// rather than blocking the publisher.
func (h *Hub) Deliver(event refresh.Event) {
	select {
	case h.events <- event:
	default:
		log.Warn().Str("component", "ws_hub").Msg("event queue full, dropping broadcast")
	}
}

// ClientCount reports how many clients are connected.
func (h *Hub) ClientCount() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Stop disconnects all clients and ends the Run loop.
func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) deliver(event refresh.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Str("component", "ws_hub").Err(err).Msg("failed to encode event")
		return
	}

	for client := range h.clients {
		if client.teamID != uuid.Nil && client.teamID != event.TeamID {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Slow consumer; cut it loose rather than queue unboundedly.
			delete(h.clients, client)
			close(client.send)
		}
	}
}
