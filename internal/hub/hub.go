// Package hub is the server side of the loadsync event layer. It accepts
// websocket connections, runs the authenticate handshake, tracks each
// connection's entity subscriptions, and fans mutation events out to the
// connections that subscribed to the affected record.
package hub

import (
	"log"
	"sync"

	"github.com/tmshq/loadsync/internal/wire"
)

// Hub manages connected clients and event broadcasting.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// outbound is one encoded frame plus its delivery predicate.
type outbound struct {
	data  []byte
	match func(*Client) bool
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			var toDelete []*Client
			h.mu.RLock()
			for client := range h.clients {
				if !msg.match(client) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Client buffer full, mark for removal
					toDelete = append(toDelete, client)
				}
			}
			h.mu.RUnlock()

			if len(toDelete) > 0 {
				h.mu.Lock()
				for _, client := range toDelete {
					if _, ok := h.clients[client]; ok {
						close(client.send)
						delete(h.clients, client)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// Broadcast delivers a data:updated event to every client subscribed to
// the (entityType, entityId) tuple.
func (h *Hub) Broadcast(entityType, action, entityID string, extra map[string]any) {
	payload := wire.UpdatePayload(entityType, action, entityID, extra)
	data, err := wire.Encode(wire.EventDataUpdated, payload)
	if err != nil {
		log.Printf("hub: failed to encode %s %s event: %v", entityType, action, err)
		return
	}

	key := wire.Subscription{EntityType: entityType, EntityID: entityID}.Key()
	h.broadcast <- outbound{
		data: data,
		match: func(c *Client) bool {
			return c.isSubscribed(key)
		},
	}
}

// SystemMessage sends a system:message frame to all authenticated clients.
func (h *Hub) SystemMessage(payload map[string]any) {
	h.toAuthenticated(wire.EventSystemMessage, payload)
}

// SystemAlert sends a system:alert frame to all authenticated clients.
func (h *Hub) SystemAlert(payload map[string]any) {
	h.toAuthenticated(wire.EventSystemAlert, payload)
}

func (h *Hub) toAuthenticated(event string, payload map[string]any) {
	data, err := wire.Encode(event, payload)
	if err != nil {
		log.Printf("hub: failed to encode %s event: %v", event, err)
		return
	}
	h.broadcast <- outbound{
		data: data,
		match: func(c *Client) bool {
			return c.isAuthenticated()
		},
	}
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DropAll closes every connection from the server side. Connected clients
// are expected to reconnect on their own.
func (h *Hub) DropAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.closeWithReason("server shutting down connection")
	}
}
