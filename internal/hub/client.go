package hub

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tmshq/loadsync/internal/wire"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024
)

// Client is one websocket connection registered with the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string
	send chan []byte

	mu            sync.RWMutex
	identity      *wire.Auth
	subscriptions map[string]bool
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		id:            uuid.New().String(),
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string {
	return c.id
}

// Identity returns the identity bound by the handshake, or nil before it.
func (c *Client) Identity() *wire.Auth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

func (c *Client) isAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity != nil
}

func (c *Client) isSubscribed(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[key]
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("hub: client %s read error: %v", c.id, err)
			}
			return
		}

		frame, err := wire.Decode(raw)
		if err != nil {
			c.sendError("malformed frame")
			continue
		}
		c.handleFrame(frame)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(frame *wire.Frame) {
	switch frame.Event {
	case wire.EventAuthenticate:
		c.handleAuthenticate(frame)
	case wire.EventSubscribe:
		c.handleSubscribe(frame)
	case wire.EventUnsubscribe:
		c.handleUnsubscribe(frame)
	default:
		c.sendError("unknown event: " + frame.Event)
	}
}

func (c *Client) handleAuthenticate(frame *wire.Frame) {
	var auth wire.Auth
	if err := frame.Bind(&auth); err != nil {
		c.sendFrame(wire.EventAuthenticated, wire.Authenticated{Error: "malformed authenticate payload"})
		return
	}
	if auth.UserID == "" || auth.OrgID == "" {
		c.sendFrame(wire.EventAuthenticated, wire.Authenticated{Error: "userId and orgId are required"})
		return
	}

	c.mu.Lock()
	c.identity = &auth
	c.mu.Unlock()

	c.sendFrame(wire.EventAuthenticated, wire.Authenticated{Success: true})
}

func (c *Client) handleSubscribe(frame *wire.Frame) {
	sub, ok := c.bindSubscription(frame)
	if !ok {
		return
	}
	if !c.isAuthenticated() {
		c.sendError("subscribe requires authentication")
		return
	}

	c.mu.Lock()
	c.subscriptions[sub.Key()] = true
	c.mu.Unlock()
}

func (c *Client) handleUnsubscribe(frame *wire.Frame) {
	sub, ok := c.bindSubscription(frame)
	if !ok {
		return
	}

	c.mu.Lock()
	delete(c.subscriptions, sub.Key())
	c.mu.Unlock()
}

func (c *Client) bindSubscription(frame *wire.Frame) (wire.Subscription, bool) {
	var sub wire.Subscription
	if err := frame.Bind(&sub); err != nil {
		c.sendError("malformed " + frame.Event + " payload")
		return sub, false
	}
	if sub.EntityType == "" || sub.EntityID == "" {
		c.sendError(frame.Event + " requires entityType and entityId")
		return sub, false
	}
	return sub, true
}

func (c *Client) sendFrame(event string, payload any) {
	data, err := wire.Encode(event, payload)
	if err != nil {
		log.Printf("hub: client %s failed to encode %s: %v", c.id, event, err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("hub: client %s send buffer full, dropping %s", c.id, event)
	}
}

func (c *Client) sendError(message string) {
	c.sendFrame(wire.EventError, map[string]string{"message": message})
}

// closeWithReason performs a server-initiated close handshake. WriteControl
// is safe to call concurrently with the writePump.
func (c *Client) closeWithReason(reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.conn.Close()
}
