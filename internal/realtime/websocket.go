package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 1024 * 1024 // 1MB
)

// WebSocketTransport is the gorilla/websocket implementation of Transport.
type WebSocketTransport struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	mu       sync.Mutex // guards conn and pingStop
	writeMu  sync.Mutex // serializes data frames and pings
	conn     *websocket.Conn
	pingStop chan struct{}
}

// NewWebSocketTransport creates a transport dialing the given ws:// or
// wss:// URL. The header is sent with the upgrade request and may carry a
// session token.
func NewWebSocketTransport(url string, header http.Header) *WebSocketTransport {
	return &WebSocketTransport{
		url:    url,
		header: header,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

// Connect dials the hub, replacing any previous connection.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	conn, _, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		return err
	}

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	t.mu.Lock()
	if t.pingStop != nil {
		close(t.pingStop)
	}
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = conn
	t.pingStop = make(chan struct{})
	go t.pingLoop(conn, t.pingStop)
	t.mu.Unlock()

	return nil
}

// pingLoop keeps the connection alive. A ping failure is not reported here;
// the broken connection surfaces through Receive.
func (t *WebSocketTransport) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Send writes one text frame. It rejects synchronously while disconnected;
// buffering is the caller's responsibility.
func (t *WebSocketTransport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Receive blocks until a message arrives or the connection drops.
func (t *WebSocketTransport) Receive() ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	_, data, err := conn.ReadMessage()
	return data, err
}

// Close tears down the current connection, sending a close frame when the
// peer is still reachable.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pingStop != nil {
		close(t.pingStop)
		t.pingStop = nil
	}
	if t.conn == nil {
		return nil
	}

	t.writeMu.Lock()
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	t.writeMu.Unlock()

	err := t.conn.Close()
	t.conn = nil
	return err
}

// isServerClose reports whether the peer shut the connection down cleanly,
// as opposed to the transport dropping underneath us.
func isServerClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway)
}
