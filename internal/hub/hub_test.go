package hub

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/tmshq/loadsync/internal/wire"
)

func startHub(t *testing.T, validate TokenValidator) (*Hub, string) {
	t.Helper()

	h := NewHub()
	go h.Run()

	e := echo.New()
	e.GET("/ws", NewHandler(h, validate).ServeWS)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return h, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := wire.Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readFrame(t *testing.T, conn *websocket.Conn) *wire.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := wire.Decode(raw)
	require.NoError(t, err)
	return frame
}

// expectNoFrame asserts that nothing arrives within the window.
func expectNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "expected no frame, but one arrived")
}

// authenticate runs the handshake and waits for the verdict. Because frames
// are handled in order per connection, it doubles as a sync barrier for any
// frames sent before it.
func authenticate(t *testing.T, conn *websocket.Conn, userID, orgID string) {
	t.Helper()
	sendFrame(t, conn, wire.EventAuthenticate, wire.Auth{UserID: userID, OrgID: orgID})

	frame := readFrame(t, conn)
	require.Equal(t, wire.EventAuthenticated, frame.Event)

	var verdict wire.Authenticated
	require.NoError(t, frame.Bind(&verdict))
	require.True(t, verdict.Success)
}

func TestHandshake(t *testing.T) {
	t.Run("accepts a complete identity", func(t *testing.T) {
		_, url := startHub(t, nil)
		conn := dial(t, url)
		authenticate(t, conn, "42", "7")
	})

	t.Run("rejects an empty identity", func(t *testing.T) {
		_, url := startHub(t, nil)
		conn := dial(t, url)

		sendFrame(t, conn, wire.EventAuthenticate, wire.Auth{UserID: "42"})

		frame := readFrame(t, conn)
		require.Equal(t, wire.EventAuthenticated, frame.Event)

		var verdict wire.Authenticated
		require.NoError(t, frame.Bind(&verdict))
		require.False(t, verdict.Success)
		require.NotEmpty(t, verdict.Error)
	})
}

func TestSubscribeRequiresAuthentication(t *testing.T) {
	_, url := startHub(t, nil)
	conn := dial(t, url)

	sendFrame(t, conn, wire.EventSubscribe, wire.Subscription{EntityType: wire.EntityLoad, EntityID: "1"})

	frame := readFrame(t, conn)
	require.Equal(t, wire.EventError, frame.Event)
}

func TestBroadcastReachesSubscribersOnly(t *testing.T) {
	h, url := startHub(t, nil)

	subscriber := dial(t, url)
	authenticate(t, subscriber, "42", "7")
	sendFrame(t, subscriber, wire.EventSubscribe, wire.Subscription{EntityType: wire.EntityLoad, EntityID: "1"})
	authenticate(t, subscriber, "42", "7") // barrier: subscribe is now processed

	bystander := dial(t, url)
	authenticate(t, bystander, "43", "7")

	h.Broadcast(wire.EntityLoad, wire.ActionUpdated, "1", map[string]any{"status": "delivered"})

	frame := readFrame(t, subscriber)
	require.Equal(t, wire.EventDataUpdated, frame.Event)

	var update wire.Update
	require.NoError(t, frame.Bind(&update))
	require.Equal(t, wire.EntityLoad, update.EntityType)
	require.Equal(t, wire.ActionUpdated, update.Action)
	require.Equal(t, "1", update.EntityID)

	expectNoFrame(t, bystander)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h, url := startHub(t, nil)

	conn := dial(t, url)
	authenticate(t, conn, "42", "7")
	sendFrame(t, conn, wire.EventSubscribe, wire.Subscription{EntityType: wire.EntityInvoice, EntityID: "9"})
	sendFrame(t, conn, wire.EventUnsubscribe, wire.Subscription{EntityType: wire.EntityInvoice, EntityID: "9"})
	authenticate(t, conn, "42", "7") // barrier

	h.Broadcast(wire.EntityInvoice, wire.ActionDeleted, "9", nil)

	expectNoFrame(t, conn)
}

func TestSystemMessageGoesToAuthenticatedClients(t *testing.T) {
	h, url := startHub(t, nil)

	member := dial(t, url)
	authenticate(t, member, "42", "7")

	stranger := dial(t, url)
	// Round-trip an invalid handshake so the stranger is registered before
	// the broadcast without becoming authenticated.
	sendFrame(t, stranger, wire.EventAuthenticate, wire.Auth{})
	readFrame(t, stranger)

	h.SystemMessage(map[string]any{"message": "maintenance at midnight"})

	frame := readFrame(t, member)
	require.Equal(t, wire.EventSystemMessage, frame.Event)

	expectNoFrame(t, stranger)
}

func TestTokenValidation(t *testing.T) {
	reject := errors.New("bad token")
	validate := func(token string) error {
		if token == "good" {
			return nil
		}
		return reject
	}

	t.Run("missing token is refused", func(t *testing.T) {
		_, url := startHub(t, validate)
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid token upgrades", func(t *testing.T) {
		_, url := startHub(t, validate)
		conn := dial(t, url+"?token=good")
		authenticate(t, conn, "42", "7")
	})
}

func TestDropAllUnregistersClients(t *testing.T) {
	h, url := startHub(t, nil)

	conn := dial(t, url)
	authenticate(t, conn, "42", "7")
	require.Equal(t, 1, h.ClientCount())

	h.DropAll()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return h.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
