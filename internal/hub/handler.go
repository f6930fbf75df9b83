package hub

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// TokenValidator checks a bearer token presented at upgrade time. A nil
// validator disables the check and relies on the in-band handshake alone.
type TokenValidator func(token string) error

// Handler upgrades HTTP requests to websocket connections and hands them
// to the hub.
type Handler struct {
	hub      *Hub
	validate TokenValidator
	upgrader websocket.Upgrader
}

func NewHandler(h *Hub, validate TokenValidator) *Handler {
	return &Handler{
		hub:      h,
		validate: validate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin enforcement is handled by the reverse proxy in front
			// of the daemon.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS handles GET /ws.
func (h *Handler) ServeWS(c echo.Context) error {
	if h.validate != nil {
		token := bearerToken(c)
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
		}
		if err := h.validate(token); err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("hub: upgrade failed: %v", err)
		return err
	}

	client := newClient(h.hub, conn)
	h.hub.register <- client

	go client.writePump()
	go client.readPump()
	return nil
}

// bearerToken pulls the token from the Authorization header or, for browser
// websocket clients that cannot set headers, the token query parameter.
func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.QueryParam("token")
}
