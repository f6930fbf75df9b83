package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tmshq/loadsync/internal/auth"
	"github.com/tmshq/loadsync/internal/config"
	"github.com/tmshq/loadsync/internal/hub"
	"github.com/tmshq/loadsync/internal/wire"
)

const version = "0.1.0-dev"

func main() {
	configPath := flag.String("config", "", "Path to loadsync.yaml config file (optional)")
	addr := flag.String("addr", "", "Listen address, overrides hub.addr from the config")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("loadsyncd v%s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Hub.Addr = *addr
	}

	var tokenConfig *auth.TokenConfig
	if cfg.Auth.Enabled {
		tokenConfig, err = loadTokenConfig(cfg.Auth)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error setting up token auth: %v\n", err)
			os.Exit(1)
		}
	}

	h := hub.NewHub()
	go h.Run()

	e := newServer(h, tokenConfig)

	go func() {
		fmt.Printf("loadsyncd v%s listening on %s\n", version, cfg.Hub.Addr)
		if err := e.Start(cfg.Hub.Addr); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("Shutting down...")
	h.DropAll()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
		os.Exit(1)
	}
}

func newServer(h *hub.Hub, tokenConfig *auth.TokenConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	var validate hub.TokenValidator
	if tokenConfig != nil {
		validate = auth.Validator(tokenConfig)
	}
	e.GET("/ws", hub.NewHandler(h, validate).ServeWS)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":  "ok",
			"clients": h.ClientCount(),
		})
	})

	// Internal endpoints for the CRUD API to publish events through. These
	// must never be exposed past the reverse proxy.
	internal := e.Group("/internal")
	internal.POST("/broadcast", broadcastHandler(h))
	internal.POST("/system/message", systemHandler(h.SystemMessage))
	internal.POST("/system/alert", systemHandler(h.SystemAlert))
	if tokenConfig != nil {
		internal.POST("/token", tokenHandler(tokenConfig))
	}

	return e
}

type broadcastRequest struct {
	EntityType string         `json:"entityType"`
	Action     string         `json:"action"`
	EntityID   string         `json:"entityId"`
	Payload    map[string]any `json:"payload"`
}

func broadcastHandler(h *hub.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req broadcastRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if req.EntityType == "" || req.Action == "" || req.EntityID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "entityType, action and entityId are required")
		}

		h.Broadcast(req.EntityType, req.Action, req.EntityID, req.Payload)
		return c.NoContent(http.StatusAccepted)
	}
}

func systemHandler(send func(map[string]any)) echo.HandlerFunc {
	return func(c echo.Context) error {
		var payload map[string]any
		if err := c.Bind(&payload); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		send(payload)
		return c.NoContent(http.StatusAccepted)
	}
}

func tokenHandler(tokenConfig *auth.TokenConfig) echo.HandlerFunc {
	return func(c echo.Context) error {
		var identity wire.Auth
		if err := c.Bind(&identity); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if identity.UserID == "" || identity.OrgID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "userId and orgId are required")
		}

		token, err := auth.GenerateToken(identity.UserID, identity.OrgID, tokenConfig)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to issue token")
		}
		return c.JSON(http.StatusOK, map[string]string{"token": token})
	}
}

// loadTokenConfig derives the signing key from the configured seed file, or
// generates an ephemeral one when no seed is configured.
func loadTokenConfig(cfg config.AuthConfig) (*auth.TokenConfig, error) {
	if cfg.SeedFile == "" {
		fmt.Println("No auth seed file configured, using an ephemeral signing key")
		return auth.NewTokenConfig(cfg.Issuer, cfg.ExpiryHours)
	}

	raw, err := os.ReadFile(cfg.SeedFile)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	seed, err := hex.DecodeString(string(trimNewline(raw)))
	if err != nil {
		return nil, fmt.Errorf("seed file must be hex-encoded: %w", err)
	}
	return auth.TokenConfigFromSeed(seed, cfg.Issuer, cfg.ExpiryHours)
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
