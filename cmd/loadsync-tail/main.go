// loadsync-tail connects to a loadsync hub, authenticates, subscribes to a
// set of entities and prints every event it receives. It is the debugging
// companion to loadsyncd.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tmshq/loadsync/internal/config"
	"github.com/tmshq/loadsync/internal/realtime"
	"github.com/tmshq/loadsync/internal/wire"
)

const version = "0.1.0-dev"

func main() {
	configPath := flag.String("config", "", "Path to loadsync.yaml config file (optional)")
	url := flag.String("url", "", "Hub websocket URL, overrides client.url from the config")
	user := flag.String("user", "", "User id for the handshake (required)")
	org := flag.String("org", "", "Org id for the handshake (required)")
	subs := flag.String("subs", "", "Comma-separated entityType:entityId tuples to subscribe to")
	token := flag.String("token", "", "Bearer token for the upgrade request (optional)")
	verbose := flag.Bool("v", false, "Debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("loadsync-tail v%s\n", version)
		os.Exit(0)
	}
	if *user == "" || *org == "" {
		fmt.Fprintln(os.Stderr, "Error: -user and -org are required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *url != "" {
		cfg.Client.URL = *url
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	header := http.Header{}
	if *token != "" {
		header.Set("Authorization", "Bearer "+*token)
	}

	svc := realtime.New(realtime.Config{
		URL:                  cfg.Client.URL,
		Header:               header,
		ReconnectDelay:       cfg.Client.ReconnectDelay.Std(),
		ReconnectJitter:      cfg.Client.ReconnectJitter,
		MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
	}, realtime.WithLogger(logger))
	defer svc.Disconnect()

	for _, event := range []string{
		wire.EventConnectionState,
		wire.EventDataUpdated,
		wire.EventDataRefresh,
		wire.EventSystemMessage,
		wire.EventSystemAlert,
		wire.EventError,
	} {
		event := event
		svc.On(event, func(data []byte) {
			fmt.Printf("%s  %-16s %s\n", time.Now().Format("15:04:05.000"), event, string(data))
		})
	}

	svc.Authenticate(*user, *org)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Connect(ctx); err != nil {
		// The retry schedule is already running; just report it.
		logger.Warn("initial connect failed, retrying", "error", err)
	}

	for _, tuple := range parseSubs(*subs) {
		svc.SubscribeToEntity(tuple.EntityType, tuple.EntityID)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	fmt.Println("\nDisconnecting...")
}

func parseSubs(raw string) []wire.Subscription {
	var out []wire.Subscription
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		entityType, entityID, ok := strings.Cut(part, ":")
		if !ok || entityType == "" || entityID == "" {
			fmt.Fprintf(os.Stderr, "Skipping malformed subscription %q, want entityType:entityId\n", part)
			continue
		}
		out = append(out, wire.Subscription{EntityType: entityType, EntityID: entityID})
	}
	return out
}
