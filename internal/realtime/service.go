// Package realtime implements the client side of the loadsync event layer:
// one persistent connection to the hub, an authenticated session bound to a
// (user, org) identity, a durable set of entity subscriptions replayed
// after every reconnect, and fan-out of inbound events to UI listeners.
//
// Nothing in this package is fatal to the host application. Calls made
// while disconnected degrade to queueing or log-and-drop; the worst case
// is that real-time sync silently stops, observable via IsConnected.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tmshq/loadsync/internal/wire"
)

// Config holds the service configuration.
type Config struct {
	// URL is the hub websocket endpoint, e.g. wss://hub.example.com/ws.
	URL string
	// Header is sent with the upgrade request; carries the session token
	// when the hub enforces one.
	Header http.Header
	// ReconnectDelay is the fixed base interval between retry attempts.
	ReconnectDelay time.Duration
	// ReconnectJitter is the random fraction of ReconnectDelay added to
	// each retry so many tabs do not reconnect in lockstep.
	ReconnectJitter float64
	// MaxReconnectAttempts bounds consecutive failed attempts before the
	// service goes terminal.
	MaxReconnectAttempts int
	// HandshakeRetryDelay is the single fixed retry delay applied when the
	// authenticate send fails on a live connection.
	HandshakeRetryDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.ReconnectJitter < 0 {
		c.ReconnectJitter = 0
	}
	if c.ReconnectJitter == 0 {
		c.ReconnectJitter = 0.25
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HandshakeRetryDelay <= 0 {
		c.HandshakeRetryDelay = 1200 * time.Millisecond
	}
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTransport replaces the websocket transport, used by tests to drive
// the service with a fake connection.
func WithTransport(t Transport) Option {
	return func(s *Service) { s.transport = t }
}

// WithClock replaces the wall clock, used by tests to fire retry timers
// deterministically.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// Service is the single long-lived realtime client. Create one per process
// at application start and tear it down with Disconnect.
type Service struct {
	cfg       Config
	logger    *slog.Logger
	clock     Clock
	transport Transport
	events    *dispatcher
	subs      *registry
	retry     *reconnector

	mu          sync.Mutex
	state       State
	identity    *wire.Auth
	authTimer   Timer
	authRetried bool
	closed      bool
	// epoch identifies the current physical connection; stale receive
	// loops and handshake retries from a replaced connection are ignored.
	epoch uint64
}

// New creates a Service. It does not connect; call Connect.
func New(cfg Config, opts ...Option) *Service {
	cfg.applyDefaults()

	s := &Service{
		cfg:    cfg,
		logger: slog.Default(),
		clock:  systemClock{},
		subs:   newRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = newDispatcher(s.logger)
	s.retry = newReconnector(s.clock, cfg.ReconnectDelay, cfg.ReconnectJitter, cfg.MaxReconnectAttempts)
	if s.transport == nil {
		s.transport = NewWebSocketTransport(cfg.URL, cfg.Header)
	}
	return s
}

// Connect establishes the connection. It is idempotent: while an attempt is
// in flight or a connection is established it logs and returns nil. A
// failed attempt starts the retry schedule and returns the dial error.
func (s *Service) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	switch s.state {
	case StateConnecting, StateConnected, StateAuthenticated:
		state := s.state
		s.mu.Unlock()
		s.logger.Debug("connect ignored", "state", state.String())
		return nil
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.emitState(StateConnecting)

	if err := s.transport.Connect(ctx); err != nil {
		s.handleConnectFailure(err)
		return err
	}
	s.onConnected()
	return nil
}

// Disconnect deliberately tears the service down: it cancels any pending
// retry and handshake timers, clears the stored identity, and closes the
// connection. The service cannot be reused afterwards.
func (s *Service) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateDisconnected
	s.identity = nil
	s.epoch++
	if s.authTimer != nil {
		s.authTimer.Stop()
		s.authTimer = nil
	}
	s.mu.Unlock()

	s.retry.stop()
	s.transport.Close()
	s.logger.Info("realtime service disconnected")
}

// IsConnected reports whether the transport is live (authenticated or not).
func (s *Service) IsConnected() bool {
	st := s.State()
	return st == StateConnected || st == StateAuthenticated
}

// IsAuthenticated reports whether the handshake has been accepted on the
// current connection.
func (s *Service) IsAuthenticated() bool {
	return s.State() == StateAuthenticated
}

// State returns the current connection state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// On registers a handler for an event and returns its unsubscribe function.
// Calling the returned function more than once is a no-op. Registering the
// identical function reference twice for one event registers it once.
func (s *Service) On(event string, fn Handler) func() {
	return s.events.on(event, fn)
}

// Emit sends a named event to the hub. While disconnected the frame is
// logged and dropped, never queued and never an error: UI code may call
// this at any time.
func (s *Service) Emit(event string, payload any) {
	if !s.IsConnected() {
		s.logger.Debug("emit dropped while disconnected", "event", event)
		return
	}
	if err := s.send(event, payload); err != nil {
		s.logger.Warn("emit failed", "event", event, "error", err)
	}
}

// send encodes and writes one frame on the transport.
func (s *Service) send(event string, payload any) error {
	data, err := wire.Encode(event, payload)
	if err != nil {
		return err
	}
	return s.transport.Send(data)
}

// emitState delivers a local connection:state event.
func (s *Service) emitState(state State) {
	data, _ := json.Marshal(map[string]string{"state": state.String()})
	s.events.dispatch(wire.EventConnectionState, data)
}
