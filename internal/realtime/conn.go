package realtime

import (
	"context"

	json "github.com/goccy/go-json"

	"github.com/tmshq/loadsync/internal/wire"
)

// onConnected runs after every successful dial: it marks the transport
// ready, starts the receive loop for the new connection, and replays the
// handshake when an identity is already held.
func (s *Service) onConnected() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.transport.Close()
		return
	}
	s.state = StateConnected
	s.epoch++
	epoch := s.epoch
	s.authRetried = false
	identity := s.identity
	s.mu.Unlock()

	s.retry.reset()
	s.logger.Info("transport connected", "url", s.cfg.URL)
	s.emitState(StateConnected)

	go s.receiveLoop(epoch)

	// A new physical connection never inherits authenticated status.
	if identity != nil {
		s.sendHandshake(*identity, epoch)
	}
}

func (s *Service) receiveLoop(epoch uint64) {
	for {
		data, err := s.transport.Receive()
		if err != nil {
			s.handleDisconnect(err, epoch)
			return
		}
		s.handleMessage(data)
	}
}

func (s *Service) handleMessage(data []byte) {
	frame, err := wire.Decode(data)
	if err != nil {
		s.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	switch frame.Event {
	case wire.EventAuthenticated:
		s.handleAuthenticated(frame)
	case wire.EventDataUpdated:
		// Deliver at both granularities: the generic event and the
		// derived entityType:action name.
		s.events.dispatch(wire.EventDataUpdated, frame.Data)
		var update wire.Update
		if err := frame.Bind(&update); err != nil {
			s.logger.Warn("data:updated payload missing entity metadata", "error", err)
			return
		}
		if update.EntityType != "" && update.Action != "" {
			s.events.dispatch(wire.UpdateEvent(update.EntityType, update.Action), frame.Data)
		}
	default:
		s.events.dispatch(frame.Event, frame.Data)
	}
}

// handleDisconnect reacts to a dropped connection. Stale epochs are loops
// left over from a connection that has already been replaced.
func (s *Service) handleDisconnect(err error, epoch uint64) {
	s.mu.Lock()
	if s.closed || epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	if s.authTimer != nil {
		s.authTimer.Stop()
		s.authTimer = nil
	}
	s.mu.Unlock()

	if isServerClose(err) {
		s.logger.Info("server closed connection", "reason", err)
	} else {
		s.logger.Warn("connection lost", "error", err)
	}
	s.transport.Close()
	s.emitState(StateDisconnected)

	// Surfaced passively; never thrown at the caller.
	payload, _ := json.Marshal(map[string]string{"message": err.Error()})
	s.events.dispatch(wire.EventError, payload)

	if !s.retry.schedule(s.tryReconnect) {
		s.failTerminal()
	}
}

// handleConnectFailure counts a failed attempt and either schedules the
// next retry or goes terminal.
func (s *Service) handleConnectFailure(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.mu.Unlock()

	attempt, retryAllowed := s.retry.recordFailure()
	s.logger.Warn("connect attempt failed",
		"attempt", attempt,
		"max", s.cfg.MaxReconnectAttempts,
		"error", err)
	s.emitState(StateDisconnected)

	if !retryAllowed || !s.retry.schedule(s.tryReconnect) {
		s.failTerminal()
	}
}

func (s *Service) tryReconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.emitState(StateConnecting)

	if err := s.transport.Connect(context.Background()); err != nil {
		s.handleConnectFailure(err)
		return
	}
	s.onConnected()
}

// failTerminal moves the service to the terminal Failed state. Reaching it
// requires external re-initialization; a deliberate Disconnect never ends
// up here.
func (s *Service) failTerminal() {
	s.mu.Lock()
	if s.closed || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.mu.Unlock()

	s.logger.Error("reconnect attempts exhausted, realtime sync stopped",
		"attempts", s.cfg.MaxReconnectAttempts)
	s.emitState(StateFailed)
}
