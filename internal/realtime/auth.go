package realtime

import (
	"github.com/tmshq/loadsync/internal/wire"
)

// Authenticate stores the identity and, when the transport is live, sends
// the handshake immediately. Called before the connection is up, the
// stored identity is sent automatically once the transport reports ready,
// so callers never have to sequence this against Connect.
func (s *Service) Authenticate(userID, orgID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	identity := wire.Auth{UserID: userID, OrgID: orgID}
	s.identity = &identity
	connected := s.state == StateConnected || s.state == StateAuthenticated
	epoch := s.epoch
	s.mu.Unlock()

	s.logger.Info("identity stored", "userId", userID, "orgId", orgID)
	if connected {
		s.sendHandshake(identity, epoch)
	}
}

// sendHandshake sends the authenticate frame. A transient send failure on
// a live connection gets exactly one retry after a short fixed delay; a
// second failure is logged and left to the next reconnect cycle.
func (s *Service) sendHandshake(identity wire.Auth, epoch uint64) {
	err := s.send(wire.EventAuthenticate, identity)
	if err == nil {
		return
	}

	s.mu.Lock()
	if s.closed || epoch != s.epoch || s.authRetried {
		s.mu.Unlock()
		s.logger.Warn("handshake send failed", "error", err)
		return
	}
	s.authRetried = true
	s.authTimer = s.clock.AfterFunc(s.cfg.HandshakeRetryDelay, func() {
		s.retryHandshake(epoch)
	})
	s.mu.Unlock()

	s.logger.Warn("handshake send failed, retrying once",
		"delay", s.cfg.HandshakeRetryDelay,
		"error", err)
}

func (s *Service) retryHandshake(epoch uint64) {
	s.mu.Lock()
	stale := s.closed || epoch != s.epoch
	identity := s.identity
	s.authTimer = nil
	s.mu.Unlock()

	if stale || identity == nil {
		return
	}
	if err := s.send(wire.EventAuthenticate, *identity); err != nil {
		s.logger.Warn("handshake retry failed", "error", err)
	}
}

// handleAuthenticated processes the server's handshake verdict. Success
// promotes the session and triggers, in order, the full subscription
// replay and a local data:refresh so UI caches re-fetch whatever changed
// while offline. Rejection leaves the session connected-but-unauthenticated.
func (s *Service) handleAuthenticated(frame *wire.Frame) {
	var verdict wire.Authenticated
	if err := frame.Bind(&verdict); err != nil {
		s.logger.Warn("malformed authenticated frame", "error", err)
		return
	}

	s.events.dispatch(wire.EventAuthenticated, frame.Data)

	if !verdict.Success {
		s.logger.Warn("authentication rejected", "error", verdict.Error)
		return
	}

	s.mu.Lock()
	if s.state == StateConnected {
		s.state = StateAuthenticated
	}
	s.mu.Unlock()
	s.logger.Info("session authenticated")
	s.emitState(StateAuthenticated)

	s.replaySubscriptions()
	s.events.dispatch(wire.EventDataRefresh, nil)
}
