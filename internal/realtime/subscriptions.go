package realtime

import (
	"github.com/tmshq/loadsync/internal/wire"
)

// SubscribeToEntity declares interest in update events for one
// (entityType, entityId) record. Connected, the subscribe is sent
// immediately; disconnected, it is queued and sent with the next replay.
// This never fails: UI components call it during render.
func (s *Service) SubscribeToEntity(entityType, entityID string) {
	sub := wire.Subscription{EntityType: entityType, EntityID: entityID}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	connected := s.state == StateConnected || s.state == StateAuthenticated
	s.mu.Unlock()

	added := s.subs.subscribe(sub, connected)
	if !added {
		return // already desired, the set deduplicates by tuple
	}
	if connected {
		if err := s.send(wire.EventSubscribe, sub); err != nil {
			// Stays in the desired set; the next replay restores it.
			s.logger.Warn("subscribe send failed", "entity", sub.Key(), "error", err)
		}
	} else {
		s.logger.Debug("subscribe queued while disconnected", "entity", sub.Key())
	}
}

// UnsubscribeFromEntity withdraws interest in a record. A tuple that only
// ever sat in the pending queue is removed there and never reaches the
// hub, so a subscribe/unsubscribe pair issued while offline nets to
// nothing.
func (s *Service) UnsubscribeFromEntity(entityType, entityID string) {
	sub := wire.Subscription{EntityType: entityType, EntityID: entityID}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	connected := s.state == StateConnected || s.state == StateAuthenticated
	s.mu.Unlock()

	sendWire := s.subs.unsubscribe(sub)
	if sendWire && connected {
		if err := s.send(wire.EventUnsubscribe, sub); err != nil {
			s.logger.Warn("unsubscribe send failed", "entity", sub.Key(), "error", err)
		}
	}
}

// Subscriptions returns the current desired set, mainly for diagnostics.
func (s *Service) Subscriptions() []wire.Subscription {
	return s.subs.snapshot()
}

// replaySubscriptions re-sends the full desired set so the hub's view
// matches the client's after a (re)connect. Each tuple goes out exactly
// once per cycle.
func (s *Service) replaySubscriptions() {
	subs := s.subs.replay()
	if len(subs) == 0 {
		return
	}
	s.logger.Info("replaying subscriptions", "count", len(subs))
	for _, sub := range subs {
		if err := s.send(wire.EventSubscribe, sub); err != nil {
			s.logger.Warn("subscription replay send failed", "entity", sub.Key(), "error", err)
		}
	}
}
