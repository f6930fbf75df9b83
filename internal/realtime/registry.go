package realtime

import (
	"sync"

	"github.com/tmshq/loadsync/internal/wire"
)

// registry tracks the set of (entityType, entityId) tuples the application
// currently cares about. The desired set survives connection churn; the
// pending queue holds subscribes issued while disconnected so they are
// never lost and never sent early.
type registry struct {
	mu      sync.Mutex
	desired map[wire.Subscription]struct{}
	order   []wire.Subscription // desired set in first-subscribe order
	pending []wire.Subscription // FIFO, deduplicated by tuple
}

func newRegistry() *registry {
	return &registry{
		desired: make(map[wire.Subscription]struct{}),
	}
}

// subscribe records the tuple as desired and reports whether it is new.
// While disconnected the tuple also joins the pending queue, deferring the
// send to the next replay.
func (r *registry) subscribe(sub wire.Subscription, connected bool) (added bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.desired[sub]; ok {
		return false
	}
	r.desired[sub] = struct{}{}
	r.order = append(r.order, sub)

	if !connected {
		r.pending = append(r.pending, sub)
	}
	return true
}

// unsubscribe removes the tuple from the desired set. It reports whether a
// wire unsubscribe needs to be sent: a tuple that only ever sat in the
// pending queue was never seen by the server and nets to nothing.
func (r *registry) unsubscribe(sub wire.Subscription) (sendWire bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.desired[sub]; !ok {
		return false
	}
	delete(r.desired, sub)
	for i, s := range r.order {
		if s == sub {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}

	for i, s := range r.pending {
		if s == sub {
			r.pending = append(r.pending[:i:i], r.pending[i+1:]...)
			return false // never sent, nothing to undo
		}
	}
	return true
}

// replay drains the pending queue into the desired set and returns the full
// desired set in stable order, each tuple exactly once. Called after every
// successful authentication so server-side state matches client-side
// desired state.
func (r *registry) replay() []wire.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = nil

	out := make([]wire.Subscription, len(r.order))
	copy(out, r.order)
	return out
}

// snapshot returns the current desired set without draining the queue.
func (r *registry) snapshot() []wire.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]wire.Subscription, len(r.order))
	copy(out, r.order)
	return out
}
