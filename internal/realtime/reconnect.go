package realtime

import (
	"math/rand"
	"sync"
	"time"
)

// reconnector schedules bounded retries after unexpected disconnects. It
// owns exactly one timer at a time, so teardown is deterministic: stop()
// guarantees no retry fires afterwards.
type reconnector struct {
	clock       Clock
	base        time.Duration
	jitter      float64 // fraction of base added randomly, spreads herds
	maxAttempts int

	mu       sync.Mutex
	attempts int
	timer    Timer
	stopped  bool
}

func newReconnector(clock Clock, base time.Duration, jitter float64, maxAttempts int) *reconnector {
	return &reconnector{
		clock:       clock,
		base:        base,
		jitter:      jitter,
		maxAttempts: maxAttempts,
	}
}

// schedule arms the retry timer. It reports false when the controller is
// stopped or the attempt budget is exhausted, in which case fn never runs.
func (r *reconnector) schedule(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped || r.attempts >= r.maxAttempts {
		return false
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = r.clock.AfterFunc(r.delay(), fn)
	return true
}

// delay is the fixed base interval plus a random jitter fraction.
func (r *reconnector) delay() time.Duration {
	if r.jitter <= 0 {
		return r.base
	}
	return r.base + time.Duration(rand.Float64()*r.jitter*float64(r.base))
}

// recordFailure counts a failed attempt and reports whether another retry
// is allowed.
func (r *reconnector) recordFailure() (attempt int, retryAllowed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts++
	return r.attempts, r.attempts < r.maxAttempts && !r.stopped
}

// reset clears the attempt counter after a successful connection.
func (r *reconnector) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = 0
}

// stop cancels any pending retry and prevents future scheduling. Used by
// the deliberate teardown path only.
func (r *reconnector) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
