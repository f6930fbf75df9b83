package realtime

import (
	"testing"
	"time"
)

func TestReconnectorSchedule(t *testing.T) {
	t.Run("fires after the delay", func(t *testing.T) {
		clock := newFakeClock()
		r := newReconnector(clock, 2*time.Second, 0, 5)

		fired := false
		if !r.schedule(func() { fired = true }) {
			t.Fatal("Expected schedule to arm the timer")
		}

		clock.advance(time.Second)
		if fired {
			t.Error("Timer fired early")
		}
		clock.advance(2 * time.Second)
		if !fired {
			t.Error("Timer never fired")
		}
	})

	t.Run("jitter stays within the configured fraction", func(t *testing.T) {
		clock := newFakeClock()
		r := newReconnector(clock, 2*time.Second, 0.25, 5)

		for i := 0; i < 50; i++ {
			d := r.delay()
			if d < 2*time.Second || d > 2500*time.Millisecond {
				t.Fatalf("Delay %v outside [2s, 2.5s]", d)
			}
		}
	})

	t.Run("rearming replaces the previous timer", func(t *testing.T) {
		clock := newFakeClock()
		r := newReconnector(clock, time.Second, 0, 5)

		first, second := 0, 0
		r.schedule(func() { first++ })
		r.schedule(func() { second++ })

		clock.advance(5 * time.Second)
		if first != 0 {
			t.Error("Replaced timer still fired")
		}
		if second != 1 {
			t.Errorf("Expected second timer to fire once, fired %d times", second)
		}
	})
}

func TestReconnectorAttemptBudget(t *testing.T) {
	clock := newFakeClock()
	r := newReconnector(clock, time.Second, 0, 3)

	for i := 1; i <= 2; i++ {
		attempt, retryAllowed := r.recordFailure()
		if attempt != i || !retryAllowed {
			t.Fatalf("Attempt %d: expected retry allowed, got attempt=%d allowed=%v", i, attempt, retryAllowed)
		}
	}

	attempt, retryAllowed := r.recordFailure()
	if attempt != 3 || retryAllowed {
		t.Errorf("Expected budget exhausted at attempt 3, got attempt=%d allowed=%v", attempt, retryAllowed)
	}
	if r.schedule(func() {}) {
		t.Error("Expected schedule to refuse once budget is exhausted")
	}

	t.Run("reset restores the budget", func(t *testing.T) {
		r.reset()
		if !r.schedule(func() {}) {
			t.Error("Expected schedule to work after reset")
		}
	})
}

func TestReconnectorStop(t *testing.T) {
	clock := newFakeClock()
	r := newReconnector(clock, time.Second, 0, 5)

	fired := false
	r.schedule(func() { fired = true })
	r.stop()

	clock.advance(time.Minute)
	if fired {
		t.Error("Timer fired after stop")
	}
	if r.schedule(func() {}) {
		t.Error("Expected schedule to refuse after stop")
	}
}
