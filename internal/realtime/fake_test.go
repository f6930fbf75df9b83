package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tmshq/loadsync/internal/wire"
)

// fakeTransport drives the service without a network. Tests push inbound
// frames and connection drops; outbound frames are recorded.
type fakeTransport struct {
	mu           sync.Mutex
	connectCalls int
	failConnects int // fail this many Connect calls before succeeding
	sendErrs     int // fail this many Send calls before succeeding
	connected    bool
	sent         []*wire.Frame
	recvCh       chan recvItem
}

type recvItem struct {
	data []byte
	err  error
}

var errConnRefused = errors.New("dial tcp: connection refused")

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connectCalls++
	if f.failConnects > 0 {
		f.failConnects--
		return errConnRefused
	}
	f.connected = true
	f.recvCh = make(chan recvItem, 32)
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return ErrNotConnected
	}
	if f.sendErrs > 0 {
		f.sendErrs--
		return errors.New("write: broken pipe")
	}
	frame, err := wire.Decode(data)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeTransport) Receive() ([]byte, error) {
	f.mu.Lock()
	ch := f.recvCh
	f.mu.Unlock()

	if ch == nil {
		return nil, ErrNotConnected
	}
	item := <-ch
	return item.data, item.err
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

// serverPush delivers an inbound frame as if the hub sent it.
func (f *fakeTransport) serverPush(event string, payload any) {
	data, err := wire.Encode(event, payload)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	ch := f.recvCh
	f.mu.Unlock()
	ch <- recvItem{data: data}
}

// dropConn simulates the connection dying underneath the client.
func (f *fakeTransport) dropConn(err error) {
	f.mu.Lock()
	ch := f.recvCh
	f.connected = false
	f.mu.Unlock()
	ch <- recvItem{err: err}
}

func (f *fakeTransport) connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

// sentEvents returns the event names of all recorded outbound frames.
func (f *fakeTransport) sentEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, frame := range f.sent {
		out[i] = frame.Event
	}
	return out
}

func (f *fakeTransport) sentFrames(event string) []*wire.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*wire.Frame
	for _, frame := range f.sent {
		if frame.Event == event {
			out = append(out, frame)
		}
	}
	return out
}

// fakeClock is a manual clock. Timers fire only when the test advances it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// advance moves the clock forward and fires due timers outside the lock,
// so a firing timer may schedule new timers.
func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.when.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

// pending counts timers that are armed but not yet fired.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
