package realtime

import (
	"log/slog"
	"sync"
	"unsafe"
)

// Handler receives the raw JSON payload of a delivered event. Local-only
// events may deliver a nil payload.
type Handler func(data []byte)

type handlerEntry struct {
	id uint64
	fn Handler
	// fnPtr identifies the registered function so the same reference is
	// never invoked twice per event. Distinct closures always get distinct
	// entries even when structurally equal.
	fnPtr uintptr
}

// handlerPointer returns the identity of a func value. A func value is a
// pointer to its closure object, so the same reference passed twice
// compares equal while two closures built from the same literal do not.
// reflect's Pointer() cannot make that distinction; it returns the shared
// code pointer.
func handlerPointer(fn Handler) uintptr {
	return uintptr(*(*unsafe.Pointer)(unsafe.Pointer(&fn)))
}

// dispatcher multiplexes named events to registered handlers. Delivery is
// synchronous and in registration order; a panicking handler is isolated
// and logged without aborting delivery to the rest.
type dispatcher struct {
	mu       sync.Mutex
	logger   *slog.Logger
	handlers map[string][]*handlerEntry
	nextID   uint64
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	return &dispatcher{
		logger:   logger,
		handlers: make(map[string][]*handlerEntry),
	}
}

// on registers a handler and returns its idempotent unsubscribe function.
// Registering the identical function reference twice for the same event is
// a no-op: the returned function unsubscribes the existing registration.
func (d *dispatcher) on(event string, fn Handler) func() {
	if fn == nil {
		return func() {}
	}
	fnPtr := handlerPointer(fn)

	d.mu.Lock()
	for _, entry := range d.handlers[event] {
		if entry.fnPtr == fnPtr {
			id := entry.id
			d.mu.Unlock()
			return d.unsubscribeFunc(event, id)
		}
	}
	d.nextID++
	entry := &handlerEntry{id: d.nextID, fn: fn, fnPtr: fnPtr}
	d.handlers[event] = append(d.handlers[event], entry)
	id := entry.id
	d.mu.Unlock()

	return d.unsubscribeFunc(event, id)
}

func (d *dispatcher) unsubscribeFunc(event string, id uint64) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			d.remove(event, id)
		})
	}
}

func (d *dispatcher) remove(event string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := d.handlers[event]
	for i, entry := range entries {
		if entry.id == id {
			d.handlers[event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(d.handlers[event]) == 0 {
		delete(d.handlers, event)
	}
}

// dispatch invokes every handler currently registered for the event.
func (d *dispatcher) dispatch(event string, data []byte) {
	d.mu.Lock()
	entries := make([]*handlerEntry, len(d.handlers[event]))
	copy(entries, d.handlers[event])
	d.mu.Unlock()

	for _, entry := range entries {
		d.invoke(event, entry, data)
	}
}

func (d *dispatcher) invoke(event string, entry *handlerEntry, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked",
				"event", event,
				"panic", r)
		}
	}()
	entry.fn(data)
}

// count returns the number of handlers registered for an event.
func (d *dispatcher) count(event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers[event])
}
