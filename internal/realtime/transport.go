package realtime

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned by Send and Receive when no physical
	// connection is established. Callers above the transport decide whether
	// to queue, drop, or reconnect; the transport itself never buffers.
	ErrNotConnected = errors.New("transport not connected")

	// ErrClosed is returned once the service has been torn down by
	// Disconnect. A closed service cannot be revived; create a new one.
	ErrClosed = errors.New("realtime service closed")
)

// Transport owns the single physical connection to the hub.
//
// Implementations hold at most one live connection at a time: a successful
// Connect replaces any previous connection. Receive blocks until a message
// arrives or the connection drops; the error it returns is how the service
// learns about a disconnect.
type Transport interface {
	Connect(ctx context.Context) error
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}
