package realtime

// State is the connection lifecycle state. Transitions are driven only by
// transport callbacks and the handshake verdict, never by callers.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticated
	// StateFailed is terminal: the retry budget is exhausted and the
	// service must be recreated to connect again.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
