package realtime

import "fmt"

// State is the streaming connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateRotationPending
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRotationPending:
		return "rotation_pending"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// TransportError is a socket-level failure. It is logged; the client's own reconnect policy
// handles recovery.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("mqtt %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }
