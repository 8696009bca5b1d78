package transport

import (
	"context"
	"errors"
)

// Connection states.
type State int

const (
	// StateDisconnected indicates no connection.
	StateDisconnected State = iota

	// StateConnecting indicates connection in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateClosing indicates close in progress.
	StateClosing
)

// String returns the connection state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Transport errors.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNoHandler        = errors.New("no handler configured")
)

// Handler receives transport callbacks. Callbacks are invoked from the
// transport's receive goroutine; implementations serialize their own
// state on it.
type Handler interface {
	// OnData is called with received bytes: one call per datagram for
	// UDP, arbitrary chunks for stream transports.
	OnData(data []byte)

	// OnStateChange is called when the connection state changes.
	OnStateChange(oldState, newState State)

	// OnError is called when a transport-level error occurs. The
	// transport closes itself after reporting the error.
	OnError(err error)
}

// Conn is the connection surface shared by all transports.
type Conn interface {
	// SetHandler installs the callback target. Must be called before
	// Connect.
	SetHandler(h Handler)

	// Connect establishes the connection and starts the receive loop.
	Connect(ctx context.Context) error

	// Send transmits raw bytes.
	Send(data []byte) error

	// Close tears the connection down. Safe to call in any state.
	Close() error

	// State returns the current connection state.
	State() State

	// RemoteAddr describes the remote endpoint for logging.
	RemoteAddr() string
}
