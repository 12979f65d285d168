package realtime

import "time"

// ConnectionState is the lifecycle state of a Session. Exactly one state is
// active at any instant and transitions are the only way to change it.
type ConnectionState int

const (
	// StateDisconnected is the initial state and the result of an explicit
	// Disconnect.
	StateDisconnected ConnectionState = iota

	// StateConnecting means a dial is in flight.
	StateConnecting

	// StateConnected means the transport is open and liveness-monitored.
	StateConnected

	// StateReconnecting means a retry is scheduled after a failure or an
	// unexpected close.
	StateReconnecting

	// StateFailed means the retry budget is exhausted. No automatic retry
	// leaves this state; only Reconnect does.
	StateFailed
)

// String returns a log-friendly name for the state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateChange describes one transition of the session state machine.
type StateChange struct {
	From ConnectionState
	To   ConnectionState

	// Err is the cause for failure-driven transitions, nil otherwise.
	Err error

	At time.Time
}
