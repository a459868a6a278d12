package client

// State is the connection manager's lifecycle state. Exactly one value
// is held at a time and every transition is a compare-and-set, so
// concurrent triggers (stream error plus keep-alive timeout) collapse
// into a single recovery cycle.
type State int32

const (
	StateInitialized State = iota
	StateStarting
	StateUnhealthy
	StateRunning
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "INITIALIZED"
	case StateStarting:
		return "STARTING"
	case StateUnhealthy:
		return "UNHEALTHY"
	case StateRunning:
		return "RUNNING"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}
