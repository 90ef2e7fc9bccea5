package domain

// ConnState is the lifecycle state of the realtime connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateAuthenticated
	StateReconnecting
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Live reports whether the state represents an open or opening transport.
// Connect is a no-op in these states.
func (s ConnState) Live() bool {
	switch s {
	case StateConnecting, StateConnected, StateAuthenticating, StateAuthenticated, StateReconnecting:
		return true
	}
	return false
}
