package diag

// State is the executor's session state
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateEstablished
	StateAwaitingResponse
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// connected reports whether requests may be dispatched in this state
func (s State) connected() bool {
	return s == StateEstablished || s == StateAwaitingResponse
}

// StateChange is published whenever the session moves between
// Disconnected, Connecting, Established and Error.
type StateChange struct {
	From  State
	To    State
	Cause error
}
