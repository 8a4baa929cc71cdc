package call

// State is the lifecycle of one call attempt as seen by a client.
type State int

const (
	// StateIdle is the zero state before a dial or an incoming ring.
	StateIdle State = iota
	// StateDialing means local media is acquired and the offer is out.
	StateDialing
	// StateRinging is the callee-side state while the user decides.
	StateRinging
	// StateActive means both descriptions are applied and media flows.
	StateActive
	// StateEnded is the normal terminal state after a hangup.
	StateEnded
	// StateDeclined is the caller-side terminal state after a rejection.
	StateDeclined
	// StateFailed covers media errors, unreachable recipients, timeouts,
	// and abandonment before acceptance.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDialing:
		return "dialing"
	case StateRinging:
		return "ringing"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	case StateDeclined:
		return "declined"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateEnded, StateDeclined, StateFailed:
		return true
	}
	return false
}
