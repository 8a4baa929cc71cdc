package call

import "encoding/json"

// Signaler is the only surface the call package needs from the realtime
// transport. Payload exchange is fire-and-forget: replies come back as
// SignalEvents, never as return values.
type Signaler interface {
	PlaceCall(callID, target string, signal json.RawMessage, video bool) error
	AnswerCall(callID string, signal json.RawMessage) error
	DeclineCall(callID, reason string) error
	CancelCall(callID string) error
	EndCall(callID string) error

	// Subscribe returns a channel of relay events and a cancel func.
	Subscribe() (<-chan SignalEvent, func())
}

// SignalEventKind enumerates relay notifications the manager reacts to.
type SignalEventKind int

const (
	// SignalIncomingCall rings this client.
	SignalIncomingCall SignalEventKind = iota
	// SignalCallRinging confirms the callee is being rung.
	SignalCallRinging
	// SignalCallAccepted carries the callee's answer back to the caller.
	SignalCallAccepted
	// SignalCallDeclined means the callee rejected the call.
	SignalCallDeclined
	// SignalCallCancelled suppresses a ring (caller cancelled, answered
	// on another device, or the dial timed out).
	SignalCallCancelled
	// SignalCallEnded means the counterpart hung up an active call.
	SignalCallEnded
	// SignalCallFailed means the relay could not complete the call.
	SignalCallFailed
)

// SignalEvent is one relay notification. Signal is the counterpart's
// opaque description blob where applicable.
type SignalEvent struct {
	Kind   SignalEventKind
	CallID string
	From   string
	Signal json.RawMessage
	Video  bool
	Reason string
}
