package core

import "encoding/json"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSendRoomMessage delivers a chat message to room participants.
	CommandSendRoomMessage CommandKind = iota
	// CommandJoinRoom subscribes the client to a room.
	CommandJoinRoom
	// CommandLeaveRoom unsubscribes the client from a room.
	CommandLeaveRoom

	// CommandPlaceCall asks the relay to ring another identity.
	CommandPlaceCall
	// CommandAnswerCall sends the callee's reply signal back to the caller.
	CommandAnswerCall
	// CommandDeclineCall rejects a ringing call.
	CommandDeclineCall
	// CommandCancelCall abandons a call the client placed before it was answered.
	CommandCancelCall
	// CommandEndCall hangs up an answered call.
	CommandEndCall
)

// Command represents an action requested by a client.
type Command struct {
	Kind    CommandKind
	Room    string
	Message Message
	Call    *CallRequest // non-nil for call commands
}

// CallRequest carries the call-signaling half of a command. Signal is an
// opaque blob relayed verbatim; the hub never parses it.
type CallRequest struct {
	CallID string
	Target string
	Signal json.RawMessage
	Video  bool
	Reason string
}
