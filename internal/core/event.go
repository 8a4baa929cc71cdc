package core

import "encoding/json"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventRoomMessage notifies clients about a chat message in a room.
	EventRoomMessage EventKind = iota
	// EventUserJoined notifies clients about a user joining a room.
	EventUserJoined
	// EventUserLeft notifies clients about a user leaving a room.
	EventUserLeft
	// EventHistory delivers message history to a client upon joining a room.
	EventHistory
	// EventError notifies clients about a domain error.
	EventError

	// Presence events
	// EventPresenceSnapshot delivers the full online set to a fresh connection.
	EventPresenceSnapshot
	// EventUserOnline announces an identity's first connection.
	EventUserOnline
	// EventUserOffline announces an identity's last connection going away.
	EventUserOffline

	// Call events
	// EventCallIncoming notifies target connections of an incoming call.
	EventCallIncoming
	// EventCallRinging confirms to the caller that the callee is being rung.
	EventCallRinging
	// EventCallAccepted carries the callee's answer signal to the caller.
	EventCallAccepted
	// EventCallDeclined notifies the caller that the call was declined.
	EventCallDeclined
	// EventCallCancelled suppresses a ring on callee connections.
	EventCallCancelled
	// EventCallEnded notifies the surviving party that the call is over.
	EventCallEnded
	// EventCallFailed notifies the caller that the call could not proceed.
	EventCallFailed
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind       EventKind
	Room       string
	User       string
	Message    Message
	Messages   []Message // For EventHistory
	Identities []string  // For EventPresenceSnapshot
	Error      *CoreError
	Call       *CallEvent // non-nil for call events
}

// CallEvent holds data specific to call events. Signal is forwarded
// verbatim from the counterpart; only peer sessions interpret it.
type CallEvent struct {
	CallID string
	From   string
	To     string
	Signal json.RawMessage
	Video  bool
	Reason string
}
