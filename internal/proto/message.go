package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	// Client -> server.
	InboundTypeJoinUser    = "join_user"
	InboundTypeJoinConv    = "join_conversation"
	InboundTypeLeaveConv   = "leave_conversation"
	InboundTypeSendMessage = "send_message"
	InboundTypeCallUser    = "call_user"
	InboundTypeAnswerCall  = "answer_call"
	InboundTypeDeclineCall = "decline_call"
	InboundTypeCancelCall  = "cancel_call"
	InboundTypeEndCall     = "end_call"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	// Server -> client event names.
	EventOnlineUsers    = "online_users"
	EventUserOnline     = "user_online"
	EventUserOffline    = "user_offline"
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventReceiveMessage = "receive_message"
	EventHistoryName    = "history"
	EventIncomingCall   = "incoming_call"
	EventCallRinging    = "call_ringing"
	EventCallAccepted   = "call_accepted"
	EventCallDeclined   = "call_declined"
	EventCallCancelled  = "call_cancelled"
	EventCallEnded      = "call_ended"
	EventCallFailed     = "call_failed"
)

// JoinUserData registers the connection's identity with the presence registry.
// The token is validated before the identity is announced.
type JoinUserData struct {
	Token    string `json:"token"`
	Protocol int    `json:"protocol,omitempty"`
}

// JoinConvData requests to join (or leave) a specific conversation room.
type JoinConvData struct {
	Room string `json:"room"`
}

// SendMessageData is a chat message from the client.
type SendMessageData struct {
	Room        string `json:"room"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

// CallUserData initiates a call: the signal blob is forwarded verbatim
// to the recipient, never parsed by the server.
type CallUserData struct {
	CallID    string          `json:"call_id"`
	Recipient string          `json:"recipient"`
	Signal    json.RawMessage `json:"signal"`
	Video     bool            `json:"video"`
}

// AnswerCallData carries the callee's reply signal back to the caller.
type AnswerCallData struct {
	CallID string          `json:"call_id"`
	Signal json.RawMessage `json:"signal"`
}

// DeclineCallData rejects an incoming call before any media is exchanged.
type DeclineCallData struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason,omitempty"`
}

// CallRefData identifies a call for cancel/hangup requests.
type CallRefData struct {
	CallID string `json:"call_id"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// EventMessage is a chat message broadcast to a conversation room.
type EventMessage struct {
	ID          int64  `json:"id,omitempty"`
	Room        string `json:"room"`
	Sender      string `json:"sender"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	TS          int64  `json:"ts"`
}

// EventHistory delivers recent messages upon joining a room.
type EventHistory struct {
	Room     string         `json:"room"`
	Messages []EventMessage `json:"messages"`
}

// EventPresenceSnapshot lists all identities currently online.
type EventPresenceSnapshot struct {
	Identities []string `json:"identities"`
}

// EventPresenceDelta announces a single identity going online or offline.
type EventPresenceDelta struct {
	Identity string `json:"identity"`
}

// EventRoomUser notifies that a user joined or left a room.
type EventRoomUser struct {
	Room string `json:"room"`
	User string `json:"user"`
}

// EventCall covers every call-signaling event. The Signal blob is opaque:
// only the two peer sessions interpret it.
type EventCall struct {
	CallID string          `json:"call_id"`
	From   string          `json:"from,omitempty"`
	To     string          `json:"to,omitempty"`
	Signal json.RawMessage `json:"signal,omitempty"`
	Video  bool            `json:"video,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
