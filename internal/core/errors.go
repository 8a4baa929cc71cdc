package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeRoomNotFound = "room_not_found"
	ErrCodeNotInRoom    = "not_in_room"
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"

	// Call-related error codes
	ErrCodeRecipientUnavailable = "recipient_unavailable"
	ErrCodeBusy                 = "busy"
	ErrCodeCallNotFound         = "call_not_found"
	ErrCodeNotCallParty         = "not_call_party"
)

// Call teardown reasons carried in call events.
const (
	ReasonTimeout           = "timeout"
	ReasonDeclined          = "declined"
	ReasonCancelled         = "cancelled"
	ReasonAnsweredElsewhere = "answered_elsewhere"
	ReasonPeerDisconnected  = "peer_disconnected"
	ReasonRecipientOffline  = "recipient_offline"
	ReasonHangup            = "hangup"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotInRoom    = errors.New("not in room")
	ErrBadRequest   = errors.New("bad request")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
