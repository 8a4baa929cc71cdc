package call

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrUnavailable means no peer-connection capability was injected;
	// calling must be reported as disabled, never attempted.
	ErrUnavailable = errors.New("calling capability unavailable")
	// ErrBusy means another call is already in progress on this client.
	ErrBusy = errors.New("another call is in progress")
)

// MediaError marks a failure to acquire local media (permission denied,
// device unavailable). It is fatal to the call attempt.
type MediaError struct {
	Err error
}

func (e *MediaError) Error() string { return "acquire media: " + e.Err.Error() }
func (e *MediaError) Unwrap() error { return e.Err }

// Engine is the injected peer-connection capability. A nil Engine on the
// Manager models the capability being absent.
type Engine interface {
	// NewPeer acquires local media and constructs a peer handle. A media
	// acquisition failure is reported as *MediaError.
	NewPeer(ctx context.Context, video bool) (Peer, error)
}

// Peer is one half of a peer-to-peer media session. Signal blobs are
// opaque to everything but the Peer implementations on both ends.
type Peer interface {
	// CreateOffer produces the local description for a dial.
	CreateOffer(ctx context.Context) (json.RawMessage, error)

	// CreateAnswer applies the remote offer and produces the reply
	// description for an accept.
	CreateAnswer(ctx context.Context, remote json.RawMessage) (json.RawMessage, error)

	// AcceptAnswer applies the relayed answer on the caller side,
	// completing the handshake.
	AcceptAnswer(ctx context.Context, remote json.RawMessage) error

	// SetAudioEnabled and SetVideoEnabled toggle local tracks without
	// re-signaling; the relay is never involved.
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)

	// OnRemoteTrack registers a callback fired when remote media arrives.
	OnRemoteTrack(fn func(RemoteTrack))

	// OnDisconnected registers a callback fired when the underlying
	// transport reports the peer gone.
	OnDisconnected(fn func())

	// Close releases local media and tears the connection down.
	Close() error
}

// RemoteTrack is a handle to incoming remote media, exposed to the
// presentation layer. Source holds the implementation-specific track.
type RemoteTrack struct {
	Kind   string // "audio" or "video"
	ID     string
	Source any
}
