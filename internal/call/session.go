package call

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Session tracks one call attempt from dial to teardown. It owns the local
// peer handle and drives the state machine; the relay only ever sees the
// opaque signal blobs it produces.
type Session struct {
	ID         string
	RemotePeer string
	Video      bool

	mgr *Manager

	mu          sync.Mutex
	state       State
	reason      string
	peer        Peer
	remoteOffer json.RawMessage // callee side, held until Accept
	timer       *time.Timer
	audioOn     bool
	videoOn     bool
	onState     []func(State)
	onTrack     []func(RemoteTrack)
	notify      chan stateNotice
	done        chan struct{}
}

type stateNotice struct {
	state    State
	handlers []func(State)
}

func newSession(mgr *Manager, id, remotePeer string, video bool, state State) *Session {
	s := &Session{
		ID:         id,
		RemotePeer: remotePeer,
		Video:      video,
		mgr:        mgr,
		state:      state,
		audioOn:    true,
		videoOn:    video,
		notify:     make(chan stateNotice, 16),
		done:       make(chan struct{}),
	}
	go s.notifyLoop()
	return s
}

// notifyLoop delivers state-change callbacks in transition order.
func (s *Session) notifyLoop() {
	for n := range s.notify {
		for _, fn := range n.handlers {
			fn(n.state)
		}
		if n.state.Terminal() {
			return
		}
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason explains how a terminal state was reached.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// OnStateChange registers a callback for every state transition.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.onState = append(s.onState, fn)
	s.mu.Unlock()
}

// OnRemoteTrack registers a callback for remote media arrival, fired once
// the underlying peer connection reports a track.
func (s *Session) OnRemoteTrack(fn func(RemoteTrack)) {
	s.mu.Lock()
	s.onTrack = append(s.onTrack, fn)
	if s.peer != nil {
		s.peer.OnRemoteTrack(fn)
	}
	s.mu.Unlock()
}

// Accept answers an incoming call: acquires local media, produces the
// reply description, and hands it to the relay. Valid only while ringing.
func (s *Session) Accept(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRinging {
		state := s.state
		s.mu.Unlock()
		return &stateError{op: "accept", state: state}
	}
	offer := s.remoteOffer
	s.mu.Unlock()

	// Media acquisition blocks; never hold the lock across it.
	peer, err := s.mgr.engine.NewPeer(ctx, s.Video)
	if err != nil {
		_ = s.mgr.sig.DeclineCall(s.ID, "media_failed")
		s.terminate(StateFailed, "media_failed")
		return err
	}

	answer, err := peer.CreateAnswer(ctx, offer)
	if err != nil {
		peer.Close()
		_ = s.mgr.sig.DeclineCall(s.ID, "media_failed")
		s.terminate(StateFailed, "media_failed")
		return err
	}

	s.mu.Lock()
	if s.state != StateRinging {
		// Cancelled while we were acquiring media.
		s.mu.Unlock()
		peer.Close()
		return &stateError{op: "accept", state: s.State()}
	}
	s.attachPeerLocked(peer)
	s.setStateLocked(StateActive, "")
	s.mu.Unlock()

	if err := s.mgr.sig.AnswerCall(s.ID, answer); err != nil {
		s.terminate(StateFailed, "signaling_failed")
		return err
	}
	return nil
}

// Decline rejects a ringing call. No media is ever exchanged.
func (s *Session) Decline(reason string) {
	s.mu.Lock()
	if s.state != StateRinging {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if reason == "" {
		reason = "declined"
	}
	_ = s.mgr.sig.DeclineCall(s.ID, reason)
	s.terminate(StateDeclined, reason)
}

// Hangup tears the session down from whatever state it is in.
// Idempotent; safe to call on an already-terminal session.
func (s *Session) Hangup() {
	switch s.State() {
	case StateActive:
		_ = s.mgr.sig.EndCall(s.ID)
		s.terminate(StateEnded, "hangup")
	case StateDialing:
		// Abandoning an unanswered dial releases media immediately and
		// tells the relay to suppress the ring.
		_ = s.mgr.sig.CancelCall(s.ID)
		s.terminate(StateFailed, "cancelled")
	case StateRinging:
		s.Decline("")
	}
}

// ToggleAudio flips the local audio track. Returns the new muted state.
// Pure track toggling: the relay is never contacted.
func (s *Session) ToggleAudio() bool {
	s.mu.Lock()
	s.audioOn = !s.audioOn
	muted := !s.audioOn
	if s.peer != nil {
		s.peer.SetAudioEnabled(s.audioOn)
	}
	s.mu.Unlock()
	return muted
}

// ToggleVideo flips the local video track. Returns the new disabled state.
func (s *Session) ToggleVideo() bool {
	s.mu.Lock()
	s.videoOn = !s.videoOn
	disabled := !s.videoOn
	if s.peer != nil {
		s.peer.SetVideoEnabled(s.videoOn)
	}
	s.mu.Unlock()
	return disabled
}

// handleAccepted applies the relayed answer on the caller side.
func (s *Session) handleAccepted(ctx context.Context, signal json.RawMessage) {
	s.mu.Lock()
	if s.state != StateDialing {
		s.mu.Unlock()
		return
	}
	peer := s.peer
	s.mu.Unlock()

	if err := peer.AcceptAnswer(ctx, signal); err != nil {
		_ = s.mgr.sig.EndCall(s.ID)
		s.terminate(StateFailed, "bad_answer")
		return
	}

	s.mu.Lock()
	if s.state == StateDialing {
		s.setStateLocked(StateActive, "")
	}
	s.mu.Unlock()
}

// attachPeerLocked wires peer callbacks. Caller holds s.mu.
func (s *Session) attachPeerLocked(peer Peer) {
	s.peer = peer
	for _, fn := range s.onTrack {
		peer.OnRemoteTrack(fn)
	}
	peer.OnDisconnected(func() {
		// The transport saw the peer vanish; never hang waiting for a
		// hangup that will not come.
		if s.State() == StateActive {
			s.terminate(StateEnded, "peer_disconnected")
		} else {
			s.terminate(StateFailed, "peer_disconnected")
		}
	})
}

// terminate moves the session to a terminal state exactly once, releasing
// media and notifying observers.
func (s *Session) terminate(state State, reason string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(state, reason)
	peer := s.peer
	s.peer = nil
	s.mu.Unlock()

	if peer != nil {
		peer.Close()
	}
	close(s.done)
	s.mgr.remove(s.ID)
}

// setStateLocked records a transition and schedules observer callbacks.
// Caller holds s.mu.
func (s *Session) setStateLocked(state State, reason string) {
	if s.state == state {
		return
	}
	s.state = state
	if reason != "" {
		s.reason = reason
	}
	if s.timer != nil && state != StateDialing {
		s.timer.Stop()
		s.timer = nil
	}
	handlers := make([]func(State), len(s.onState))
	copy(handlers, s.onState)
	select {
	case s.notify <- stateNotice{state: state, handlers: handlers}:
	default:
		// Observer backlog; drop rather than stall the state machine.
	}
}

type stateError struct {
	op    string
	state State
}

func (e *stateError) Error() string {
	return "cannot " + e.op + " call in state " + e.state.String()
}
