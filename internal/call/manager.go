// Package call implements the client half of voice/video calling: the
// per-call state machine, local media ownership, and the signaling glue
// that drives two peers through offer/answer into a direct media session.
// Coupling to the realtime transport is via the Signaler interface only.
package call

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultDialTimeout = 45 * time.Second

// ManagerConfig tunes manager behavior. Zero values fall back to defaults.
type ManagerConfig struct {
	Logger *zerolog.Logger
	// DialTimeout bounds how long a placed call may wait for an answer
	// before failing locally. Mirrors the relay-side bound.
	DialTimeout time.Duration
}

// Manager owns active call sessions and bridges relay signaling to them.
// One call at a time: a dial or ring while another session is live is
// rejected as busy.
type Manager struct {
	sig         Signaler
	engine      Engine // nil models the capability being absent
	log         zerolog.Logger
	dialTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	incomingMu sync.RWMutex
	incoming   []func(*Session)

	done chan struct{}
}

// New creates a call Manager attached to sig and starts consuming
// signaling events immediately. engine may be nil when the
// peer-connection capability failed to initialize; calling is then
// reported unavailable rather than attempted.
func New(sig Signaler, engine Engine, cfg ManagerConfig) *Manager {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}

	m := &Manager{
		sig:         sig,
		engine:      engine,
		log:         logger,
		dialTimeout: dialTimeout,
		sessions:    make(map[string]*Session),
		done:        make(chan struct{}),
	}
	go m.dispatchLoop()
	return m
}

// Available reports whether the peer-connection capability is present.
func (m *Manager) Available() bool {
	return m.engine != nil
}

// OnIncoming registers a callback fired for each incoming ringing session.
func (m *Manager) OnIncoming(fn func(*Session)) {
	m.incomingMu.Lock()
	m.incoming = append(m.incoming, fn)
	m.incomingMu.Unlock()
}

// Dial places a call to target. Local media is acquired before the relay
// is ever contacted; a media failure terminates the attempt as failed
// without ringing anyone.
func (m *Manager) Dial(ctx context.Context, target string, video bool) (*Session, error) {
	if m.engine == nil {
		return nil, ErrUnavailable
	}
	if m.hasLiveSession() {
		return nil, ErrBusy
	}

	s := newSession(m, uuid.New().String(), target, video, StateIdle)

	peer, err := m.engine.NewPeer(ctx, video)
	if err != nil {
		s.terminate(StateFailed, "media_failed")
		return s, err
	}

	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		peer.Close()
		s.terminate(StateFailed, "media_failed")
		return s, err
	}

	s.mu.Lock()
	s.attachPeerLocked(peer)
	s.setStateLocked(StateDialing, "")
	s.timer = time.AfterFunc(m.dialTimeout, func() {
		if s.State() == StateDialing {
			_ = m.sig.CancelCall(s.ID)
			s.terminate(StateFailed, "timeout")
		}
	})
	s.mu.Unlock()

	m.put(s)

	if err := m.sig.PlaceCall(s.ID, target, offer, video); err != nil {
		s.terminate(StateFailed, "signaling_failed")
		return s, err
	}

	m.log.Debug().Str("call_id", s.ID).Str("target", target).Bool("video", video).Msg("dialed")
	return s, nil
}

// Session returns the session for a call id, if any.
func (m *Manager) Session(callID string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[callID]
	m.mu.RUnlock()
	return s, ok
}

// Close shuts down the manager and hangs up all active sessions.
func (m *Manager) Close() {
	select {
	case <-m.done:
		return
	default:
		close(m.done)
	}

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Hangup()
	}
}

func (m *Manager) put(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

func (m *Manager) remove(callID string) {
	m.mu.Lock()
	delete(m.sessions, callID)
	m.mu.Unlock()
}

func (m *Manager) hasLiveSession() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if !s.State().Terminal() {
			return true
		}
	}
	return false
}

// dispatchLoop consumes relay events and routes them to sessions.
func (m *Manager) dispatchLoop() {
	ch, cancel := m.sig.Subscribe()
	defer cancel()

	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.dispatch(ev)
		}
	}
}

func (m *Manager) dispatch(ev SignalEvent) {
	if ev.Kind == SignalIncomingCall {
		m.handleIncoming(ev)
		return
	}

	s, ok := m.Session(ev.CallID)
	if !ok {
		m.log.Debug().Str("call_id", ev.CallID).Msg("signal for unknown call")
		return
	}

	switch ev.Kind {
	case SignalCallRinging:
		// Caller stays in dialing until an accept arrives.
		m.log.Debug().Str("call_id", ev.CallID).Msg("remote ringing")
	case SignalCallAccepted:
		s.handleAccepted(context.Background(), ev.Signal)
	case SignalCallDeclined:
		s.terminate(StateDeclined, reasonOr(ev.Reason, "declined"))
	case SignalCallCancelled:
		s.terminate(StateEnded, reasonOr(ev.Reason, "cancelled"))
	case SignalCallEnded:
		s.terminate(StateEnded, reasonOr(ev.Reason, "hangup"))
	case SignalCallFailed:
		s.terminate(StateFailed, reasonOr(ev.Reason, "failed"))
	}
}

func (m *Manager) handleIncoming(ev SignalEvent) {
	if m.engine == nil {
		_ = m.sig.DeclineCall(ev.CallID, "unavailable")
		return
	}
	if m.hasLiveSession() {
		_ = m.sig.DeclineCall(ev.CallID, "busy")
		return
	}

	s := newSession(m, ev.CallID, ev.From, ev.Video, StateRinging)
	s.mu.Lock()
	s.remoteOffer = ev.Signal
	s.mu.Unlock()
	m.put(s)

	m.incomingMu.RLock()
	handlers := make([]func(*Session), len(m.incoming))
	copy(handlers, m.incoming)
	m.incomingMu.RUnlock()
	for _, fn := range handlers {
		fn(s)
	}

	m.log.Debug().Str("call_id", s.ID).Str("from", ev.From).Msg("incoming call")
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
