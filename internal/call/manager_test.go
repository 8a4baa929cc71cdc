package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSignaler records outbound signaling and lets tests inject relay events.
type fakeSignaler struct {
	mu       sync.Mutex
	placed   []string
	answered []string
	declined map[string]string
	canceled []string
	ended    []string

	events chan SignalEvent
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{
		declined: make(map[string]string),
		events:   make(chan SignalEvent, 16),
	}
}

func (f *fakeSignaler) PlaceCall(callID, target string, signal json.RawMessage, video bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, callID)
	return nil
}

func (f *fakeSignaler) AnswerCall(callID string, signal json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, callID)
	return nil
}

func (f *fakeSignaler) DeclineCall(callID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declined[callID] = reason
	return nil
}

func (f *fakeSignaler) CancelCall(callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, callID)
	return nil
}

func (f *fakeSignaler) EndCall(callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, callID)
	return nil
}

func (f *fakeSignaler) Subscribe() (<-chan SignalEvent, func()) {
	return f.events, func() {}
}

func (f *fakeSignaler) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

func (f *fakeSignaler) declineReason(callID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.declined[callID]
	return r, ok
}

func (f *fakeSignaler) endedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ended)
}

func (f *fakeSignaler) canceledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.canceled)
}

// fakeEngine hands out fakePeers, optionally failing media acquisition.
type fakeEngine struct {
	failMedia bool
}

func (e *fakeEngine) NewPeer(_ context.Context, video bool) (Peer, error) {
	if e.failMedia {
		return nil, &MediaError{Err: errors.New("no capture device")}
	}
	return &fakePeer{}, nil
}

type fakePeer struct {
	mu           sync.Mutex
	closed       bool
	audioEnabled bool
	acceptErr    error
	onDisc       func()
}

func (p *fakePeer) CreateOffer(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"sdp":"offer"}`), nil
}

func (p *fakePeer) CreateAnswer(context.Context, json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"sdp":"answer"}`), nil
}

func (p *fakePeer) AcceptAnswer(context.Context, json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acceptErr
}

func (p *fakePeer) SetAudioEnabled(enabled bool) {
	p.mu.Lock()
	p.audioEnabled = enabled
	p.mu.Unlock()
}

func (p *fakePeer) SetVideoEnabled(bool) {}

func (p *fakePeer) OnRemoteTrack(func(RemoteTrack)) {}

func (p *fakePeer) OnDisconnected(fn func()) {
	p.mu.Lock()
	p.onDisc = fn
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached %v, stuck in %v", want, s.State())
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session never terminated, state %v", s.State())
	}
}

func TestDialAcceptedHangup(t *testing.T) {
	sig := newFakeSignaler()
	mgr := New(sig, &fakeEngine{}, ManagerConfig{})
	defer mgr.Close()

	s, err := mgr.Dial(context.Background(), "bob", false)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if s.State() != StateDialing {
		t.Fatalf("expected dialing, got %v", s.State())
	}
	if sig.placedCount() != 1 {
		t.Fatalf("expected one place_call, got %d", sig.placedCount())
	}

	sig.events <- SignalEvent{Kind: SignalCallAccepted, CallID: s.ID, Signal: []byte(`{"sdp":"answer"}`)}
	waitState(t, s, StateActive)

	s.Hangup()
	waitDone(t, s)
	if s.State() != StateEnded || s.Reason() != "hangup" {
		t.Fatalf("expected ended/hangup, got %v/%s", s.State(), s.Reason())
	}
	if sig.endedCount() != 1 {
		t.Fatalf("expected one end_call, got %d", sig.endedCount())
	}
}

func TestDialUnavailableWithoutEngine(t *testing.T) {
	sig := newFakeSignaler()
	mgr := New(sig, nil, ManagerConfig{})
	defer mgr.Close()

	if mgr.Available() {
		t.Fatal("manager without engine reports available")
	}
	if _, err := mgr.Dial(context.Background(), "bob", false); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if sig.placedCount() != 0 {
		t.Fatal("relay contacted despite missing engine")
	}
}

func TestDialBusyWithLiveSession(t *testing.T) {
	sig := newFakeSignaler()
	mgr := New(sig, &fakeEngine{}, ManagerConfig{})
	defer mgr.Close()

	if _, err := mgr.Dial(context.Background(), "bob", false); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := mgr.Dial(context.Background(), "carol", false); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestDialMediaFailureNeverContactsRelay(t *testing.T) {
	sig := newFakeSignaler()
	mgr := New(sig, &fakeEngine{failMedia: true}, ManagerConfig{})
	defer mgr.Close()

	s, err := mgr.Dial(context.Background(), "bob", true)
	if err == nil {
		t.Fatal("expected media error")
	}
	var mediaErr *MediaError
	if !errors.As(err, &mediaErr) {
		t.Fatalf("expected MediaError, got %v", err)
	}
	waitDone(t, s)
	if s.State() != StateFailed || s.Reason() != "media_failed" {
		t.Fatalf("expected failed/media_failed, got %v/%s", s.State(), s.Reason())
	}
	if sig.placedCount() != 0 {
		t.Fatal("relay was contacted before media was ready")
	}
}

func TestDialTimeout(t *testing.T) {
	sig := newFakeSignaler()
	mgr := New(sig, &fakeEngine{}, ManagerConfig{DialTimeout: 50 * time.Millisecond})
	defer mgr.Close()

	s, err := mgr.Dial(context.Background(), "bob", false)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	waitDone(t, s)
	if s.State() != StateFailed || s.Reason() != "timeout" {
		t.Fatalf("expected failed/timeout, got %v/%s", s.State(), s.Reason())
	}
	if sig.canceledCount() != 1 {
		t.Fatalf("expected one cancel_call, got %d", sig.canceledCount())
	}
}

func TestDialRemoteDeclined(t *testing.T) {
	sig := newFakeSignaler()
	mgr := New(sig, &fakeEngine{}, ManagerConfig{})
	defer mgr.Close()

	s, err := mgr.Dial(context.Background(), "bob", false)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	sig.events <- SignalEvent{Kind: SignalCallDeclined, CallID: s.ID}
	waitDone(t, s)
	if s.State() != StateDeclined {
		t.Fatalf("expected declined, got %v", s.State())
	}
}

func TestIncomingAcceptBecomesActive(t *testing.T) {
	sig := newFakeSignaler()
	mgr := New(sig, &fakeEngine{}, ManagerConfig{})
	defer mgr.Close()

	incoming := make(chan *Session, 1)
	mgr.OnIncoming(func(s *Session) { incoming <- s })

	sig.events <- SignalEvent{
		Kind: SignalIncomingCall, CallID: "c1", From: "alice",
		Signal: []byte(`{"sdp":"offer"}`), Video: true,
	}

	var s *Session
	select {
	case s = <-incoming:
	case <-time.After(2 * time.Second):
		t.Fatal("incoming call never surfaced")
	}
	if s.State() != StateRinging || s.RemotePeer != "alice" || !s.Video {
		t.Fatalf("unexpected ringing session: %v %s", s.State(), s.RemotePeer)
	}

	if err := s.Accept(context.Background()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if s.State() != StateActive {
		t.Fatalf("expected active, got %v", s.State())
	}
	sig.mu.Lock()
	answered := len(sig.answered)
	sig.mu.Unlock()
	if answered != 1 {
		t.Fatalf("expected one answer_call, got %d", answered)
	}
}

func TestIncomingDeclineNeverTouchesMedia(t *testing.T) {
	sig := newFakeSignaler()
	mgr := New(sig, &fakeEngine{failMedia: true}, ManagerConfig{})
	defer mgr.Close()

	incoming := make(chan *Session, 1)
	mgr.OnIncoming(func(s *Session) { incoming <- s })

	sig.events <- SignalEvent{Kind: SignalIncomingCall, CallID: "c1", From: "alice"}

	var s *Session
	select {
	case s = <-incoming:
	case <-time.After(2 * time.Second):
		t.Fatal("incoming call never surfaced")
	}

	s.Decline("")
	waitDone(t, s)
	if s.State() != StateDeclined {
		t.Fatalf("expected declined, got %v", s.State())
	}
	if reason, ok := sig.declineReason("c1"); !ok || reason != "declined" {
		t.Fatalf("expected decline relayed, got %q %v", reason, ok)
	}
}

func TestIncomingAcceptMediaFailureDeclines(t *testing.T) {
	sig := newFakeSignaler()
	engine := &fakeEngine{}
	mgr := New(sig, engine, ManagerConfig{})
	defer mgr.Close()

	incoming := make(chan *Session, 1)
	mgr.OnIncoming(func(s *Session) { incoming <- s })

	sig.events <- SignalEvent{Kind: SignalIncomingCall, CallID: "c1", From: "alice"}
	s := <-incoming

	engine.failMedia = true
	if err := s.Accept(context.Background()); err == nil {
		t.Fatal("expected media error on accept")
	}
	waitDone(t, s)
	if s.State() != StateFailed || s.Reason() != "media_failed" {
		t.Fatalf("expected failed/media_failed, got %v/%s", s.State(), s.Reason())
	}
	if reason, ok := sig.declineReason("c1"); !ok || reason != "media_failed" {
		t.Fatalf("expected media_failed decline, got %q %v", reason, ok)
	}
}

func TestIncomingWhileBusyAutoDeclines(t *testing.T) {
	sig := newFakeSignaler()
	mgr := New(sig, &fakeEngine{}, ManagerConfig{})
	defer mgr.Close()

	if _, err := mgr.Dial(context.Background(), "bob", false); err != nil {
		t.Fatalf("dial: %v", err)
	}

	sig.events <- SignalEvent{Kind: SignalIncomingCall, CallID: "c2", From: "carol"}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reason, ok := sig.declineReason("c2"); ok {
			if reason != "busy" {
				t.Fatalf("expected busy decline, got %q", reason)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("second call was never declined")
}

func TestIncomingWithoutEngineAutoDeclines(t *testing.T) {
	sig := newFakeSignaler()
	mgr := New(sig, nil, ManagerConfig{})
	defer mgr.Close()

	sig.events <- SignalEvent{Kind: SignalIncomingCall, CallID: "c1", From: "alice"}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reason, ok := sig.declineReason("c1"); ok {
			if reason != "unavailable" {
				t.Fatalf("expected unavailable decline, got %q", reason)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("call was never declined")
}

func TestStateCallbackOrdering(t *testing.T) {
	sig := newFakeSignaler()
	mgr := New(sig, &fakeEngine{}, ManagerConfig{})
	defer mgr.Close()

	var mu sync.Mutex
	var trace []State

	s, err := mgr.Dial(context.Background(), "bob", false)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	s.OnStateChange(func(st State) {
		mu.Lock()
		trace = append(trace, st)
		mu.Unlock()
	})

	sig.events <- SignalEvent{Kind: SignalCallAccepted, CallID: s.ID, Signal: []byte(`{}`)}
	waitState(t, s, StateActive)
	s.Hangup()
	waitDone(t, s)

	// Callbacks registered after dial: expect active then ended, in order.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(trace)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(trace) < 2 || trace[0] != StateActive || trace[1] != StateEnded {
		t.Fatalf("unexpected state trace: %v", trace)
	}
}

func TestRemoteCancelSuppressesRing(t *testing.T) {
	sig := newFakeSignaler()
	mgr := New(sig, &fakeEngine{}, ManagerConfig{})
	defer mgr.Close()

	incoming := make(chan *Session, 1)
	mgr.OnIncoming(func(s *Session) { incoming <- s })

	sig.events <- SignalEvent{Kind: SignalIncomingCall, CallID: "c1", From: "alice"}
	s := <-incoming

	sig.events <- SignalEvent{Kind: SignalCallCancelled, CallID: "c1", Reason: "cancelled"}
	waitDone(t, s)
	if s.State() != StateEnded || s.Reason() != "cancelled" {
		t.Fatalf("expected ended/cancelled, got %v/%s", s.State(), s.Reason())
	}

	// Accepting a cancelled call is rejected without touching media.
	if err := s.Accept(context.Background()); err == nil {
		t.Fatal("accept after cancel should fail")
	}
}
