package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// MediaProvider acquires local capture tracks. Implementations wrap actual
// capture devices; acquisition failure (permission denied, device busy) is
// fatal to the call attempt.
type MediaProvider interface {
	// AcquireTracks returns local tracks (audio, plus video when asked)
	// and a release func that stops the capture.
	AcquireTracks(video bool) (tracks []webrtc.TrackLocal, release func(), err error)
}

// PionEngine implements Engine on top of pion/webrtc. Descriptions are
// produced with ICE gathering complete, so each call needs exactly one
// offer and one answer with no separate candidate exchange.
type PionEngine struct {
	api    *webrtc.API
	config webrtc.Configuration
	media  MediaProvider
}

// NewPionEngine builds the engine. stunURLs may be empty for a default
// public STUN server.
func NewPionEngine(stunURLs []string, media MediaProvider) (*PionEngine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	if len(stunURLs) == 0 {
		stunURLs = []string{"stun:stun.l.google.com:19302"}
	}

	return &PionEngine{
		api: api,
		config: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: stunURLs}},
		},
		media: media,
	}, nil
}

// NewPeer acquires local media and constructs a peer connection.
func (e *PionEngine) NewPeer(_ context.Context, video bool) (Peer, error) {
	if e.media == nil {
		return nil, &MediaError{Err: errors.New("no media provider")}
	}

	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	tracks, release, err := e.media.AcquireTracks(video)
	if err != nil {
		pc.Close()
		return nil, &MediaError{Err: err}
	}

	p := &pionPeer{
		pc:      pc,
		release: release,
		senders: make(map[string]*webrtc.RTPSender),
		locals:  make(map[string]webrtc.TrackLocal),
	}

	for _, track := range tracks {
		sender, addErr := pc.AddTrack(track)
		if addErr != nil {
			p.Close()
			return nil, fmt.Errorf("add track: %w", addErr)
		}
		kind := track.Kind().String()
		p.senders[kind] = sender
		p.locals[kind] = track
	}

	// Recvonly transceivers for kinds with no local track keep the SDP
	// m-lines valid so the remote side can still send.
	if _, ok := p.locals["audio"]; !ok {
		if _, trErr := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); trErr != nil {
			p.Close()
			return nil, fmt.Errorf("add audio transceiver: %w", trErr)
		}
	}
	if _, ok := p.locals["video"]; !ok {
		if _, trErr := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); trErr != nil {
			p.Close()
			return nil, fmt.Errorf("add video transceiver: %w", trErr)
		}
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.fireTrack(RemoteTrack{
			Kind:   remote.Kind().String(),
			ID:     remote.ID(),
			Source: remote,
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			p.fireDisconnected()
		}
	})

	return p, nil
}

type pionPeer struct {
	pc      *webrtc.PeerConnection
	release func()
	senders map[string]*webrtc.RTPSender
	locals  map[string]webrtc.TrackLocal

	mu           sync.Mutex
	onTrack      []func(RemoteTrack)
	onDisconnect []func()
	disconnected bool
	closed       bool
}

func (p *pionPeer) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return json.Marshal(p.pc.LocalDescription())
}

func (p *pionPeer) CreateAnswer(ctx context.Context, remote json.RawMessage) (json.RawMessage, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(remote, &offer); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return json.Marshal(p.pc.LocalDescription())
}

func (p *pionPeer) AcceptAnswer(_ context.Context, remote json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(remote, &answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// SetAudioEnabled pauses or resumes the local audio sender via track
// replacement; no renegotiation happens.
func (p *pionPeer) SetAudioEnabled(enabled bool) {
	p.setTrackEnabled("audio", enabled)
}

// SetVideoEnabled pauses or resumes the local video sender.
func (p *pionPeer) SetVideoEnabled(enabled bool) {
	p.setTrackEnabled("video", enabled)
}

func (p *pionPeer) setTrackEnabled(kind string, enabled bool) {
	sender, ok := p.senders[kind]
	if !ok {
		return
	}
	if enabled {
		_ = sender.ReplaceTrack(p.locals[kind])
	} else {
		_ = sender.ReplaceTrack(nil)
	}
}

func (p *pionPeer) OnRemoteTrack(fn func(RemoteTrack)) {
	p.mu.Lock()
	p.onTrack = append(p.onTrack, fn)
	p.mu.Unlock()
}

func (p *pionPeer) OnDisconnected(fn func()) {
	p.mu.Lock()
	p.onDisconnect = append(p.onDisconnect, fn)
	p.mu.Unlock()
}

func (p *pionPeer) fireTrack(track RemoteTrack) {
	p.mu.Lock()
	handlers := make([]func(RemoteTrack), len(p.onTrack))
	copy(handlers, p.onTrack)
	p.mu.Unlock()
	for _, fn := range handlers {
		fn(track)
	}
}

func (p *pionPeer) fireDisconnected() {
	p.mu.Lock()
	if p.disconnected {
		p.mu.Unlock()
		return
	}
	p.disconnected = true
	handlers := make([]func(), len(p.onDisconnect))
	copy(handlers, p.onDisconnect)
	p.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (p *pionPeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.release != nil {
		p.release()
	}
	return p.pc.Close()
}

// StaticMedia is a MediaProvider producing placeholder sample tracks. It
// keeps the handshake path real without requiring capture hardware; real
// camera/microphone capture plugs in behind the same interface.
type StaticMedia struct{}

// AcquireTracks returns an Opus audio track and, when asked, a VP8 video track.
func (StaticMedia) AcquireTracks(video bool) ([]webrtc.TrackLocal, func(), error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "newleaf")
	if err != nil {
		return nil, nil, err
	}
	tracks := []webrtc.TrackLocal{audio}

	if video {
		videoTrack, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "newleaf")
		if err != nil {
			return nil, nil, err
		}
		tracks = append(tracks, videoTrack)
	}

	return tracks, func() {}, nil
}
