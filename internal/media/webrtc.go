package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// gatherTimeout bounds the wait for ICE candidate gathering before an
// offer/answer is handed back. Host candidates arrive immediately;
// STUN reflexive ones may never arrive on an isolated host.
const gatherTimeout = 2 * time.Second

// WebRTCFactory creates pion-backed negotiators.
type WebRTCFactory struct {
	stunURL    string
	enumerator DeviceEnumerator
	logger     *slog.Logger
}

// WebRTCFactoryConfig configures the factory.
type WebRTCFactoryConfig struct {
	// STUNURL is the ICE server, e.g. "stun:stun.l.google.com:19302".
	// Empty disables STUN (host candidates only).
	STUNURL string
	// Enumerator lists capture devices. DefaultEnumerator when nil.
	Enumerator DeviceEnumerator
	Logger     *slog.Logger
}

// NewWebRTCFactory creates a factory for pion-backed negotiators.
func NewWebRTCFactory(cfg WebRTCFactoryConfig) *WebRTCFactory {
	if cfg.Enumerator == nil {
		cfg.Enumerator = DefaultEnumerator()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WebRTCFactory{
		stunURL:    cfg.STUNURL,
		enumerator: cfg.Enumerator,
		logger:     cfg.Logger,
	}
}

// New creates a negotiator with a fresh peer connection.
func (f *WebRTCFactory) New(sessionID string) (Negotiator, error) {
	engine := &webrtc.MediaEngine{}
	if err := engine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(engine))

	var cfg webrtc.Configuration
	if f.stunURL != "" {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{f.stunURL}}}
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	n := &webrtcNegotiator{
		sessionID:  sessionID,
		pc:         pc,
		enumerator: f.enumerator,
		logger:     f.logger.With("session_id", sessionID),
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		n.logger.Debug("ice connection state", "state", state.String())
	})
	return n, nil
}

// webrtcNegotiator is the pion-backed Negotiator implementation.
type webrtcNegotiator struct {
	sessionID  string
	pc         *webrtc.PeerConnection
	enumerator DeviceEnumerator
	logger     *slog.Logger

	mu       sync.Mutex
	disposed bool
	tone     *toneSource
}

// AttachLocalMedia acquires the microphone and, for video calls, a
// camera preferring front-facing devices.
func (n *webrtcNegotiator) AttachLocalMedia(ctx context.Context, kind Kind) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.disposed {
		return ErrDisposed
	}

	mics := n.enumerator.AudioInputs()
	if len(mics) == 0 {
		return fmt.Errorf("attach audio: %w", ErrDeviceUnavailable)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU},
		"audio", "voxcall-audio",
	)
	if err != nil {
		return fmt.Errorf("audio track: %w", err)
	}
	if _, err := n.pc.AddTrack(audioTrack); err != nil {
		return fmt.Errorf("add audio track: %w", err)
	}
	n.tone = newToneSource(audioTrack)
	n.tone.Start()
	n.logger.Debug("local audio attached", "device", mics[0].ID)

	if kind == KindVideo {
		cam, ok := pickCamera(n.enumerator.VideoInputs())
		if !ok {
			return fmt.Errorf("attach video: %w", ErrDeviceUnavailable)
		}
		videoTrack, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "voxcall-video",
		)
		if err != nil {
			return fmt.Errorf("video track: %w", err)
		}
		if _, err := n.pc.AddTrack(videoTrack); err != nil {
			return fmt.Errorf("add video track: %w", err)
		}
		n.logger.Debug("local video attached", "device", cam.ID, "front_facing", cam.FrontFacing)
	}
	return nil
}

// CreateOffer produces the caller-side session description asynchronously.
func (n *webrtcNegotiator) CreateOffer(ctx context.Context, done CompletionFunc) {
	go func() {
		desc, err := n.createLocalDescription(ctx, false)
		done(desc, err)
	}()
}

// CreateAnswer produces the callee-side session description asynchronously.
func (n *webrtcNegotiator) CreateAnswer(ctx context.Context, done CompletionFunc) {
	go func() {
		desc, err := n.createLocalDescription(ctx, true)
		done(desc, err)
	}()
}

// SetRemoteDescription installs the peer's description.
func (n *webrtcNegotiator) SetRemoteDescription(desc SessionDescription) error {
	n.mu.Lock()
	if n.disposed {
		n.mu.Unlock()
		return ErrDisposed
	}
	n.mu.Unlock()

	sdpType := webrtc.SDPTypeOffer
	if desc.Type == "answer" {
		sdpType = webrtc.SDPTypeAnswer
	}
	if err := n.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: sdpType,
		SDP:  desc.SDP,
	}); err != nil {
		return fmt.Errorf("set remote description: %w: %v", ErrNegotiationFailed, err)
	}
	return nil
}

// createLocalDescription runs the offer/answer dance and waits (bounded)
// for candidate gathering.
func (n *webrtcNegotiator) createLocalDescription(ctx context.Context, answer bool) (SessionDescription, error) {
	n.mu.Lock()
	if n.disposed {
		n.mu.Unlock()
		return SessionDescription{}, fmt.Errorf("%w: %w", ErrNegotiationFailed, ErrDisposed)
	}
	n.mu.Unlock()

	var (
		desc webrtc.SessionDescription
		err  error
	)
	if answer {
		if n.pc.RemoteDescription() == nil {
			return SessionDescription{}, fmt.Errorf("%w: %w", ErrNegotiationFailed, ErrNoRemoteDescription)
		}
		desc, err = n.pc.CreateAnswer(nil)
	} else {
		desc, err = n.pc.CreateOffer(nil)
	}
	if err != nil {
		return SessionDescription{}, fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}

	gathered := webrtc.GatheringCompletePromise(n.pc)
	if err := n.pc.SetLocalDescription(desc); err != nil {
		return SessionDescription{}, fmt.Errorf("%w: set local description: %v", ErrNegotiationFailed, err)
	}

	select {
	case <-gathered:
	case <-time.After(gatherTimeout):
	case <-ctx.Done():
		return SessionDescription{}, fmt.Errorf("%w: %v", ErrNegotiationFailed, ctx.Err())
	}

	local := n.pc.LocalDescription()
	if local == nil {
		return SessionDescription{}, fmt.Errorf("%w: no local description", ErrNegotiationFailed)
	}
	if _, err := Inspect(local.SDP); err != nil {
		return SessionDescription{}, fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}

	kind := "offer"
	if answer {
		kind = "answer"
	}
	return SessionDescription{Type: kind, SDP: local.SDP}, nil
}

// Dispose releases the tracks and closes the peer connection. Idempotent.
func (n *webrtcNegotiator) Dispose() {
	n.mu.Lock()
	if n.disposed {
		n.mu.Unlock()
		return
	}
	n.disposed = true
	tone := n.tone
	n.tone = nil
	n.mu.Unlock()

	if tone != nil {
		tone.Stop()
	}
	if err := n.pc.Close(); err != nil {
		n.logger.Debug("peer connection close", "error", err)
	}
}
