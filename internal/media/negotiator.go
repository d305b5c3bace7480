// Package media wraps the peer-connection abstraction behind a narrow
// negotiation interface: local capture track attachment, offer/answer
// creation and teardown.
//
// Created offers and answers are handed back to the caller; forwarding
// them to the remote peer is the job of an external signaling
// collaborator and is out of scope here.
package media

import (
	"context"
	"errors"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrDeviceUnavailable indicates no capture device is enumerable
	// for the requested media kind.
	ErrDeviceUnavailable = errors.New("no capture device available")

	// ErrNegotiationFailed indicates offer/answer creation failed.
	ErrNegotiationFailed = errors.New("media negotiation failed")

	// ErrDisposed indicates the negotiator was already disposed.
	ErrDisposed = errors.New("media session disposed")

	// ErrNoRemoteDescription indicates CreateAnswer was called before a
	// remote offer was supplied.
	ErrNoRemoteDescription = errors.New("no remote description set")
)

// Kind selects the media profile for a session.
type Kind int

const (
	// KindVoice - microphone only.
	KindVoice Kind = iota
	// KindVideo - microphone plus camera.
	KindVideo
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "voice"
}

// SessionDescription is an SDP offer or answer.
type SessionDescription struct {
	Type string // "offer" or "answer"
	SDP  string
}

// CompletionFunc receives the result of an asynchronous offer/answer
// creation. Exactly one of desc/err is meaningful.
type CompletionFunc func(desc SessionDescription, err error)

// Negotiator owns the local media pipeline for one call session:
// capture tracks plus the peer-connection handle. It is created when a
// session needs media and must not outlive the session.
type Negotiator interface {
	// AttachLocalMedia acquires capture devices: the microphone always,
	// and a camera (preferring front-facing) when kind is KindVideo.
	// Returns ErrDeviceUnavailable if no device is enumerable.
	AttachLocalMedia(ctx context.Context, kind Kind) error

	// CreateOffer asynchronously produces a local session description
	// for the caller side. The completion is invoked from a separate
	// goroutine; failures carry ErrNegotiationFailed.
	CreateOffer(ctx context.Context, done CompletionFunc)

	// SetRemoteDescription installs the peer's offer or answer received
	// out-of-band.
	SetRemoteDescription(desc SessionDescription) error

	// CreateAnswer asynchronously produces a local session description
	// for the callee side. Requires a remote offer to have been set.
	CreateAnswer(ctx context.Context, done CompletionFunc)

	// Dispose releases all tracks and closes the peer connection.
	// Idempotent.
	Dispose()
}

// Factory creates one Negotiator per call session.
type Factory interface {
	New(sessionID string) (Negotiator, error)
}

// Device describes one enumerable capture device.
type Device struct {
	ID          string
	Label       string
	FrontFacing bool // meaningful for cameras only
}

// DeviceEnumerator lists the capture devices available to the host.
// It exists so tests can run against a fake device set.
type DeviceEnumerator interface {
	AudioInputs() []Device
	VideoInputs() []Device
}

// StaticEnumerator is a fixed device set.
type StaticEnumerator struct {
	Audio []Device
	Video []Device
}

// AudioInputs returns the configured audio devices.
func (e *StaticEnumerator) AudioInputs() []Device { return e.Audio }

// VideoInputs returns the configured video devices.
func (e *StaticEnumerator) VideoInputs() []Device { return e.Video }

// DefaultEnumerator returns the stand-in device set used by the demo
// daemon: one microphone plus back and front cameras.
func DefaultEnumerator() *StaticEnumerator {
	return &StaticEnumerator{
		Audio: []Device{{ID: "mic0", Label: "Default Microphone"}},
		Video: []Device{
			{ID: "cam0", Label: "Back Camera"},
			{ID: "cam1", Label: "Front Camera", FrontFacing: true},
		},
	}
}

// pickCamera selects a capture camera, preferring front-facing devices.
func pickCamera(devices []Device) (Device, bool) {
	for _, d := range devices {
		if d.FrontFacing {
			return d, true
		}
	}
	if len(devices) > 0 {
		return devices[0], true
	}
	return Device{}, false
}
