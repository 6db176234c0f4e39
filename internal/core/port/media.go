package port

import (
	"context"

	"github.com/Wyydra/parley/internal/core/domain"
)

// PeerConnection is the subset of an RTCPeerConnection the call core drives.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetLocalDescription(desc domain.SessionDescription) error
	SetRemoteDescription(desc domain.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(c domain.IceCandidate) error

	// OnICECandidate is called once per locally gathered candidate.
	OnICECandidate(fn func(domain.IceCandidate))
	OnConnectionStateChange(fn func(domain.PeerConnectionState))
	ConnectionState() domain.PeerConnectionState

	Close() error
}

// AudioCapture produces raw little-endian PCM16 frames from a microphone-like source.
type AudioCapture interface {
	Start(ctx context.Context, onFrame func(frame []byte)) error
	Stop() error
}

// PlaybackSink renders PCM16 samples. Post(nil) discards everything queued.
type PlaybackSink interface {
	Load(ctx context.Context, sampleRate int) error
	Post(samples []int16) error
	Close() error
}
