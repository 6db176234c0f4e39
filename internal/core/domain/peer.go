package domain

// SessionDescription mirrors an RTCSessionDescriptionInit.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// IceCandidate is a serialized RTCIceCandidateInit. The core never looks inside.
type IceCandidate string

type PeerConnectionState string

const (
	PeerStateNew          PeerConnectionState = "new"
	PeerStateConnecting   PeerConnectionState = "connecting"
	PeerStateConnected    PeerConnectionState = "connected"
	PeerStateDisconnected PeerConnectionState = "disconnected"
	PeerStateFailed       PeerConnectionState = "failed"
	PeerStateClosed       PeerConnectionState = "closed"
)

func (s PeerConnectionState) String() string {
	return string(s)
}

// Terminal reports whether the connection can no longer carry media.
func (s PeerConnectionState) Terminal() bool {
	return s == PeerStateFailed || s == PeerStateClosed
}
