// Package engine is the boundary to the platform's real-time media stack.
// The session layer drives negotiation exclusively through Conn; the Pion
// implementation lives in pion.go and a scriptable fake in enginetest.
package engine

import "github.com/pion/webrtc/v4"

// Handlers are the callbacks wired into a connection at creation time,
// before any description is set, so no early event can be dropped.
type Handlers struct {
	// OnCandidate fires for each locally discovered ICE candidate.
	OnCandidate func(webrtc.ICECandidateInit)

	// OnTrack fires when remote media arrives; kind is "audio" or "video".
	OnTrack func(kind string)

	// OnStateChange reports peer connection state transitions.
	OnStateChange func(webrtc.PeerConnectionState)
}

// Conn is one media peer connection. A closed Conn cannot be reused.
type Conn interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddCandidate(webrtc.ICECandidateInit) error
	Close() error
}

// Engine creates media peer connections.
type Engine interface {
	NewConn(h Handlers) (Conn, error)
}
