// Package session owns per-remote-participant connection state: one
// PeerSession per remote identity, collected in a Registry that guarantees
// at most one live session per id. Both the pairwise call controller and the
// room controller build on this package.
package session

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/relaymesh/internal/engine"
)

// PeerSession drives the offer/answer/candidate exchange with exactly one
// remote participant. Inbound candidates are buffered until the remote
// description has been applied, then flushed in arrival order — the engine
// rejects earlier application.
type PeerSession struct {
	remoteID  string
	createdAt time.Time

	mu            sync.Mutex
	conn          engine.Conn
	localDescSet  bool
	remoteDescSet bool
	pending       []webrtc.ICECandidateInit
	closed        bool
}

// RemoteID returns the remote participant this session is bound to.
func (s *PeerSession) RemoteID() string { return s.remoteID }

// CreatedAt returns the session creation time.
func (s *PeerSession) CreatedAt() time.Time { return s.createdAt }

// CreateOffer produces an offer and applies it as the local description.
func (s *PeerSession) CreateOffer() (webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return webrtc.SessionDescription{}, fmt.Errorf("session %s: closed", s.remoteID)
	}
	offer, err := s.conn.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("session %s: create offer: %w", s.remoteID, err)
	}
	if err := s.conn.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("session %s: set local offer: %w", s.remoteID, err)
	}
	s.localDescSet = true
	return offer, nil
}

// AcceptOffer applies the remote offer, flushes any buffered candidates and
// produces an answer set as the local description.
func (s *PeerSession) AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return webrtc.SessionDescription{}, fmt.Errorf("session %s: closed", s.remoteID)
	}
	if err := s.conn.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("session %s: set remote offer: %w", s.remoteID, err)
	}
	s.remoteDescSet = true
	s.flushLocked()

	answer, err := s.conn.CreateAnswer()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("session %s: create answer: %w", s.remoteID, err)
	}
	if err := s.conn.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("session %s: set local answer: %w", s.remoteID, err)
	}
	s.localDescSet = true
	return answer, nil
}

// AcceptAnswer applies the remote answer and flushes buffered candidates.
func (s *PeerSession) AcceptAnswer(answer webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session %s: closed", s.remoteID)
	}
	if err := s.conn.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("session %s: set remote answer: %w", s.remoteID, err)
	}
	s.remoteDescSet = true
	s.flushLocked()
	return nil
}

// AddCandidate applies a remote candidate, or buffers it while the remote
// description is still pending.
func (s *PeerSession) AddCandidate(init webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session %s: closed", s.remoteID)
	}
	if !s.remoteDescSet {
		s.pending = append(s.pending, init)
		return nil
	}
	if err := s.conn.AddCandidate(init); err != nil {
		return fmt.Errorf("session %s: add candidate: %w", s.remoteID, err)
	}
	return nil
}

// RemoteDescriptionSet reports whether the remote description was applied.
func (s *PeerSession) RemoteDescriptionSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteDescSet
}

// PendingCandidates returns how many candidates are buffered.
func (s *PeerSession) PendingCandidates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *PeerSession) flushLocked() {
	for _, init := range s.pending {
		if err := s.conn.AddCandidate(init); err != nil {
			log.Printf("SESSION [%s]: flush candidate: %v", s.remoteID, err)
		}
	}
	s.pending = nil
}

// Close releases the underlying connection. Idempotent.
func (s *PeerSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	if err := conn.Close(); err != nil {
		log.Printf("SESSION [%s]: close: %v", s.remoteID, err)
	}
}
