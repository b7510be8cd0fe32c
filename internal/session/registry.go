package session

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/relaymesh/internal/engine"
)

// Hooks route a session's engine events back through the owning controller.
// The controller decides where a local candidate goes (pairwise or
// room-scoped path), so the hooks are supplied per GetOrCreate call.
type Hooks struct {
	OnCandidate   func(remoteID string, init webrtc.ICECandidateInit)
	OnTrack       func(remoteID, kind string)
	OnStateChange func(remoteID string, state webrtc.PeerConnectionState)
}

// Registry maps remote participant ids to live PeerSessions. It is the
// single source of truth for which sessions exist; every engine callback
// re-checks membership here before acting, so callbacks that outlive a
// teardown become no-ops instead of mutating a dead session.
type Registry struct {
	eng engine.Engine

	mu       sync.Mutex
	sessions map[string]*PeerSession
}

// NewRegistry creates an empty registry backed by eng.
func NewRegistry(eng engine.Engine) *Registry {
	return &Registry{eng: eng, sessions: make(map[string]*PeerSession)}
}

// GetOrCreate returns the existing session for remoteID, or constructs one
// with its engine callbacks wired before any description is set. At most one
// session per id exists at any time.
func (r *Registry) GetOrCreate(remoteID string, h Hooks) (*PeerSession, error) {
	r.mu.Lock()
	if s, ok := r.sessions[remoteID]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	sess := &PeerSession{remoteID: remoteID, createdAt: time.Now()}
	conn, err := r.eng.NewConn(engine.Handlers{
		OnCandidate: func(init webrtc.ICECandidateInit) {
			if !r.owns(remoteID, sess) || h.OnCandidate == nil {
				return
			}
			h.OnCandidate(remoteID, init)
		},
		OnTrack: func(kind string) {
			if !r.owns(remoteID, sess) || h.OnTrack == nil {
				return
			}
			h.OnTrack(remoteID, kind)
		},
		OnStateChange: func(state webrtc.PeerConnectionState) {
			if !r.owns(remoteID, sess) || h.OnStateChange == nil {
				return
			}
			h.OnStateChange(remoteID, state)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("registry: create session for %s: %w", remoteID, err)
	}
	sess.conn = conn

	r.mu.Lock()
	if existing, ok := r.sessions[remoteID]; ok {
		// Creation raced; keep the first session.
		r.mu.Unlock()
		conn.Close()
		return existing, nil
	}
	r.sessions[remoteID] = sess
	r.mu.Unlock()

	log.Printf("SESSION [%s]: created", remoteID)
	return sess, nil
}

// owns reports whether sess is still the registered session for remoteID.
func (r *Registry) owns(remoteID string, sess *PeerSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[remoteID] == sess
}

// Get returns the live session for remoteID, if any.
func (r *Registry) Get(remoteID string) (*PeerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[remoteID]
	return s, ok
}

// Remove closes and evicts the session for remoteID. No-op when absent.
func (r *Registry) Remove(remoteID string) {
	r.mu.Lock()
	sess, ok := r.sessions[remoteID]
	delete(r.sessions, remoteID)
	r.mu.Unlock()

	if !ok {
		return
	}
	sess.Close()
	log.Printf("SESSION [%s]: removed", remoteID)
}

// RemoveAll closes every live session and clears the map. Used on call or
// room teardown; callers route every teardown trigger through one place so
// connections are closed exactly once.
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*PeerSession)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
	if len(sessions) > 0 {
		log.Printf("SESSION: removed all (%d)", len(sessions))
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// IDs returns the remote ids with live sessions.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
