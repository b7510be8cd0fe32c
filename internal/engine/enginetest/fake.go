// Package enginetest provides a scriptable in-memory engine.Engine for
// session and controller tests: it fabricates SDP, records every applied
// description and candidate, and lets tests emit engine callbacks.
package enginetest

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/relaymesh/internal/engine"
)

// Fake implements engine.Engine.
type Fake struct {
	mu    sync.Mutex
	next  int
	conns []*FakeConn

	// NewConnErr, when set, makes NewConn fail.
	NewConnErr error
}

func New() *Fake { return &Fake{} }

func (f *Fake) NewConn(h engine.Handlers) (engine.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewConnErr != nil {
		return nil, f.NewConnErr
	}
	f.next++
	c := &FakeConn{id: f.next, handlers: h}
	f.conns = append(f.conns, c)
	return c, nil
}

// Conns returns every connection created so far, in creation order.
func (f *Fake) Conns() []*FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeConn(nil), f.conns...)
}

// FakeConn implements engine.Conn. Like Pion, it rejects candidates that
// arrive before a remote description is set.
type FakeConn struct {
	id       int
	handlers engine.Handlers

	mu      sync.Mutex
	local   *webrtc.SessionDescription
	remote  *webrtc.SessionDescription
	applied []webrtc.ICECandidateInit
	closed  bool

	// FailOffer / FailAnswer make the next negotiation step error, for
	// engine-failure paths.
	FailOffer  error
	FailAnswer error
}

func (c *FakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailOffer != nil {
		return webrtc.SessionDescription{}, c.FailOffer
	}
	if c.closed {
		return webrtc.SessionDescription{}, fmt.Errorf("enginetest: conn closed")
	}
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("v=0 fake-offer conn-%d", c.id),
	}, nil
}

func (c *FakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailAnswer != nil {
		return webrtc.SessionDescription{}, c.FailAnswer
	}
	if c.closed {
		return webrtc.SessionDescription{}, fmt.Errorf("enginetest: conn closed")
	}
	if c.remote == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("enginetest: answer before remote description")
	}
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  fmt.Sprintf("v=0 fake-answer conn-%d", c.id),
	}, nil
}

func (c *FakeConn) SetLocalDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("enginetest: conn closed")
	}
	c.local = &d
	return nil
}

func (c *FakeConn) SetRemoteDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("enginetest: conn closed")
	}
	c.remote = &d
	return nil
}

func (c *FakeConn) AddCandidate(init webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("enginetest: conn closed")
	}
	if c.remote == nil {
		return fmt.Errorf("enginetest: candidate before remote description")
	}
	c.applied = append(c.applied, init)
	return nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// ── Test observation & scripting ─────────────────────────────────────────────

func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *FakeConn) Local() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *FakeConn) Remote() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// Applied returns the candidates accepted so far, in application order.
func (c *FakeConn) Applied() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.applied...)
}

// EmitCandidate fires the connection's OnCandidate handler.
func (c *FakeConn) EmitCandidate(init webrtc.ICECandidateInit) {
	if c.handlers.OnCandidate != nil {
		c.handlers.OnCandidate(init)
	}
}

// EmitTrack fires the connection's OnTrack handler.
func (c *FakeConn) EmitTrack(kind string) {
	if c.handlers.OnTrack != nil {
		c.handlers.OnTrack(kind)
	}
}

// EmitState fires the connection's OnStateChange handler.
func (c *FakeConn) EmitState(s webrtc.PeerConnectionState) {
	if c.handlers.OnStateChange != nil {
		c.handlers.OnStateChange(s)
	}
}
