// Package call manages the pairwise call topology: a strict state machine
// over the call-request/accept/reject handshake, bound to a single
// PeerSession once a call is being connected. Undefined (state, event)
// pairs are state-preserving no-ops.
package call

import (
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/relaymesh/internal/relay"
	"github.com/petervdpas/relaymesh/internal/session"
	"github.com/petervdpas/relaymesh/internal/signal"
)

// Manager drives the pairwise call state machine.
type Manager struct {
	selfID      string
	rel         relay.Relay
	reg         *session.Registry
	rejectDelay time.Duration

	mu       sync.Mutex
	state    State
	remoteID string

	listenerMu sync.RWMutex
	incoming   []func(from string)
	stateFns   []func(state State, remoteID string)
}

// New creates a call manager. rejectDelay is how long a rejected call's
// remote id stays visible before being cleared.
func New(rel relay.Relay, reg *session.Registry, selfID string, rejectDelay time.Duration) *Manager {
	return &Manager{
		selfID:      selfID,
		rel:         rel,
		reg:         reg,
		rejectDelay: rejectDelay,
	}
}

// OnIncoming registers a callback fired for each incoming call request.
func (m *Manager) OnIncoming(fn func(from string)) {
	m.listenerMu.Lock()
	m.incoming = append(m.incoming, fn)
	m.listenerMu.Unlock()
}

// OnStateChange registers a callback fired after every state transition.
func (m *Manager) OnStateChange(fn func(state State, remoteID string)) {
	m.listenerMu.Lock()
	m.stateFns = append(m.stateFns, fn)
	m.listenerMu.Unlock()
}

// State returns the current call state and remote target.
func (m *Manager) State() (State, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.remoteID
}

// Initiate places a call to target. Rejected when target is the local id,
// empty, or a call is already underway.
func (m *Manager) Initiate(target string) error {
	if target == "" || target == m.selfID {
		return ErrInvalidTarget
	}

	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrBusy
	}
	m.state = StateRingingOut
	m.remoteID = target
	m.mu.Unlock()

	body, err := signal.Marshal(signal.CallRequest{
		CallTo:   target,
		CallFrom: m.selfID,
		Type:     signal.CallTypeRequest,
	})
	if err == nil {
		err = m.rel.Send(signal.DestCall, body)
	}
	if err != nil {
		m.transition(StateIdle, "")
		return err
	}

	log.Printf("CALL: ringing %s", target)
	m.notifyState(StateRingingOut, target)
	return nil
}

// Accept answers the incoming call: sends call_accepted, creates the
// PeerSession for the caller and sends the offer. No-op unless an incoming
// call is ringing. On engine failure the session is torn down and the state
// reverts so the call can be accepted again.
func (m *Manager) Accept() error {
	m.mu.Lock()
	if m.state != StateRingingIn {
		m.mu.Unlock()
		log.Printf("CALL: accept ignored in state %s", m.state)
		return nil
	}
	caller := m.remoteID
	m.state = StateConnecting
	m.mu.Unlock()
	m.notifyState(StateConnecting, caller)

	err := m.acceptInner(caller)
	if err != nil {
		m.reg.Remove(caller)
		m.transitionIf(StateConnecting, caller, StateRingingIn)
		log.Printf("CALL: accept %s failed: %v", caller, err)
	}
	return err
}

func (m *Manager) acceptInner(caller string) error {
	body, err := signal.Marshal(signal.CallResponse{
		CallTo:   caller,
		CallFrom: m.selfID,
		Type:     signal.CallTypeAccepted,
	})
	if err != nil {
		return err
	}
	if err := m.rel.Send(signal.DestCallResponse, body); err != nil {
		return err
	}

	sess, err := m.reg.GetOrCreate(caller, m.hooks())
	if err != nil {
		return err
	}
	offer, err := sess.CreateOffer()
	if err != nil {
		return err
	}
	offerBody, err := signal.Marshal(signal.Offer{
		ToUser:   caller,
		FromUser: m.selfID,
		Offer:    offer,
	})
	if err != nil {
		return err
	}
	if err := m.rel.Send(signal.DestOffer, offerBody); err != nil {
		return err
	}
	log.Printf("CALL: accepted %s, offer sent", caller)
	return nil
}

// Reject declines the incoming call. No-op unless an incoming call is
// ringing.
func (m *Manager) Reject() error {
	m.mu.Lock()
	if m.state != StateRingingIn {
		m.mu.Unlock()
		log.Printf("CALL: reject ignored in state %s", m.state)
		return nil
	}
	caller := m.remoteID
	m.state = StateIdle
	m.remoteID = ""
	m.mu.Unlock()

	body, err := signal.Marshal(signal.CallResponse{
		CallTo:   caller,
		CallFrom: m.selfID,
		Type:     signal.CallTypeRejected,
	})
	if err == nil {
		err = m.rel.Send(signal.DestCallResponse, body)
	}
	log.Printf("CALL: rejected %s", caller)
	m.notifyState(StateIdle, "")
	return err
}

// End tears the call down from any state. Idempotent; this is the single
// pairwise teardown site, so the connection is closed exactly once.
func (m *Manager) End() {
	m.mu.Lock()
	remote := m.remoteID
	wasIdle := m.state == StateIdle && remote == ""
	m.state = StateIdle
	m.remoteID = ""
	m.mu.Unlock()

	if wasIdle {
		return
	}
	if remote != "" {
		m.reg.Remove(remote)
	}
	log.Printf("CALL: ended")
	m.notifyState(StateIdle, "")
}

// ── Relay event handlers ─────────────────────────────────────────────────────

// HandleCallRequest processes a /topic/call body.
func (m *Manager) HandleCallRequest(body []byte) {
	req, err := signal.ParseCallRequest(body)
	if err != nil {
		log.Printf("CALL: bad call request: %v", err)
		return
	}

	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		log.Printf("CALL: request from %s ignored in state %s", req.CallFrom, m.state)
		return
	}
	m.state = StateRingingIn
	m.remoteID = req.CallFrom
	m.mu.Unlock()

	log.Printf("CALL: incoming from %s", req.CallFrom)
	m.notifyState(StateRingingIn, req.CallFrom)

	m.listenerMu.RLock()
	handlers := append(([]func(string))(nil), m.incoming...)
	m.listenerMu.RUnlock()
	for _, fn := range handlers {
		fn(req.CallFrom)
	}
}

// HandleCallResponse processes a /topic/callResponse body.
func (m *Manager) HandleCallResponse(body []byte) {
	resp, err := signal.ParseCallResponse(body)
	if err != nil {
		log.Printf("CALL: bad call response: %v", err)
		return
	}

	switch resp.Type {
	case signal.CallTypeAccepted:
		// The acceptor generates the offer; nothing to do yet beyond
		// moving to connecting.
		if m.transitionIf(StateRingingOut, resp.CallFrom, StateConnecting) {
			log.Printf("CALL: %s accepted, waiting for offer", resp.CallFrom)
		}
	case signal.CallTypeRejected:
		if m.transitionIf(StateRingingOut, resp.CallFrom, StateIdle) {
			log.Printf("CALL: %s rejected", resp.CallFrom)
			// Keep the remote id visible briefly, then clear it.
			time.AfterFunc(m.rejectDelay, func() {
				m.mu.Lock()
				if m.state == StateIdle && m.remoteID == resp.CallFrom {
					m.remoteID = ""
				}
				m.mu.Unlock()
			})
		}
	}
}

// HandleOffer processes a /topic/offer body. In the pairwise flow the offer
// comes from the acceptor, so the caller side may still be ringing-out if
// the offer overtook the call_accepted message.
func (m *Manager) HandleOffer(body []byte) {
	offer, err := signal.ParseOffer(body)
	if err != nil {
		log.Printf("CALL: bad offer: %v", err)
		return
	}

	m.mu.Lock()
	expected := (m.state == StateRingingOut || m.state == StateConnecting) && m.remoteID == offer.FromUser
	m.mu.Unlock()
	if !expected {
		log.Printf("CALL: offer from %s dropped (no matching call)", offer.FromUser)
		return
	}

	sess, err := m.reg.GetOrCreate(offer.FromUser, m.hooks())
	if err != nil {
		log.Printf("CALL: offer from %s: %v", offer.FromUser, err)
		return
	}
	answer, err := sess.AcceptOffer(offer.Offer)
	if err != nil {
		log.Printf("CALL: offer from %s: %v", offer.FromUser, err)
		m.reg.Remove(offer.FromUser)
		return
	}

	answerBody, err := signal.Marshal(signal.Answer{
		ToUser:   offer.FromUser,
		FromUser: m.selfID,
		Answer:   answer,
	})
	if err == nil {
		err = m.rel.Send(signal.DestAnswer, answerBody)
	}
	if err != nil {
		log.Printf("CALL: answer to %s: %v", offer.FromUser, err)
		m.reg.Remove(offer.FromUser)
		return
	}

	log.Printf("CALL: answered offer from %s", offer.FromUser)
	m.transitionIfAny([]State{StateRingingOut, StateConnecting}, offer.FromUser, StateActive)
}

// HandleAnswer processes a /topic/answer body. An answer never creates a
// session; without one it is dropped.
func (m *Manager) HandleAnswer(body []byte) {
	answer, err := signal.ParseAnswer(body)
	if err != nil {
		log.Printf("CALL: bad answer: %v", err)
		return
	}

	sess, ok := m.reg.Get(answer.FromUser)
	if !ok {
		log.Printf("CALL: answer from %s dropped (no session)", answer.FromUser)
		return
	}
	if err := sess.AcceptAnswer(answer.Answer); err != nil {
		log.Printf("CALL: answer from %s: %v", answer.FromUser, err)
		return
	}

	log.Printf("CALL: connected to %s", answer.FromUser)
	m.transitionIf(StateConnecting, answer.FromUser, StateActive)
}

// HandleCandidate processes a /topic/candidate body. Candidates for a peer
// with no session are dropped with a warning; they may race ahead of the
// matching offer.
func (m *Manager) HandleCandidate(body []byte) {
	cand, err := signal.ParseCandidate(body)
	if err != nil {
		log.Printf("CALL: bad candidate: %v", err)
		return
	}

	sess, ok := m.reg.Get(cand.FromUser)
	if !ok {
		log.Printf("CALL: candidate from %s dropped (no session)", cand.FromUser)
		return
	}
	if err := sess.AddCandidate(cand.Candidate.ToICE()); err != nil {
		log.Printf("CALL: candidate from %s: %v", cand.FromUser, err)
	}
}

// ── Internal ─────────────────────────────────────────────────────────────────

// hooks routes session engine events out on the pairwise path.
func (m *Manager) hooks() session.Hooks {
	return session.Hooks{
		OnCandidate: func(remoteID string, init webrtc.ICECandidateInit) {
			body, err := signal.Marshal(signal.Candidate{
				ToUser:    remoteID,
				FromUser:  m.selfID,
				Candidate: signal.CandidateFromICE(init),
			})
			if err == nil {
				err = m.rel.Send(signal.DestCandidate, body)
			}
			if err != nil {
				log.Printf("CALL: send candidate to %s: %v", remoteID, err)
			}
		},
		OnTrack: func(remoteID, kind string) {
			log.Printf("CALL: %s track from %s", kind, remoteID)
		},
		OnStateChange: func(remoteID string, state webrtc.PeerConnectionState) {
			log.Printf("CALL: connection to %s is %s", remoteID, state)
		},
	}
}

// transition unconditionally moves to state and notifies listeners.
func (m *Manager) transition(state State, remoteID string) {
	m.mu.Lock()
	m.state = state
	m.remoteID = remoteID
	m.mu.Unlock()
	m.notifyState(state, remoteID)
}

// transitionIf moves to next only when currently in from with the given
// remote. Reports whether the transition happened.
func (m *Manager) transitionIf(from State, remoteID string, next State) bool {
	return m.transitionIfAny([]State{from}, remoteID, next)
}

func (m *Manager) transitionIfAny(from []State, remoteID string, next State) bool {
	m.mu.Lock()
	matched := false
	for _, s := range from {
		if m.state == s && m.remoteID == remoteID {
			matched = true
			break
		}
	}
	if !matched {
		m.mu.Unlock()
		return false
	}
	// On a reject the remote id stays visible for the display window;
	// HandleCallResponse clears it afterwards.
	m.state = next
	m.mu.Unlock()
	m.notifyState(next, remoteID)
	return true
}

func (m *Manager) notifyState(state State, remoteID string) {
	m.listenerMu.RLock()
	fns := append(([]func(State, string))(nil), m.stateFns...)
	m.listenerMu.RUnlock()
	for _, fn := range fns {
		fn(state, remoteID)
	}
}
