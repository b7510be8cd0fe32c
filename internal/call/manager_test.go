package call

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/relaymesh/internal/engine/enginetest"
	"github.com/petervdpas/relaymesh/internal/relay"
	"github.com/petervdpas/relaymesh/internal/session"
	"github.com/petervdpas/relaymesh/internal/signal"
)

const testRejectDelay = 150 * time.Millisecond

// peer bundles one side of a call scenario: a manager wired to its own fake
// engine and a loopback client subscribed to the pairwise topics.
type peer struct {
	id  string
	eng *enginetest.Fake
	reg *session.Registry
	mgr *Manager
}

func newPeer(t *testing.T, hub *relay.Loopback, id string) *peer {
	t.Helper()
	c := hub.Client()
	t.Cleanup(func() { c.Close() })

	eng := enginetest.New()
	reg := session.NewRegistry(eng)
	mgr := New(c, reg, id, testRejectDelay)

	subs := map[string]relay.Handler{
		signal.UserTopic(id, signal.TopicCall):         mgr.HandleCallRequest,
		signal.UserTopic(id, signal.TopicCallResponse): mgr.HandleCallResponse,
		signal.UserTopic(id, signal.TopicOffer):        mgr.HandleOffer,
		signal.UserTopic(id, signal.TopicAnswer):       mgr.HandleAnswer,
		signal.UserTopic(id, signal.TopicCandidate):    mgr.HandleCandidate,
	}
	for topic, fn := range subs {
		if _, err := c.Subscribe(topic, fn); err != nil {
			t.Fatal(err)
		}
	}
	return &peer{id: id, eng: eng, reg: reg, mgr: mgr}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func (p *peer) state() State {
	s, _ := p.mgr.State()
	return s
}

func TestCallEndToEnd(t *testing.T) {
	hub := relay.NewLoopback()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")

	var incomingMu sync.Mutex
	var incomingFrom string
	bob.mgr.OnIncoming(func(from string) {
		incomingMu.Lock()
		incomingFrom = from
		incomingMu.Unlock()
	})

	if err := alice.mgr.Initiate("bob"); err != nil {
		t.Fatal(err)
	}
	if alice.state() != StateRingingOut {
		t.Fatalf("caller should be ringing-out, got %s", alice.state())
	}

	waitFor(t, func() bool { return bob.state() == StateRingingIn })
	incomingMu.Lock()
	from := incomingFrom
	incomingMu.Unlock()
	if from != "alice" {
		t.Fatalf("incoming callback got %q", from)
	}

	if err := bob.mgr.Accept(); err != nil {
		t.Fatal(err)
	}

	// Acceptor offers, caller answers; both sides settle on Active with
	// exactly one session each.
	waitFor(t, func() bool { return alice.state() == StateActive })
	waitFor(t, func() bool { return bob.state() == StateActive })
	if alice.reg.Len() != 1 || bob.reg.Len() != 1 {
		t.Fatalf("expected one session per side, got %d/%d", alice.reg.Len(), bob.reg.Len())
	}

	_, remote := alice.mgr.State()
	if remote != "bob" {
		t.Fatalf("caller bound to %q", remote)
	}

	// Trickle a candidate from bob; it must land on alice's session.
	bob.eng.Conns()[0].EmitCandidate(webrtc.ICECandidateInit{Candidate: "candidate:bob-1"})
	waitFor(t, func() bool {
		applied := alice.eng.Conns()[0].Applied()
		return len(applied) == 1 && applied[0].Candidate == "candidate:bob-1"
	})

	// Hanging up tears down the local session exactly once.
	alice.mgr.End()
	if alice.state() != StateIdle || alice.reg.Len() != 0 {
		t.Fatalf("caller not torn down: state=%s sessions=%d", alice.state(), alice.reg.Len())
	}
	if !alice.eng.Conns()[0].Closed() {
		t.Fatal("caller connection not closed on End")
	}
	alice.mgr.End() // idempotent
}

func TestCallOfferOvertakesAccepted(t *testing.T) {
	// The offer can arrive before the call_accepted response; the caller must
	// still answer it from ringing-out.
	hub := relay.NewLoopback()
	alice := newPeer(t, hub, "alice")

	if err := alice.mgr.Initiate("bob"); err != nil {
		t.Fatal(err)
	}

	offer, _ := signal.Marshal(signal.Offer{
		ToUser:   "alice",
		FromUser: "bob",
		Offer:    webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 bob-offer"},
	})
	alice.mgr.HandleOffer(offer)

	if alice.state() != StateActive {
		t.Fatalf("expected active after early offer, got %s", alice.state())
	}
	if alice.reg.Len() != 1 {
		t.Fatal("no session created for the early offer")
	}
}

func TestCallRejectFlow(t *testing.T) {
	hub := relay.NewLoopback()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")

	if err := alice.mgr.Initiate("bob"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return bob.state() == StateRingingIn })

	if err := bob.mgr.Reject(); err != nil {
		t.Fatal(err)
	}
	if bob.state() != StateIdle {
		t.Fatalf("rejector should be idle, got %s", bob.state())
	}

	// The caller goes idle but keeps the rejected id visible for the
	// display window, then clears it.
	waitFor(t, func() bool {
		s, remote := alice.mgr.State()
		return s == StateIdle && remote == "bob"
	})
	waitFor(t, func() bool {
		_, remote := alice.mgr.State()
		return remote == ""
	})

	// No sessions were ever created.
	if alice.reg.Len() != 0 || bob.reg.Len() != 0 {
		t.Fatal("rejected call must not create sessions")
	}

	// Both sides can start over.
	if err := alice.mgr.Initiate("bob"); err != nil {
		t.Fatal(err)
	}
}

func TestCallInitiateValidation(t *testing.T) {
	hub := relay.NewLoopback()
	alice := newPeer(t, hub, "alice")

	if err := alice.mgr.Initiate(""); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("empty target: got %v", err)
	}
	if err := alice.mgr.Initiate("alice"); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("self target: got %v", err)
	}

	if err := alice.mgr.Initiate("bob"); err != nil {
		t.Fatal(err)
	}
	if err := alice.mgr.Initiate("carol"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second call: got %v", err)
	}
	// The first call is unaffected.
	s, remote := alice.mgr.State()
	if s != StateRingingOut || remote != "bob" {
		t.Fatalf("first call disturbed: %s/%q", s, remote)
	}
}

func TestCallUndefinedEventsAreNoOps(t *testing.T) {
	hub := relay.NewLoopback()
	alice := newPeer(t, hub, "alice")

	// Accept and Reject without a ringing call do nothing.
	if err := alice.mgr.Accept(); err != nil {
		t.Fatal(err)
	}
	if err := alice.mgr.Reject(); err != nil {
		t.Fatal(err)
	}
	if alice.state() != StateIdle {
		t.Fatalf("state drifted to %s", alice.state())
	}

	// An answer with no session is dropped.
	answer, _ := signal.Marshal(signal.Answer{
		ToUser:   "alice",
		FromUser: "bob",
		Answer:   webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"},
	})
	alice.mgr.HandleAnswer(answer)
	if alice.reg.Len() != 0 {
		t.Fatal("answer must never create a session")
	}

	// Same for a candidate.
	cand, _ := signal.Marshal(signal.Candidate{
		ToUser:    "alice",
		FromUser:  "bob",
		Candidate: signal.CandidateInit{Type: "candidate", ID: "candidate:1"},
	})
	alice.mgr.HandleCandidate(cand)
	if alice.reg.Len() != 0 {
		t.Fatal("candidate must never create a session")
	}

	// An offer from a user we are not calling is dropped.
	offer, _ := signal.Marshal(signal.Offer{
		ToUser:   "alice",
		FromUser: "mallory",
		Offer:    webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
	})
	alice.mgr.HandleOffer(offer)
	if alice.reg.Len() != 0 {
		t.Fatal("unsolicited offer must be dropped")
	}
}

func TestCallSecondRequestWhileBusy(t *testing.T) {
	hub := relay.NewLoopback()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")
	carol := newPeer(t, hub, "carol")

	if err := alice.mgr.Initiate("bob"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return bob.state() == StateRingingIn })

	// Carol calls bob while he is already ringing; the request is ignored.
	if err := carol.mgr.Initiate("bob"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	s, remote := bob.mgr.State()
	if s != StateRingingIn || remote != "alice" {
		t.Fatalf("busy callee disturbed: %s/%q", s, remote)
	}
}

func TestCallAcceptEngineFailureReverts(t *testing.T) {
	hub := relay.NewLoopback()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")

	if err := alice.mgr.Initiate("bob"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return bob.state() == StateRingingIn })

	bob.eng.NewConnErr = errors.New("no media stack")
	if err := bob.mgr.Accept(); err == nil {
		t.Fatal("expected accept to surface the engine failure")
	}
	if bob.state() != StateRingingIn {
		t.Fatalf("failed accept must revert to ringing-in, got %s", bob.state())
	}
	if bob.reg.Len() != 0 {
		t.Fatal("failed accept left a session behind")
	}

	// The call can be accepted once the engine recovers.
	bob.eng.NewConnErr = nil
	if err := bob.mgr.Accept(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return alice.state() == StateActive && bob.state() == StateActive })
}
