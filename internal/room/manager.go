// Package room manages the multi-party topology: room membership and the
// full mesh of PeerSessions across its members. The offer direction rule is
// "the existing member offers to the newcomer", applied after a short
// debounce so the newcomer can finish its own setup — without it both sides
// race to offer.
package room

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/relaymesh/internal/presence"
	"github.com/petervdpas/relaymesh/internal/relay"
	"github.com/petervdpas/relaymesh/internal/session"
	"github.com/petervdpas/relaymesh/internal/signal"
)

var (
	// ErrAlreadyInRoom is returned by Create and Join while a membership
	// view is set. A client is in at most one room.
	ErrAlreadyInRoom = errors.New("room: already in a room")

	// ErrRoomFull is returned by Join when the catalog shows the room at
	// capacity. The check is advisory; the relay may still refuse.
	ErrRoomFull = errors.New("room: room is full")

	// ErrInvalidRoom is returned for an empty room id.
	ErrInvalidRoom = errors.New("room: invalid room id")
)

// Membership is the local client's view of its current room.
type Membership struct {
	RoomID  string
	Members []string
}

// Manager drives room membership and mesh fan-out.
type Manager struct {
	selfID   string
	rel      relay.Relay
	reg      *session.Registry
	catalog  *presence.Tracker
	debounce time.Duration

	mu            sync.Mutex
	roomID        string
	members       []string
	pendingCreate string
	pendingJoin   string

	listenerMu sync.RWMutex
	changed    []func(Membership)
}

// New creates a room manager. catalog supplies the room snapshots used for
// the client-side capacity check; debounce is the newcomer-offer delay.
func New(rel relay.Relay, reg *session.Registry, catalog *presence.Tracker, selfID string, debounce time.Duration) *Manager {
	return &Manager{
		selfID:   selfID,
		rel:      rel,
		reg:      reg,
		catalog:  catalog,
		debounce: debounce,
	}
}

// OnChange registers a callback fired whenever the membership view changes.
func (m *Manager) OnChange(fn func(Membership)) {
	m.listenerMu.Lock()
	m.changed = append(m.changed, fn)
	m.listenerMu.Unlock()
}

// Membership returns the current view. RoomID is empty when not in a room.
func (m *Manager) Membership() Membership {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Membership{RoomID: m.roomID, Members: append([]string(nil), m.members...)}
}

// Create asks the relay to create roomID. The view is established only on
// the success acknowledgment.
func (m *Manager) Create(roomID string, maxParticipants int) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrInvalidRoom
	}

	m.mu.Lock()
	if m.roomID != "" {
		m.mu.Unlock()
		return ErrAlreadyInRoom
	}
	m.pendingCreate = roomID
	m.mu.Unlock()

	body, err := signal.Marshal(signal.CreateRoom{
		RoomID:          roomID,
		Creator:         m.selfID,
		MaxParticipants: maxParticipants,
	})
	if err == nil {
		err = m.rel.Send(signal.DestCreateRoom, body)
	}
	if err != nil {
		m.mu.Lock()
		if m.pendingCreate == roomID {
			m.pendingCreate = ""
		}
		m.mu.Unlock()
		return err
	}
	log.Printf("ROOM: create %q requested", roomID)
	return nil
}

// Join asks the relay to add this client to roomID. Full rooms are refused
// locally before anything is sent; relay silence after a send leaves no
// state behind to clean up.
func (m *Manager) Join(roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrInvalidRoom
	}

	m.mu.Lock()
	if m.roomID != "" {
		m.mu.Unlock()
		return ErrAlreadyInRoom
	}
	m.mu.Unlock()

	if info, ok := m.catalog.Room(roomID); ok {
		if info.MaxParticipants > 0 && info.UserCount >= info.MaxParticipants {
			return ErrRoomFull
		}
	}

	m.mu.Lock()
	m.pendingJoin = roomID
	m.mu.Unlock()

	body, err := signal.Marshal(signal.JoinRoom{RoomID: roomID, UserID: m.selfID})
	if err == nil {
		err = m.rel.Send(signal.DestJoinRoom, body)
	}
	if err != nil {
		m.mu.Lock()
		if m.pendingJoin == roomID {
			m.pendingJoin = ""
		}
		m.mu.Unlock()
		return err
	}
	log.Printf("ROOM: join %q requested", roomID)
	return nil
}

// Leave tears down every mesh session, notifies the relay and clears the
// view. Safe to call when not in a room.
func (m *Manager) Leave() error {
	m.mu.Lock()
	roomID := m.roomID
	m.roomID = ""
	m.members = nil
	m.pendingCreate = ""
	m.pendingJoin = ""
	m.mu.Unlock()

	if roomID == "" {
		return nil
	}

	// Single teardown site for the mesh: every live connection is closed
	// here exactly once.
	m.reg.RemoveAll()

	err := m.rel.Send(signal.DestLeaveRoom, []byte(m.selfID))
	log.Printf("ROOM: left %q", roomID)
	m.notifyChanged(Membership{})
	return err
}

// ── Relay event handlers ─────────────────────────────────────────────────────

// HandleRoomCreated processes a /topic/roomCreated acknowledgment.
func (m *Manager) HandleRoomCreated(body []byte) {
	ack, err := signal.ParseRoomCreated(body)
	if err != nil {
		log.Printf("ROOM: bad roomCreated: %v", err)
		return
	}

	m.mu.Lock()
	if ack.RoomID != m.pendingCreate {
		m.mu.Unlock()
		return
	}
	m.pendingCreate = ""
	if !ack.Success {
		m.mu.Unlock()
		log.Printf("ROOM: create %q refused: %s", ack.RoomID, ack.Reason)
		return
	}
	m.roomID = ack.RoomID
	m.members = []string{m.selfID}
	view := Membership{RoomID: m.roomID, Members: append([]string(nil), m.members...)}
	m.mu.Unlock()

	log.Printf("ROOM: created %q", ack.RoomID)
	m.notifyChanged(view)
}

// HandleRoomUpdate processes a /topic/roomUpdate membership change.
func (m *Manager) HandleRoomUpdate(body []byte) {
	update, err := signal.ParseRoomUpdate(body)
	if err != nil {
		log.Printf("ROOM: bad roomUpdate: %v", err)
		return
	}
	switch update.Type {
	case signal.RoomUpdateJoined:
		m.handleJoined(update)
	case signal.RoomUpdateLeft:
		m.handleLeft(update)
	}
}

func (m *Manager) handleJoined(update signal.RoomUpdate) {
	m.mu.Lock()
	switch {
	case update.UserID == m.selfID && update.RoomID == m.pendingJoin:
		// Our own join confirmed; the existing members will offer to us.
		m.pendingJoin = ""
		m.roomID = update.RoomID
		m.members = append([]string(nil), update.RoomUsers...)
		view := Membership{RoomID: m.roomID, Members: append([]string(nil), m.members...)}
		m.mu.Unlock()
		log.Printf("ROOM: joined %q (%d members)", update.RoomID, len(view.Members))
		m.notifyChanged(view)

	case update.RoomID == m.roomID:
		m.members = append([]string(nil), update.RoomUsers...)
		view := Membership{RoomID: m.roomID, Members: append([]string(nil), m.members...)}
		m.mu.Unlock()
		m.notifyChanged(view)

		if update.UserID == m.selfID {
			return
		}
		if _, exists := m.reg.Get(update.UserID); exists {
			return
		}
		log.Printf("ROOM: %s joined %q, offering in %v", update.UserID, update.RoomID, m.debounce)
		newcomer := update.UserID
		roomID := update.RoomID
		time.AfterFunc(m.debounce, func() { m.offerTo(roomID, newcomer) })

	default:
		m.mu.Unlock()
	}
}

func (m *Manager) handleLeft(update signal.RoomUpdate) {
	m.mu.Lock()
	if update.RoomID != m.roomID {
		m.mu.Unlock()
		return
	}
	if update.UserID == m.selfID {
		// Removed by the relay; treat as a forced leave.
		m.roomID = ""
		m.members = nil
		m.mu.Unlock()
		m.reg.RemoveAll()
		log.Printf("ROOM: removed from %q", update.RoomID)
		m.notifyChanged(Membership{})
		return
	}
	m.members = append([]string(nil), update.RoomUsers...)
	view := Membership{RoomID: m.roomID, Members: append([]string(nil), m.members...)}
	m.mu.Unlock()

	m.reg.Remove(update.UserID)
	log.Printf("ROOM: %s left %q", update.UserID, update.RoomID)
	m.notifyChanged(view)
}

// HandleGroupOffer processes a /topic/groupOffer body.
func (m *Manager) HandleGroupOffer(body []byte) {
	offer, err := signal.ParseOffer(body)
	if err != nil {
		log.Printf("ROOM: bad offer: %v", err)
		return
	}
	if !m.inRoom(offer.RoomID) {
		log.Printf("ROOM: offer from %s for %q dropped (not a member)", offer.FromUser, offer.RoomID)
		return
	}

	sess, err := m.reg.GetOrCreate(offer.FromUser, m.hooks())
	if err != nil {
		log.Printf("ROOM: offer from %s: %v", offer.FromUser, err)
		return
	}
	answer, err := sess.AcceptOffer(offer.Offer)
	if err != nil {
		log.Printf("ROOM: offer from %s: %v", offer.FromUser, err)
		m.reg.Remove(offer.FromUser)
		return
	}

	answerBody, err := signal.Marshal(signal.Answer{
		ToUser:   offer.FromUser,
		FromUser: m.selfID,
		Answer:   answer,
		RoomID:   offer.RoomID,
	})
	if err == nil {
		err = m.rel.Send(signal.DestGroupAnswer, answerBody)
	}
	if err != nil {
		log.Printf("ROOM: answer to %s: %v", offer.FromUser, err)
		m.reg.Remove(offer.FromUser)
		return
	}
	log.Printf("ROOM: answered offer from %s", offer.FromUser)
}

// HandleGroupAnswer processes a /topic/groupAnswer body. Answers never
// create sessions.
func (m *Manager) HandleGroupAnswer(body []byte) {
	answer, err := signal.ParseAnswer(body)
	if err != nil {
		log.Printf("ROOM: bad answer: %v", err)
		return
	}
	sess, ok := m.reg.Get(answer.FromUser)
	if !ok {
		log.Printf("ROOM: answer from %s dropped (no session)", answer.FromUser)
		return
	}
	if err := sess.AcceptAnswer(answer.Answer); err != nil {
		log.Printf("ROOM: answer from %s: %v", answer.FromUser, err)
		return
	}
	log.Printf("ROOM: connected to %s", answer.FromUser)
}

// HandleGroupCandidate processes a /topic/groupCandidate body.
func (m *Manager) HandleGroupCandidate(body []byte) {
	cand, err := signal.ParseCandidate(body)
	if err != nil {
		log.Printf("ROOM: bad candidate: %v", err)
		return
	}
	sess, ok := m.reg.Get(cand.FromUser)
	if !ok {
		log.Printf("ROOM: candidate from %s dropped (no session)", cand.FromUser)
		return
	}
	if err := sess.AddCandidate(cand.Candidate.ToICE()); err != nil {
		log.Printf("ROOM: candidate from %s: %v", cand.FromUser, err)
	}
}

// ── Internal ─────────────────────────────────────────────────────────────────

// offerTo runs after the newcomer debounce. Every precondition is
// re-checked: the room may have been left, the newcomer may have gone, or a
// session may exist by now.
func (m *Manager) offerTo(roomID, user string) {
	m.mu.Lock()
	member := false
	if m.roomID == roomID {
		for _, u := range m.members {
			if u == user {
				member = true
				break
			}
		}
	}
	m.mu.Unlock()
	if !member {
		log.Printf("ROOM: offer to %s skipped (membership changed)", user)
		return
	}
	if _, exists := m.reg.Get(user); exists {
		return
	}

	sess, err := m.reg.GetOrCreate(user, m.hooks())
	if err != nil {
		log.Printf("ROOM: offer to %s: %v", user, err)
		return
	}
	offer, err := sess.CreateOffer()
	if err != nil {
		log.Printf("ROOM: offer to %s: %v", user, err)
		m.reg.Remove(user)
		return
	}

	body, err := signal.Marshal(signal.Offer{
		ToUser:   user,
		FromUser: m.selfID,
		Offer:    offer,
		RoomID:   roomID,
	})
	if err == nil {
		err = m.rel.Send(signal.DestGroupOffer, body)
	}
	if err != nil {
		log.Printf("ROOM: offer to %s: %v", user, err)
		m.reg.Remove(user)
		return
	}
	log.Printf("ROOM: offered to %s", user)
}

func (m *Manager) inRoom(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return roomID != "" && roomID == m.roomID
}

// hooks routes session engine events out on the room-scoped path.
func (m *Manager) hooks() session.Hooks {
	return session.Hooks{
		OnCandidate: func(remoteID string, init webrtc.ICECandidateInit) {
			m.mu.Lock()
			roomID := m.roomID
			m.mu.Unlock()
			if roomID == "" {
				return // left the room since
			}
			body, err := signal.Marshal(signal.Candidate{
				ToUser:    remoteID,
				FromUser:  m.selfID,
				Candidate: signal.CandidateFromICE(init),
				RoomID:    roomID,
			})
			if err == nil {
				err = m.rel.Send(signal.DestGroupCandidate, body)
			}
			if err != nil {
				log.Printf("ROOM: send candidate to %s: %v", remoteID, err)
			}
		},
		OnTrack: func(remoteID, kind string) {
			log.Printf("ROOM: %s track from %s", kind, remoteID)
		},
		OnStateChange: func(remoteID string, state webrtc.PeerConnectionState) {
			log.Printf("ROOM: connection to %s is %s", remoteID, state)
		},
	}
}

func (m *Manager) notifyChanged(view Membership) {
	m.listenerMu.RLock()
	fns := append(([]func(Membership))(nil), m.changed...)
	m.listenerMu.RUnlock()
	for _, fn := range fns {
		fn(view)
	}
}
