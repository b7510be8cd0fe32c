// Package presence tracks who is connected and which rooms exist. The relay
// broadcasts full snapshots, not deltas, so the tracker only ever replaces
// its state wholesale — stale entries are never merged.
package presence

import (
	"log"
	"sync"

	"github.com/petervdpas/relaymesh/internal/signal"
)

// Event notifies a subscriber that a snapshot was replaced.
type Event struct {
	Type  string            `json:"type"` // "users" | "rooms"
	Users []string          `json:"users,omitempty"`
	Rooms []signal.RoomInfo `json:"rooms,omitempty"`
}

// Tracker holds the latest roster and room catalog snapshots.
type Tracker struct {
	mu        sync.Mutex
	users     []string
	rooms     []signal.RoomInfo
	listeners []chan Event
}

func NewTracker() *Tracker {
	return &Tracker{listeners: make([]chan Event, 0)}
}

// HandleUsers processes a /topic/users broadcast.
func (t *Tracker) HandleUsers(body []byte) {
	users, err := signal.ParseUsers(body)
	if err != nil {
		log.Printf("PRESENCE: bad roster: %v", err)
		return
	}
	t.mu.Lock()
	t.users = users
	t.mu.Unlock()
	t.notifyListeners(Event{Type: "users", Users: users})
}

// HandleRooms processes a /topic/rooms broadcast.
func (t *Tracker) HandleRooms(body []byte) {
	rooms, err := signal.ParseRooms(body)
	if err != nil {
		log.Printf("PRESENCE: bad room catalog: %v", err)
		return
	}
	t.mu.Lock()
	t.rooms = rooms
	t.mu.Unlock()
	t.notifyListeners(Event{Type: "rooms", Rooms: rooms})
}

// Users returns the most recent roster snapshot.
func (t *Tracker) Users() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.users...)
}

// Rooms returns the most recent room catalog snapshot.
func (t *Tracker) Rooms() []signal.RoomInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]signal.RoomInfo(nil), t.rooms...)
}

// Room looks roomID up in the current catalog snapshot.
func (t *Tracker) Room(roomID string) (signal.RoomInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.rooms {
		if r.RoomID == roomID {
			return r, true
		}
	}
	return signal.RoomInfo{}, false
}

// Online reports whether userID appears in the current roster.
func (t *Tracker) Online(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range t.users {
		if u == userID {
			return true
		}
	}
	return false
}

func (t *Tracker) Subscribe() chan Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan Event, 16)
	t.listeners = append(t.listeners, ch)
	return ch
}

func (t *Tracker) Unsubscribe(ch chan Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, listener := range t.listeners {
		if listener == ch {
			close(listener)
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

func (t *Tracker) notifyListeners(evt Event) {
	t.mu.Lock()
	listeners := append([]chan Event(nil), t.listeners...)
	t.mu.Unlock()
	for _, ch := range listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
