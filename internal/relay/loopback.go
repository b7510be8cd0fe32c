package relay

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/petervdpas/relaymesh/internal/signal"
)

// queueCap bounds each loopback client's delivery queue. A full queue drops
// the message with a log line rather than blocking the sender.
const queueCap = 256

// Loopback is an in-process stand-in for the signaling server: it performs
// the same per-user routing, roster broadcast and room bookkeeping the real
// relay does. Tests script multi-client scenarios against it; it also backs
// single-process experiments without a server.
type Loopback struct {
	mu      sync.Mutex
	clients []*LoopbackClient
	users   []string
	rooms   map[string]*loopRoom
}

type loopRoom struct {
	id      string
	members []string
	max     int
}

// NewLoopback creates an empty hub.
func NewLoopback() *Loopback {
	return &Loopback{rooms: make(map[string]*loopRoom)}
}

// Client attaches a new client to the hub. Each client gets its own
// sequential delivery goroutine, mirroring the per-connection ordering of
// the real relay.
func (l *Loopback) Client() *LoopbackClient {
	c := &LoopbackClient{
		hub:   l,
		subs:  make(map[string]map[int]Handler),
		queue: make(chan delivery, queueCap),
		done:  make(chan struct{}),
	}
	l.mu.Lock()
	l.clients = append(l.clients, c)
	l.mu.Unlock()
	go c.pump()
	return c
}

type delivery struct {
	topic string
	body  []byte
}

// LoopbackClient is one client connection on the hub.
type LoopbackClient struct {
	hub *Loopback

	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]Handler

	queue chan delivery
	done  chan struct{}
	once  sync.Once
}

var _ Relay = (*LoopbackClient)(nil)

func (c *LoopbackClient) Send(destination string, body []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("relay: closed")
	default:
	}
	return c.hub.route(destination, body)
}

func (c *LoopbackClient) Subscribe(topic string, fn Handler) (func(), error) {
	c.mu.Lock()
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[int]Handler)
	}
	id := c.nextID
	c.nextID++
	c.subs[topic][id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs[topic], id)
		c.mu.Unlock()
	}, nil
}

func (c *LoopbackClient) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *LoopbackClient) pump() {
	for {
		select {
		case <-c.done:
			return
		case d := <-c.queue:
			c.mu.Lock()
			handlers := make([]Handler, 0, len(c.subs[d.topic]))
			for _, fn := range c.subs[d.topic] {
				handlers = append(handlers, fn)
			}
			c.mu.Unlock()
			for _, fn := range handlers {
				fn(d.body)
			}
		}
	}
}

func (c *LoopbackClient) offer(topic string, body []byte) {
	c.mu.Lock()
	subscribed := len(c.subs[topic]) > 0
	c.mu.Unlock()
	if !subscribed {
		return
	}
	select {
	case c.queue <- delivery{topic: topic, body: body}:
	default:
		log.Printf("RELAY: loopback queue full, dropping %s", topic)
	}
}

// ── Hub routing ──────────────────────────────────────────────────────────────

// addressed is the minimal shape needed to route a user-addressed body.
type addressed struct {
	CallTo string `json:"callTo"`
	ToUser string `json:"toUser"`
}

func (l *Loopback) route(dest string, body []byte) error {
	switch dest {
	case signal.DestCall:
		return l.forward(body, signal.TopicCall)
	case signal.DestCallResponse:
		return l.forward(body, signal.TopicCallResponse)
	case signal.DestOffer:
		return l.forward(body, signal.TopicOffer)
	case signal.DestAnswer:
		return l.forward(body, signal.TopicAnswer)
	case signal.DestCandidate:
		return l.forward(body, signal.TopicCandidate)
	case signal.DestGroupOffer:
		return l.forward(body, signal.TopicGroupOffer)
	case signal.DestGroupAnswer:
		return l.forward(body, signal.TopicGroupAnswer)
	case signal.DestGroupCandidate:
		return l.forward(body, signal.TopicGroupCandidate)

	case signal.DestAddUser:
		l.addUser(strings.TrimSpace(string(body)))
		return nil
	case signal.DestRemoveUser:
		l.removeUser(strings.TrimSpace(string(body)))
		return nil
	case signal.DestGetUserList:
		l.broadcastUsers()
		return nil
	case signal.DestTestServer:
		l.broadcast(signal.TopicTestServer, body)
		return nil

	case signal.DestCreateRoom:
		return l.createRoom(body)
	case signal.DestJoinRoom:
		return l.joinRoom(body)
	case signal.DestLeaveRoom:
		l.leaveRoom(strings.TrimSpace(string(body)))
		return nil
	}
	return fmt.Errorf("relay: loopback: unknown destination %q", dest)
}

// forward delivers body verbatim to the addressee's per-user topic.
func (l *Loopback) forward(body []byte, suffix string) error {
	var a addressed
	if err := json.Unmarshal(body, &a); err != nil {
		return fmt.Errorf("relay: loopback: unroutable body: %w", err)
	}
	to := a.ToUser
	if to == "" {
		to = a.CallTo
	}
	if to == "" {
		return fmt.Errorf("relay: loopback: body without addressee")
	}
	l.deliver(signal.UserTopic(to, suffix), body)
	return nil
}

func (l *Loopback) deliver(topic string, body []byte) {
	l.mu.Lock()
	clients := append([]*LoopbackClient(nil), l.clients...)
	l.mu.Unlock()
	for _, c := range clients {
		c.offer(topic, body)
	}
}

func (l *Loopback) broadcast(topic string, body []byte) {
	l.deliver(topic, body)
}

func (l *Loopback) addUser(user string) {
	if user == "" {
		return
	}
	l.mu.Lock()
	known := false
	for _, u := range l.users {
		if u == user {
			known = true
			break
		}
	}
	if !known {
		l.users = append(l.users, user)
	}
	l.mu.Unlock()
	l.broadcastUsers()
}

func (l *Loopback) removeUser(user string) {
	l.mu.Lock()
	for i, u := range l.users {
		if u == user {
			l.users = append(l.users[:i], l.users[i+1:]...)
			break
		}
	}
	l.mu.Unlock()
	l.broadcastUsers()
}

func (l *Loopback) broadcastUsers() {
	l.mu.Lock()
	users := append([]string(nil), l.users...)
	l.mu.Unlock()
	body, _ := json.Marshal(users)
	l.broadcast(signal.TopicUsers, body)
}

func (l *Loopback) createRoom(body []byte) error {
	var req signal.CreateRoom
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("relay: loopback: createRoom: %w", err)
	}

	ack := signal.RoomCreated{Success: true, RoomID: req.RoomID}
	l.mu.Lock()
	switch {
	case req.RoomID == "":
		ack = signal.RoomCreated{Success: false, RoomID: req.RoomID, Reason: "empty room id"}
	case l.rooms[req.RoomID] != nil:
		ack = signal.RoomCreated{Success: false, RoomID: req.RoomID, Reason: "room exists"}
	default:
		l.rooms[req.RoomID] = &loopRoom{
			id:      req.RoomID,
			members: []string{req.Creator},
			max:     req.MaxParticipants,
		}
	}
	l.mu.Unlock()

	ackBody, _ := json.Marshal(ack)
	l.deliver(signal.UserTopic(req.Creator, signal.TopicRoomCreated), ackBody)
	if ack.Success {
		l.broadcastRooms()
	}
	return nil
}

func (l *Loopback) joinRoom(body []byte) error {
	var req signal.JoinRoom
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("relay: loopback: joinRoom: %w", err)
	}

	l.mu.Lock()
	room := l.rooms[req.RoomID]
	if room == nil || (room.max > 0 && len(room.members) >= room.max) {
		// Unknown or full room: the real relay stays silent and the
		// client must tolerate never hearing back.
		l.mu.Unlock()
		return nil
	}
	room.members = append(room.members, req.UserID)
	members := append([]string(nil), room.members...)
	l.mu.Unlock()

	l.roomUpdate(signal.RoomUpdateJoined, req.RoomID, req.UserID, members)
	l.broadcastRooms()
	return nil
}

func (l *Loopback) leaveRoom(user string) {
	l.mu.Lock()
	var room *loopRoom
	for _, r := range l.rooms {
		for i, m := range r.members {
			if m == user {
				r.members = append(r.members[:i], r.members[i+1:]...)
				room = r
				break
			}
		}
		if room != nil {
			break
		}
	}
	var (
		roomID  string
		members []string
	)
	if room != nil {
		roomID = room.id
		members = append([]string(nil), room.members...)
		if len(room.members) == 0 {
			delete(l.rooms, room.id)
		}
	}
	l.mu.Unlock()

	if room == nil {
		return
	}
	l.roomUpdate(signal.RoomUpdateLeft, roomID, user, members)
	l.broadcastRooms()
}

// roomUpdate fans a membership change out to every current member, plus the
// affected user (who is no longer in members after a leave).
func (l *Loopback) roomUpdate(kind, roomID, userID string, members []string) {
	body, _ := json.Marshal(signal.RoomUpdate{
		Type:      kind,
		RoomID:    roomID,
		UserID:    userID,
		RoomUsers: members,
	})
	seen := map[string]bool{}
	for _, m := range members {
		seen[m] = true
		l.deliver(signal.UserTopic(m, signal.TopicRoomUpdate), body)
	}
	if !seen[userID] {
		l.deliver(signal.UserTopic(userID, signal.TopicRoomUpdate), body)
	}
}

func (l *Loopback) broadcastRooms() {
	l.mu.Lock()
	catalog := make([]signal.RoomInfo, 0, len(l.rooms))
	for _, r := range l.rooms {
		catalog = append(catalog, signal.RoomInfo{
			RoomID:          r.id,
			UserCount:       len(r.members),
			MaxParticipants: r.max,
		})
	}
	l.mu.Unlock()
	body, _ := json.Marshal(catalog)
	l.broadcast(signal.TopicRooms, body)
}
