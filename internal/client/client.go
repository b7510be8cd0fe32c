// Package client ties the signaling layer together: one Client per process
// owns the SessionRegistry, the call and room controllers and the presence
// tracker, subscribes every relay topic and dispatches inbound messages.
// Controllers get their collaborators by reference — there is no package
// level state anywhere in this module.
package client

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/petervdpas/relaymesh/internal/call"
	"github.com/petervdpas/relaymesh/internal/engine"
	"github.com/petervdpas/relaymesh/internal/presence"
	"github.com/petervdpas/relaymesh/internal/relay"
	"github.com/petervdpas/relaymesh/internal/room"
	"github.com/petervdpas/relaymesh/internal/session"
	"github.com/petervdpas/relaymesh/internal/signal"
)

// Defaults for the tunable delays.
const (
	DefaultRejectDelay   = 2 * time.Second
	DefaultOfferDebounce = time.Second
	DefaultRosterDelay   = 500 * time.Millisecond
)

// Options configure a Client. Relay, Engine and SelfID are mandatory.
type Options struct {
	SelfID string
	Relay  relay.Relay
	Engine engine.Engine

	// RejectDelay is how long a rejected call's target stays visible.
	RejectDelay time.Duration

	// OfferDebounce delays the existing-member offer after a newcomer
	// joins a room.
	OfferDebounce time.Duration

	// RosterDelay is the pause between announcing ourselves and
	// requesting the user list.
	RosterDelay time.Duration
}

// Client is the per-process session manager.
type Client struct {
	selfID string
	rel    relay.Relay

	registry *session.Registry
	calls    *call.Manager
	rooms    *room.Manager
	presence *presence.Tracker

	rosterDelay time.Duration

	mu      sync.Mutex
	cancels []func()
	closed  bool
}

// New constructs a client and subscribes every topic. The returned client
// is live immediately; call Announce to publish presence.
func New(opt Options) (*Client, error) {
	if opt.SelfID == "" {
		return nil, fmt.Errorf("client: missing self id")
	}
	if opt.Relay == nil || opt.Engine == nil {
		return nil, fmt.Errorf("client: missing relay or engine")
	}
	if opt.RejectDelay <= 0 {
		opt.RejectDelay = DefaultRejectDelay
	}
	if opt.OfferDebounce <= 0 {
		opt.OfferDebounce = DefaultOfferDebounce
	}
	if opt.RosterDelay <= 0 {
		opt.RosterDelay = DefaultRosterDelay
	}

	registry := session.NewRegistry(opt.Engine)
	tracker := presence.NewTracker()
	c := &Client{
		selfID:      opt.SelfID,
		rel:         opt.Relay,
		registry:    registry,
		calls:       call.New(opt.Relay, registry, opt.SelfID, opt.RejectDelay),
		rooms:       room.New(opt.Relay, registry, tracker, opt.SelfID, opt.OfferDebounce),
		presence:    tracker,
		rosterDelay: opt.RosterDelay,
	}

	subs := []struct {
		topic string
		fn    relay.Handler
	}{
		{signal.TopicUsers, c.presence.HandleUsers},
		{signal.TopicRooms, c.presence.HandleRooms},
		{signal.TopicTestServer, func(body []byte) {
			log.Printf("CLIENT: test echo: %s", body)
		}},
		{signal.UserTopic(opt.SelfID, signal.TopicCall), c.calls.HandleCallRequest},
		{signal.UserTopic(opt.SelfID, signal.TopicCallResponse), c.calls.HandleCallResponse},
		{signal.UserTopic(opt.SelfID, signal.TopicOffer), c.calls.HandleOffer},
		{signal.UserTopic(opt.SelfID, signal.TopicAnswer), c.calls.HandleAnswer},
		{signal.UserTopic(opt.SelfID, signal.TopicCandidate), c.calls.HandleCandidate},
		{signal.UserTopic(opt.SelfID, signal.TopicRoomCreated), c.rooms.HandleRoomCreated},
		{signal.UserTopic(opt.SelfID, signal.TopicRoomUpdate), c.rooms.HandleRoomUpdate},
		{signal.UserTopic(opt.SelfID, signal.TopicGroupOffer), c.rooms.HandleGroupOffer},
		{signal.UserTopic(opt.SelfID, signal.TopicGroupAnswer), c.rooms.HandleGroupAnswer},
		{signal.UserTopic(opt.SelfID, signal.TopicGroupCandidate), c.rooms.HandleGroupCandidate},
	}
	for _, s := range subs {
		cancel, err := opt.Relay.Subscribe(s.topic, s.fn)
		if err != nil {
			c.unsubscribeAll()
			return nil, fmt.Errorf("client: subscribe %s: %w", s.topic, err)
		}
		c.mu.Lock()
		c.cancels = append(c.cancels, cancel)
		c.mu.Unlock()
	}

	return c, nil
}

// SelfID returns the local participant identity.
func (c *Client) SelfID() string { return c.selfID }

// Calls returns the pairwise call controller.
func (c *Client) Calls() *call.Manager { return c.calls }

// Rooms returns the room controller.
func (c *Client) Rooms() *room.Manager { return c.rooms }

// Presence returns the roster/catalog tracker.
func (c *Client) Presence() *presence.Tracker { return c.presence }

// Sessions returns the session registry.
func (c *Client) Sessions() *session.Registry { return c.registry }

// Announce publishes this client to the relay roster, then requests the
// current user list after a short settle delay.
func (c *Client) Announce() error {
	if err := c.rel.Send(signal.DestAddUser, []byte(c.selfID)); err != nil {
		return fmt.Errorf("client: announce: %w", err)
	}
	time.AfterFunc(c.rosterDelay, func() {
		if err := c.rel.Send(signal.DestGetUserList, nil); err != nil {
			log.Printf("CLIENT: roster request: %v", err)
		}
	})
	return nil
}

// TestServer sends a connectivity probe; the relay echoes it to
// /topic/testServer.
func (c *Client) TestServer(msg string) error {
	return c.rel.Send(signal.DestTestServer, []byte(msg))
}

// Close ends any call, leaves any room, withdraws from the roster and
// closes the relay. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.calls.End()
	if err := c.rooms.Leave(); err != nil {
		log.Printf("CLIENT: leave room on close: %v", err)
	}
	if err := c.rel.Send(signal.DestRemoveUser, []byte(c.selfID)); err != nil {
		log.Printf("CLIENT: remove user on close: %v", err)
	}
	c.unsubscribeAll()
	return c.rel.Close()
}

func (c *Client) unsubscribeAll() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
