package client

import (
	"testing"
	"time"

	"github.com/petervdpas/relaymesh/internal/call"
	"github.com/petervdpas/relaymesh/internal/engine/enginetest"
	"github.com/petervdpas/relaymesh/internal/relay"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func newClient(t *testing.T, hub *relay.Loopback, id string) *Client {
	t.Helper()
	c, err := New(Options{
		SelfID:        id,
		Relay:         hub.Client(),
		Engine:        enginetest.New(),
		RejectDelay:   50 * time.Millisecond,
		OfferDebounce: 20 * time.Millisecond,
		RosterDelay:   10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientOptionValidation(t *testing.T) {
	hub := relay.NewLoopback()
	if _, err := New(Options{Relay: hub.Client(), Engine: enginetest.New()}); err == nil {
		t.Fatal("expected error for missing self id")
	}
	if _, err := New(Options{SelfID: "alice", Engine: enginetest.New()}); err == nil {
		t.Fatal("expected error for missing relay")
	}
	if _, err := New(Options{SelfID: "alice", Relay: hub.Client()}); err == nil {
		t.Fatal("expected error for missing engine")
	}
}

func TestClientAnnounceAndPresence(t *testing.T) {
	hub := relay.NewLoopback()
	alice := newClient(t, hub, "alice")
	bob := newClient(t, hub, "bob")

	if err := alice.Announce(); err != nil {
		t.Fatal(err)
	}
	if err := bob.Announce(); err != nil {
		t.Fatal(err)
	}

	// Both rosters converge on both users, either via the add broadcast or
	// the delayed explicit request.
	waitFor(t, func() bool {
		return alice.Presence().Online("bob") && bob.Presence().Online("alice")
	})
}

func TestClientCallAcrossClients(t *testing.T) {
	hub := relay.NewLoopback()
	alice := newClient(t, hub, "alice")
	bob := newClient(t, hub, "bob")

	incoming := make(chan string, 1)
	bob.Calls().OnIncoming(func(from string) { incoming <- from })

	if err := alice.Calls().Initiate("bob"); err != nil {
		t.Fatal(err)
	}
	select {
	case from := <-incoming:
		if from != "alice" {
			t.Fatalf("incoming from %q", from)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("call never rang")
	}

	if err := bob.Calls().Accept(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		sa, _ := alice.Calls().State()
		sb, _ := bob.Calls().State()
		return sa == call.StateActive && sb == call.StateActive
	})
	if alice.Sessions().Len() != 1 || bob.Sessions().Len() != 1 {
		t.Fatalf("expected one session per side, got %d/%d",
			alice.Sessions().Len(), bob.Sessions().Len())
	}
}

func TestClientRoomAcrossClients(t *testing.T) {
	hub := relay.NewLoopback()
	alice := newClient(t, hub, "alice")
	bob := newClient(t, hub, "bob")

	if err := alice.Rooms().Create("lobby", 4); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return alice.Rooms().Membership().RoomID == "lobby" })

	if err := bob.Rooms().Join("lobby"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		return bob.Rooms().Membership().RoomID == "lobby" &&
			alice.Sessions().Len() == 1 && bob.Sessions().Len() == 1
	})

	// The catalog broadcast reached both presence trackers.
	waitFor(t, func() bool {
		room, ok := alice.Presence().Room("lobby")
		return ok && room.UserCount == 2
	})
}

func TestClientCloseWithdrawsEverything(t *testing.T) {
	hub := relay.NewLoopback()
	alice := newClient(t, hub, "alice")
	bob := newClient(t, hub, "bob")

	if err := alice.Announce(); err != nil {
		t.Fatal(err)
	}
	if err := bob.Announce(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return bob.Presence().Online("alice") })

	if err := alice.Rooms().Create("lobby", 0); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return alice.Rooms().Membership().RoomID == "lobby" })

	if err := alice.Close(); err != nil {
		t.Fatal(err)
	}
	// Closing left the room and withdrew from the roster.
	waitFor(t, func() bool { return !bob.Presence().Online("alice") })
	if alice.Sessions().Len() != 0 {
		t.Fatal("close left sessions behind")
	}
	if err := alice.Close(); err != nil {
		t.Fatal(err)
	}
}
