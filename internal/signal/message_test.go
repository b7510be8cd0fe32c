package signal

import (
	"strings"
	"testing"
)

func TestParseCallRequest(t *testing.T) {
	t.Run("json body", func(t *testing.T) {
		req, err := ParseCallRequest([]byte(`{"callTo":"bob","callFrom":"alice","type":"call_request"}`))
		if err != nil {
			t.Fatal(err)
		}
		if req.CallFrom != "alice" || req.CallTo != "bob" {
			t.Fatalf("unexpected request: %+v", req)
		}
	})

	t.Run("legacy raw string body", func(t *testing.T) {
		// Old browser clients send the caller id as a bare string.
		req, err := ParseCallRequest([]byte("  alice  "))
		if err != nil {
			t.Fatal(err)
		}
		if req.CallFrom != "alice" {
			t.Fatalf("expected callFrom=alice, got %q", req.CallFrom)
		}
		if req.Type != CallTypeRequest {
			t.Fatalf("expected type %q, got %q", CallTypeRequest, req.Type)
		}
	})

	t.Run("empty body rejected", func(t *testing.T) {
		if _, err := ParseCallRequest([]byte("   ")); err == nil {
			t.Fatal("expected error for empty body")
		}
	})

	t.Run("wrong type rejected", func(t *testing.T) {
		_, err := ParseCallRequest([]byte(`{"callFrom":"alice","type":"call_accepted"}`))
		if err == nil {
			t.Fatal("expected error for wrong type")
		}
	})

	t.Run("missing callFrom rejected", func(t *testing.T) {
		_, err := ParseCallRequest([]byte(`{"callTo":"bob","type":"call_request"}`))
		if err == nil {
			t.Fatal("expected error for missing callFrom")
		}
	})
}

func TestParseCallResponse(t *testing.T) {
	resp, err := ParseCallResponse([]byte(`{"callTo":"alice","callFrom":"bob","type":"call_accepted"}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Type != CallTypeAccepted || resp.CallFrom != "bob" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if _, err := ParseCallResponse([]byte(`{"callFrom":"bob","type":"call_request"}`)); err == nil {
		t.Fatal("expected error for non-response type")
	}
	if _, err := ParseCallResponse([]byte(`{"type":"call_rejected"}`)); err == nil {
		t.Fatal("expected error for missing callFrom")
	}
}

func TestParseOfferAndAnswer(t *testing.T) {
	o, err := ParseOffer([]byte(`{"toUser":"bob","fromUser":"alice","offer":{"type":"offer","sdp":"v=0"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if o.FromUser != "alice" || o.Offer.SDP != "v=0" {
		t.Fatalf("unexpected offer: %+v", o)
	}
	if o.RoomID != "" {
		t.Fatalf("pairwise offer should have no roomId, got %q", o.RoomID)
	}

	ro, err := ParseOffer([]byte(`{"toUser":"bob","fromUser":"alice","roomId":"lobby","offer":{"type":"offer","sdp":"v=0"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if ro.RoomID != "lobby" {
		t.Fatalf("expected roomId=lobby, got %q", ro.RoomID)
	}

	if _, err := ParseOffer([]byte(`{"fromUser":"alice","offer":{"type":"offer"}}`)); err == nil {
		t.Fatal("expected error for offer without sdp")
	}
	if _, err := ParseOffer([]byte(`{"offer":{"type":"offer","sdp":"v=0"}}`)); err == nil {
		t.Fatal("expected error for offer without fromUser")
	}

	a, err := ParseAnswer([]byte(`{"toUser":"alice","fromUser":"bob","answer":{"type":"answer","sdp":"v=0"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if a.FromUser != "bob" || a.Answer.SDP != "v=0" {
		t.Fatalf("unexpected answer: %+v", a)
	}
	if _, err := ParseAnswer([]byte(`{"fromUser":"bob","answer":{}}`)); err == nil {
		t.Fatal("expected error for answer without sdp")
	}
}

func TestParseCandidate(t *testing.T) {
	c, err := ParseCandidate([]byte(`{"toUser":"bob","fromUser":"alice","candidate":{"type":"candidate","label":1,"id":"candidate:1 1 udp","sdpMid":"0"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if c.Candidate.Label != 1 || c.Candidate.ID != "candidate:1 1 udp" {
		t.Fatalf("unexpected candidate: %+v", c.Candidate)
	}

	t.Run("misspelled lable key tolerated", func(t *testing.T) {
		c, err := ParseCandidate([]byte(`{"fromUser":"alice","candidate":{"type":"candidate","lable":2,"id":"candidate:2"}}`))
		if err != nil {
			t.Fatal(err)
		}
		if c.Candidate.Label != 2 {
			t.Fatalf("expected label=2 from lable key, got %d", c.Candidate.Label)
		}
	})

	t.Run("missing candidate string rejected", func(t *testing.T) {
		_, err := ParseCandidate([]byte(`{"fromUser":"alice","candidate":{"type":"candidate","label":0}}`))
		if err == nil {
			t.Fatal("expected error for candidate without id")
		}
	})
}

func TestCandidateICERoundTrip(t *testing.T) {
	in := CandidateInit{Type: "candidate", Label: 1, ID: "candidate:3 1 udp 2122260223", SDPMid: "0"}
	out := CandidateFromICE(in.ToICE())
	if out.Label != in.Label || out.ID != in.ID || out.SDPMid != in.SDPMid {
		t.Fatalf("round trip changed candidate: in=%+v out=%+v", in, out)
	}
	if out.Type != "candidate" {
		t.Fatalf("expected type=candidate, got %q", out.Type)
	}
}

func TestParseRoomMessages(t *testing.T) {
	rc, err := ParseRoomCreated([]byte(`{"success":true,"roomId":"lobby"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !rc.Success || rc.RoomID != "lobby" {
		t.Fatalf("unexpected roomCreated: %+v", rc)
	}
	if _, err := ParseRoomCreated([]byte(`{"success":false}`)); err == nil {
		t.Fatal("expected error for roomCreated without roomId")
	}

	ru, err := ParseRoomUpdate([]byte(`{"type":"userJoined","roomId":"lobby","userId":"bob","roomUsers":["alice","bob"]}`))
	if err != nil {
		t.Fatal(err)
	}
	if ru.Type != RoomUpdateJoined || len(ru.RoomUsers) != 2 {
		t.Fatalf("unexpected roomUpdate: %+v", ru)
	}
	if _, err := ParseRoomUpdate([]byte(`{"type":"vanished","roomId":"lobby","userId":"bob"}`)); err == nil {
		t.Fatal("expected error for unknown update type")
	}
	if _, err := ParseRoomUpdate([]byte(`{"type":"userLeft","userId":"bob"}`)); err == nil {
		t.Fatal("expected error for update without roomId")
	}
}

func TestParseBroadcasts(t *testing.T) {
	users, err := ParseUsers([]byte(`["alice","bob"]`))
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 || users[0] != "alice" {
		t.Fatalf("unexpected users: %v", users)
	}
	if _, err := ParseUsers([]byte(`{"not":"a list"}`)); err == nil {
		t.Fatal("expected error for non-array users body")
	}

	rooms, err := ParseRooms([]byte(`[{"roomId":"lobby","userCount":2,"maxParticipants":8}]`))
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 || rooms[0].RoomID != "lobby" || rooms[0].UserCount != 2 {
		t.Fatalf("unexpected rooms: %+v", rooms)
	}
}

func TestUserTopic(t *testing.T) {
	got := UserTopic("alice", TopicOffer)
	if got != "/user/alice/topic/offer" {
		t.Fatalf("unexpected topic %q", got)
	}
	if !strings.HasPrefix(UserTopic("bob", TopicGroupCandidate), "/user/bob/topic/") {
		t.Fatal("per-user topics must be under /user/{id}/topic/")
	}
}
