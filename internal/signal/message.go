// Package signal defines the relay message catalog: one struct per message
// kind with a mandatory discriminant where the wire has one, and one
// validating parser per kind. Unknown or malformed shapes are rejected by the
// parser, never field-probed downstream.
package signal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// CallRequest invites a remote user to a pairwise call.
type CallRequest struct {
	CallTo   string `json:"callTo"`
	CallFrom string `json:"callFrom"`
	Type     string `json:"type"` // CallTypeRequest
}

// CallResponse accepts or rejects a pairwise call.
type CallResponse struct {
	CallTo   string `json:"callTo"`
	CallFrom string `json:"callFrom"`
	Type     string `json:"type"` // CallTypeAccepted | CallTypeRejected
}

// Offer carries an SDP offer. RoomID is set only on the room-scoped path
// (/app/groupOffer); empty means pairwise.
type Offer struct {
	ToUser   string                    `json:"toUser"`
	FromUser string                    `json:"fromUser"`
	Offer    webrtc.SessionDescription `json:"offer"`
	RoomID   string                    `json:"roomId,omitempty"`
}

// Answer carries an SDP answer back to the offerer.
type Answer struct {
	ToUser   string                    `json:"toUser"`
	FromUser string                    `json:"fromUser"`
	Answer   webrtc.SessionDescription `json:"answer"`
	RoomID   string                    `json:"roomId,omitempty"`
}

// CandidateInit is the relay encoding of one trickle ICE candidate.
// Label is the media line index and ID the candidate string — the field
// names predate this client and are fixed by the relay.
type CandidateInit struct {
	Type   string `json:"type"` // always "candidate"
	Label  uint16 `json:"label"`
	ID     string `json:"id"`
	SDPMid string `json:"sdpMid,omitempty"`
}

// UnmarshalJSON tolerates the misspelled "lable" key that old browser
// clients put on the pairwise candidate path.
func (c *CandidateInit) UnmarshalJSON(b []byte) error {
	type alias CandidateInit
	aux := struct {
		*alias
		Lable *uint16 `json:"lable"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.Lable != nil {
		c.Label = *aux.Lable
	}
	return nil
}

// Candidate carries one trickle ICE candidate between peers.
type Candidate struct {
	ToUser    string        `json:"toUser"`
	FromUser  string        `json:"fromUser"`
	Candidate CandidateInit `json:"candidate"`
	RoomID    string        `json:"roomId,omitempty"`
}

// CreateRoom asks the relay to create a named room.
type CreateRoom struct {
	RoomID          string `json:"roomId"`
	Creator         string `json:"creator"`
	MaxParticipants int    `json:"maxParticipants,omitempty"`
}

// JoinRoom asks the relay to add a user to an existing room.
type JoinRoom struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// RoomCreated is the relay's acknowledgment of a CreateRoom request.
type RoomCreated struct {
	Success bool   `json:"success"`
	RoomID  string `json:"roomId"`
	Reason  string `json:"reason,omitempty"`
}

// RoomUpdate notifies room members of a membership change.
type RoomUpdate struct {
	Type      string   `json:"type"` // RoomUpdateJoined | RoomUpdateLeft
	RoomID    string   `json:"roomId"`
	UserID    string   `json:"userId"`
	RoomUsers []string `json:"roomUsers"`
}

// RoomInfo is one entry of the broadcast room catalog. Discovery only,
// never authoritative.
type RoomInfo struct {
	RoomID          string `json:"roomId"`
	UserCount       int    `json:"userCount"`
	MaxParticipants int    `json:"maxParticipants,omitempty"`
}

// ── Parsers ──────────────────────────────────────────────────────────────────

// ParseCallRequest decodes a /topic/call body. A body that is not valid JSON
// is treated as the caller's id — the relay forwards old-format requests
// verbatim as a bare string.
func ParseCallRequest(body []byte) (CallRequest, error) {
	var req CallRequest
	if err := json.Unmarshal(body, &req); err != nil {
		caller := strings.TrimSpace(string(body))
		if caller == "" {
			return CallRequest{}, fmt.Errorf("call request: empty body")
		}
		return CallRequest{CallFrom: caller, Type: CallTypeRequest}, nil
	}
	if req.Type != CallTypeRequest {
		return CallRequest{}, fmt.Errorf("call request: unexpected type %q", req.Type)
	}
	if req.CallFrom == "" {
		return CallRequest{}, fmt.Errorf("call request: missing callFrom")
	}
	return req, nil
}

// ParseCallResponse decodes a /topic/callResponse body.
func ParseCallResponse(body []byte) (CallResponse, error) {
	var resp CallResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return CallResponse{}, fmt.Errorf("call response: %w", err)
	}
	if resp.Type != CallTypeAccepted && resp.Type != CallTypeRejected {
		return CallResponse{}, fmt.Errorf("call response: unknown type %q", resp.Type)
	}
	if resp.CallFrom == "" {
		return CallResponse{}, fmt.Errorf("call response: missing callFrom")
	}
	return resp, nil
}

// ParseOffer decodes a /topic/offer or /topic/groupOffer body.
func ParseOffer(body []byte) (Offer, error) {
	var o Offer
	if err := json.Unmarshal(body, &o); err != nil {
		return Offer{}, fmt.Errorf("offer: %w", err)
	}
	if o.FromUser == "" {
		return Offer{}, fmt.Errorf("offer: missing fromUser")
	}
	if o.Offer.SDP == "" {
		return Offer{}, fmt.Errorf("offer: missing sdp")
	}
	return o, nil
}

// ParseAnswer decodes a /topic/answer or /topic/groupAnswer body.
func ParseAnswer(body []byte) (Answer, error) {
	var a Answer
	if err := json.Unmarshal(body, &a); err != nil {
		return Answer{}, fmt.Errorf("answer: %w", err)
	}
	if a.FromUser == "" {
		return Answer{}, fmt.Errorf("answer: missing fromUser")
	}
	if a.Answer.SDP == "" {
		return Answer{}, fmt.Errorf("answer: missing sdp")
	}
	return a, nil
}

// ParseCandidate decodes a /topic/candidate or /topic/groupCandidate body.
// The candidate string itself (ID) is mandatory; a candidate without it
// cannot be applied and is rejected here.
func ParseCandidate(body []byte) (Candidate, error) {
	var c Candidate
	if err := json.Unmarshal(body, &c); err != nil {
		return Candidate{}, fmt.Errorf("candidate: %w", err)
	}
	if c.FromUser == "" {
		return Candidate{}, fmt.Errorf("candidate: missing fromUser")
	}
	if c.Candidate.ID == "" {
		return Candidate{}, fmt.Errorf("candidate: missing candidate string")
	}
	return c, nil
}

// ParseRoomCreated decodes a /topic/roomCreated body.
func ParseRoomCreated(body []byte) (RoomCreated, error) {
	var rc RoomCreated
	if err := json.Unmarshal(body, &rc); err != nil {
		return RoomCreated{}, fmt.Errorf("roomCreated: %w", err)
	}
	if rc.RoomID == "" {
		return RoomCreated{}, fmt.Errorf("roomCreated: missing roomId")
	}
	return rc, nil
}

// ParseRoomUpdate decodes a /topic/roomUpdate body.
func ParseRoomUpdate(body []byte) (RoomUpdate, error) {
	var ru RoomUpdate
	if err := json.Unmarshal(body, &ru); err != nil {
		return RoomUpdate{}, fmt.Errorf("roomUpdate: %w", err)
	}
	if ru.Type != RoomUpdateJoined && ru.Type != RoomUpdateLeft {
		return RoomUpdate{}, fmt.Errorf("roomUpdate: unknown type %q", ru.Type)
	}
	if ru.RoomID == "" || ru.UserID == "" {
		return RoomUpdate{}, fmt.Errorf("roomUpdate: missing roomId or userId")
	}
	return ru, nil
}

// ParseUsers decodes the /topic/users roster broadcast.
func ParseUsers(body []byte) ([]string, error) {
	var users []string
	if err := json.Unmarshal(body, &users); err != nil {
		return nil, fmt.Errorf("users: %w", err)
	}
	return users, nil
}

// ParseRooms decodes the /topic/rooms catalog broadcast.
func ParseRooms(body []byte) ([]RoomInfo, error) {
	var rooms []RoomInfo
	if err := json.Unmarshal(body, &rooms); err != nil {
		return nil, fmt.Errorf("rooms: %w", err)
	}
	return rooms, nil
}

// Marshal encodes any outbound message body. Thin wrapper so send sites
// don't import encoding/json just for this.
func Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("signal: marshal: %w", err)
	}
	return b, nil
}
