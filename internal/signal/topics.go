package signal

// ── Destination constants ─────────────────────────────────────────────────────
// Single source of truth for every relay destination used across the codebase.
// The /app/* destinations are sends to the relay; the /topic/* names are
// subscriptions, either broadcast or addressed to one user via UserTopic.
const (
	// Pairwise call signaling.
	DestCall         = "/app/call"
	DestCallResponse = "/app/callResponse"
	DestOffer        = "/app/offer"
	DestAnswer       = "/app/answer"
	DestCandidate    = "/app/candidate"

	// Room lifecycle and room-scoped signaling.
	DestCreateRoom     = "/app/createRoom"
	DestJoinRoom       = "/app/joinRoom"
	DestLeaveRoom      = "/app/leaveRoom"
	DestGroupOffer     = "/app/groupOffer"
	DestGroupAnswer    = "/app/groupAnswer"
	DestGroupCandidate = "/app/groupCandidate"

	// Presence and diagnostics — raw string payloads.
	DestAddUser     = "/app/addUser"
	DestRemoveUser  = "/app/removeUser"
	DestGetUserList = "/app/getUserList"
	DestTestServer  = "/app/testServer"
)

// Broadcast topics, delivered to every connected client.
const (
	TopicUsers      = "/topic/users"
	TopicRooms      = "/topic/rooms"
	TopicTestServer = "/topic/testServer"
)

// Per-user topic suffixes. The relay addresses these to a single client;
// subscribe via UserTopic(selfID, suffix).
const (
	TopicCall           = "call"
	TopicCallResponse   = "callResponse"
	TopicOffer          = "offer"
	TopicAnswer         = "answer"
	TopicCandidate      = "candidate"
	TopicRoomCreated    = "roomCreated"
	TopicRoomUpdate     = "roomUpdate"
	TopicGroupOffer     = "groupOffer"
	TopicGroupAnswer    = "groupAnswer"
	TopicGroupCandidate = "groupCandidate"
)

// UserTopic returns the subscription destination for a per-user topic suffix,
// e.g. UserTopic("alice", TopicOffer) → "/user/alice/topic/offer".
func UserTopic(userID, suffix string) string {
	return "/user/" + userID + "/topic/" + suffix
}

// Value of the "type" field in call and callResponse bodies.
const (
	CallTypeRequest  = "call_request"
	CallTypeAccepted = "call_accepted"
	CallTypeRejected = "call_rejected"
)

// Value of the "type" field in roomUpdate bodies.
const (
	RoomUpdateJoined = "userJoined"
	RoomUpdateLeft   = "userLeft"
)
