package events

import (
	"encoding/json"
)

// Type names a wire event. The names are the protocol; clients switch on
// them verbatim.
type Type string

// Inbound request events
const (
	TypeCreateRoom Type = "create-room"
	TypeJoinRoom   Type = "join-room"
	TypeSubmitVote Type = "submit-vote"
)

// Outbound events
const (
	TypeRoomCreated     Type = "room-created"
	TypeRoomJoined      Type = "room-joined"
	TypeUserJoined      Type = "user-joined"
	TypeVoteUpdate      Type = "vote-update"
	TypeCountdownUpdate Type = "countdown-update"
	TypeVotingEnded     Type = "voting-ended"
	TypeUserLeft        Type = "user-left"
	TypeError           Type = "error"
)

// Envelope is the wire framing for every event in both directions
type Envelope struct {
	Event Type            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Event pairs a type with its payload before marshalling
type Event struct {
	Type Type
	Data any
}

// New builds an outbound event
func New(t Type, data any) Event {
	return Event{Type: t, Data: data}
}

// MarshalJSON writes the envelope form {"event": ..., "data": ...}
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Event Type `json:"event"`
		Data  any  `json:"data"`
	}{Event: e.Type, Data: e.Data})
}
