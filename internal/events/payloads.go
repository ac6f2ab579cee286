package events

import (
	"sort"

	"github.com/mcdev12/voteroom/internal/room"
)

// Event payload types shared between the room core and the gateway.
// Timestamps are Unix milliseconds on the wire.

// CreateRoomRequest is the payload of a create-room request
type CreateRoomRequest struct {
	Username string   `json:"username"`
	Question string   `json:"question,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// JoinRoomRequest is the payload of a join-room request
type JoinRoomRequest struct {
	Username string `json:"username"`
	RoomCode string `json:"roomCode"`
}

// SubmitVoteRequest is the payload of a submit-vote request
type SubmitVoteRequest struct {
	RoomCode string `json:"roomCode"`
	Choice   string `json:"choice"`
}

// RoomState is the full room snapshot sent in room-created and room-joined
type RoomState struct {
	Code      string                      `json:"code"`
	Creator   string                      `json:"creator"`
	Question  string                      `json:"question"`
	Options   []string                    `json:"options"`
	Votes     map[string]int              `json:"votes"`
	Users     map[string]room.Participant `json:"users"`
	Active    bool                        `json:"active"`
	CreatedAt int64                       `json:"createdAt"`
	EndTime   int64                       `json:"endTime"`
}

// RoomAckPayload is the payload for room-created and room-joined, sent only
// to the requesting connection
type RoomAckPayload struct {
	RoomCode string    `json:"roomCode"`
	Room     RoomState `json:"room"`
}

// UserJoinedPayload is the payload for a user-joined broadcast
type UserJoinedPayload struct {
	Username string             `json:"username"`
	UserID   string             `json:"userId"`
	Users    []room.Participant `json:"users"`
	Votes    map[string]int     `json:"votes"`
}

// VoteUpdatePayload is the payload for a vote-update broadcast
type VoteUpdatePayload struct {
	Votes map[string]int     `json:"votes"`
	Users []room.Participant `json:"users"`
}

// CountdownUpdatePayload is the payload for the once-per-second countdown broadcast
type CountdownUpdatePayload struct {
	TimeRemaining int   `json:"timeRemaining"`
	EndTime       int64 `json:"endTime"`
}

// VotingEndedPayload is the payload for the final voting-ended broadcast
type VotingEndedPayload struct {
	Votes map[string]int     `json:"votes"`
	Users []room.Participant `json:"users"`
}

// UserLeftPayload is the payload for a user-left broadcast
type UserLeftPayload struct {
	UserID string             `json:"userId"`
	Users  []room.Participant `json:"users"`
}

// ErrorPayload is sent only to the connection whose request failed
type ErrorPayload struct {
	Message string `json:"message"`
}

// RoomStateOf converts a room snapshot into its wire form
func RoomStateOf(r *room.Room) RoomState {
	users := make(map[string]room.Participant, len(r.Participants))
	for id, p := range r.Participants {
		users[id] = *p
	}
	return RoomState{
		Code:      r.Code,
		Creator:   r.Creator,
		Question:  r.Question,
		Options:   r.Options,
		Votes:     r.Votes,
		Users:     users,
		Active:    r.Active,
		CreatedAt: r.CreatedAt.UnixMilli(),
		EndTime:   r.EndTime.UnixMilli(),
	}
}

// UsersOf flattens a room's participant map into a list, ordered by id so
// repeated broadcasts are stable
func UsersOf(r *room.Room) []room.Participant {
	users := make([]room.Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		users = append(users, *p)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}
