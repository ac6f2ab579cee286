package room

import (
	"time"
)

// DefaultQuestion is used when a create request carries no question.
const DefaultQuestion = "Cats vs Dogs"

// DefaultOptions is used when a create request carries no options.
var DefaultOptions = []string{"Option A", "Option B"}

// Participant represents one connection's membership and vote status in a room
type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Voted    bool   `json:"voted"`
	Choice   string `json:"choice,omitempty"`
}

// Room represents a live voting session
type Room struct {
	Code         string
	Creator      string
	Question     string
	Options      []string
	Votes        map[string]int
	Participants map[string]*Participant
	Active       bool
	CreatedAt    time.Time
	EndTime      time.Time

	// Version increments on every mutation under the registry lock.
	// Broadcasts carry it so the dispatcher can discard a snapshot that
	// was overtaken before it reached the wire.
	Version uint64
}

// HasOption reports whether label is one of the room's fixed options
func (r *Room) HasOption(label string) bool {
	for _, opt := range r.Options {
		if opt == label {
			return true
		}
	}
	return false
}

// VoteCount returns the total number of votes cast so far
func (r *Room) VoteCount() int {
	total := 0
	for _, n := range r.Votes {
		total += n
	}
	return total
}

// clone returns a deep copy safe to hand outside the registry lock
func (r *Room) clone() *Room {
	cp := &Room{
		Code:         r.Code,
		Creator:      r.Creator,
		Question:     r.Question,
		Options:      append([]string(nil), r.Options...),
		Votes:        make(map[string]int, len(r.Votes)),
		Participants: make(map[string]*Participant, len(r.Participants)),
		Active:       r.Active,
		CreatedAt:    r.CreatedAt,
		EndTime:      r.EndTime,
		Version:      r.Version,
	}
	for opt, n := range r.Votes {
		cp.Votes[opt] = n
	}
	for id, p := range r.Participants {
		pc := *p
		cp.Participants[id] = &pc
	}
	return cp
}
