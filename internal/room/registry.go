package room

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6

	// maxCodeAttempts bounds the collision retry loop in CreateRoom.
	// With 36^6 codes this only trips if the registry is absurdly full.
	maxCodeAttempts = 50
)

// DefaultVotingWindow is the fixed window during which a room accepts votes
const DefaultVotingWindow = 60 * time.Second

// Registry owns the mapping from room code to live room state. All room
// mutations happen under one mutex so the vote check sequence and empty-room
// deletion are atomic with respect to each other and to countdown expiry.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	clock  clockwork.Clock
	window time.Duration

	// newCode is swappable in tests to force collisions
	newCode func() string
}

// NewRegistry creates an empty room registry
func NewRegistry(clock clockwork.Clock, window time.Duration) *Registry {
	if window <= 0 {
		window = DefaultVotingWindow
	}
	return &Registry{
		rooms:   make(map[string]*Room),
		clock:   clock,
		window:  window,
		newCode: randomCode,
	}
}

// Window returns the voting window rooms are created with
func (reg *Registry) Window() time.Duration {
	return reg.window
}

func randomCode() string {
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(b)
}

// CreateRoom allocates an unused code, creates the room and registers the
// creator as its first participant. The returned room is a snapshot.
func (reg *Registry) CreateRoom(connID, username, question string, options []string) (*Room, error) {
	if question == "" {
		question = DefaultQuestion
	}
	if len(options) == 0 {
		options = DefaultOptions
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	code := ""
	for i := 0; i < maxCodeAttempts; i++ {
		candidate := reg.newCode()
		if _, taken := reg.rooms[candidate]; !taken {
			code = candidate
			break
		}
	}
	if code == "" {
		return nil, fmt.Errorf("allocating room code: %w", ErrCodeSpaceExhausted)
	}

	now := reg.clock.Now()
	r := &Room{
		Code:      code,
		Creator:   username,
		Question:  question,
		Options:   append([]string(nil), options...),
		Votes:     make(map[string]int, len(options)),
		Active:    true,
		CreatedAt: now,
		EndTime:   now.Add(reg.window),
		Participants: map[string]*Participant{
			connID: {ID: connID, Username: username},
		},
		Version: 1,
	}
	for _, opt := range r.Options {
		r.Votes[opt] = 0
	}
	reg.rooms[code] = r

	log.Info().
		Str("room_code", code).
		Str("username", username).
		Str("conn_id", connID).
		Msg("room created")

	return r.clone(), nil
}

// JoinRoom adds a participant to a live room. Codes match case-insensitively.
// The returned room is a snapshot.
func (reg *Registry) JoinRoom(code, connID, username string) (*Room, error) {
	code = strings.ToUpper(code)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[code]
	if !ok {
		return nil, fmt.Errorf("join %s: %w", code, ErrRoomNotFound)
	}
	r.Participants[connID] = &Participant{ID: connID, Username: username}
	r.Version++

	log.Info().
		Str("room_code", code).
		Str("username", username).
		Str("conn_id", connID).
		Int("participants", len(r.Participants)).
		Msg("participant joined")

	return r.clone(), nil
}

// SubmitVote applies one vote against a single consistent view of the room.
// All checks run under the registry lock so a concurrent vote or a countdown
// expiry can never invalidate a check after it passed.
func (reg *Registry) SubmitVote(code, connID, choice string) (*Room, error) {
	code = strings.ToUpper(code)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[code]
	if !ok {
		return nil, fmt.Errorf("vote in %s: %w", code, ErrRoomNotFound)
	}
	if !r.Active {
		return nil, fmt.Errorf("vote in %s: %w", code, ErrVotingEnded)
	}
	p, ok := r.Participants[connID]
	if !ok {
		return nil, fmt.Errorf("vote in %s: %w", code, ErrParticipantNotFound)
	}
	if p.Voted {
		return nil, fmt.Errorf("vote in %s: %w", code, ErrAlreadyVoted)
	}
	if !r.HasOption(choice) {
		return nil, fmt.Errorf("vote in %s for %q: %w", code, choice, ErrUnknownOption)
	}

	p.Voted = true
	p.Choice = choice
	r.Votes[choice]++
	r.Version++

	log.Info().
		Str("room_code", code).
		Str("username", p.Username).
		Str("choice", choice).
		Int("total_votes", r.VoteCount()).
		Msg("vote recorded")

	return r.clone(), nil
}

// RemoveParticipant drops a connection's participant from the room. It
// reports whether the participant existed and whether the room was deleted
// because it became empty. The returned room reflects the state after
// removal; it is nil when the room was deleted or never existed.
func (reg *Registry) RemoveParticipant(code, connID string) (removed bool, after *Room, deleted bool) {
	code = strings.ToUpper(code)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[code]
	if !ok {
		return false, nil, false
	}
	if _, ok := r.Participants[connID]; !ok {
		return false, nil, false
	}
	delete(r.Participants, connID)
	r.Version++

	if len(r.Participants) == 0 {
		delete(reg.rooms, code)
		log.Info().Str("room_code", code).Msg("room deleted (empty)")
		return true, nil, true
	}
	return true, r.clone(), false
}

// CloseRoom flips a room to inactive. It reports false when the room no
// longer exists, which makes a stale countdown expiry a no-op. When emit is
// non-nil it runs against the closed snapshot while the lock is still held,
// so anything it enqueues is ordered with every other mutation of the room.
func (reg *Registry) CloseRoom(code string, emit func(*Room)) (*Room, bool) {
	code = strings.ToUpper(code)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[code]
	if !ok {
		return nil, false
	}
	r.Active = false
	r.Version++

	log.Info().
		Str("room_code", code).
		Int("total_votes", r.VoteCount()).
		Msg("voting closed")

	snap := r.clone()
	if emit != nil {
		emit(snap)
	}
	return snap, true
}

// View runs fn against a snapshot of a live room while the registry lock is
// held, and reports whether the room existed. fn must not call back into the
// registry. Emitting a broadcast from fn guarantees it is serialized before
// any later mutation, including deletion of the room.
func (reg *Registry) View(code string, fn func(*Room)) bool {
	code = strings.ToUpper(code)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[code]
	if !ok {
		return false
	}
	fn(r.clone())
	return true
}

// Get returns a snapshot of a live room
func (reg *Registry) Get(code string) (*Room, bool) {
	code = strings.ToUpper(code)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[code]
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

// RoomsOf returns the codes of every room the connection currently belongs
// to. The default flows keep a connection in one room, but nothing here
// relies on that.
func (reg *Registry) RoomsOf(connID string) []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var codes []string
	for code, r := range reg.rooms {
		if _, ok := r.Participants[connID]; ok {
			codes = append(codes, code)
		}
	}
	return codes
}

// Len returns the number of live rooms
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}
