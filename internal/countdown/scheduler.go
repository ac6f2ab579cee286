package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/voteroom/internal/events"
	"github.com/mcdev12/voteroom/internal/room"
)

// RoomState defines what the scheduler needs from the room registry. Both
// calls run the callback under the registry lock, which keeps the
// scheduler's broadcasts serialized with room mutations: once a room is
// deleted, no further tick or expiry event can be emitted for its code.
type RoomState interface {
	View(code string, fn func(*room.Room)) bool
	CloseRoom(code string, emit func(*room.Room)) (*room.Room, bool)
}

// Broadcaster defines what the scheduler needs from the dispatcher
type Broadcaster interface {
	BroadcastToRoom(code string, version uint64, ev events.Event)
}

// Scheduler runs one countdown goroutine per room, ticking at 1 Hz on a
// clockwork clock. In production use clockwork.NewRealClock(); tests drive
// it with a FakeClock.
type Scheduler struct {
	clock       clockwork.Clock
	rooms       RoomState
	broadcaster Broadcaster

	mu      sync.Mutex
	running map[string]chan struct{}
}

// NewScheduler creates a scheduler with no countdowns running
func NewScheduler(clock clockwork.Clock, rooms RoomState, broadcaster Broadcaster) *Scheduler {
	return &Scheduler{
		clock:       clock,
		rooms:       rooms,
		broadcaster: broadcaster,
		running:     make(map[string]chan struct{}),
	}
}

// Start begins a countdown of the given number of seconds for a room,
// replacing any countdown already running under that code.
func (s *Scheduler) Start(code string, seconds int) {
	stopCh := make(chan struct{})

	s.mu.Lock()
	if old, ok := s.running[code]; ok {
		close(old)
		log.Debug().Str("room_code", code).Msg("replaced running countdown")
	}
	s.running[code] = stopCh
	s.mu.Unlock()

	go s.run(code, seconds, stopCh)

	log.Debug().
		Str("room_code", code).
		Int("seconds", seconds).
		Msg("countdown started")
}

// Stop cancels a room's countdown. It is idempotent and safe to call for a
// room that never had one or whose countdown already expired.
func (s *Scheduler) Stop(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.running[code]; ok {
		close(ch)
		delete(s.running, code)
		log.Debug().Str("room_code", code).Msg("countdown stopped")
	}
}

// StopAll cancels every running countdown; used on shutdown
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for code, ch := range s.running {
		close(ch)
		delete(s.running, code)
	}
}

// Running reports whether a countdown is currently active for a code
func (s *Scheduler) Running(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[code]
	return ok
}

func (s *Scheduler) run(code string, remaining int, stopCh chan struct{}) {
	ticker := s.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return

		case <-ticker.Chan():
			remaining--

			alive := s.rooms.View(code, func(r *room.Room) {
				s.broadcaster.BroadcastToRoom(code, 0, events.New(events.TypeCountdownUpdate, events.CountdownUpdatePayload{
					TimeRemaining: remaining,
					EndTime:       r.EndTime.UnixMilli(),
				}))
			})
			if !alive {
				// Room deleted mid-countdown; nothing left to tick against.
				s.remove(code, stopCh)
				return
			}

			if remaining <= 0 {
				_, ok := s.rooms.CloseRoom(code, func(closed *room.Room) {
					s.broadcaster.BroadcastToRoom(code, closed.Version, events.New(events.TypeVotingEnded, events.VotingEndedPayload{
						Votes: closed.Votes,
						Users: events.UsersOf(closed),
					}))
				})
				if ok {
					log.Info().Str("room_code", code).Msg("countdown expired")
				}
				s.remove(code, stopCh)
				return
			}
		}
	}
}

// remove clears the running entry only if it still belongs to this
// countdown; a replacement started under the same code stays untouched.
func (s *Scheduler) remove(code string, stopCh chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.running[code]; ok && cur == stopCh {
		delete(s.running, code)
	}
}
