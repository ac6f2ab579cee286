package countdown

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/voteroom/internal/events"
	"github.com/mcdev12/voteroom/internal/room"
)

// recordingDispatcher captures broadcasts so tests can observe the
// scheduler without a transport
type recordingDispatcher struct {
	ch chan events.Event
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{ch: make(chan events.Event, 256)}
}

func (d *recordingDispatcher) BroadcastToRoom(code string, version uint64, ev events.Event) {
	d.ch <- ev
}

func (d *recordingDispatcher) next(t *testing.T) events.Event {
	t.Helper()
	select {
	case ev := <-d.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
		return events.Event{}
	}
}

// drainEmpty asserts no broadcast is pending
func (d *recordingDispatcher) drainEmpty(t *testing.T) {
	t.Helper()
	select {
	case ev := <-d.ch:
		t.Fatalf("unexpected broadcast %q", ev.Type)
	default:
	}
}

type fixture struct {
	clock *clockwork.FakeClock
	reg   *room.Registry
	disp  *recordingDispatcher
	sched *Scheduler
}

func newFixture(t *testing.T, windowSec int) *fixture {
	t.Helper()
	fc := clockwork.NewFakeClock()
	reg := room.NewRegistry(fc, time.Duration(windowSec)*time.Second)
	disp := newRecordingDispatcher()
	return &fixture{
		clock: fc,
		reg:   reg,
		disp:  disp,
		sched: NewScheduler(fc, reg, disp),
	}
}

// tick advances the fake clock by one second once the scheduler's ticker is
// waiting on it
func (f *fixture) tick(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("scheduler never armed its ticker: %v", err)
	}
	f.clock.Advance(time.Second)
}

// waitStopped polls until the countdown goroutine has unregistered itself
func (f *fixture) waitStopped(t *testing.T, code string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.sched.Running(code) {
		if time.Now().After(deadline) {
			t.Fatalf("countdown for %s still running", code)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCountdownTicksThenEnds(t *testing.T) {
	f := newFixture(t, 3)

	r, err := f.reg.CreateRoom("conn-1", "alice", "Cats vs Dogs", []string{"Cats", "Dogs"})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	f.sched.Start(r.Code, 3)

	for want := 2; want >= 0; want-- {
		f.tick(t)
		ev := f.disp.next(t)
		if ev.Type != events.TypeCountdownUpdate {
			t.Fatalf("event = %q, want countdown-update", ev.Type)
		}
		payload := ev.Data.(events.CountdownUpdatePayload)
		if payload.TimeRemaining != want {
			t.Errorf("timeRemaining = %d, want %d", payload.TimeRemaining, want)
		}
		if payload.EndTime != r.EndTime.UnixMilli() {
			t.Errorf("endTime = %d, want %d", payload.EndTime, r.EndTime.UnixMilli())
		}
	}

	// Expiry: exactly one voting-ended, strictly after the last update
	ev := f.disp.next(t)
	if ev.Type != events.TypeVotingEnded {
		t.Fatalf("event = %q, want voting-ended", ev.Type)
	}
	payload := ev.Data.(events.VotingEndedPayload)
	if payload.Votes["Cats"] != 0 || payload.Votes["Dogs"] != 0 {
		t.Errorf("final tally = %v, want all zeroes", payload.Votes)
	}
	if len(payload.Users) != 1 {
		t.Errorf("users = %v, want the lone creator", payload.Users)
	}

	after, ok := f.reg.Get(r.Code)
	if !ok {
		t.Fatal("room disappeared on expiry")
	}
	if after.Active {
		t.Error("room still active after countdown expired")
	}

	// The scheduler is done with this room: no further events however far
	// the clock advances
	f.waitStopped(t, r.Code)
	f.clock.Advance(10 * time.Second)
	f.disp.drainEmpty(t)
}

func TestCountdownStopsWhenRoomDeleted(t *testing.T) {
	f := newFixture(t, 60)

	r, _ := f.reg.CreateRoom("conn-1", "alice", "", nil)
	f.sched.Start(r.Code, 60)

	f.tick(t)
	if ev := f.disp.next(t); ev.Type != events.TypeCountdownUpdate {
		t.Fatalf("event = %q, want countdown-update", ev.Type)
	}

	// Last participant leaves; the room is reaped and the gateway cancels
	// the countdown
	_, _, deleted := f.reg.RemoveParticipant(r.Code, "conn-1")
	if !deleted {
		t.Fatal("room not deleted when last participant left")
	}
	f.sched.Stop(r.Code)
	f.waitStopped(t, r.Code)

	f.clock.Advance(10 * time.Second)
	f.disp.drainEmpty(t)
}

func TestCountdownSelfStopsOnVanishedRoom(t *testing.T) {
	f := newFixture(t, 60)

	r, _ := f.reg.CreateRoom("conn-1", "alice", "", nil)
	f.sched.Start(r.Code, 60)

	// Room vanishes without Stop being called; the next tick notices and
	// the countdown winds itself down without broadcasting
	f.reg.RemoveParticipant(r.Code, "conn-1")
	f.tick(t)
	f.waitStopped(t, r.Code)
	f.disp.drainEmpty(t)
}

func TestExpiryAgainstDeletedRoomEmitsNothing(t *testing.T) {
	f := newFixture(t, 1)

	r, _ := f.reg.CreateRoom("conn-1", "alice", "", nil)
	f.sched.Start(r.Code, 1)

	f.reg.RemoveParticipant(r.Code, "conn-1")
	f.tick(t)
	f.waitStopped(t, r.Code)

	// Neither the countdown update nor voting-ended may fire for a dead room
	f.disp.drainEmpty(t)
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t, 60)

	r, _ := f.reg.CreateRoom("conn-1", "alice", "", nil)
	f.sched.Start(r.Code, 60)

	f.sched.Stop(r.Code)
	f.sched.Stop(r.Code)
	f.sched.Stop("NEVER1")
	f.waitStopped(t, r.Code)
}

func TestStopAll(t *testing.T) {
	f := newFixture(t, 60)

	r1, _ := f.reg.CreateRoom("conn-1", "alice", "", nil)
	r2, _ := f.reg.CreateRoom("conn-2", "bob", "", nil)
	f.sched.Start(r1.Code, 60)
	f.sched.Start(r2.Code, 60)

	f.sched.StopAll()
	f.waitStopped(t, r1.Code)
	f.waitStopped(t, r2.Code)
}

func TestVoteThenExpiryKeepsFinalTally(t *testing.T) {
	f := newFixture(t, 2)

	r, _ := f.reg.CreateRoom("conn-1", "alice", "Cats vs Dogs", []string{"Cats", "Dogs"})
	f.reg.JoinRoom(r.Code, "conn-2", "bob")
	f.sched.Start(r.Code, 2)

	if _, err := f.reg.SubmitVote(r.Code, "conn-1", "Cats"); err != nil {
		t.Fatalf("vote: %v", err)
	}

	f.tick(t)
	f.disp.next(t) // countdown-update 1
	f.tick(t)
	f.disp.next(t) // countdown-update 0

	ev := f.disp.next(t)
	if ev.Type != events.TypeVotingEnded {
		t.Fatalf("event = %q, want voting-ended", ev.Type)
	}
	payload := ev.Data.(events.VotingEndedPayload)
	if payload.Votes["Cats"] != 1 || payload.Votes["Dogs"] != 0 {
		t.Errorf("final tally = %v, want Cats:1 Dogs:0", payload.Votes)
	}

	// A vote after expiry is rejected and never changes the tally
	if _, err := f.reg.SubmitVote(r.Code, "conn-2", "Dogs"); err == nil {
		t.Fatal("vote accepted after voting ended")
	}
	after, _ := f.reg.Get(r.Code)
	if after.Votes["Dogs"] != 0 {
		t.Errorf("tally changed after expiry: %v", after.Votes)
	}
}
