package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mcdev12/voteroom/internal/room"
)

func sampleRoom() *room.Room {
	created := time.UnixMilli(1700000000000)
	return &room.Room{
		Code:      "ABC123",
		Creator:   "alice",
		Question:  "Cats vs Dogs",
		Options:   []string{"Cats", "Dogs"},
		Votes:     map[string]int{"Cats": 1, "Dogs": 0},
		Active:    true,
		CreatedAt: created,
		EndTime:   created.Add(60 * time.Second),
		Participants: map[string]*room.Participant{
			"conn-b": {ID: "conn-b", Username: "bob"},
			"conn-a": {ID: "conn-a", Username: "alice", Voted: true, Choice: "Cats"},
		},
	}
}

func TestRoomStateOf(t *testing.T) {
	state := RoomStateOf(sampleRoom())

	if state.Code != "ABC123" || !state.Active {
		t.Errorf("state = %+v", state)
	}
	if state.CreatedAt != 1700000000000 {
		t.Errorf("createdAt = %d, want unix millis", state.CreatedAt)
	}
	if state.EndTime-state.CreatedAt != 60000 {
		t.Errorf("endTime-createdAt = %d, want 60000", state.EndTime-state.CreatedAt)
	}
	if len(state.Users) != 2 {
		t.Errorf("users = %v, want both participants", state.Users)
	}
	if state.Users["conn-a"].Choice != "Cats" {
		t.Errorf("user conn-a = %+v", state.Users["conn-a"])
	}
}

func TestUsersOfIsStable(t *testing.T) {
	r := sampleRoom()

	want := UsersOf(r)
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(want, UsersOf(r)); diff != "" {
			t.Fatalf("ordering changed between calls (-want +got):\n%s", diff)
		}
	}
	if want[0].ID != "conn-a" || want[1].ID != "conn-b" {
		t.Errorf("users = %v, want ordered by id", want)
	}
}

func TestEventEnvelopeRoundTrip(t *testing.T) {
	ev := New(TypeCountdownUpdate, CountdownUpdatePayload{TimeRemaining: 42, EndTime: 1700000060000})

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Event != TypeCountdownUpdate {
		t.Errorf("event = %q, want countdown-update", env.Event)
	}
	var payload CountdownUpdatePayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.TimeRemaining != 42 {
		t.Errorf("timeRemaining = %d, want 42", payload.TimeRemaining)
	}
}
