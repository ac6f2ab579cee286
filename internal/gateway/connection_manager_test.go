package gateway

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/mcdev12/voteroom/internal/events"
)

// newTestConnection registers a connection and subscribes it to a room
// without a real socket behind it.
func newTestConnection(cm *ConnectionManager, code string) *Connection {
	conn := newConnection(cm, nil)
	cm.mu.Lock()
	cm.connections[conn.ID] = conn
	cm.mu.Unlock()
	cm.Subscribe(conn, code)
	return conn
}

func voteUpdate(votes map[string]int) events.Event {
	return events.New(events.TypeVoteUpdate, events.VoteUpdatePayload{Votes: votes})
}

func decodeVoteUpdate(t *testing.T, frame []byte) events.VoteUpdatePayload {
	t.Helper()
	var env events.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Event != events.TypeVoteUpdate {
		t.Fatalf("event = %q, want %q", env.Event, events.TypeVoteUpdate)
	}
	var payload events.VoteUpdatePayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("unmarshal vote-update: %v", err)
	}
	return payload
}

// A broadcast fanning out while both pumps tear the same connection down
// must never crash the dispatch goroutine.
func TestBroadcastDuringDisconnectDoesNotPanic(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	msg := broadcastMessage{
		RoomCode: "RACE01",
		Event:    voteUpdate(map[string]int{"Option A": 1}),
	}

	for i := 0; i < 500; i++ {
		conn := newTestConnection(cm, "RACE01")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("broadcast panicked: %v", r)
				}
			}()
			cm.handleBroadcast(msg)
		}()
		go func() {
			defer wg.Done()
			cm.unregisterConnection(conn)
		}()
		wg.Wait()
	}
}

func TestOvertakenRoomBroadcastIsDropped(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	conn := newTestConnection(cm, "ROOM42")

	// The second vote's snapshot reaches the dispatcher first.
	cm.handleBroadcast(broadcastMessage{
		RoomCode: "ROOM42",
		Version:  3,
		Event:    voteUpdate(map[string]int{"Cats": 1, "Dogs": 1}),
	})
	cm.handleBroadcast(broadcastMessage{
		RoomCode: "ROOM42",
		Version:  2,
		Event:    voteUpdate(map[string]int{"Cats": 1, "Dogs": 0}),
	})

	if got := len(conn.Send); got != 1 {
		t.Fatalf("delivered %d frames, want 1", got)
	}
	payload := decodeVoteUpdate(t, <-conn.Send)
	if payload.Votes["Cats"] != 1 || payload.Votes["Dogs"] != 1 {
		t.Errorf("delivered votes = %v, want the newer tally", payload.Votes)
	}

	// Events without room state are not ordered and always go through.
	cm.handleBroadcast(broadcastMessage{
		RoomCode: "ROOM42",
		Event: events.New(events.TypeCountdownUpdate, events.CountdownUpdatePayload{
			TimeRemaining: 5,
		}),
	})
	if got := len(conn.Send); got != 1 {
		t.Fatalf("countdown frame not delivered, queued = %d", got)
	}
}

func TestVersionTrackingResetsWhenPoolEmpties(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())

	conn := newTestConnection(cm, "ROOM77")
	cm.handleBroadcast(broadcastMessage{
		RoomCode: "ROOM77",
		Version:  9,
		Event:    voteUpdate(map[string]int{"Cats": 4}),
	})
	<-conn.Send
	cm.unregisterConnection(conn)

	// A fresh room under a recycled code starts its own version sequence.
	conn2 := newTestConnection(cm, "ROOM77")
	cm.handleBroadcast(broadcastMessage{
		RoomCode: "ROOM77",
		Version:  1,
		Event:    voteUpdate(map[string]int{"Cats": 0}),
	})
	if got := len(conn2.Send); got != 1 {
		t.Fatalf("broadcast for recycled code dropped, queued = %d", got)
	}
}
