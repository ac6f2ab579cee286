package gateway

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/voteroom/internal/countdown"
	"github.com/mcdev12/voteroom/internal/events"
	"github.com/mcdev12/voteroom/internal/room"
)

// Service is the connection gateway: it decodes inbound requests into
// registry calls and turns the results into acks and room broadcasts.
type Service struct {
	registry  *room.Registry
	scheduler *countdown.Scheduler
	manager   *ConnectionManager
}

// NewService wires the gateway to the registry, scheduler and manager
func NewService(registry *room.Registry, scheduler *countdown.Scheduler, manager *ConnectionManager) *Service {
	s := &Service{
		registry:  registry,
		scheduler: scheduler,
		manager:   manager,
	}
	manager.setRouter(s)
	return s
}

var _ Router = (*Service)(nil)

// HandleMessage decodes one inbound frame and dispatches it
func (s *Service) HandleMessage(conn *Connection, raw []byte) {
	var env events.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn().Err(err).Str("conn_id", conn.ID).Msg("malformed frame")
		s.sendError(conn, "Invalid request")
		return
	}

	switch env.Event {
	case events.TypeCreateRoom:
		var req events.CreateRoomRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			s.sendError(conn, "Invalid request")
			return
		}
		s.handleCreateRoom(conn, req)

	case events.TypeJoinRoom:
		var req events.JoinRoomRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			s.sendError(conn, "Invalid request")
			return
		}
		s.handleJoinRoom(conn, req)

	case events.TypeSubmitVote:
		var req events.SubmitVoteRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			s.sendError(conn, "Invalid request")
			return
		}
		s.handleSubmitVote(conn, req)

	default:
		log.Warn().
			Str("conn_id", conn.ID).
			Str("event", string(env.Event)).
			Msg("unknown request event")
	}
}

func (s *Service) handleCreateRoom(conn *Connection, req events.CreateRoomRequest) {
	r, err := s.registry.CreateRoom(conn.ID, req.Username, req.Question, req.Options)
	if err != nil {
		log.Error().Err(err).Str("conn_id", conn.ID).Msg("create room failed")
		s.sendError(conn, errorMessage(err))
		return
	}
	conn.Username = req.Username

	s.manager.Subscribe(conn, r.Code)
	s.scheduler.Start(r.Code, int(s.registry.Window()/time.Second))

	s.manager.SendToConnection(conn.ID, events.New(events.TypeRoomCreated, events.RoomAckPayload{
		RoomCode: r.Code,
		Room:     events.RoomStateOf(r),
	}))
}

func (s *Service) handleJoinRoom(conn *Connection, req events.JoinRoomRequest) {
	r, err := s.registry.JoinRoom(req.RoomCode, conn.ID, req.Username)
	if err != nil {
		s.sendError(conn, errorMessage(err))
		return
	}
	conn.Username = req.Username

	s.manager.Subscribe(conn, r.Code)

	s.manager.SendToConnection(conn.ID, events.New(events.TypeRoomJoined, events.RoomAckPayload{
		RoomCode: r.Code,
		Room:     events.RoomStateOf(r),
	}))

	s.manager.BroadcastToRoom(r.Code, r.Version, events.New(events.TypeUserJoined, events.UserJoinedPayload{
		Username: req.Username,
		UserID:   conn.ID,
		Users:    events.UsersOf(r),
		Votes:    r.Votes,
	}))
}

func (s *Service) handleSubmitVote(conn *Connection, req events.SubmitVoteRequest) {
	r, err := s.registry.SubmitVote(req.RoomCode, conn.ID, req.Choice)
	if err != nil {
		s.sendError(conn, errorMessage(err))
		return
	}

	// The snapshot's version lets the dispatcher discard this update if a
	// later vote or the closing broadcast already went out.
	s.manager.BroadcastToRoom(r.Code, r.Version, events.New(events.TypeVoteUpdate, events.VoteUpdatePayload{
		Votes: r.Votes,
		Users: events.UsersOf(r),
	}))
}

// HandleDisconnect removes the connection's participant from every room it
// belongs to, broadcasting user-left per room and reaping rooms that became
// empty (which also cancels their countdowns).
func (s *Service) HandleDisconnect(conn *Connection) {
	for _, code := range s.registry.RoomsOf(conn.ID) {
		removed, after, deleted := s.registry.RemoveParticipant(code, conn.ID)
		if !removed {
			continue
		}
		if deleted {
			s.scheduler.Stop(code)
			continue
		}
		s.manager.BroadcastToRoom(code, after.Version, events.New(events.TypeUserLeft, events.UserLeftPayload{
			UserID: conn.ID,
			Users:  events.UsersOf(after),
		}))
	}
	s.manager.UnsubscribeAll(conn)

	log.Info().
		Str("conn_id", conn.ID).
		Str("username", conn.Username).
		Msg("connection disconnected")
}

func (s *Service) sendError(conn *Connection, message string) {
	s.manager.SendToConnection(conn.ID, events.New(events.TypeError, events.ErrorPayload{
		Message: message,
	}))
}

// errorMessage maps registry errors onto the wire error strings
func errorMessage(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, room.ErrVotingEnded):
		return "Voting has ended"
	case errors.Is(err, room.ErrParticipantNotFound):
		return "User not in room"
	case errors.Is(err, room.ErrAlreadyVoted):
		return "You have already voted"
	case errors.Is(err, room.ErrUnknownOption):
		return "Unknown option"
	default:
		return "Request failed"
	}
}
