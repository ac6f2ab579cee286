package room

import "errors"

// ErrRoomNotFound is returned when no live room matches the given code
var ErrRoomNotFound = errors.New("room not found")

// ErrVotingEnded is returned when a vote arrives after the room closed
var ErrVotingEnded = errors.New("voting has ended")

// ErrParticipantNotFound is returned when the voting connection never joined the room
var ErrParticipantNotFound = errors.New("participant not in room")

// ErrAlreadyVoted is returned on a duplicate vote attempt
var ErrAlreadyVoted = errors.New("participant already voted")

// ErrUnknownOption is returned when a vote names a label outside the room's options
var ErrUnknownOption = errors.New("unknown option")

// ErrCodeSpaceExhausted is returned when no unused room code could be allocated
var ErrCodeSpaceExhausted = errors.New("room code space exhausted")
