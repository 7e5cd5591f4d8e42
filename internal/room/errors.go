package room

import "errors"

var (
	// ErrRoomExists is returned when creating a room whose id is taken.
	ErrRoomExists = errors.New("room already exists")

	// ErrRoomNotFound is returned for commands against an unknown room.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomFull is returned when a third distinct identity tries to join.
	ErrRoomFull = errors.New("room is full")

	// ErrNotParticipant is returned for mutating commands from a non-member.
	ErrNotParticipant = errors.New("not a participant of this room")

	// ErrDebateEnded is returned for mutation attempts after the debate ended.
	ErrDebateEnded = errors.New("debate has ended")

	// ErrDebateNotEnded is returned when judging is requested while the
	// timer is still running.
	ErrDebateNotEnded = errors.New("debate has not ended")

	// ErrNotEnoughParticipants is returned when starting the timer before
	// the second participant has joined.
	ErrNotEnoughParticipants = errors.New("room needs two participants")

	// ErrTimerActive is returned when starting a timer that already runs.
	ErrTimerActive = errors.New("timer already active")

	// ErrAudioTooLarge is returned when an audio payload exceeds the
	// configured maximum.
	ErrAudioTooLarge = errors.New("audio payload too large")

	// ErrEmptyMessage is returned for blank text messages.
	ErrEmptyMessage = errors.New("message is empty")
)
