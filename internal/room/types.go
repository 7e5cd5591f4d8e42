package room

import (
	"context"
	"sync"

	"github.com/clashroom/clashroom/internal/protocol"
)

// MaxParticipants is the hard membership cap per room.
const MaxParticipants = 2

// Status describes where a room is in its lifecycle.
type Status string

const (
	// StatusAwaiting means the creator is waiting for a second participant.
	StatusAwaiting Status = "AWAITING_PARTICIPANT"
	// StatusLobby means both participants are present, timer not started.
	StatusLobby Status = "LOBBY"
	// StatusInProgress means the countdown is running.
	StatusInProgress Status = "IN_PROGRESS"
	// StatusEnded means the debate is over but not yet judged.
	StatusEnded Status = "ENDED"
	// StatusJudged is terminal; a room only leaves it by deletion.
	StatusJudged Status = "JUDGED"
)

// Room is the canonical, server-owned state of one debate. Clients hold
// mirrors of it; all mutation goes through the Registry.
type Room struct {
	mu sync.Mutex

	ID            string
	Topic         string
	Participants  []protocol.Participant
	Messages      []protocol.Message
	TimerDuration int
	TimeLeft      int
	TimerActive   bool
	DebateEnded   bool
	Winner        string

	// timerEpoch identifies the current debate instance. The judging latch
	// is keyed by it so a stale analyze request can never judge twice.
	timerEpoch  int
	judgedEpoch int  // epoch whose judging call was accepted, -1 if none
	judging     bool // a judging call is in flight

	cancelTimer context.CancelFunc
}

// Status derives the lifecycle state from the room fields.
// Callers must hold mu.
func (r *Room) statusLocked() Status {
	switch {
	case r.Winner != "":
		return StatusJudged
	case r.DebateEnded:
		return StatusEnded
	case r.TimerActive:
		return StatusInProgress
	case len(r.Participants) < MaxParticipants:
		return StatusAwaiting
	default:
		return StatusLobby
	}
}

// memberLocked reports whether the identity is a current participant.
func (r *Room) memberLocked(userID string) bool {
	for _, p := range r.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// snapshotLocked builds a full room snapshot with copied slices so the
// caller can marshal it outside the lock.
func (r *Room) snapshotLocked() protocol.RoomData {
	msgs := make([]protocol.Message, len(r.Messages))
	copy(msgs, r.Messages)
	users := make([]protocol.Participant, len(r.Participants))
	copy(users, r.Participants)

	return protocol.RoomData{
		Topic:         r.Topic,
		Messages:      msgs,
		Users:         users,
		TimerDuration: r.TimerDuration,
		TimeLeft:      r.TimeLeft,
		TimerActive:   r.TimerActive,
		DebateEnded:   r.DebateEnded,
		Winner:        r.Winner,
	}
}

// hasVerdictLocked reports whether a synthetic verdict message with the
// given body is already in the log.
func (r *Room) hasVerdictLocked(body string) bool {
	for _, m := range r.Messages {
		if m.IsVerdict() && m.Text == body {
			return true
		}
	}
	return false
}
