package room

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clashroom/clashroom/internal/protocol"
)

// StartTimer begins the countdown for a room. It is an explicit member
// signal, not an automatic consequence of the second join. Starting bumps
// the debate epoch, which re-arms the judging latch for the new instance.
func (reg *Registry) StartTimer(ctx context.Context, roomID, userID string) error {
	r, err := reg.get(roomID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if !r.memberLocked(userID) {
		r.mu.Unlock()
		return ErrNotParticipant
	}
	if r.DebateEnded {
		r.mu.Unlock()
		return ErrDebateEnded
	}
	if r.TimerActive {
		r.mu.Unlock()
		return ErrTimerActive
	}
	if len(r.Participants) < MaxParticipants {
		r.mu.Unlock()
		return ErrNotEnoughParticipants
	}

	r.timerEpoch++
	r.judgedEpoch = -1
	r.judging = false
	r.TimerActive = true
	r.TimeLeft = r.TimerDuration
	epoch := r.timerEpoch
	timeLeft := r.TimeLeft

	timerCtx, cancel := context.WithCancel(ctx)
	r.cancelTimer = cancel
	r.mu.Unlock()

	log.Info().
		Str("room_id", roomID).
		Int("epoch", epoch).
		Int("duration", timeLeft).
		Msg("timer started")

	reg.broadcast(roomID, protocol.EventTimerStarted, protocol.TimerStarted{TimeLeft: timeLeft})
	go reg.runCountdown(timerCtx, r, epoch)
	return nil
}

// runCountdown ticks the room once per second, broadcasting the
// authoritative timer snapshot after every decrement. Clients only display
// time between these snapshots; the zero-crossing decided here is the sole
// source of debate-ended truth.
func (reg *Registry) runCountdown(ctx context.Context, r *Room, epoch int) {
	ticker := reg.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("room_id", r.ID).Int("epoch", epoch).Msg("countdown cancelled")
			return
		case <-ticker.Chan():
			update, done, ok := reg.tick(r, epoch)
			if !ok {
				return
			}
			reg.broadcast(r.ID, protocol.EventTimerUpdate, update)
			if done {
				log.Info().Str("room_id", r.ID).Int("epoch", epoch).Msg("debate ended")
				reg.broadcast(r.ID, protocol.EventDebateEnded, struct{}{})
				return
			}
		}
	}
}

// tick applies one second to the room. ok is false when the tick belongs to
// a stale epoch or a stopped timer and the loop should exit silently.
func (reg *Registry) tick(r *Room, epoch int) (update protocol.TimerUpdate, done, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timerEpoch != epoch || !r.TimerActive {
		return protocol.TimerUpdate{}, false, false
	}

	r.TimeLeft--
	if r.TimeLeft <= 0 {
		r.TimeLeft = 0
		r.TimerActive = false
		r.DebateEnded = true
		done = true
	}
	return protocol.TimerUpdate{
		TimeLeft:    r.TimeLeft,
		TimerActive: r.TimerActive,
		DebateEnded: r.DebateEnded,
	}, done, true
}
