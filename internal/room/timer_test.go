package room

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/clashroom/clashroom/internal/protocol"
)

func TestStartTimerGuards(t *testing.T) {
	rec := newRecorder()
	reg := NewRegistry(testConfig(), rec, &stubJudge{})

	if err := reg.Create("r1", "t", "u1", "Alice", 5); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ctx := context.Background()

	if err := reg.StartTimer(ctx, "r1", "stranger"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("non-member start: got %v, want ErrNotParticipant", err)
	}
	if err := reg.StartTimer(ctx, "r1", "u1"); !errors.Is(err, ErrNotEnoughParticipants) {
		t.Errorf("solo start: got %v, want ErrNotEnoughParticipants", err)
	}

	if err := reg.Join("r1", "u2", "Bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := reg.StartTimer(ctx, "r1", "u1"); err != nil {
		t.Fatalf("start with both present: %v", err)
	}
	if err := reg.StartTimer(ctx, "r1", "u2"); !errors.Is(err, ErrTimerActive) {
		t.Errorf("double start: got %v, want ErrTimerActive", err)
	}
}

func TestStartTimerAfterEndRejected(t *testing.T) {
	rec := newRecorder()
	reg := NewRegistry(testConfig(), rec, &stubJudge{})
	mustSetupPair(t, reg, "r1")
	endDebate(t, reg, "r1")

	if err := reg.StartTimer(context.Background(), "r1", "u1"); !errors.Is(err, ErrDebateEnded) {
		t.Fatalf("got %v, want ErrDebateEnded", err)
	}
}

func TestCountdownRunsToAuthoritativeEnd(t *testing.T) {
	rec := newRecorder()
	clock := clockwork.NewFakeClock()
	reg := NewRegistry(testConfig(), rec, &stubJudge{verdict: "Alice"}).WithClock(clock)

	if err := reg.Create("r1", "t", "u1", "Alice", 3); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := reg.Join("r1", "u2", "Bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := reg.StartTimer(context.Background(), "r1", "u1"); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	started := rec.await(t, protocol.EventTimerStarted)
	var ts protocol.TimerStarted
	if err := json.Unmarshal(started.Data, &ts); err != nil {
		t.Fatalf("unmarshal timer-started: %v", err)
	}
	if ts.TimeLeft != 3 {
		t.Errorf("timer-started timeLeft = %d, want 3", ts.TimeLeft)
	}

	// Drive the countdown tick by tick; every tick publishes the
	// authoritative remaining time.
	clock.BlockUntil(1)
	for want := 2; want >= 0; want-- {
		clock.Advance(time.Second)
		ev := rec.await(t, protocol.EventTimerUpdate)
		var u protocol.TimerUpdate
		if err := json.Unmarshal(ev.Data, &u); err != nil {
			t.Fatalf("unmarshal timer-update: %v", err)
		}
		if u.TimeLeft != want {
			t.Errorf("timer-update timeLeft = %d, want %d", u.TimeLeft, want)
		}
		if wantActive := want > 0; u.TimerActive != wantActive {
			t.Errorf("at timeLeft=%d: timerActive = %v, want %v", want, u.TimerActive, wantActive)
		}
	}
	rec.await(t, protocol.EventDebateEnded)

	snap, _ := reg.Snapshot("r1")
	if !snap.DebateEnded || snap.TimerActive || snap.TimeLeft != 0 {
		t.Errorf("post-end snapshot = ended:%v active:%v left:%d", snap.DebateEnded, snap.TimerActive, snap.TimeLeft)
	}
	if got := rec.countBroadcast(protocol.EventDebateEnded); got != 1 {
		t.Errorf("debate-ended broadcast %d times, want 1", got)
	}
}

func TestFullDebateFlowJudgesOnce(t *testing.T) {
	rec := newRecorder()
	clock := clockwork.NewFakeClock()
	judge := &stubJudge{verdict: "Bob argued more persuasively."}
	reg := NewRegistry(testConfig(), rec, judge).WithClock(clock)

	if err := reg.Create("r1", "Is remote work better than office work?", "u1", "Alice", 2); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := reg.Join("r1", "u2", "Bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := reg.SendMessage("r1", "u1", "Alice", "offices enable collaboration"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := reg.StartTimer(context.Background(), "r1", "u2"); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	rec.await(t, protocol.EventTimerUpdate)
	if err := reg.SendMessage("r1", "u2", "Bob", "remote work removes commutes"); err != nil {
		t.Fatalf("mid-debate SendMessage: %v", err)
	}
	clock.Advance(time.Second)
	rec.await(t, protocol.EventDebateEnded)

	// Both clients observe the end and race to request judging.
	if err := reg.Analyze(context.Background(), "r1"); err != nil {
		t.Fatalf("Analyze (u1): %v", err)
	}
	if err := reg.Analyze(context.Background(), "r1"); err != nil {
		t.Fatalf("Analyze (u2): %v", err)
	}
	rec.await(t, protocol.EventAIResult)

	if got := judge.calls.Load(); got != 1 {
		t.Errorf("judge called %d times, want 1", got)
	}
	snap, _ := reg.Snapshot("r1")
	if snap.Winner != judge.verdict {
		t.Errorf("winner = %q, want %q", snap.Winner, judge.verdict)
	}
	// Argument, counter-argument, then the synthetic verdict, in order.
	if len(snap.Messages) != 3 || !snap.Messages[2].IsVerdict() {
		t.Errorf("log = %d messages, verdict last = %v", len(snap.Messages), len(snap.Messages) == 3 && snap.Messages[2].IsVerdict())
	}
}

func TestLeaveCancelsRunningCountdown(t *testing.T) {
	rec := newRecorder()
	clock := clockwork.NewFakeClock()
	reg := NewRegistry(testConfig(), rec, &stubJudge{}).WithClock(clock)

	mustSetupPair(t, reg, "r1")
	if err := reg.StartTimer(context.Background(), "r1", "u1"); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	clock.BlockUntil(1)

	if err := reg.Leave("r1", "u1"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := reg.Leave("r1", "u2"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if _, err := reg.Snapshot("r1"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("room survived after both left: %v", err)
	}

	// Give the cancelled countdown goroutine a chance to observe ctx.Done
	// and exit, then verify an advance publishes nothing.
	time.Sleep(50 * time.Millisecond)
	before := rec.countBroadcast(protocol.EventTimerUpdate)
	clock.Advance(time.Second)
	time.Sleep(50 * time.Millisecond)
	if got := rec.countBroadcast(protocol.EventTimerUpdate); got != before {
		t.Errorf("timer-update after room deletion: %d -> %d", before, got)
	}
}
