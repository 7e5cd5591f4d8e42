package client

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/clashroom/clashroom/internal/protocol"
)

func TestApplySnapshotReplacesMirror(t *testing.T) {
	m := NewMirror()
	m.ApplyMessage(protocol.Message{ID: "stale", AuthorID: "u1", Text: "old"})

	snap := protocol.RoomData{
		Topic:         "Should college education be free?",
		Messages:      []protocol.Message{{ID: "m1", AuthorID: "u1", AuthorName: "Alice", Text: "yes"}},
		Users:         []protocol.Participant{{ID: "u1", Name: "Alice"}, {ID: "u2", Name: "Bob"}},
		TimerDuration: 120,
		TimeLeft:      45,
		TimerActive:   true,
	}
	m.ApplySnapshot(snap)

	if diff := cmp.Diff(snap, m.State()); diff != "" {
		t.Errorf("mirror after snapshot (-want +got):\n%s", diff)
	}
}

func TestApplyMessageDeduplicatesByID(t *testing.T) {
	m := NewMirror()
	msg := protocol.Message{ID: "m1", AuthorID: "u1", Text: "hello"}

	if !m.ApplyMessage(msg) {
		t.Fatal("first apply rejected")
	}
	if m.ApplyMessage(msg) {
		t.Error("duplicate apply accepted")
	}
	if got := len(m.State().Messages); got != 1 {
		t.Errorf("log has %d messages, want 1", got)
	}
}

func TestApplyMessageAfterSnapshotEcho(t *testing.T) {
	m := NewMirror()
	msg := protocol.Message{ID: "m1", AuthorID: "u1", Text: "hello"}
	m.ApplySnapshot(protocol.RoomData{Messages: []protocol.Message{msg}})

	// The broadcast echo of a message already carried by the snapshot must
	// not duplicate it.
	if m.ApplyMessage(msg) {
		t.Error("snapshot echo accepted as new")
	}
	if got := len(m.State().Messages); got != 1 {
		t.Errorf("log has %d messages, want 1", got)
	}
}

func TestApplyMessagePreservesReceiptOrder(t *testing.T) {
	m := NewMirror()
	m.ApplyMessage(protocol.Message{ID: "m1", Text: "first"})
	m.ApplyMessage(protocol.Message{ID: "m2", Text: "second"})
	m.ApplyMessage(protocol.Message{ID: "m3", Text: "third"})

	msgs := m.State().Messages
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Text != want {
			t.Errorf("message[%d] = %q, want %q", i, msgs[i].Text, want)
		}
	}
}

func TestTimerUpdateEndedIsMonotonic(t *testing.T) {
	m := NewMirror()
	m.ApplyTimerUpdate(protocol.TimerUpdate{TimeLeft: 0, TimerActive: false, DebateEnded: true})

	// A late, out-of-order update without the ended flag cannot resurrect
	// the debate.
	m.ApplyTimerUpdate(protocol.TimerUpdate{TimeLeft: 3, TimerActive: true})
	if !m.DebateEnded() {
		t.Error("ended flag cleared by stale update")
	}
}

func TestApplyAIResultSetsWinnerOnce(t *testing.T) {
	m := NewMirror()
	m.ApplyAIResult(protocol.AIResult{Winner: "Alice won."})
	m.ApplyAIResult(protocol.AIResult{Winner: "Bob won."})

	state := m.State()
	if state.Winner != "Alice won." {
		t.Errorf("winner = %q, want the first verdict", state.Winner)
	}
}

func TestApplyAIResultAppendsVerdictMessage(t *testing.T) {
	m := NewMirror()
	if !m.ApplyAIResult(protocol.AIResult{Winner: "Alice won."}) {
		t.Fatal("verdict append rejected")
	}

	msgs := m.State().Messages
	if len(msgs) != 1 || !msgs[0].IsVerdict() || msgs[0].Text != "Alice won." {
		t.Fatalf("verdict message = %+v", msgs)
	}
}

func TestApplyAIResultDeduplicatesAgainstSnapshot(t *testing.T) {
	m := NewMirror()
	// Snapshot already carries the server-appended verdict; the ai-result
	// event arriving afterwards must not add a second copy.
	m.ApplySnapshot(protocol.RoomData{
		DebateEnded: true,
		Winner:      "Alice won.",
		Messages: []protocol.Message{
			{ID: "m9", AuthorID: protocol.AuthorAI, AuthorName: protocol.AuthorAIName, Text: "Alice won."},
		},
	})

	if m.ApplyAIResult(protocol.AIResult{Winner: "Alice won."}) {
		t.Error("duplicate verdict appended")
	}
	verdicts := 0
	for _, msg := range m.State().Messages {
		if msg.IsVerdict() {
			verdicts++
		}
	}
	if verdicts != 1 {
		t.Errorf("got %d verdict messages, want 1", verdicts)
	}
}

func TestApplyDebateEndedStopsTimer(t *testing.T) {
	m := NewMirror()
	m.ApplyTimerStarted(protocol.TimerStarted{TimeLeft: 60})
	m.ApplyDebateEnded()

	state := m.State()
	if !state.DebateEnded || state.TimerActive || state.TimeLeft != 0 {
		t.Errorf("post-end mirror = ended:%v active:%v left:%d", state.DebateEnded, state.TimerActive, state.TimeLeft)
	}
}
