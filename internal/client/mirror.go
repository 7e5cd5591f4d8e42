package client

import (
	"sync"

	"github.com/google/uuid"

	"github.com/clashroom/clashroom/internal/protocol"
)

// Mirror is the client's local copy of the server-owned room. Full snapshots
// replace it atomically; incremental events merge into it. The mirror never
// decides room semantics on its own: debate end and the winner only ever
// arrive from the server.
type Mirror struct {
	mu    sync.RWMutex
	state protocol.RoomData
	seen  map[string]bool // message ids already applied
}

// NewMirror creates an empty room mirror.
func NewMirror() *Mirror {
	return &Mirror{seen: make(map[string]bool)}
}

// ApplySnapshot replaces the entire mirror with authoritative state. Used on
// join and rejoin so the client converges in one step regardless of how many
// events it missed.
func (m *Mirror) ApplySnapshot(d protocol.RoomData) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = d
	m.state.Messages = append([]protocol.Message(nil), d.Messages...)
	m.state.Users = append([]protocol.Participant(nil), d.Users...)
	m.seen = make(map[string]bool, len(d.Messages))
	for _, msg := range d.Messages {
		m.seen[msg.ID] = true
	}
}

// ApplyMessage appends an incremental message event, deduplicating by id.
// Returns false when the message was already present (for example the
// sender's own echo after a snapshot). Order is receipt order; the log is
// never re-sorted.
func (m *Mirror) ApplyMessage(msg protocol.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seen[msg.ID] {
		return false
	}
	m.seen[msg.ID] = true
	m.state.Messages = append(m.state.Messages, msg)
	return true
}

// ApplyTimerUpdate merges an authoritative timer snapshot. DebateEnded is
// monotonic under merges: an update can set it but never clear it.
func (m *Mirror) ApplyTimerUpdate(u protocol.TimerUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.TimeLeft = u.TimeLeft
	m.state.TimerActive = u.TimerActive
	if u.DebateEnded {
		m.state.DebateEnded = true
		m.state.TimerActive = false
	}
}

// ApplyTimerStarted merges the start of a debate instance. The server never
// starts a timer for an ended debate, so the ended flag is left alone.
func (m *Mirror) ApplyTimerStarted(ts protocol.TimerStarted) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.TimerActive = true
	m.state.TimeLeft = ts.TimeLeft
}

// ApplyDebateEnded merges the authoritative end of the debate.
func (m *Mirror) ApplyDebateEnded() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.DebateEnded = true
	m.state.TimerActive = false
	m.state.TimeLeft = 0
}

// ApplyAIResult merges the judging verdict. The winner is set at most once,
// and the synthetic verdict message is appended only if no AI message with
// that exact body is already present; the result event and an independent
// snapshot can race and both carry the verdict.
func (m *Mirror) ApplyAIResult(res protocol.AIResult) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Winner == "" {
		m.state.Winner = res.Winner
	}
	for _, msg := range m.state.Messages {
		if msg.IsVerdict() && msg.Text == res.Winner {
			return false
		}
	}
	verdict := protocol.Message{
		ID:         uuid.New().String(),
		AuthorID:   protocol.AuthorAI,
		AuthorName: protocol.AuthorAIName,
		Text:       res.Winner,
	}
	m.seen[verdict.ID] = true
	m.state.Messages = append(m.state.Messages, verdict)
	return true
}

// State returns a copy of the mirrored room.
func (m *Mirror) State() protocol.RoomData {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.state
	out.Messages = append([]protocol.Message(nil), m.state.Messages...)
	out.Users = append([]protocol.Participant(nil), m.state.Users...)
	return out
}

// DebateEnded reports the mirrored ended flag.
func (m *Mirror) DebateEnded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.DebateEnded
}
