package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for all server-to-client events. Events for a single
// room are delivered to each subscriber in the order the server emitted them.
type Event struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"room_id,omitempty"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventType identifies a server-to-client event.
type EventType string

const (
	EventAvailableTopics EventType = "available-topics"
	EventRoomData        EventType = "room-data" // full snapshot
	EventTimerUpdate     EventType = "timer-update"
	EventTimerStarted    EventType = "timer-started"
	EventDebateEnded     EventType = "debate-ended"
	EventNewMessage      EventType = "new-message"
	EventNewAudio        EventType = "new-audio"
	EventAIResult        EventType = "ai-result"
	EventRoomFull        EventType = "room-full"
	EventError           EventType = "error"
)

// AuthorAI is the reserved author identifier for synthetic verdict messages.
const AuthorAI = "AI"

// AuthorAIName is the display name attached to verdict messages.
const AuthorAIName = "AI Judge"

// Participant is one member of a room. Identity survives reconnects; the
// display name is fixed at join time.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is a single chat log entry. Exactly one of Text or Audio carries
// the body; verdict messages use AuthorID == AuthorAI. The ID is the
// client-side deduplication key.
type Message struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"user"`
	AuthorName string    `json:"userName"`
	Text       string    `json:"text,omitempty"`
	Audio      string    `json:"audio,omitempty"` // base64 data URL
	Analysis   string    `json:"analysis,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// IsVerdict reports whether the message is the synthetic judging verdict.
func (m Message) IsVerdict() bool {
	return m.AuthorID == AuthorAI
}

// RoomData is the full room snapshot. Applying it replaces the client's
// entire local mirror so a (re)joining client converges in one step.
type RoomData struct {
	Topic         string        `json:"topic"`
	Messages      []Message     `json:"messages"`
	Users         []Participant `json:"users"`
	TimerDuration int           `json:"timerDuration"`
	TimeLeft      int           `json:"timeLeft"`
	TimerActive   bool          `json:"timerActive"`
	DebateEnded   bool          `json:"debateEnded"`
	Winner        string        `json:"winner,omitempty"`
}

// TimerUpdate is the authoritative timer snapshot pushed on every tick and
// on start/stop boundaries.
type TimerUpdate struct {
	TimeLeft    int  `json:"timeLeft"`
	TimerActive bool `json:"timerActive"`
	DebateEnded bool `json:"debateEnded"`
}

// TimerStarted announces a new debate instance. Clients re-arm their judging
// trigger guard when they observe it.
type TimerStarted struct {
	TimeLeft int `json:"timeLeft"`
}

// AIResult carries the judging verdict text.
type AIResult struct {
	Winner string `json:"winner"`
}

// AvailableTopics is the reply to a get-topics command.
type AvailableTopics struct {
	Topics []string `json:"topics"`
}

// ErrorPayload carries a server-rejected command's message, delivered only
// to the originating client.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewEvent builds an event envelope with a fresh id and the given payload.
// Marshalling the payload here keeps broadcast paths allocation-simple.
func NewEvent(roomID string, typ EventType, payload any) (*Event, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return &Event{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}
