package room

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/clashroom/clashroom/internal/protocol"
)

// Broadcaster delivers events to room members. The gateway's connection
// manager implements it; tests use an in-memory recorder.
type Broadcaster interface {
	// BroadcastToRoom sends an event to every connection in the room.
	BroadcastToRoom(roomID string, event *protocol.Event)
	// SendToUser sends an event only to the given participant's connections.
	SendToUser(roomID, userID string, event *protocol.Event)
}

// Judge performs the opaque asynchronous debate analysis and returns a
// single textual verdict.
type Judge interface {
	JudgeDebate(ctx context.Context, topic string, transcript []protocol.Message) (string, error)
}

// Config holds room engine configuration.
type Config struct {
	// Topics is the fixed candidate topic catalog served by get-topics.
	Topics []string
	// MaxAudioBytes bounds the encoded audio payload per message.
	MaxAudioBytes int
	// JudgeTimeout bounds a single judging call.
	JudgeTimeout time.Duration
}

// DefaultConfig returns the default room engine configuration.
func DefaultConfig() Config {
	return Config{
		Topics: []string{
			"Should artificial intelligence be regulated?",
			"Is social media doing more harm than good?",
			"Should college education be free?",
			"Is remote work better than office work?",
		},
		MaxAudioBytes: 5 << 20, // 5 MiB
		JudgeTimeout:  60 * time.Second,
	}
}

// Registry owns every live room. All state lives in process memory for the
// room's lifetime; there is no durable storage.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	cfg         Config
	clock       clockwork.Clock
	broadcaster Broadcaster
	judge       Judge
}

// NewRegistry creates a room registry.
func NewRegistry(cfg Config, broadcaster Broadcaster, judge Judge) *Registry {
	return &Registry{
		rooms:       make(map[string]*Room),
		cfg:         cfg,
		clock:       clockwork.NewRealClock(),
		broadcaster: broadcaster,
		judge:       judge,
	}
}

// WithClock swaps the clock. Tests use a clockwork fake clock.
func (reg *Registry) WithClock(clock clockwork.Clock) *Registry {
	reg.clock = clock
	return reg
}

// Topics returns the candidate topic catalog. Pure query.
func (reg *Registry) Topics() []string {
	out := make([]string, len(reg.cfg.Topics))
	copy(out, reg.cfg.Topics)
	return out
}

// Create initializes a room with the creator as sole participant. The timer
// sits idle at the full duration until an explicit start signal.
func (reg *Registry) Create(roomID, topic, userID, userName string, timerDuration int) error {
	if timerDuration <= 0 {
		timerDuration = 120
	}

	reg.mu.Lock()
	if _, exists := reg.rooms[roomID]; exists {
		reg.mu.Unlock()
		return ErrRoomExists
	}
	r := &Room{
		ID:            roomID,
		Topic:         topic,
		Participants:  []protocol.Participant{{ID: userID, Name: userName}},
		Messages:      []protocol.Message{},
		TimerDuration: timerDuration,
		TimeLeft:      timerDuration,
		judgedEpoch:   -1,
	}
	reg.rooms[roomID] = r
	reg.mu.Unlock()

	log.Info().
		Str("room_id", roomID).
		Str("user_id", userID).
		Str("topic", topic).
		Int("timer_duration", timerDuration).
		Msg("room created")

	r.mu.Lock()
	snap := r.snapshotLocked()
	r.mu.Unlock()
	reg.sendToUser(roomID, userID, protocol.EventRoomData, snap)
	return nil
}

// Join adds a participant or, for an identity that is already a member,
// idempotently re-delivers the current snapshot. That rejoin path is what
// makes reconnection transparent.
func (reg *Registry) Join(roomID, userID, userName string) error {
	r, err := reg.get(roomID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.memberLocked(userID) {
		snap := r.snapshotLocked()
		r.mu.Unlock()
		log.Debug().Str("room_id", roomID).Str("user_id", userID).Msg("member rejoined")
		reg.sendToUser(roomID, userID, protocol.EventRoomData, snap)
		return nil
	}
	if len(r.Participants) >= MaxParticipants {
		r.mu.Unlock()
		return ErrRoomFull
	}
	r.Participants = append(r.Participants, protocol.Participant{ID: userID, Name: userName})
	snap := r.snapshotLocked()
	count := len(r.Participants)
	r.mu.Unlock()

	log.Info().
		Str("room_id", roomID).
		Str("user_id", userID).
		Int("participants", count).
		Msg("participant joined")

	reg.broadcast(roomID, protocol.EventRoomData, snap)
	return nil
}

// Leave removes a participant. Empty rooms are deleted, which also stops a
// running countdown.
func (reg *Registry) Leave(roomID, userID string) error {
	r, err := reg.get(roomID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if !r.memberLocked(userID) {
		r.mu.Unlock()
		return ErrNotParticipant
	}
	kept := r.Participants[:0]
	for _, p := range r.Participants {
		if p.ID != userID {
			kept = append(kept, p)
		}
	}
	r.Participants = kept
	empty := len(r.Participants) == 0
	var snap protocol.RoomData
	if !empty {
		snap = r.snapshotLocked()
	}
	cancel := r.cancelTimer
	r.mu.Unlock()

	if empty {
		if cancel != nil {
			cancel()
		}
		reg.mu.Lock()
		delete(reg.rooms, roomID)
		reg.mu.Unlock()
		log.Info().Str("room_id", roomID).Msg("room deleted (empty)")
		return nil
	}

	log.Info().Str("room_id", roomID).Str("user_id", userID).Msg("participant left")
	reg.broadcast(roomID, protocol.EventRoomData, snap)
	return nil
}

// SendMessage appends a text argument and broadcasts it to all members,
// sender included; the sender reconciles by message id rather than trusting
// a local optimistic insert.
func (reg *Registry) SendMessage(roomID, userID, userName, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	r, err := reg.get(roomID)
	if err != nil {
		return err
	}

	msg := protocol.Message{
		ID:         uuid.New().String(),
		AuthorID:   userID,
		AuthorName: userName,
		Text:       text,
		Timestamp:  reg.clock.Now().UTC(),
	}
	if err := reg.append(r, msg); err != nil {
		return err
	}
	reg.broadcast(roomID, protocol.EventNewMessage, msg)
	return nil
}

// SendAudio appends an audio argument. The payload is carried opaquely as a
// base64 data URL and bounded by the configured maximum.
func (reg *Registry) SendAudio(roomID, userID, userName, audio string) error {
	if audio == "" {
		return ErrEmptyMessage
	}
	if len(audio) > reg.cfg.MaxAudioBytes {
		return ErrAudioTooLarge
	}
	r, err := reg.get(roomID)
	if err != nil {
		return err
	}

	msg := protocol.Message{
		ID:         uuid.New().String(),
		AuthorID:   userID,
		AuthorName: userName,
		Audio:      audio,
		Timestamp:  reg.clock.Now().UTC(),
	}
	if err := reg.append(r, msg); err != nil {
		return err
	}
	reg.broadcast(roomID, protocol.EventNewAudio, msg)
	return nil
}

// append validates membership and debate state, then appends in receipt
// order. The log is never re-sorted.
func (reg *Registry) append(r *Room, msg protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DebateEnded {
		return ErrDebateEnded
	}
	if !r.memberLocked(msg.AuthorID) {
		return ErrNotParticipant
	}
	r.Messages = append(r.Messages, msg)
	return nil
}

// Analyze requests the single judging call for a room's current debate
// instance. The server is authoritative for exactly-once judging: a
// compare-and-set on the judged latch keyed by room and timer epoch makes
// racing client requests harmless.
func (reg *Registry) Analyze(ctx context.Context, roomID string) error {
	r, err := reg.get(roomID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if !r.DebateEnded {
		r.mu.Unlock()
		return ErrDebateNotEnded
	}
	if r.judging || r.judgedEpoch == r.timerEpoch {
		// Already judging or judged for this debate instance; duplicate
		// requests are idempotent no-ops.
		r.mu.Unlock()
		return nil
	}
	r.judging = true
	r.judgedEpoch = r.timerEpoch
	epoch := r.timerEpoch
	topic := r.Topic
	transcript := make([]protocol.Message, len(r.Messages))
	copy(transcript, r.Messages)
	r.mu.Unlock()

	log.Info().Str("room_id", roomID).Int("epoch", epoch).Msg("judging accepted")
	go reg.runJudging(roomID, epoch, topic, transcript)
	return nil
}

// runJudging performs the asynchronous judge call and publishes the verdict.
func (reg *Registry) runJudging(roomID string, epoch int, topic string, transcript []protocol.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), reg.cfg.JudgeTimeout)
	defer cancel()

	verdict, err := reg.judge.JudgeDebate(ctx, topic, transcript)

	r, getErr := reg.get(roomID)
	if getErr != nil {
		// Room was deleted while judging ran.
		return
	}

	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("judging call failed")
		r.mu.Lock()
		if r.timerEpoch == epoch {
			// Re-arm so a later analyze request can retry.
			r.judging = false
			r.judgedEpoch = -1
		}
		r.mu.Unlock()
		reg.broadcast(roomID, protocol.EventError, protocol.ErrorPayload{Message: "debate analysis failed"})
		return
	}

	r.mu.Lock()
	if r.timerEpoch != epoch || r.Winner != "" {
		r.judging = false
		r.mu.Unlock()
		return
	}
	r.Winner = verdict
	r.judging = false
	if !r.hasVerdictLocked(verdict) {
		r.Messages = append(r.Messages, protocol.Message{
			ID:         uuid.New().String(),
			AuthorID:   protocol.AuthorAI,
			AuthorName: protocol.AuthorAIName,
			Text:       verdict,
			Timestamp:  reg.clock.Now().UTC(),
		})
	}
	r.mu.Unlock()

	log.Info().Str("room_id", roomID).Int("epoch", epoch).Msg("verdict published")
	reg.broadcast(roomID, protocol.EventAIResult, protocol.AIResult{Winner: verdict})
}

// Snapshot returns a copy of the room's current full state.
func (reg *Registry) Snapshot(roomID string) (protocol.RoomData, error) {
	r, err := reg.get(roomID)
	if err != nil {
		return protocol.RoomData{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(), nil
}

func (reg *Registry) get(roomID string) (*Room, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

func (reg *Registry) broadcast(roomID string, typ protocol.EventType, payload any) {
	ev, err := protocol.NewEvent(roomID, typ, payload)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Str("event_type", string(typ)).Msg("failed to build event")
		return
	}
	reg.broadcaster.BroadcastToRoom(roomID, ev)
}

func (reg *Registry) sendToUser(roomID, userID string, typ protocol.EventType, payload any) {
	ev, err := protocol.NewEvent(roomID, typ, payload)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Str("event_type", string(typ)).Msg("failed to build event")
		return
	}
	reg.broadcaster.SendToUser(roomID, userID, ev)
}
