package client

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/clashroom/clashroom/internal/protocol"
)

// Client ties the transport session, room mirror, timer synchronizer and
// judging trigger guard together into the client side of the room protocol.
// It owns no presentation: consumers read the mirrored state and subscribe
// to notices.
type Client struct {
	session  *Session
	mirror   *Mirror
	timer    *TimerSync
	guard    *TriggerGuard
	identity *IdentityStore

	stopTicker context.CancelFunc

	mu       sync.Mutex
	roomID   string
	userName string
	topics   []string
	noticeFn func(string)
	subs     []*Subscription
}

// NewClient creates a client over the given session. The clock drives the
// local display countdown; production callers pass clockwork.NewRealClock().
func NewClient(session *Session, clock clockwork.Clock) *Client {
	c := &Client{
		session:  session,
		mirror:   NewMirror(),
		guard:    NewTriggerGuard(),
		identity: NewIdentityStore(),
	}
	c.timer = NewTimerSync(clock, c.onLocalZero)
	c.subscribe()
	return c
}

// Dial builds a client against a server base URL ("ws://host:port"),
// generating a fresh identity and connecting immediately. The identity
// travels in the room endpoint's user_id query parameter.
func Dial(ctx context.Context, baseURL string, opts SessionOptions, clock clockwork.Clock) (*Client, error) {
	identity := NewIdentityStore()
	u, err := url.Parse(baseURL + "/ws/room")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("user_id", identity.GetOrCreate())
	u.RawQuery = q.Encode()

	c := NewClient(NewSession(u.String(), opts), clock)
	c.identity = identity
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Start connects the session and runs the display ticker until ctx ends.
func (c *Client) Start(ctx context.Context) error {
	if err := c.session.Connect(ctx); err != nil {
		return err
	}
	tickerCtx, cancel := context.WithCancel(ctx)
	c.stopTicker = cancel
	go c.timer.Run(tickerCtx)
	return nil
}

// subscribe wires all protocol events into the reconciliation layer. Done
// once per client; subscriptions survive transport reconnects.
func (c *Client) subscribe() {
	c.subs = append(c.subs,
		c.session.On(protocol.EventRoomData, c.onRoomData),
		c.session.On(protocol.EventNewMessage, c.onMessage),
		c.session.On(protocol.EventNewAudio, c.onMessage),
		c.session.On(protocol.EventTimerStarted, c.onTimerStarted),
		c.session.On(protocol.EventTimerUpdate, c.onTimerUpdate),
		c.session.On(protocol.EventDebateEnded, c.onDebateEnded),
		c.session.On(protocol.EventAIResult, c.onAIResult),
		c.session.On(protocol.EventAvailableTopics, c.onTopics),
		c.session.On(protocol.EventRoomFull, c.onRoomFull),
		c.session.On(protocol.EventError, c.onError),
		c.session.OnStateChange(c.onStateChange),
	)
}

// Close releases the client's subscriptions and disconnects the session.
func (c *Client) Close() {
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	if c.stopTicker != nil {
		c.stopTicker()
	}
	c.session.Disconnect()
}

// SetNoticeHandler registers the callback for transient, user-visible
// conditions (rejected commands, room full, transport loss). Notices never
// alter room state.
func (c *Client) SetNoticeHandler(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noticeFn = fn
}

// Identity returns the session-stable participant identifier.
func (c *Client) Identity() string {
	return c.identity.GetOrCreate()
}

// State returns a copy of the mirrored room.
func (c *Client) State() protocol.RoomData {
	return c.mirror.State()
}

// TimeLeftDisplay returns the locally ticking display value.
func (c *Client) TimeLeftDisplay() int {
	return c.timer.Display()
}

// Topics returns the last received candidate topic list.
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...)
}

// RequestTopics asks the server for the candidate topic catalog.
func (c *Client) RequestTopics() error {
	return c.session.Emit(protocol.CmdGetTopics, nil)
}

// CreateRoom creates a room with this client as sole participant and
// returns the generated room id.
func (c *Client) CreateRoom(topic, userName string, timerDuration int) (string, error) {
	roomID := uuid.New().String()
	c.mu.Lock()
	c.roomID = roomID
	c.userName = userName
	c.mu.Unlock()

	err := c.session.Emit(protocol.CmdCreateRoom, protocol.CreateRoom{
		RoomID:        roomID,
		Topic:         topic,
		UserID:        c.Identity(),
		UserName:      userName,
		TimerDuration: timerDuration,
	})
	if err != nil {
		return "", err
	}
	return roomID, nil
}

// Join enters an existing room. Rejoining with the same identity is
// idempotent server-side and converges via the returned snapshot.
func (c *Client) Join(roomID, userName string) error {
	c.mu.Lock()
	c.roomID = roomID
	c.userName = userName
	c.mu.Unlock()

	return c.session.Emit(protocol.CmdJoinRoom, protocol.JoinRoom{
		RoomID:   roomID,
		UserID:   c.Identity(),
		UserName: userName,
	})
}

// StartTimer sends the explicit countdown start signal.
func (c *Client) StartTimer() error {
	roomID, _ := c.room()
	return c.session.Emit(protocol.CmdStartTimer, protocol.StartTimer{
		RoomID: roomID,
		UserID: c.Identity(),
	})
}

// SendMessage submits a text argument. A post-end send is rejected locally
// before any network command is emitted.
func (c *Client) SendMessage(text string) error {
	if c.mirror.DebateEnded() {
		return nil
	}
	roomID, userName := c.room()
	return c.session.Emit(protocol.CmdSendMessage, protocol.SendMessage{
		RoomID:   roomID,
		UserID:   c.Identity(),
		UserName: userName,
		Text:     text,
	})
}

// SendAudio submits a staged audio payload (base64 data URL).
func (c *Client) SendAudio(audio string) error {
	if c.mirror.DebateEnded() {
		return nil
	}
	roomID, userName := c.room()
	return c.session.Emit(protocol.CmdSendAudio, protocol.SendAudio{
		RoomID:   roomID,
		UserID:   c.Identity(),
		UserName: userName,
		Audio:    audio,
	})
}

// Leave exits the current room and resets the local mirror.
func (c *Client) Leave() error {
	roomID, _ := c.room()
	if roomID == "" {
		return nil
	}
	err := c.session.Emit(protocol.CmdLeaveRoom, protocol.LeaveRoom{
		RoomID: roomID,
		UserID: c.Identity(),
	})

	c.mu.Lock()
	c.roomID = ""
	c.mu.Unlock()
	c.guard.Disarm()
	c.mirror.ApplySnapshot(protocol.RoomData{})
	c.timer.Seed(0, false)
	return err
}

func (c *Client) room() (roomID, userName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.userName
}

// onRoomData applies a full snapshot: the whole local mirror is replaced and
// the display clock re-seeded, correcting any drift in one step.
func (c *Client) onRoomData(ev *protocol.Event) {
	var d protocol.RoomData
	if err := json.Unmarshal(ev.Data, &d); err != nil {
		log.Warn().Err(err).Msg("malformed room-data payload")
		return
	}
	c.mirror.ApplySnapshot(d)
	c.timer.Seed(d.TimeLeft, d.TimerActive)

	// Rejoining mid- or post-debate must not re-arm judging for a debate
	// that is already over.
	if d.DebateEnded {
		c.guard.Disarm()
	} else {
		c.guard.Arm()
	}
}

func (c *Client) onMessage(ev *protocol.Event) {
	var msg protocol.Message
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		log.Warn().Err(err).Msg("malformed message payload")
		return
	}
	c.mirror.ApplyMessage(msg)
}

func (c *Client) onTimerStarted(ev *protocol.Event) {
	var ts protocol.TimerStarted
	if err := json.Unmarshal(ev.Data, &ts); err != nil {
		log.Warn().Err(err).Msg("malformed timer-started payload")
		return
	}
	c.mirror.ApplyTimerStarted(ts)
	c.timer.Seed(ts.TimeLeft, true)

	// A new timer start opens a new judging instance.
	c.guard.Arm()
}

func (c *Client) onTimerUpdate(ev *protocol.Event) {
	var u protocol.TimerUpdate
	if err := json.Unmarshal(ev.Data, &u); err != nil {
		log.Warn().Err(err).Msg("malformed timer-update payload")
		return
	}
	c.mirror.ApplyTimerUpdate(u)
	c.timer.Seed(u.TimeLeft, u.TimerActive)
	if u.DebateEnded {
		c.onAuthoritativeEnd()
	}
}

func (c *Client) onDebateEnded(ev *protocol.Event) {
	c.mirror.ApplyDebateEnded()
	c.timer.Seed(0, false)
	c.onAuthoritativeEnd()
}

func (c *Client) onAIResult(ev *protocol.Event) {
	var res protocol.AIResult
	if err := json.Unmarshal(ev.Data, &res); err != nil {
		log.Warn().Err(err).Msg("malformed ai-result payload")
		return
	}
	c.mirror.ApplyAIResult(res)
	c.guard.Disarm()
}

func (c *Client) onTopics(ev *protocol.Event) {
	var t protocol.AvailableTopics
	if err := json.Unmarshal(ev.Data, &t); err != nil {
		log.Warn().Err(err).Msg("malformed available-topics payload")
		return
	}
	c.mu.Lock()
	c.topics = t.Topics
	c.mu.Unlock()
}

func (c *Client) onRoomFull(ev *protocol.Event) {
	c.notify("room is full (maximum 2 participants allowed)")
}

func (c *Client) onError(ev *protocol.Event) {
	var p protocol.ErrorPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return
	}
	c.notify(p.Message)
}

// onStateChange re-joins the current room after a reconnect so the server's
// idempotent rejoin path delivers a fresh snapshot.
func (c *Client) onStateChange(state State) {
	switch state {
	case StateReconnected:
		roomID, userName := c.room()
		if roomID == "" {
			return
		}
		if err := c.Join(roomID, userName); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("rejoin after reconnect failed")
		}
	case StateDisconnected:
		c.notify("disconnected from server, attempting to reconnect")
	case StateFailed:
		c.notify("could not reconnect to server")
	}
}

// onLocalZero handles the local display reaching zero. The client never
// declares the debate over on its own: if the authoritative end is already
// known the judging request fires now, otherwise the display stays frozen
// at zero until the end event arrives.
func (c *Client) onLocalZero() {
	if c.mirror.DebateEnded() {
		c.fireAnalyze()
	}
}

// onAuthoritativeEnd handles the server-declared end of the debate,
// whichever event carried it.
func (c *Client) onAuthoritativeEnd() {
	c.fireAnalyze()
}

// fireAnalyze emits analyze-debate at most once per debate instance. The
// two triggers (local zero-crossing and authoritative end) both funnel
// through the guard, so their race is harmless.
func (c *Client) fireAnalyze() {
	if !c.guard.TryFire() {
		return
	}
	roomID, _ := c.room()
	if roomID == "" {
		return
	}
	log.Info().Str("room_id", roomID).Msg("requesting debate analysis")
	if err := c.session.Emit(protocol.CmdAnalyzeDebate, protocol.AnalyzeDebate{RoomID: roomID}); err != nil {
		log.Warn().Err(err).Msg("failed to request debate analysis")
		c.notify("failed to request debate analysis")
	}
}

func (c *Client) notify(message string) {
	c.mu.Lock()
	fn := c.noticeFn
	c.mu.Unlock()
	if fn != nil {
		fn(message)
	}
}
