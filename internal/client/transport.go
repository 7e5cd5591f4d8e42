package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/clashroom/clashroom/internal/protocol"
)

var (
	// ErrNotConnected is returned when emitting without a live connection.
	ErrNotConnected = errors.New("transport session not connected")
	// ErrSessionClosed is returned after an explicit Disconnect.
	ErrSessionClosed = errors.New("transport session closed")
)

// State describes the transport session lifecycle as seen by subscribers.
type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected" // transient, retrying
	StateReconnected  State = "reconnected"
	StateFailed       State = "failed" // retries exhausted
)

// SessionOptions configures reconnection behavior. The zero value gets the
// defaults: 5 attempts, 1 s initial delay doubling to a 5 s ceiling.
type SessionOptions struct {
	MaxRetries       int
	RetryDelay       time.Duration
	RetryDelayMax    time.Duration
	HandshakeTimeout time.Duration
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.MaxRetries == 0 {
		o.MaxRetries = 5
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
	if o.RetryDelayMax == 0 {
		o.RetryDelayMax = 5 * time.Second
	}
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = 20 * time.Second
	}
	return o
}

// backoffDelay returns the delay before the given 1-based retry attempt:
// doubling from RetryDelay, capped at RetryDelayMax.
func (o SessionOptions) backoffDelay(attempt int) time.Duration {
	d := o.RetryDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= o.RetryDelayMax {
			return o.RetryDelayMax
		}
	}
	if d > o.RetryDelayMax {
		return o.RetryDelayMax
	}
	return d
}

// Subscription is a scoped handle to a registered handler. Unsubscribing
// affects only this handler; other subscribers are untouched.
type Subscription struct {
	cancel func()
	once   sync.Once
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// EventHandler consumes a server event.
type EventHandler func(ev *protocol.Event)

// StateHandler consumes a transport state change.
type StateHandler func(state State)

// Session is the process-wide reconnecting event channel to one logical
// server. Handlers registered with On survive reconnects and are never
// invoked twice for one event: registration is scoped to the session, not
// to an underlying connection.
type Session struct {
	url  string
	opts SessionOptions

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	reconnecting bool
	closed       bool

	nextSubID     int
	handlers      map[protocol.EventType]map[int]EventHandler
	stateHandlers map[int]StateHandler
}

// NewSession creates a session for the given websocket URL. No connection is
// made until Connect.
func NewSession(url string, opts SessionOptions) *Session {
	return &Session{
		url:           url,
		opts:          opts.withDefaults(),
		handlers:      make(map[protocol.EventType]map[int]EventHandler),
		stateHandlers: make(map[int]StateHandler),
	}
}

// Connect dials the server and starts the read loop. Calling Connect on a
// live session, or while the automatic retry loop is in flight, is a no-op;
// there is exactly one underlying connection per session. After an explicit
// Disconnect the session cannot be revived.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.connected || s.reconnecting {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrSessionClosed
	}
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	s.notifyState(StateConnected)
	go s.readLoop(ctx, conn)
	return nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// On registers a handler for an event type and returns its subscription
// handle. Registering after a reconnect is unnecessary; handlers persist.
func (s *Session) On(typ protocol.EventType, fn EventHandler) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	if s.handlers[typ] == nil {
		s.handlers[typ] = make(map[int]EventHandler)
	}
	s.handlers[typ][id] = fn
	return &Subscription{cancel: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers[typ], id)
	}}
}

// OnStateChange registers a handler for transport state transitions.
func (s *Session) OnStateChange(fn StateHandler) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.stateHandlers[id] = fn
	return &Subscription{cancel: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.stateHandlers, id)
	}}
}

// Emit sends a command. Fire-and-forget: success is implied by the eventual
// broadcast event, not by an acknowledgment. Failure to submit is a local
// error without retry.
func (s *Session) Emit(typ protocol.CommandType, payload any) error {
	cmd, err := protocol.NewCommand(typ, payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if !s.connected || s.conn == nil {
		return ErrNotConnected
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// Disconnect closes the session for good. No automatic retry follows a
// client-initiated disconnect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.closed = true
	s.connected = false
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// readLoop reads events until the connection drops, then hands off to the
// reconnect loop unless the drop was client-initiated.
func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.connected = false
			s.conn = nil
			if !closed && ctx.Err() == nil {
				s.reconnecting = true
			}
			s.mu.Unlock()

			if closed || ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("transport connection lost, reconnecting")
			s.notifyState(StateDisconnected)
			s.reconnect(ctx)
			return
		}

		var ev protocol.Event
		if err := json.Unmarshal(frame, &ev); err != nil {
			log.Warn().Err(err).Msg("discarding malformed event frame")
			continue
		}
		s.dispatch(&ev)
	}
}

// reconnect retries the dial with doubling backoff up to the attempt bound.
// Exhaustion is surfaced as StateFailed; local state is retained so a later
// manual Connect can still reconcile via snapshot. While the loop runs the
// reconnecting flag keeps manual Connect calls from racing in a second
// connection.
func (s *Session) reconnect(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.opts.backoffDelay(attempt)):
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		conn, err := s.dial(ctx)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conn = conn
		s.connected = true
		s.mu.Unlock()

		log.Info().Int("attempt", attempt).Msg("transport reconnected")
		s.notifyState(StateReconnected)
		go s.readLoop(ctx, conn)
		return
	}

	log.Error().Int("attempts", s.opts.MaxRetries).Msg("reconnect attempts exhausted")
	s.notifyState(StateFailed)
}

// dispatch fans an event out to the handlers registered for its type.
// Handlers are copied out under the lock and invoked outside it.
func (s *Session) dispatch(ev *protocol.Event) {
	s.mu.Lock()
	fns := make([]EventHandler, 0, len(s.handlers[ev.Type]))
	for _, fn := range s.handlers[ev.Type] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (s *Session) notifyState(state State) {
	s.mu.Lock()
	fns := make([]StateHandler, 0, len(s.stateHandlers))
	for _, fn := range s.stateHandlers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
