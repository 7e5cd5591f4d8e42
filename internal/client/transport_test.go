package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clashroom/clashroom/internal/protocol"
)

func TestBackoffDelaySchedule(t *testing.T) {
	opts := SessionOptions{}.withDefaults()

	// Doubling from 1 s, capped at 5 s.
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}
	for i, w := range want {
		if got := opts.backoffDelay(i + 1); got != w {
			t.Errorf("attempt %d delay = %v, want %v", i+1, got, w)
		}
	}
}

func TestSessionOptionsDefaults(t *testing.T) {
	opts := SessionOptions{}.withDefaults()
	if opts.MaxRetries != 5 || opts.RetryDelay != time.Second || opts.RetryDelayMax != 5*time.Second {
		t.Errorf("defaults = %+v", opts)
	}
}

func TestSubscriptionScoping(t *testing.T) {
	s := NewSession("ws://unused", SessionOptions{})

	var first, second int
	sub := s.On(protocol.EventNewMessage, func(ev *protocol.Event) { first++ })
	s.On(protocol.EventNewMessage, func(ev *protocol.Event) { second++ })

	s.dispatch(&protocol.Event{Type: protocol.EventNewMessage})
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent
	s.dispatch(&protocol.Event{Type: protocol.EventNewMessage})

	if first != 1 {
		t.Errorf("unsubscribed handler called %d times, want 1", first)
	}
	if second != 2 {
		t.Errorf("remaining handler called %d times, want 2", second)
	}
}

func TestEmitWithoutConnection(t *testing.T) {
	s := NewSession("ws://unused", SessionOptions{})
	if err := s.Emit(protocol.CmdGetTopics, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}

	s.Disconnect()
	if err := s.Emit(protocol.CmdGetTopics, nil); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("after Disconnect: got %v, want ErrSessionClosed", err)
	}
}

// echoServer upgrades every request, greets the client with one event and
// then reads until the connection drops. Accepted connections are handed to
// the test so it can force server-side drops.
func echoServer(t *testing.T) (*httptest.Server, chan *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ev, _ := protocol.NewEvent("r1", protocol.EventNewMessage,
			protocol.Message{ID: "hello", Text: "hello"})
		if err := conn.WriteJSON(ev); err != nil {
			conn.Close()
			return
		}
		conns <- conn
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func awaitState(t *testing.T, states <-chan State, want State) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-states:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func TestSessionReconnectsAfterServerDrop(t *testing.T) {
	srv, conns := echoServer(t)

	s := NewSession(wsURL(srv), SessionOptions{
		MaxRetries:    5,
		RetryDelay:    10 * time.Millisecond,
		RetryDelayMax: 20 * time.Millisecond,
	})
	events := make(chan *protocol.Event, 8)
	states := make(chan State, 8)
	s.On(protocol.EventNewMessage, func(ev *protocol.Event) { events <- ev })
	s.OnStateChange(func(st State) { states <- st })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	awaitState(t, states, StateConnected)

	select {
	case <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("greeting event never arrived")
	}

	// Server-side drop triggers the automatic retry path.
	first := <-conns
	first.Close()
	awaitState(t, states, StateDisconnected)
	awaitState(t, states, StateReconnected)

	// The new connection delivers events through the same registered
	// handlers.
	select {
	case <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("no event after reconnect")
	}

	s.Disconnect()
	if err := s.Emit(protocol.CmdGetTopics, nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("after Disconnect: got %v, want ErrSessionClosed", err)
	}
}

func TestConnectDuringReconnectIsNoOp(t *testing.T) {
	// Nothing listens on this address; a dial attempt would fail loudly.
	s := NewSession("ws://127.0.0.1:1", SessionOptions{})
	s.mu.Lock()
	s.reconnecting = true
	s.mu.Unlock()

	// A manual Connect while the retry loop is in flight must not dial a
	// second connection.
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect during reconnect: %v", err)
	}
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if connected {
		t.Error("Connect raced a second connection in during reconnect")
	}
}

func TestReconnectClearsRetryFlag(t *testing.T) {
	srv, conns := echoServer(t)

	s := NewSession(wsURL(srv), SessionOptions{
		MaxRetries:    5,
		RetryDelay:    10 * time.Millisecond,
		RetryDelayMax: 20 * time.Millisecond,
	})
	states := make(chan State, 8)
	s.OnStateChange(func(st State) { states <- st })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	first := <-conns
	first.Close()
	awaitState(t, states, StateReconnected)

	deadline := time.Now().Add(5 * time.Second)
	for {
		s.mu.Lock()
		reconnecting := s.reconnecting
		s.mu.Unlock()
		if !reconnecting {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("retry flag still set after successful reconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.Disconnect()
}

func TestSessionConnectIsIdempotent(t *testing.T) {
	srv, conns := echoServer(t)

	s := NewSession(wsURL(srv), SessionOptions{RetryDelay: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	select {
	case <-conns:
	case <-time.After(5 * time.Second):
		t.Fatal("server saw no connection")
	}
	select {
	case extra := <-conns:
		extra.Close()
		t.Fatal("second Connect dialed a second connection")
	case <-time.After(100 * time.Millisecond):
	}
	s.Disconnect()
}
