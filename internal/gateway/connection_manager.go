package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/clashroom/clashroom/internal/protocol"
)

// Dispatcher routes a parsed client command frame. The gateway stays free of
// room semantics; all validation happens behind this interface.
type Dispatcher interface {
	Dispatch(ctx context.Context, conn *Connection, frame []byte)
}

// ConnectionManager manages WebSocket connections and their room
// subscriptions. It implements room.Broadcaster.
type ConnectionManager struct {
	// Connection pools organized by room ID. A connection is subscribed to
	// at most one room at a time.
	roomConnections map[string]map[*Connection]bool
	// All live connections, subscribed or not.
	conns map[*Connection]bool
	mu    sync.RWMutex

	upgrader   websocket.Upgrader
	config     ConnectionConfig
	dispatcher Dispatcher

	// Event broadcasting
	broadcastCh chan BroadcastMessage

	// Server lifetime context, set by Start; commands dispatched from read
	// pumps inherit it.
	serverCtx context.Context
}

// Connection represents a WebSocket connection to a client.
type Connection struct {
	ID      string
	UserID  string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	// roomID is the room this connection is subscribed to, guarded by the
	// manager mutex. Empty until a create/join command succeeds.
	roomID string

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage represents a message to broadcast to room connections.
type BroadcastMessage struct {
	RoomID string
	Event  *protocol.Event
	UserID string // if set, only send to this user's connections
}

// DefaultConnectionConfig returns default WebSocket configuration. The read
// limit leaves headroom over the audio payload bound for envelope overhead.
func DefaultConnectionConfig(maxAudioBytes int) ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  int64(maxAudioBytes) + 64*1024,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig, dispatcher Dispatcher) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		conns:           make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		dispatcher:  dispatcher,
		broadcastCh: make(chan BroadcastMessage, 256),
		serverCtx:   context.Background(),
	}
}

// Start begins processing broadcast messages until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	cm.serverCtx = ctx
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and starts its
// read/write pumps.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		Conn:        conn,
		Send:        make(chan []byte, 64),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.mu.Lock()
	cm.conns[connection] = true
	cm.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID).
		Msg("WebSocket connection established")

	return nil
}

// Subscribe adds the connection to a room's pool, replacing any previous
// subscription. Used by the dispatcher when a create/join command succeeds.
func (cm *ConnectionManager) Subscribe(conn *Connection, roomID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conn.roomID != "" && conn.roomID != roomID {
		cm.removeFromPoolLocked(conn)
	}
	if cm.roomConnections[roomID] == nil {
		cm.roomConnections[roomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[roomID][conn] = true
	conn.roomID = roomID

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", roomID).
		Int("total_connections", len(cm.roomConnections[roomID])).
		Msg("connection subscribed to room")
}

// roomOf returns the room the connection is currently subscribed to, or the
// empty string.
func (cm *ConnectionManager) roomOf(conn *Connection) string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return conn.roomID
}

// Unsubscribe removes the connection from its room pool without closing it.
func (cm *ConnectionManager) Unsubscribe(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.removeFromPoolLocked(conn)
}

func (cm *ConnectionManager) removeFromPoolLocked(conn *Connection) {
	if conn.roomID == "" {
		return
	}
	if pool, exists := cm.roomConnections[conn.roomID]; exists {
		delete(pool, conn)
		if len(pool) == 0 {
			delete(cm.roomConnections, conn.roomID)
		}
	}
	conn.roomID = ""
}

// unregisterConnection tears a connection down entirely.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.conns[conn] {
		return
	}
	delete(cm.conns, conn)
	cm.removeFromPoolLocked(conn)
	close(conn.Send)

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Msg("connection unregistered")
}

// BroadcastToRoom sends an event to all connections subscribed to a room.
func (cm *ConnectionManager) BroadcastToRoom(roomID string, event *protocol.Event) {
	select {
	case cm.broadcastCh <- BroadcastMessage{RoomID: roomID, Event: event}:
	default:
		log.Warn().Str("room_id", roomID).Msg("broadcast channel full, dropping message")
	}
}

// SendToUser sends an event only to a given participant's connections in a
// room. Error conditions and rejoin snapshots use this path so they never
// reach the other participant.
func (cm *ConnectionManager) SendToUser(roomID, userID string, event *protocol.Event) {
	select {
	case cm.broadcastCh <- BroadcastMessage{RoomID: roomID, Event: event, UserID: userID}:
	default:
		log.Warn().
			Str("room_id", roomID).
			Str("user_id", userID).
			Msg("broadcast channel full, dropping user message")
	}
}

// handleBroadcast processes a broadcast message. Sends happen under the read
// lock: they never block, and closing a send channel needs the write lock, so
// a pump tearing its connection down cannot close a channel mid-send.
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	cm.mu.RLock()
	pool, exists := cm.roomConnections[message.RoomID]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	sent := 0
	var slow []*Connection
	for conn := range pool {
		if message.UserID != "" && conn.UserID != message.UserID {
			continue
		}
		select {
		case conn.Send <- eventData:
			sent++
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	// Slow-connection teardown needs the write lock, so it waits until the
	// sends are done.
	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("user_id", conn.UserID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("room_id", message.RoomID).
		Int("connections", sent).
		Msg("event broadcasted")
}

// sendDirect marshals an event straight onto one connection's send channel,
// bypassing room pools. Used for replies to a connection that is not (or no
// longer) subscribed to any room. The registration check and the send share
// the read lock so an unregister cannot close the channel in between.
func (cm *ConnectionManager) sendDirect(conn *Connection, event *protocol.Event) {
	eventData, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal direct event")
		return
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if !cm.conns[conn] {
		return
	}
	select {
	case conn.Send <- eventData:
	default:
		log.Warn().Str("connection_id", conn.ID).Msg("send buffer full, dropping direct event")
	}
}

// Stats returns statistics about active room subscriptions.
func (cm *ConnectionManager) Stats() map[string]any {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	totalConnections := 0
	for _, pool := range cm.roomConnections {
		totalConnections += len(pool)
	}

	return map[string]any{
		"total_connections": totalConnections,
		"active_rooms":      len(cm.roomConnections),
	}
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump reads command frames from the WebSocket connection and hands them
// to the dispatcher.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.Manager.dispatcher.Dispatch(c.Manager.serverCtx, c, frame)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
