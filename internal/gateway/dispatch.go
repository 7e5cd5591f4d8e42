package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/clashroom/clashroom/internal/protocol"
	"github.com/clashroom/clashroom/internal/room"
)

// CommandDispatcher parses client command frames and applies them to the
// room registry. Rejections are reported only to the originating connection
// and never alter the broadcast room state.
type CommandDispatcher struct {
	registry *room.Registry
	manager  *ConnectionManager
}

// NewCommandDispatcher creates a dispatcher. The registry and manager
// references are bound by the gateway service after construction because the
// manager itself needs the dispatcher for its read pumps.
func NewCommandDispatcher(registry *room.Registry) *CommandDispatcher {
	return &CommandDispatcher{registry: registry}
}

func (d *CommandDispatcher) bind(manager *ConnectionManager) {
	d.manager = manager
}

// Dispatch implements Dispatcher.
func (d *CommandDispatcher) Dispatch(ctx context.Context, conn *Connection, frame []byte) {
	var cmd protocol.Command
	if err := json.Unmarshal(frame, &cmd); err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", conn.ID).
			Msg("discarding malformed command frame")
		d.errorTo(conn, "malformed command")
		return
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Str("command", string(cmd.Type)).
		Msg("dispatching command")

	switch cmd.Type {
	case protocol.CmdGetTopics:
		d.handleGetTopics(conn)
	case protocol.CmdCreateRoom:
		d.handleCreateRoom(conn, cmd.Data)
	case protocol.CmdJoinRoom:
		d.handleJoinRoom(conn, cmd.Data)
	case protocol.CmdStartTimer:
		d.handleStartTimer(ctx, conn, cmd.Data)
	case protocol.CmdSendMessage:
		d.handleSendMessage(conn, cmd.Data)
	case protocol.CmdSendAudio:
		d.handleSendAudio(conn, cmd.Data)
	case protocol.CmdAnalyzeDebate:
		d.handleAnalyzeDebate(ctx, conn, cmd.Data)
	case protocol.CmdLeaveRoom:
		d.handleLeaveRoom(conn, cmd.Data)
	default:
		d.errorTo(conn, "unknown command: "+string(cmd.Type))
	}
}

func (d *CommandDispatcher) handleGetTopics(conn *Connection) {
	ev, err := protocol.NewEvent("", protocol.EventAvailableTopics,
		protocol.AvailableTopics{Topics: d.registry.Topics()})
	if err != nil {
		log.Error().Err(err).Msg("failed to build topics event")
		return
	}
	d.manager.sendDirect(conn, ev)
}

func (d *CommandDispatcher) handleCreateRoom(conn *Connection, data json.RawMessage) {
	var p protocol.CreateRoom
	if err := json.Unmarshal(data, &p); err != nil {
		d.errorTo(conn, "malformed create-room payload")
		return
	}
	// Subscribe first so the creator's snapshot reaches this connection.
	prev := d.manager.roomOf(conn)
	d.manager.Subscribe(conn, p.RoomID)
	if err := d.registry.Create(p.RoomID, p.Topic, p.UserID, p.UserName, p.TimerDuration); err != nil {
		d.restoreSubscription(conn, prev, p.RoomID)
		d.reject(conn, err)
	}
}

func (d *CommandDispatcher) handleJoinRoom(conn *Connection, data json.RawMessage) {
	var p protocol.JoinRoom
	if err := json.Unmarshal(data, &p); err != nil {
		d.errorTo(conn, "malformed join-room payload")
		return
	}
	prev := d.manager.roomOf(conn)
	d.manager.Subscribe(conn, p.RoomID)
	if err := d.registry.Join(p.RoomID, p.UserID, p.UserName); err != nil {
		d.restoreSubscription(conn, prev, p.RoomID)
		d.reject(conn, err)
	}
}

// restoreSubscription undoes the optimistic subscribe after a rejected
// create/join. A connection that was following another room keeps following
// it; the rejection must not cut a member off from their current room.
func (d *CommandDispatcher) restoreSubscription(conn *Connection, prev, attempted string) {
	if prev != "" && prev != attempted {
		d.manager.Subscribe(conn, prev)
		return
	}
	d.manager.Unsubscribe(conn)
}

func (d *CommandDispatcher) handleStartTimer(ctx context.Context, conn *Connection, data json.RawMessage) {
	var p protocol.StartTimer
	if err := json.Unmarshal(data, &p); err != nil {
		d.errorTo(conn, "malformed start-timer payload")
		return
	}
	if err := d.registry.StartTimer(ctx, p.RoomID, p.UserID); err != nil {
		d.reject(conn, err)
	}
}

func (d *CommandDispatcher) handleSendMessage(conn *Connection, data json.RawMessage) {
	var p protocol.SendMessage
	if err := json.Unmarshal(data, &p); err != nil {
		d.errorTo(conn, "malformed send-message payload")
		return
	}
	if err := d.registry.SendMessage(p.RoomID, p.UserID, p.UserName, p.Text); err != nil {
		d.reject(conn, err)
	}
}

func (d *CommandDispatcher) handleSendAudio(conn *Connection, data json.RawMessage) {
	var p protocol.SendAudio
	if err := json.Unmarshal(data, &p); err != nil {
		d.errorTo(conn, "malformed send-audio payload")
		return
	}
	if err := d.registry.SendAudio(p.RoomID, p.UserID, p.UserName, p.Audio); err != nil {
		d.reject(conn, err)
	}
}

func (d *CommandDispatcher) handleAnalyzeDebate(ctx context.Context, conn *Connection, data json.RawMessage) {
	var p protocol.AnalyzeDebate
	if err := json.Unmarshal(data, &p); err != nil {
		d.errorTo(conn, "malformed analyze-debate payload")
		return
	}
	if err := d.registry.Analyze(ctx, p.RoomID); err != nil {
		d.reject(conn, err)
	}
}

func (d *CommandDispatcher) handleLeaveRoom(conn *Connection, data json.RawMessage) {
	var p protocol.LeaveRoom
	if err := json.Unmarshal(data, &p); err != nil {
		d.errorTo(conn, "malformed leave-room payload")
		return
	}
	if err := d.registry.Leave(p.RoomID, p.UserID); err != nil {
		d.reject(conn, err)
		return
	}
	d.manager.Unsubscribe(conn)
}

// reject maps a registry error onto the wire. Room-full gets its dedicated
// event; everything else is a plain error with the sentinel's message.
func (d *CommandDispatcher) reject(conn *Connection, err error) {
	if errors.Is(err, room.ErrRoomFull) {
		ev, buildErr := protocol.NewEvent("", protocol.EventRoomFull, nil)
		if buildErr != nil {
			return
		}
		d.manager.sendDirect(conn, ev)
		return
	}
	d.errorTo(conn, err.Error())
}

func (d *CommandDispatcher) errorTo(conn *Connection, message string) {
	ev, err := protocol.NewEvent("", protocol.EventError, protocol.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	d.manager.sendDirect(conn, ev)
}
