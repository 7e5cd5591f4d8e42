package protocol

import "encoding/json"

// Command is the envelope for all client-to-server commands.
type Command struct {
	Type CommandType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandType identifies a client-to-server command.
type CommandType string

const (
	CmdGetTopics     CommandType = "get-topics"
	CmdCreateRoom    CommandType = "create-room"
	CmdJoinRoom      CommandType = "join-room"
	CmdStartTimer    CommandType = "start-timer"
	CmdSendMessage   CommandType = "send-message"
	CmdSendAudio     CommandType = "send-audio"
	CmdAnalyzeDebate CommandType = "analyze-debate"
	CmdLeaveRoom     CommandType = "leave-room"
)

// CreateRoom carries the create-room command payload. Topic and timer
// duration are fixed at creation.
type CreateRoom struct {
	RoomID        string `json:"roomId"`
	Topic         string `json:"topic"`
	UserID        string `json:"userId"`
	UserName      string `json:"userName"`
	TimerDuration int    `json:"timerDuration"`
}

// JoinRoom carries the join-room command payload. Joining with an identity
// that is already a member returns the current snapshot instead of erroring.
type JoinRoom struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// StartTimer carries the explicit timer start signal.
type StartTimer struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// SendMessage carries a text argument.
type SendMessage struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Text     string `json:"text"`
}

// SendAudio carries an encoded audio argument.
type SendAudio struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Audio    string `json:"audio"` // base64 data URL
}

// AnalyzeDebate requests the single-shot judging call for a room.
type AnalyzeDebate struct {
	RoomID string `json:"roomId"`
}

// LeaveRoom removes the participant from the room.
type LeaveRoom struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// NewCommand builds a command envelope with the given payload.
func NewCommand(typ CommandType, payload any) (*Command, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return &Command{Type: typ, Data: data}, nil
}
