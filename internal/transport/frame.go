package transport

import (
	"encoding/json"
	"fmt"

	"github.com/washline/washline/internal/models"
)

// Frame is the wire envelope for every socket event, in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Socket event names shared by the client and the backend.
const (
	// EventJoin registers the connection in its identity room
	EventJoin = "join"

	// EventSendMessage carries an outbound chat message
	EventSendMessage = "sendMessage"

	// EventJoinConversation and EventLeaveConversation manage membership
	// in a conversation room
	EventJoinConversation  = "joinConversation"
	EventLeaveConversation = "leaveConversation"

	// EventReceiveMessage carries an inbound chat message
	EventReceiveMessage = "receiveMessage"
)

// JoinPayload is the data of an EventJoin frame.
type JoinPayload struct {
	UserID   string      `json:"userId"`
	UserType models.Role `json:"userType"`
}

// RoomPayload is the data of join/leave conversation frames.
type RoomPayload struct {
	ConversationID string `json:"conversationId"`
}

// NewFrame builds a frame with the payload marshaled into Data.
func NewFrame(event string, payload interface{}) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s frame: %w", event, err)
	}
	return Frame{Event: event, Data: data}, nil
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v interface{}) error {
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s frame: %w", f.Event, err)
	}
	return nil
}
