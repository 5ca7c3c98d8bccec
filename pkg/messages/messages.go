package messages

import (
	"encoding/json"
	"fmt"

	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
)

const (
	// MessageBufferSize represents the maximum size of a decompressed message
	MessageBufferSize = 64 * 1024
)

type MessageType string

// Message types
const (
	// MessageTypeSubscribed acknowledges that the server registered the subscriber
	MessageTypeSubscribed MessageType = "subscribed"
	// MessageTypeChange carries a gametypes.ChangeEvent
	MessageTypeChange MessageType = "change"
	// MessageTypeError carries an ErrorPayload; the server closes the connection after it
	MessageTypeError MessageType = "error"
)

// Message represents a generic message for serialization/deserialization
type Message struct {
	Type    MessageType     `json:"type"`
	GameID  string          `json:"gameID"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func NewSubscribedMessage(gameID string) *Message {
	return &Message{
		Type:   MessageTypeSubscribed,
		GameID: gameID,
	}
}

func NewChangeMessage(event gametypes.ChangeEvent) (*Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change event: %v", err)
	}
	return &Message{
		Type:    MessageTypeChange,
		GameID:  event.GameID(),
		Payload: payload,
	}, nil
}

func NewErrorMessage(gameID string, err error) *Message {
	payload, _ := json.Marshal(ErrorPayload{Message: err.Error()})
	return &Message{
		Type:    MessageTypeError,
		GameID:  gameID,
		Payload: payload,
	}
}

// DecodeChange decodes the payload of a change message.
func (m *Message) DecodeChange() (*gametypes.ChangeEvent, error) {
	if m.Type != MessageTypeChange {
		return nil, fmt.Errorf("message type %s does not carry a change event", m.Type)
	}
	event := &gametypes.ChangeEvent{}
	if err := json.Unmarshal(m.Payload, event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal change event: %v", err)
	}
	return event, nil
}

// DecodeError decodes the payload of an error message.
func (m *Message) DecodeError() (*ErrorPayload, error) {
	if m.Type != MessageTypeError {
		return nil, fmt.Errorf("message type %s does not carry an error", m.Type)
	}
	payload := &ErrorPayload{}
	if err := json.Unmarshal(m.Payload, payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal error payload: %v", err)
	}
	return payload, nil
}
