package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeChatRequest MessageType = "chat_request"
	TypeTextChunk   MessageType = "text_chunk"
	TypeTurnEnd     MessageType = "turn_end"
	TypeErrorEvent  MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientChatRequest struct {
	Type     MessageType   `json:"type"`
	TurnID   string        `json:"turn_id,omitempty"`
	Messages []ChatMessage `json:"messages"`
}

type TextChunk struct {
	Type   MessageType `json:"type"`
	TurnID string      `json:"turn_id"`
	Seq    int         `json:"seq"`
	Text   string      `json:"text"`
}

type TurnEnd struct {
	Type   MessageType `json:"type"`
	TurnID string      `json:"turn_id"`
	Reason string      `json:"reason"`
	Chunks int         `json:"chunks"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	TurnID    string      `json:"turn_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatRequest:
		var msg ClientChatRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if err := ValidateMessages(msg.Messages); err != nil {
			return nil, fmt.Errorf("invalid chat_request: %w", err)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
