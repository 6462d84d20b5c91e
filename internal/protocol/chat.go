package protocol

import (
	"errors"
	"fmt"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// ChatMessage is one turn of a conversation. Slices of messages are ordered oldest first.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the JSON body accepted by the proxy and sent upstream.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

var (
	ErrEmptyConversation = errors.New("messages must not be empty")
	ErrUnknownRole       = errors.New("unknown message role")
)

func ValidateMessages(msgs []ChatMessage) error {
	if len(msgs) == 0 {
		return ErrEmptyConversation
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return fmt.Errorf("messages[%d]: %w %q", i, ErrUnknownRole, m.Role)
		}
	}
	return nil
}

// AppendQuery returns a new conversation made of history followed by query as a user turn.
// history is never mutated.
func AppendQuery(history []ChatMessage, query string) []ChatMessage {
	out := make([]ChatMessage, 0, len(history)+1)
	out = append(out, history...)
	return append(out, ChatMessage{Role: RoleUser, Content: query})
}

// LastUserContent returns the content of the newest user message, or "".
func LastUserContent(msgs []ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
