package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tags a decoded upstream event.
type Kind string

const (
	KindText        Kind = "text"
	KindToolCall    Kind = "tool_call"
	KindToolResult  Kind = "tool_result"
	KindChatCreated Kind = "chat_created"
	KindFinish      Kind = "finish"
	KindMetadata    Kind = "metadata"
)

var prefixKinds = map[byte]Kind{
	'0': KindText,
	'9': KindToolCall,
	'a': KindToolResult,
	'2': KindChatCreated,
	'e': KindFinish,
	'd': KindFinish,
	'f': KindMetadata,
}

// Event is one unit of the upstream stream.
//
// Only KindText events carry Text. Raw holds the payload after the "X:" tag for
// every kind. Err is set on synthetic text events the relay produces in place of
// an upstream answer (status or transport failures).
type Event struct {
	Kind   Kind
	Prefix byte
	Text   string
	Raw    string
	Err    error
}

// TextEvent builds a text fragment event.
func TextEvent(text string) Event {
	return Event{Kind: KindText, Prefix: '0', Text: text, Raw: text}
}

// ErrorTextEvent builds a synthetic text fragment explaining err.
func ErrorTextEvent(text string, err error) Event {
	ev := TextEvent(text)
	ev.Err = err
	return ev
}

// EventHandler receives events in arrival order. Returning an error stops the stream.
type EventHandler func(Event) error

// Decoder turns raw transport chunks into events.
type Decoder interface {
	Feed(chunk []byte) []Event
	Flush() ([]Event, error)
}

var ErrIncompleteFrame = errors.New("incomplete protocol frame")

// ParseError reports bytes left without a terminating newline at end of stream.
type ParseError struct {
	Pending int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %d trailing bytes", ErrIncompleteFrame, e.Pending)
}

func (e *ParseError) Unwrap() error { return ErrIncompleteFrame }

// EncodeText renders text as a complete "0:" line.
func EncodeText(text string) string {
	b, _ := json.Marshal(text)
	return "0:" + string(b) + "\n"
}
