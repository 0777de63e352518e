// Package stream defines the ordered event sequence produced by the
// orchestration core and the transports that carry it. Every generation,
// chat or debate, is observed by clients as a finite series of typed
// events: zero or more token events, then either a complete+done pair or a
// single terminal error event. Ordering is strictly FIFO with respect to
// generation order.
package stream

import (
	"github.com/whetstone-ai/whetstone/types"
)

// EventType discriminates stream events on the wire.
type EventType string

const (
	// EventToken carries one generated text fragment.
	EventToken EventType = "token"
	// EventComplete carries the resolved speaker/turn metadata for a
	// finished generation. Always precedes EventDone.
	EventComplete EventType = "complete"
	// EventDone is the last event of every successful stream.
	EventDone EventType = "done"
	// EventError terminates a stream in place of done.
	EventError EventType = "error"
)

// Event is one element of the ordered stream a client consumes.
type Event struct {
	Type EventType `json:"type"`
	// Data holds the token text for token events, a human-readable
	// reason for error events, and "[DONE]" for done events.
	Data string `json:"data,omitempty"`
	// Speaker attributes the event to a persona. Set on every event of a
	// debate turn so attribution is known from the first token.
	Speaker string `json:"speaker,omitempty"`
	// Turn carries the full debate turn record on complete events.
	Turn *types.DebateTurn `json:"turn,omitempty"`
	// ChatTurn carries the committed conversation turn on complete events
	// of a chat stream.
	ChatTurn *types.Turn `json:"chat_turn,omitempty"`
	// Code is set on error events.
	Code types.ErrorCode `json:"code,omitempty"`
}

// DoneData is the payload of every done event.
const DoneData = "[DONE]"

// Token builds a token event attributed to speaker.
func Token(text, speaker string) Event {
	return Event{Type: EventToken, Data: text, Speaker: speaker}
}

// Complete builds a completion metadata event for a debate turn.
func Complete(speaker string, turn *types.DebateTurn) Event {
	return Event{Type: EventComplete, Speaker: speaker, Turn: turn}
}

// CompleteChat builds a completion metadata event for a conversation turn.
func CompleteChat(speaker string, turn *types.Turn) Event {
	return Event{Type: EventComplete, Speaker: speaker, ChatTurn: turn}
}

// Done builds the terminal event of a successful stream.
func Done() Event {
	return Event{Type: EventDone, Data: DoneData}
}

// ErrorEvent builds a terminal error event from a structured error.
func ErrorEvent(err *types.Error) Event {
	return Event{Type: EventError, Data: err.Message, Code: err.Code}
}
