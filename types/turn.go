// Package types provides core types used across the whetstone engine.
// This package has ZERO dependencies on other whetstone packages to avoid
// circular imports. All other packages should import types from here.
package types

import "time"

// Role represents the role of a conversation participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one immutable utterance in a one-on-one dialogue.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// Truncated marks a turn whose generation was cancelled mid-stream.
	Truncated bool `json:"truncated,omitempty"`
}

// NewTurn creates a new turn with the given role and content.
func NewTurn(role Role, content string) Turn {
	return Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserTurn creates a user turn.
func NewUserTurn(content string) Turn {
	return NewTurn(RoleUser, content)
}

// NewAssistantTurn creates an assistant turn.
func NewAssistantTurn(content string) Turn {
	return NewTurn(RoleAssistant, content)
}

// Slot identifies which debate seat produced a DebateTurn.
type Slot string

const (
	SlotA         Slot = "a"
	SlotB         Slot = "b"
	SlotModerator Slot = "moderator"
)

// DebateTurn is one immutable utterance in a Symposium debate.
type DebateTurn struct {
	Slot      Slot      `json:"slot"`
	Speaker   string    `json:"speaker"` // persona display name, or "Moderator"
	Text      string    `json:"text"`
	Index     int       `json:"index"` // 1-based position in the transcript
	Timestamp time.Time `json:"timestamp"`
}

// InterjectTarget selects which debater a moderator interjection addresses.
type InterjectTarget string

const (
	TargetA    InterjectTarget = "a"
	TargetB    InterjectTarget = "b"
	TargetBoth InterjectTarget = "both"
)

// Valid reports whether t is a recognized target.
func (t InterjectTarget) Valid() bool {
	switch t {
	case TargetA, TargetB, TargetBoth:
		return true
	}
	return false
}
