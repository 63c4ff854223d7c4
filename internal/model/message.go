package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a conversation transcript.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Parsed is the NLU result for user messages, when one was produced.
	Parsed     ParsedAction `json:"-"`
	ParsedKind ActionKind   `json:"parsed_kind,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
