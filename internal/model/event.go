package model

import (
	"time"
)

// EventType represents the type of conversation event.
type EventType string

const (
	EventTypeClarification   EventType = "clarification"
	EventTypeConflict        EventType = "conflict"
	EventTypeExecuted        EventType = "executed"
	EventTypeExecutionFailed EventType = "execution_failed"
	EventTypeCancelled       EventType = "cancelled"
	EventTypeAbandoned       EventType = "abandoned"
)

// ConversationEvent records a turn outcome for downstream consumers.
type ConversationEvent struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	Type           EventType      `json:"type"`
	Reason         string         `json:"reason"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Sequence       uint64         `json:"sequence,omitempty"`
}
