// Package model defines data structures for the assistant's decision engine.
package model

import (
	"time"
)

// Status is the lifecycle status of a conversation.
type Status string

const (
	StatusActive         Status = "active"
	StatusWaitingForUser Status = "waiting_for_user"
	StatusCompleted      Status = "completed"
	StatusAbandoned      Status = "abandoned"
)

// Step is the position of a conversation inside the turn state machine.
type Step string

const (
	StepInitial           Step = "initial"
	StepClarifying        Step = "clarifying"
	StepConfirming        Step = "confirming"
	StepExecuting         Step = "executing"
	StepResolvingConflict Step = "resolving_conflict"
)

// ExtractedData is the progressively filled command assembled across turns.
type ExtractedData struct {
	Kind            ActionKind         `json:"kind,omitempty"`
	Title           string             `json:"title,omitempty"`
	Description     string             `json:"description,omitempty"`
	Date            string             `json:"date,omitempty"` // 2006-01-02
	Time            string             `json:"time,omitempty"` // 15:04
	DurationMinutes int                `json:"duration_minutes,omitempty"`
	Recurrence      *RecurrencePattern `json:"recurrence,omitempty"`
	Priority        string             `json:"priority,omitempty"`
	Urgency         string             `json:"urgency,omitempty"`
	CategoryID      string             `json:"category_id,omitempty"`
	ListIDs         []string           `json:"list_ids,omitempty"`
}

// Clone returns a copy that shares no slices with d. Recurrence patterns are
// immutable once attached and are shared.
func (d ExtractedData) Clone() ExtractedData {
	if d.ListIDs != nil {
		d.ListIDs = append([]string(nil), d.ListIDs...)
	}
	return d
}

// ConversationState is the full state of one dialog.
type ConversationState struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Status      Status `json:"status"`
	CurrentStep Step   `json:"current_step"`

	ExtractedData  ExtractedData         `json:"extracted_data"`
	PendingFields  []MissingField        `json:"pending_fields,omitempty"`
	PendingOptions []ClarificationOption `json:"pending_options,omitempty"`
	ConflictInfo   *Conflict             `json:"conflict_info,omitempty"`
	ExecutedAction *ExecutedAction       `json:"executed_action,omitempty"`

	Messages []Message `json:"messages"`

	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	TimeoutAt      time.Time  `json:"timeout_at"`
	RetainUntil    *time.Time `json:"retain_until,omitempty"`
}

// Deadline is the instant after which the state is dead: the idle timeout,
// or the end of the read-back window for completed conversations.
func (s *ConversationState) Deadline() time.Time {
	if s.RetainUntil != nil && s.RetainUntil.Before(s.TimeoutAt) {
		return *s.RetainUntil
	}
	return s.TimeoutAt
}

// Expired reports whether the state is logically dead at now, regardless of
// its stored status.
func (s *ConversationState) Expired(now time.Time) bool {
	return now.After(s.Deadline())
}

// Clone performs a deep copy of slices and pointers owned by the state.
func (s *ConversationState) Clone() *ConversationState {
	c := *s
	c.ExtractedData = s.ExtractedData.Clone()
	c.PendingFields = append([]MissingField(nil), s.PendingFields...)
	c.PendingOptions = append([]ClarificationOption(nil), s.PendingOptions...)
	c.Messages = append([]Message(nil), s.Messages...)
	if s.ConflictInfo != nil {
		ci := s.ConflictInfo.Clone()
		c.ConflictInfo = &ci
	}
	if s.ExecutedAction != nil {
		ea := *s.ExecutedAction
		c.ExecutedAction = &ea
	}
	if s.RetainUntil != nil {
		ru := *s.RetainUntil
		c.RetainUntil = &ru
	}
	return &c
}

// ClarificationOption is a choice offered alongside a clarification question.
type ClarificationOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}
