package model

// TurnKind is the outcome class of a turn.
type TurnKind string

const (
	TurnClarificationNeeded TurnKind = "clarification_needed"
	TurnConflictDetected    TurnKind = "conflict_detected"
	TurnSuccess             TurnKind = "success"
)

// TurnResult is returned to the API layer for every turn.
type TurnResult struct {
	Kind           TurnKind              `json:"type"`
	ConversationID string                `json:"conversation_id"`
	Message        string                `json:"message"`
	Question       string                `json:"question,omitempty"`
	Options        []ClarificationOption `json:"options,omitempty"`
	Conflict       *Conflict             `json:"conflict,omitempty"`
	Executed       *ExecutedAction       `json:"executed_action,omitempty"`
	// Cancelled marks a success result that ended the request without side
	// effects.
	Cancelled bool `json:"cancelled,omitempty"`
}
