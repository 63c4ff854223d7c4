package model

import (
	"fmt"
	"time"
)

// ActionKind discriminates the ParsedAction variants.
type ActionKind string

const (
	ActionCreateTask             ActionKind = "create_task"
	ActionCreateEvent            ActionKind = "create_event"
	ActionCreateStructuredIntent ActionKind = "create_structured_intent"
	ActionClarificationRequired  ActionKind = "clarification_required"
)

// MissingField names a piece of information the assistant still needs.
type MissingField int

const (
	FieldTitle MissingField = iota
	FieldDate
	FieldTime
	FieldDuration
	FieldCategory
	FieldList

	// NumMissingFields is the number of MissingField values. Tables indexed by
	// MissingField use it to assert they are exhaustive.
	NumMissingFields = iota
)

var missingFieldNames = [...]string{
	FieldTitle:    "title",
	FieldDate:     "date",
	FieldTime:     "time",
	FieldDuration: "duration",
	FieldCategory: "category",
	FieldList:     "list",
}

var _ = [1]struct{}{}[len(missingFieldNames)-NumMissingFields]

func (f MissingField) String() string {
	if f < 0 || int(f) >= len(missingFieldNames) {
		return fmt.Sprintf("MissingField(%d)", int(f))
	}
	return missingFieldNames[f]
}

// ParseMissingField maps a wire name such as "title" to its MissingField.
// "board" is accepted as a synonym for "list" and "life_area" for "category".
func ParseMissingField(name string) (MissingField, bool) {
	switch name {
	case "board":
		return FieldList, true
	case "life_area", "lifeArea":
		return FieldCategory, true
	}
	for i, n := range missingFieldNames {
		if n == name {
			return MissingField(i), true
		}
	}
	return 0, false
}

// MarshalText implements encoding.TextMarshaler.
func (f MissingField) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *MissingField) UnmarshalText(text []byte) error {
	v, ok := ParseMissingField(string(text))
	if !ok {
		return fmt.Errorf("unknown missing field %q", text)
	}
	*f = v
	return nil
}

// ParseMeta is carried by every ParsedAction variant.
type ParseMeta struct {
	Confident bool                  `json:"confident"`
	Missing   []MissingField        `json:"missing,omitempty"`
	Question  string                `json:"question,omitempty"`
	Options   []ClarificationOption `json:"options,omitempty"`
}

// Meta returns the parse metadata.
func (m ParseMeta) Meta() ParseMeta { return m }

// ParsedAction is the NLU result: exactly one of CreateTask, CreateEvent,
// CreateStructuredIntent or ClarificationRequired.
type ParsedAction interface {
	Kind() ActionKind
	Meta() ParseMeta
	// Apply merges the variant's non-empty fields into data, overwriting
	// same-named values.
	Apply(data *ExtractedData)
	isParsedAction()
}

// CreateTask asks for a task to be added to a list.
type CreateTask struct {
	ParseMeta
	Title           string
	Description     string
	DueDate         string
	DueTime         string
	DurationMinutes int
	Priority        string
	Urgency         string
	ListID          string
}

// CreateEvent asks for a calendar event.
type CreateEvent struct {
	ParseMeta
	Title           string
	Description     string
	Date            string
	Time            string
	DurationMinutes int
	Recurrence      *RecurrencePattern
}

// CreateStructuredIntent files an intent under a life area and board.
type CreateStructuredIntent struct {
	ParseMeta
	Title       string
	Description string
	CategoryID  string
	ListIDs     []string
	Priority    string
	Urgency     string
}

// ClarificationRequired is returned when the NLU could not settle on an action.
type ClarificationRequired struct {
	ParseMeta
}

func (CreateTask) Kind() ActionKind             { return ActionCreateTask }
func (CreateEvent) Kind() ActionKind            { return ActionCreateEvent }
func (CreateStructuredIntent) Kind() ActionKind { return ActionCreateStructuredIntent }
func (ClarificationRequired) Kind() ActionKind  { return ActionClarificationRequired }

func (CreateTask) isParsedAction()             {}
func (CreateEvent) isParsedAction()            {}
func (CreateStructuredIntent) isParsedAction() {}
func (ClarificationRequired) isParsedAction()  {}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (a CreateTask) Apply(d *ExtractedData) {
	d.Kind = ActionCreateTask
	setString(&d.Title, a.Title)
	setString(&d.Description, a.Description)
	setString(&d.Date, a.DueDate)
	setString(&d.Time, a.DueTime)
	setString(&d.Priority, a.Priority)
	setString(&d.Urgency, a.Urgency)
	if a.DurationMinutes > 0 {
		d.DurationMinutes = a.DurationMinutes
	}
	if a.ListID != "" {
		d.ListIDs = []string{a.ListID}
	}
}

func (a CreateEvent) Apply(d *ExtractedData) {
	d.Kind = ActionCreateEvent
	setString(&d.Title, a.Title)
	setString(&d.Description, a.Description)
	setString(&d.Date, a.Date)
	setString(&d.Time, a.Time)
	if a.DurationMinutes > 0 {
		d.DurationMinutes = a.DurationMinutes
	}
	if a.Recurrence != nil {
		d.Recurrence = a.Recurrence
	}
}

func (a CreateStructuredIntent) Apply(d *ExtractedData) {
	d.Kind = ActionCreateStructuredIntent
	setString(&d.Title, a.Title)
	setString(&d.Description, a.Description)
	setString(&d.CategoryID, a.CategoryID)
	setString(&d.Priority, a.Priority)
	setString(&d.Urgency, a.Urgency)
	if len(a.ListIDs) > 0 {
		d.ListIDs = append([]string(nil), a.ListIDs...)
	}
}

// Apply leaves the data untouched; a clarification carries no fields.
func (ClarificationRequired) Apply(*ExtractedData) {}

// Action rebuilds the variant described by the accumulated data, carrying the
// latest parse metadata. Data without a kind yields ClarificationRequired.
func (d ExtractedData) Action(meta ParseMeta) ParsedAction {
	switch d.Kind {
	case ActionCreateTask:
		t := CreateTask{
			ParseMeta:       meta,
			Title:           d.Title,
			Description:     d.Description,
			DueDate:         d.Date,
			DueTime:         d.Time,
			DurationMinutes: d.DurationMinutes,
			Priority:        d.Priority,
			Urgency:         d.Urgency,
		}
		if len(d.ListIDs) > 0 {
			t.ListID = d.ListIDs[0]
		}
		return t
	case ActionCreateEvent:
		return CreateEvent{
			ParseMeta:       meta,
			Title:           d.Title,
			Description:     d.Description,
			Date:            d.Date,
			Time:            d.Time,
			DurationMinutes: d.DurationMinutes,
			Recurrence:      d.Recurrence,
		}
	case ActionCreateStructuredIntent:
		return CreateStructuredIntent{
			ParseMeta:   meta,
			Title:       d.Title,
			Description: d.Description,
			CategoryID:  d.CategoryID,
			ListIDs:     append([]string(nil), d.ListIDs...),
			Priority:    d.Priority,
			Urgency:     d.Urgency,
		}
	default:
		return ClarificationRequired{ParseMeta: meta}
	}
}

// ResolvedAction is a complete command handed to the executor.
type ResolvedAction struct {
	Kind            ActionKind         `json:"kind"`
	Title           string             `json:"title"`
	Description     string             `json:"description,omitempty"`
	Start           *time.Time         `json:"start,omitempty"`
	End             *time.Time         `json:"end,omitempty"`
	DueDate         string             `json:"due_date,omitempty"`
	DurationMinutes int                `json:"duration_minutes,omitempty"`
	Recurrence      *RecurrencePattern `json:"recurrence,omitempty"`
	Priority        string             `json:"priority,omitempty"`
	Urgency         string             `json:"urgency,omitempty"`
	CategoryID      string             `json:"category_id,omitempty"`
	ListIDs         []string           `json:"list_ids,omitempty"`
}

// ExecutedAction identifies what the executor created.
type ExecutedAction struct {
	Kind       ActionKind `json:"kind"`
	ID         string     `json:"id"`
	Provider   string     `json:"provider"`
	Title      string     `json:"title"`
	Start      *time.Time `json:"start,omitempty"`
	End        *time.Time `json:"end,omitempty"`
	ExecutedAt time.Time  `json:"executed_at"`
}
