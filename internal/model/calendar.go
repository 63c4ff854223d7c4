package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// Frequency is the repeat unit of a RecurrencePattern.
type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyYearly  Frequency = "YEARLY"
)

// RecurrencePattern describes how an event repeats. It is treated as
// immutable once attached to extracted data.
type RecurrencePattern struct {
	Frequency  Frequency      `json:"frequency"`
	Interval   int            `json:"interval,omitempty"`
	DaysOfWeek []time.Weekday `json:"days_of_week,omitempty"`
	DayOfMonth int            `json:"day_of_month,omitempty"`
	Until      *time.Time     `json:"until,omitempty"`
	Count      int            `json:"count,omitempty"`
}

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

func (p *RecurrencePattern) options(dtstart time.Time) (rrule.ROption, error) {
	opt := rrule.ROption{Dtstart: dtstart, Interval: p.Interval}
	switch p.Frequency {
	case FrequencyDaily:
		opt.Freq = rrule.DAILY
	case FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
	case FrequencyMonthly:
		opt.Freq = rrule.MONTHLY
	case FrequencyYearly:
		opt.Freq = rrule.YEARLY
	default:
		return opt, fmt.Errorf("unsupported frequency %q", p.Frequency)
	}
	if opt.Interval <= 0 {
		opt.Interval = 1
	}
	for _, d := range p.DaysOfWeek {
		opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d])
	}
	if p.DayOfMonth != 0 {
		if p.DayOfMonth < -31 || p.DayOfMonth > 31 {
			return opt, fmt.Errorf("day of month %d out of range", p.DayOfMonth)
		}
		opt.Bymonthday = []int{p.DayOfMonth}
	}
	// UNTIL and COUNT are mutually exclusive; UNTIL wins.
	if p.Until != nil {
		opt.Until = *p.Until
	} else if p.Count > 0 {
		opt.Count = p.Count
	}
	return opt, nil
}

// RRule renders the pattern as an RFC 5545 RRULE value (without the
// "RRULE:" prefix), validating it along the way.
func (p *RecurrencePattern) RRule() (string, error) {
	if p == nil {
		return "", errors.New("nil recurrence pattern")
	}
	opt, err := p.options(time.Time{})
	if err != nil {
		return "", err
	}
	if _, err := rrule.NewRRule(opt); err != nil {
		return "", fmt.Errorf("invalid recurrence: %w", err)
	}
	return opt.RRuleString(), nil
}

// Occurrences expands the pattern anchored at start and returns the
// occurrence start times inside [from, to].
func (p *RecurrencePattern) Occurrences(start, from, to time.Time) ([]time.Time, error) {
	opt, err := p.options(start)
	if err != nil {
		return nil, err
	}
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("invalid recurrence: %w", err)
	}
	return r.Between(from, to, true), nil
}

// TimeSlot is a candidate window. It is computed, never persisted.
type TimeSlot struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Score  float64   `json:"score,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// ConflictEvent is a read-only snapshot of a busy calendar entry.
type ConflictEvent struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	AllDay        bool      `json:"all_day,omitempty"`
	Flexible      bool      `json:"flexible"`
	AttendeeCount int       `json:"attendee_count"`
	Source        string    `json:"source"`
}

// ConflictType classifies a collision.
type ConflictType string

const (
	ConflictHard           ConflictType = "hard_conflict"
	ConflictSoft           ConflictType = "soft_conflict"
	ConflictPartialOverlap ConflictType = "partial_overlap"
	// ConflictAdjacent is reserved for back-to-back events and is not
	// produced by classification.
	ConflictAdjacent   ConflictType = "adjacent"
	ConflictOverbooked ConflictType = "overbooked"
)

// Severity grades how disruptive a conflict is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities low < medium < high.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// RequestedEvent is the snapshot of what the user asked for.
type RequestedEvent struct {
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Conflict is the result of a conflict check that found collisions.
type Conflict struct {
	Type         ConflictType    `json:"type"`
	Severity     Severity        `json:"severity"`
	Requested    RequestedEvent  `json:"requested"`
	Events       []ConflictEvent `json:"events"`
	Alternatives []TimeSlot      `json:"alternatives"`
	Message      string          `json:"message"`
}

// Clone copies the conflict's slices.
func (c Conflict) Clone() Conflict {
	c.Events = append([]ConflictEvent(nil), c.Events...)
	c.Alternatives = append([]TimeSlot(nil), c.Alternatives...)
	return c
}
