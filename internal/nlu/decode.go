package nlu

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/khanflow/voice-assistant/internal/model"
)

// ErrUnparseable is returned when the model output is not a usable action.
var ErrUnparseable = errors.New("unparseable nlu response")

// wireAction is the JSON object the model is instructed to produce.
type wireAction struct {
	Kind       model.ActionKind            `json:"kind"`
	Confident  bool                        `json:"confident"`
	Missing    []string                    `json:"missing"`
	Question   string                      `json:"question"`
	Options    []model.ClarificationOption `json:"options"`
	Title      string                      `json:"title"`
	Desc       string                      `json:"description"`
	Date       string                      `json:"date"`
	Time       string                      `json:"time"`
	Duration   int                         `json:"duration_minutes"`
	Priority   string                      `json:"priority"`
	Urgency    string                      `json:"urgency"`
	ListID     string                      `json:"list_id"`
	ListIDs    []string                    `json:"list_ids"`
	CategoryID string                      `json:"category_id"`
	Recurrence *wireRecurrence             `json:"recurrence"`
}

type wireRecurrence struct {
	Frequency  string   `json:"frequency"`
	Interval   int      `json:"interval"`
	DaysOfWeek []string `json:"days_of_week"`
	DayOfMonth int      `json:"day_of_month"`
	Until      string   `json:"until"`
	Count      int      `json:"count"`
}

// Decode extracts the first JSON object from raw model output and converts
// it to a ParsedAction. Parts that had to be dropped, such as an invalid
// recurrence, are described in warnings.
func Decode(raw string) (action model.ParsedAction, warnings []string, err error) {
	body, ok := extractObject(raw)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no json object", ErrUnparseable)
	}

	var w wireAction
	if uerr := json.Unmarshal([]byte(body), &w); uerr != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnparseable, uerr)
	}

	meta := model.ParseMeta{
		Confident: w.Confident,
		Question:  strings.TrimSpace(w.Question),
		Options:   w.Options,
	}
	for _, name := range w.Missing {
		if f, ok := model.ParseMissingField(strings.ToLower(strings.TrimSpace(name))); ok {
			meta.Missing = append(meta.Missing, f)
		}
	}

	var recurrence *model.RecurrencePattern
	if w.Recurrence != nil {
		var rerr error
		if recurrence, rerr = w.Recurrence.pattern(); rerr != nil {
			warnings = append(warnings, rerr.Error())
		}
	}

	switch w.Kind {
	case model.ActionCreateTask:
		listID := w.ListID
		if listID == "" && len(w.ListIDs) > 0 {
			listID = w.ListIDs[0]
		}
		return model.CreateTask{
			ParseMeta:       meta,
			Title:           w.Title,
			Description:     w.Desc,
			DueDate:         w.Date,
			DueTime:         w.Time,
			DurationMinutes: w.Duration,
			Priority:        w.Priority,
			Urgency:         w.Urgency,
			ListID:          listID,
		}, warnings, nil
	case model.ActionCreateEvent:
		return model.CreateEvent{
			ParseMeta:       meta,
			Title:           w.Title,
			Description:     w.Desc,
			Date:            w.Date,
			Time:            w.Time,
			DurationMinutes: w.Duration,
			Recurrence:      recurrence,
		}, warnings, nil
	case model.ActionCreateStructuredIntent:
		listIDs := w.ListIDs
		if len(listIDs) == 0 && w.ListID != "" {
			listIDs = []string{w.ListID}
		}
		return model.CreateStructuredIntent{
			ParseMeta:   meta,
			Title:       w.Title,
			Description: w.Desc,
			CategoryID:  w.CategoryID,
			ListIDs:     listIDs,
			Priority:    w.Priority,
			Urgency:     w.Urgency,
		}, warnings, nil
	case model.ActionClarificationRequired:
		return model.ClarificationRequired{ParseMeta: meta}, warnings, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown kind %q", ErrUnparseable, w.Kind)
	}
}

// extractObject returns the outermost {...} span, tolerating code fences
// and prose around it.
func extractObject(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

var weekdays = map[string]time.Weekday{
	"su": time.Sunday, "sun": time.Sunday, "sunday": time.Sunday,
	"mo": time.Monday, "mon": time.Monday, "monday": time.Monday,
	"tu": time.Tuesday, "tue": time.Tuesday, "tuesday": time.Tuesday,
	"we": time.Wednesday, "wed": time.Wednesday, "wednesday": time.Wednesday,
	"th": time.Thursday, "thu": time.Thursday, "thursday": time.Thursday,
	"fr": time.Friday, "fri": time.Friday, "friday": time.Friday,
	"sa": time.Saturday, "sat": time.Saturday, "saturday": time.Saturday,
}

func (w *wireRecurrence) pattern() (*model.RecurrencePattern, error) {
	p := &model.RecurrencePattern{
		Frequency:  model.Frequency(strings.ToUpper(w.Frequency)),
		Interval:   w.Interval,
		DayOfMonth: w.DayOfMonth,
		Count:      w.Count,
	}
	for _, d := range w.DaysOfWeek {
		wd, ok := weekdays[strings.ToLower(d)]
		if !ok {
			return nil, fmt.Errorf("recurrence: unknown weekday %q", d)
		}
		p.DaysOfWeek = append(p.DaysOfWeek, wd)
	}
	if w.Until != "" {
		until, err := time.Parse("2006-01-02", w.Until)
		if err != nil {
			return nil, fmt.Errorf("recurrence: bad until date %q", w.Until)
		}
		p.Until = &until
	}
	if _, err := p.RRule(); err != nil {
		return nil, fmt.Errorf("recurrence: %w", err)
	}
	return p, nil
}
