package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/khanflow/voice-assistant/internal/calendar"
	"github.com/khanflow/voice-assistant/internal/clock"
	"github.com/khanflow/voice-assistant/internal/model"
)

const productID = "-//khanflow//voice-assistant//EN"

// CalDAVWriter stores events as iCalendar objects in a CalDAV collection.
type CalDAVWriter struct {
	client *caldav.Client
	path   string
	clock  clock.Clock
}

// NewCalDAVWriter creates a writer for the collection at path.
func NewCalDAVWriter(client *caldav.Client, path string, clk clock.Clock) *CalDAVWriter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &CalDAVWriter{client: client, path: strings.TrimSuffix(path, "/"), clock: clk}
}

func (w *CalDAVWriter) CreateEvent(ctx context.Context, userID string, action model.ResolvedAction) (*model.ExecutedAction, error) {
	if action.Start == nil || action.End == nil {
		return nil, fmt.Errorf("event %q has no time", action.Title)
	}

	uid := uuid.Must(uuid.NewV7()).String()
	now := w.clock.Now()
	cal, err := buildCalendar(uid, action, now)
	if err != nil {
		return nil, err
	}

	objectPath := fmt.Sprintf("%s/%s.ics", w.path, uid)
	if _, err := w.client.PutCalendarObject(ctx, objectPath, cal); err != nil {
		return nil, fmt.Errorf("failed to store event: %w", err)
	}

	return &model.ExecutedAction{
		Kind:       model.ActionCreateEvent,
		ID:         uid,
		Provider:   calendar.SourceCalDAV,
		Title:      action.Title,
		Start:      action.Start,
		End:        action.End,
		ExecutedAt: now,
	}, nil
}

func buildCalendar(uid string, action model.ResolvedAction, now time.Time) (*ical.Calendar, error) {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	event.Props.SetText(ical.PropSummary, action.Title)
	if action.Description != "" {
		event.Props.SetText(ical.PropDescription, action.Description)
	}
	event.Props.SetDateTime(ical.PropDateTimeStart, action.Start.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, action.End.UTC())

	if action.Recurrence != nil {
		rule, err := action.Recurrence.RRule()
		if err != nil {
			return nil, fmt.Errorf("invalid recurrence for %q: %w", action.Title, err)
		}
		// RRULE values are not TEXT; SetText would escape the separators.
		prop := ical.NewProp(ical.PropRecurrenceRule)
		prop.Value = rule
		event.Props.Set(prop)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, event.Component)
	return cal, nil
}
