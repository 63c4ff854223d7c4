package executor

import (
	"context"
	"fmt"
	"time"

	gcal "google.golang.org/api/calendar/v3"

	"github.com/khanflow/voice-assistant/internal/calendar"
	"github.com/khanflow/voice-assistant/internal/clock"
	"github.com/khanflow/voice-assistant/internal/model"
)

// GoogleWriter inserts events into a Google calendar.
type GoogleWriter struct {
	service    *gcal.Service
	calendarID string
	location   *time.Location
	clock      clock.Clock
}

// NewGoogleWriter creates a writer for calendarID ("primary" when empty).
func NewGoogleWriter(service *gcal.Service, calendarID string, loc *time.Location, clk clock.Clock) *GoogleWriter {
	if calendarID == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.UTC
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &GoogleWriter{service: service, calendarID: calendarID, location: loc, clock: clk}
}

func (w *GoogleWriter) CreateEvent(ctx context.Context, userID string, action model.ResolvedAction) (*model.ExecutedAction, error) {
	if action.Start == nil || action.End == nil {
		return nil, fmt.Errorf("event %q has no time", action.Title)
	}

	event := &gcal.Event{
		Summary:     action.Title,
		Description: action.Description,
		Start: &gcal.EventDateTime{
			DateTime: action.Start.In(w.location).Format(time.RFC3339),
			TimeZone: w.location.String(),
		},
		End: &gcal.EventDateTime{
			DateTime: action.End.In(w.location).Format(time.RFC3339),
			TimeZone: w.location.String(),
		},
	}
	if action.Recurrence != nil {
		rule, err := action.Recurrence.RRule()
		if err != nil {
			return nil, fmt.Errorf("invalid recurrence for %q: %w", action.Title, err)
		}
		event.Recurrence = []string{"RRULE:" + rule}
	}

	created, err := w.service.Events.Insert(w.calendarID, event).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}

	return &model.ExecutedAction{
		Kind:       model.ActionCreateEvent,
		ID:         created.Id,
		Provider:   calendar.SourceGoogle,
		Title:      action.Title,
		Start:      action.Start,
		End:        action.End,
		ExecutedAt: w.clock.Now(),
	}, nil
}
