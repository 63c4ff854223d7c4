// Package calendar implements busy-event providers over Google Calendar and
// CalDAV.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/khanflow/voice-assistant/internal/conflict"
	"github.com/khanflow/voice-assistant/internal/model"
	"github.com/khanflow/voice-assistant/pkg/logger"
)

// SourceGoogle tags events read from Google Calendar.
const SourceGoogle = "google"

// OAuthConfig builds the OAuth2 config for the installed-app flow. The
// calendar events scope is needed because the executor writes events.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		Scopes:       []string{gcal.CalendarEventsScope, gcal.CalendarReadonlyScope},
		Endpoint:     google.Endpoint,
	}
}

// NewGoogleService creates an authenticated Calendar service from a stored
// OAuth2 token. The oauth2 client refreshes the token as needed.
func NewGoogleService(ctx context.Context, clientID, clientSecret, tokenFile string) (*gcal.Service, error) {
	token, err := TokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not load google token from %s: %w", tokenFile, err)
	}

	client := OAuthConfig(clientID, clientSecret).Client(ctx, token)
	service, err := gcal.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return service, nil
}

// TokenFromFile reads an OAuth2 token saved as JSON.
func TokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// SaveToken writes an OAuth2 token as JSON.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// GoogleProvider lists busy events from one or more Google calendars of the
// account the service is authorized for.
type GoogleProvider struct {
	service     *gcal.Service
	calendarIDs []string
	location    *time.Location
	logger      *logger.Logger
}

// NewGoogleProvider creates a provider reading calendarIDs, or the primary
// calendar when none are given.
func NewGoogleProvider(service *gcal.Service, calendarIDs []string, loc *time.Location, log *logger.Logger) *GoogleProvider {
	if len(calendarIDs) == 0 {
		calendarIDs = []string{"primary"}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &GoogleProvider{
		service:     service,
		calendarIDs: calendarIDs,
		location:    loc,
		logger:      log.Named("calendar.google"),
	}
}

func (p *GoogleProvider) Name() string  { return SourceGoogle }
func (p *GoogleProvider) Primary() bool { return true }

// ListBusyEvents returns the events overlapping [start, end) across all
// configured calendars. Recurring events are expanded by the API.
func (p *GoogleProvider) ListBusyEvents(ctx context.Context, userID string, start, end time.Time) ([]model.ConflictEvent, error) {
	var out []model.ConflictEvent
	for _, calendarID := range p.calendarIDs {
		call := p.service.Events.List(calendarID).
			Context(ctx).
			ShowDeleted(false).
			SingleEvents(true).
			TimeMin(start.Format(time.RFC3339)).
			TimeMax(end.Format(time.RFC3339)).
			OrderBy("startTime")

		err := call.Pages(ctx, func(page *gcal.Events) error {
			for _, item := range page.Items {
				if ev, ok := fromGoogleEvent(item, p.location); ok {
					out = append(out, ev)
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list events of %s: %w", calendarID, err)
		}
	}

	p.logger.Debug("fetched busy events",
		logger.UserID(userID),
		zap.Int("calendars", len(p.calendarIDs)),
		zap.Int("events", len(out)),
	)
	return out, nil
}

// fromGoogleEvent converts an API event. Cancelled events and events with
// unreadable times are skipped.
func fromGoogleEvent(item *gcal.Event, loc *time.Location) (model.ConflictEvent, bool) {
	if item == nil || item.Status == "cancelled" || item.Start == nil || item.End == nil {
		return model.ConflictEvent{}, false
	}

	start, startAllDay, err := googleTime(item.Start, loc)
	if err != nil {
		return model.ConflictEvent{}, false
	}
	end, _, err := googleTime(item.End, loc)
	if err != nil {
		return model.ConflictEvent{}, false
	}

	attendees := 0
	for _, a := range item.Attendees {
		if !a.Resource {
			attendees++
		}
	}

	return model.ConflictEvent{
		ID:            item.Id,
		Title:         item.Summary,
		Start:         start,
		End:           end,
		AllDay:        startAllDay,
		Flexible:      conflict.IsFlexible(attendees, startAllDay, item.Transparency == "opaque"),
		AttendeeCount: attendees,
		Source:        SourceGoogle,
	}, true
}

func googleTime(dt *gcal.EventDateTime, loc *time.Location) (time.Time, bool, error) {
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, false, err
	}
	if dt.TimeZone != "" {
		if tz, err := time.LoadLocation(dt.TimeZone); err == nil {
			loc = tz
		}
	}
	t, err := time.ParseInLocation("2006-01-02", dt.Date, loc)
	return t, true, err
}
