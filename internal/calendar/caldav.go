package calendar

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"go.uber.org/zap"

	"github.com/khanflow/voice-assistant/internal/conflict"
	"github.com/khanflow/voice-assistant/internal/model"
	"github.com/khanflow/voice-assistant/pkg/logger"
)

// SourceCalDAV tags events read over CalDAV.
const SourceCalDAV = "caldav"

// CalDAVConfig locates a CalDAV calendar collection.
type CalDAVConfig struct {
	Endpoint     string
	Username     string
	Password     string
	CalendarPath string
	// Primary marks the calendar as the user's main one. Secondary
	// calendars are only consulted when all calendars are requested.
	Primary bool
}

// CalDAVProvider lists busy events from one CalDAV calendar.
type CalDAVProvider struct {
	client   *caldav.Client
	path     string
	primary  bool
	location *time.Location
	logger   *logger.Logger
}

// NewCalDAVProvider connects to cfg.Endpoint with basic auth. When
// cfg.CalendarPath is empty the first calendar in the user's home set is
// used.
func NewCalDAVProvider(ctx context.Context, httpClient *http.Client, cfg CalDAVConfig, loc *time.Location, log *logger.Logger) (*CalDAVProvider, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	var hc webdav.HTTPClient = httpClient
	if cfg.Username != "" {
		hc = webdav.HTTPClientWithBasicAuth(httpClient, cfg.Username, cfg.Password)
	}

	client, err := caldav.NewClient(hc, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	path := cfg.CalendarPath
	if path == "" {
		path, err = discoverCalendar(ctx, client)
		if err != nil {
			return nil, err
		}
	}
	if loc == nil {
		loc = time.UTC
	}

	return &CalDAVProvider{
		client:   client,
		path:     path,
		primary:  cfg.Primary,
		location: loc,
		logger:   log.Named("calendar.caldav"),
	}, nil
}

func discoverCalendar(ctx context.Context, client *caldav.Client) (string, error) {
	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find current user principal: %w", err)
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}
	calendars, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", fmt.Errorf("failed to list calendars: %w", err)
	}
	for _, c := range calendars {
		for _, comp := range c.SupportedComponentSet {
			if comp == ical.CompEvent {
				return c.Path, nil
			}
		}
	}
	if len(calendars) > 0 {
		return calendars[0].Path, nil
	}
	return "", fmt.Errorf("no calendars found under %s", homeSet)
}

func (p *CalDAVProvider) Name() string  { return SourceCalDAV }

// Client returns the underlying CalDAV client.
func (p *CalDAVProvider) Client() *caldav.Client { return p.client }

// Path returns the calendar collection path.
func (p *CalDAVProvider) Path() string { return p.path }

func (p *CalDAVProvider) Primary() bool { return p.primary }

// ListBusyEvents queries VEVENTs overlapping [start, end). Recurring events
// are expanded locally.
func (p *CalDAVProvider) ListBusyEvents(ctx context.Context, userID string, start, end time.Time) ([]model.ConflictEvent, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start.UTC(),
				End:   end.UTC(),
			}},
		},
	}

	objects, err := p.client.QueryCalendar(ctx, p.path, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", p.path, err)
	}

	var out []model.ConflictEvent
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		out = append(out, eventsFromCalendar(obj.Data, start, end, p.location)...)
	}

	p.logger.Debug("fetched busy events",
		logger.UserID(userID),
		zap.String("calendar", p.path),
		zap.Int("events", len(out)),
	)
	return out, nil
}

// eventsFromCalendar flattens the VEVENTs of cal into busy events that
// overlap [start, end).
func eventsFromCalendar(cal *ical.Calendar, start, end time.Time, loc *time.Location) []model.ConflictEvent {
	var out []model.ConflictEvent
	for _, ev := range cal.Events() {
		if status, _ := ev.Props.Text(ical.PropStatus); strings.EqualFold(status, "CANCELLED") {
			continue
		}
		dtstart := ev.Props.Get(ical.PropDateTimeStart)
		if dtstart == nil {
			continue
		}
		allDay := dtstart.ValueType() == ical.ValueDate

		evStart, err := ev.DateTimeStart(loc)
		if err != nil {
			continue
		}
		evEnd, err := ev.DateTimeEnd(loc)
		if err != nil || !evEnd.After(evStart) {
			if allDay {
				evEnd = evStart.AddDate(0, 0, 1)
			} else {
				evEnd = evStart
			}
		}
		length := evEnd.Sub(evStart)

		uid, _ := ev.Props.Text(ical.PropUID)
		summary, _ := ev.Props.Text(ical.PropSummary)
		transp, _ := ev.Props.Text(ical.PropTransparency)
		attendees := len(ev.Props.Values(ical.PropAttendee))

		base := model.ConflictEvent{
			ID:            uid,
			Title:         summary,
			AllDay:        allDay,
			Flexible:      conflict.IsFlexible(attendees, allDay, strings.EqualFold(transp, "OPAQUE")),
			AttendeeCount: attendees,
			Source:        SourceCalDAV,
		}

		starts := []time.Time{evStart}
		if set, err := ev.RecurrenceSet(loc); err == nil && set != nil {
			starts = set.Between(start.Add(-length), end, true)
		}
		for _, s := range starts {
			e := base
			e.Start = s
			e.End = s.Add(length)
			if e.End.After(start) && e.Start.Before(end) {
				out = append(out, e)
			}
		}
	}
	return out
}
