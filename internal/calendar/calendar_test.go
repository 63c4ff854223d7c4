package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/khanflow/voice-assistant/pkg/logger"
)

var (
	windowStart = time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	windowEnd   = windowStart.Add(24 * time.Hour)
)

func TestFromGoogleEvent(t *testing.T) {
	tests := []struct {
		name     string
		item     *gcal.Event
		ok       bool
		allDay   bool
		flexible bool
		count    int
	}{
		{
			name: "timed meeting with attendees",
			item: &gcal.Event{
				Id: "1", Summary: "Standup",
				Start:     &gcal.EventDateTime{DateTime: "2026-10-15T09:00:00Z"},
				End:       &gcal.EventDateTime{DateTime: "2026-10-15T09:30:00Z"},
				Attendees: []*gcal.EventAttendee{{Email: "a@x"}, {Email: "b@x"}, {Email: "room@x", Resource: true}},
			},
			ok: true, count: 2,
		},
		{
			name: "solo block is flexible",
			item: &gcal.Event{
				Id: "2", Summary: "Focus",
				Start: &gcal.EventDateTime{DateTime: "2026-10-15T13:00:00Z"},
				End:   &gcal.EventDateTime{DateTime: "2026-10-15T14:00:00Z"},
			},
			ok: true, flexible: true,
		},
		{
			name: "all day",
			item: &gcal.Event{
				Id: "3", Summary: "Offsite",
				Start: &gcal.EventDateTime{Date: "2026-10-15"},
				End:   &gcal.EventDateTime{Date: "2026-10-16"},
			},
			ok: true, allDay: true, flexible: true,
		},
		{
			name: "transparent meeting with others is still fixed",
			item: &gcal.Event{
				Id: "4", Summary: "Optional sync", Transparency: "transparent",
				Start:     &gcal.EventDateTime{DateTime: "2026-10-15T15:00:00Z"},
				End:       &gcal.EventDateTime{DateTime: "2026-10-15T16:00:00Z"},
				Attendees: []*gcal.EventAttendee{{Email: "a@x"}, {Email: "b@x"}},
			},
			ok: true, count: 2,
		},
		{
			name: "solo block marked busy",
			item: &gcal.Event{
				Id: "5", Summary: "Deep work", Transparency: "opaque",
				Start: &gcal.EventDateTime{DateTime: "2026-10-15T16:00:00Z"},
				End:   &gcal.EventDateTime{DateTime: "2026-10-15T17:00:00Z"},
			},
			ok: true,
		},
		{
			name: "cancelled",
			item: &gcal.Event{
				Status: "cancelled",
				Start:  &gcal.EventDateTime{DateTime: "2026-10-15T15:00:00Z"},
				End:    &gcal.EventDateTime{DateTime: "2026-10-15T16:00:00Z"},
			},
		},
		{
			name: "missing end",
			item: &gcal.Event{Start: &gcal.EventDateTime{DateTime: "2026-10-15T15:00:00Z"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := fromGoogleEvent(tt.item, time.UTC)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.allDay, ev.AllDay)
			assert.Equal(t, tt.flexible, ev.Flexible)
			assert.Equal(t, tt.count, ev.AttendeeCount)
			assert.Equal(t, SourceGoogle, ev.Source)
			assert.True(t, ev.End.After(ev.Start))
		})
	}
}

func TestGoogleProviderListBusyEvents(t *testing.T) {
	var gotPaths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("singleEvents"))
		assert.Equal(t, windowStart.Format(time.RFC3339), r.URL.Query().Get("timeMin"))

		events := &gcal.Events{Items: []*gcal.Event{{
			Id: "evt", Summary: "Review",
			Start: &gcal.EventDateTime{DateTime: "2026-10-15T10:00:00Z"},
			End:   &gcal.EventDateTime{DateTime: "2026-10-15T11:00:00Z"},
		}}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(events)
	}))
	defer srv.Close()

	service, err := gcal.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	p := NewGoogleProvider(service, []string{"work", "home"}, time.UTC, logger.NewNop())
	assert.Equal(t, SourceGoogle, p.Name())
	assert.True(t, p.Primary())

	events, err := p.ListBusyEvents(context.Background(), "user-1", windowStart, windowEnd)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, []string{"/calendars/work/events", "/calendars/home/events"}, gotPaths)
}

func TestGoogleProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"forbidden"}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	service, err := gcal.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	p := NewGoogleProvider(service, nil, nil, logger.NewNop())
	_, err = p.ListBusyEvents(context.Background(), "user-1", windowStart, windowEnd)
	assert.Error(t, err)
}

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:meeting\r\n" +
	"DTSTAMP:20261001T000000Z\r\n" +
	"SUMMARY:Design review\r\n" +
	"DTSTART:20261015T140000Z\r\n" +
	"DTEND:20261015T150000Z\r\n" +
	"ATTENDEE:mailto:a@example.com\r\n" +
	"ATTENDEE:mailto:b@example.com\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:holiday\r\n" +
	"DTSTAMP:20261001T000000Z\r\n" +
	"SUMMARY:Holiday\r\n" +
	"DTSTART;VALUE=DATE:20261015\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:gone\r\n" +
	"DTSTAMP:20261001T000000Z\r\n" +
	"SUMMARY:Cancelled\r\n" +
	"STATUS:CANCELLED\r\n" +
	"DTSTART:20261015T100000Z\r\n" +
	"DTEND:20261015T110000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:gym\r\n" +
	"TRANSP:OPAQUE\r\n" +
	"DTSTAMP:20261001T000000Z\r\n" +
	"SUMMARY:Gym\r\n" +
	"DTSTART:20261001T070000Z\r\n" +
	"DTEND:20261001T080000Z\r\n" +
	"RRULE:FREQ=DAILY\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestEventsFromCalendar(t *testing.T) {
	cal, err := ical.NewDecoder(strings.NewReader(sampleICS)).Decode()
	require.NoError(t, err)

	events := eventsFromCalendar(cal, windowStart, windowEnd, time.UTC)

	byID := map[string]int{}
	for i, ev := range events {
		byID[ev.ID] = i
		assert.Equal(t, SourceCalDAV, ev.Source)
	}
	require.Len(t, events, 3)
	assert.NotContains(t, byID, "gone")

	meeting := events[byID["meeting"]]
	assert.Equal(t, "Design review", meeting.Title)
	assert.Equal(t, 2, meeting.AttendeeCount)
	assert.False(t, meeting.Flexible)
	assert.False(t, meeting.AllDay)

	holiday := events[byID["holiday"]]
	assert.True(t, holiday.AllDay)
	assert.True(t, holiday.Flexible)
	assert.Equal(t, windowStart, holiday.Start)
	assert.Equal(t, windowEnd, holiday.End)

	gym := events[byID["gym"]]
	assert.Equal(t, time.Date(2026, 10, 15, 7, 0, 0, 0, time.UTC), gym.Start)
	assert.Equal(t, time.Hour, gym.End.Sub(gym.Start))
	assert.False(t, gym.Flexible)
}
