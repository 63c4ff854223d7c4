package conflict

import (
	"time"

	"github.com/khanflow/voice-assistant/internal/model"
)

// TimeOfDay is a preferred band for alternative slots.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
)

// Hours returns the [from, to) hour range of the band.
func (t TimeOfDay) Hours() (from, to int, ok bool) {
	switch t {
	case Morning:
		return 8, 12, true
	case Afternoon:
		return 12, 17, true
	case Evening:
		return 17, 21, true
	}
	return 0, 0, false
}

// SlotOptions tune alternative slot search.
type SlotOptions struct {
	MaxSuggestions     int
	PreferredTimeOfDay TimeOfDay
	WorkHoursOnly      bool
	BufferMinutes      int
	SameDayOnly        bool

	// IncludeAllCalendars also avoids events on secondary calendars, as
	// CheckOptions.IncludeAllCalendars does for the conflict itself.
	IncludeAllCalendars bool
}

// DefaultSlotOptions returns five suggestions inside working hours with a
// fifteen minute buffer around busy events.
func DefaultSlotOptions() SlotOptions {
	return SlotOptions{
		MaxSuggestions: 5,
		WorkHoursOnly:  true,
		BufferMinutes:  15,
	}
}

const (
	slotStride  = 30 * time.Minute
	horizonDays = 7
)

// SlotGenerator enumerates candidate windows of a fixed duration.
type SlotGenerator struct {
	WorkDayStartHour int
	WorkDayEndHour   int
	Location         *time.Location
}

// Horizon returns the search window for a preferred instant: the preferred
// day alone, or seven days from its midnight.
func (g SlotGenerator) Horizon(preferred time.Time, sameDayOnly bool) (time.Time, time.Time) {
	p := preferred.In(g.location())
	start := time.Date(p.Year(), p.Month(), p.Day(), 0, 0, 0, 0, p.Location())
	days := horizonDays
	if sameDayOnly {
		days = 1
	}
	return start, start.AddDate(0, 0, days)
}

// Candidates lists every window of the given duration at a thirty minute
// stride inside the horizon that fits within the day's hours, starts no
// earlier than notBefore, and stays clear of busy events by the buffer.
func (g SlotGenerator) Candidates(busy []model.ConflictEvent, duration time.Duration, preferred time.Time, opts SlotOptions, notBefore time.Time) []model.TimeSlot {
	if duration <= 0 {
		return nil
	}
	buffer := time.Duration(opts.BufferMinutes) * time.Minute
	horizonStart, horizonEnd := g.Horizon(preferred, opts.SameDayOnly)

	var out []model.TimeSlot
	for day := horizonStart; day.Before(horizonEnd); day = day.AddDate(0, 0, 1) {
		if opts.WorkHoursOnly && isWeekend(day) {
			continue
		}
		from, to := 0, 24
		if opts.WorkHoursOnly {
			from, to = g.WorkDayStartHour, g.WorkDayEndHour
		}
		dayStart := time.Date(day.Year(), day.Month(), day.Day(), from, 0, 0, 0, day.Location())
		dayEnd := time.Date(day.Year(), day.Month(), day.Day(), to, 0, 0, 0, day.Location())

		for s := dayStart; !s.Add(duration).After(dayEnd); s = s.Add(slotStride) {
			if s.Before(notBefore) {
				continue
			}
			e := s.Add(duration)
			if overlapsAny(busy, s.Add(-buffer), e.Add(buffer)) {
				continue
			}
			out = append(out, model.TimeSlot{Start: s, End: e})
		}
	}
	return out
}

func (g SlotGenerator) location() *time.Location {
	if g.Location == nil {
		return time.UTC
	}
	return g.Location
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
