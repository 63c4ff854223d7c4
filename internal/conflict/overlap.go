// Package conflict detects calendar collisions and proposes replacement slots.
package conflict

import (
	"time"

	"github.com/khanflow/voice-assistant/internal/model"
)

// Overlaps reports whether the half-open windows [aStart, aEnd) and
// [bStart, bEnd) intersect. Back-to-back windows do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// Colliding returns the events that overlap [start, end), in input order.
func Colliding(events []model.ConflictEvent, start, end time.Time) []model.ConflictEvent {
	var out []model.ConflictEvent
	for _, ev := range events {
		if Overlaps(start, end, ev.Start, ev.End) {
			out = append(out, ev)
		}
	}
	return out
}

func overlapsAny(events []model.ConflictEvent, start, end time.Time) bool {
	for _, ev := range events {
		if Overlaps(start, end, ev.Start, ev.End) {
			return true
		}
	}
	return false
}
