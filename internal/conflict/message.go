package conflict

import (
	"fmt"
	"strings"
	"time"

	"github.com/khanflow/voice-assistant/internal/model"
)

// TimeLayout formats clock times in user-facing text.
const TimeLayout = "3:04 PM"

// Describe builds the human-readable conflict sentence.
func Describe(title string, events []model.ConflictEvent, loc *time.Location) string {
	if title == "" {
		title = "This event"
	}
	if loc == nil {
		loc = time.UTC
	}
	switch len(events) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s conflicts with \"%s\" scheduled at %s.", title, events[0].Title, events[0].Start.In(loc).Format(TimeLayout))
	}
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = "\"" + ev.Title + "\""
	}
	return fmt.Sprintf("%s conflicts with %d existing events: %s.", title, len(events), strings.Join(names, ", "))
}
