package orchestrator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/khanflow/voice-assistant/internal/conflict"
	"github.com/khanflow/voice-assistant/internal/model"
)

const (
	MsgCancelled           = "Okay, I've cancelled that request."
	MsgCalendarUnavailable = "I couldn't reach your calendar to check for conflicts. Say \"try again\" in a moment, or cancel."
	MsgExecutionFailed     = "Sorry, I couldn't save that just now. Say \"try again\" to retry, or cancel."
)

// Option ids offered with a conflict.
const (
	OptionCancel     = "cancel"
	OptionOverride   = "override"
	slotOptionPrefix = "slot-"
)

// shownAlternatives caps the alternatives read out in a conflict message.
const shownAlternatives = 3

func formatWhen(t time.Time, loc *time.Location) string {
	t = t.In(loc)
	return t.Format("Mon, Jan 2") + " at " + t.Format(conflict.TimeLayout)
}

func quoted(title, fallback string) string {
	if title == "" {
		return fallback
	}
	return "\"" + title + "\""
}

// conflictMessage reads out the conflict, the first few alternatives and
// how to answer.
func conflictMessage(c *model.Conflict, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(c.Message)

	n := len(c.Alternatives)
	if n > shownAlternatives {
		n = shownAlternatives
	}
	if n == 0 {
		b.WriteString(` I couldn't find another open time. Say "schedule anyway" to keep this time, or cancel.`)
		return b.String()
	}

	b.WriteString(" Here are some open times:")
	for i, slot := range c.Alternatives[:n] {
		fmt.Fprintf(&b, " %d) %s.", i+1, formatWhen(slot.Start, loc))
	}
	b.WriteString(` Pick a number, say "schedule anyway" to keep this time, or cancel.`)
	return b.String()
}

func conflictOptions(c *model.Conflict, loc *time.Location) []model.ClarificationOption {
	options := make([]model.ClarificationOption, 0, len(c.Alternatives)+2)
	for i, slot := range c.Alternatives {
		options = append(options, model.ClarificationOption{
			ID:    slotOptionPrefix + strconv.Itoa(i+1),
			Label: formatWhen(slot.Start, loc),
		})
	}
	return append(options,
		model.ClarificationOption{ID: OptionOverride, Label: "Keep the original time"},
		model.ClarificationOption{ID: OptionCancel, Label: "Cancel"},
	)
}

func invalidChoiceMessage(alternatives int) string {
	switch alternatives {
	case 0:
		return `There are no open times to choose from. Say "schedule anyway" to keep the original time, or cancel.`
	case 1:
		return `Please say 1 to take the open time, "schedule anyway" to keep the original time, or cancel.`
	default:
		return fmt.Sprintf("Please choose a number between 1 and %d, or say cancel.", alternatives)
	}
}

func rescheduleTranscript(title string, start time.Time, loc *time.Location) string {
	return fmt.Sprintf("Reschedule %s to %s.", quoted(title, "the event"), formatWhen(start, loc))
}

// confirmation describes what was created.
func confirmation(a model.ResolvedAction, loc *time.Location) string {
	switch a.Kind {
	case model.ActionCreateEvent:
		msg := fmt.Sprintf("Scheduled %s for %s", quoted(a.Title, "your event"), formatWhen(*a.Start, loc))
		if a.Recurrence != nil {
			msg += ", repeating " + strings.ToLower(string(a.Recurrence.Frequency))
		}
		return msg + "."
	case model.ActionCreateTask:
		title := quoted(a.Title, "your task")
		switch {
		case a.Start != nil:
			return fmt.Sprintf("Added %s to your tasks, due %s.", title, formatWhen(*a.Start, loc))
		case a.DueDate != "":
			if day, err := time.ParseInLocation(DateLayout, a.DueDate, loc); err == nil {
				return fmt.Sprintf("Added %s to your tasks, due %s.", title, day.Format("Mon, Jan 2"))
			}
		}
		return fmt.Sprintf("Added %s to your tasks.", title)
	case model.ActionCreateStructuredIntent:
		return fmt.Sprintf("Saved %s.", quoted(a.Title, "your intent"))
	default:
		return "Done."
	}
}
