package orchestrator

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/khanflow/voice-assistant/internal/conversation"
	"github.com/khanflow/voice-assistant/internal/model"
)

// resolveConflict handles a reply to a surfaced conflict: cancel, pick an
// alternative by number, or keep the original time.
func (t *turn) resolveConflict(ctx context.Context, transcript string) (*model.TurnResult, error) {
	text := normalize(transcript)
	c := t.state.ConflictInfo

	if isCancel(text) {
		return t.cancel(ctx)
	}

	if n, ok := parseChoice(transcript, text); ok {
		if n < 1 || n > len(c.Alternatives) {
			return t.ask(ctx, ask{
				question: invalidChoiceMessage(len(c.Alternatives)),
				step:     model.StepResolvingConflict,
				options:  t.state.PendingOptions,
			})
		}
		return t.reschedule(ctx, c.Alternatives[n-1])
	}

	if isOverride(text) {
		err := t.update(conversation.Patch{
			Status:         ptr(model.StatusActive),
			CurrentStep:    ptr(model.StepExecuting),
			PendingOptions: &[]model.ClarificationOption{},
			ClearConflict:  true,
		})
		if err != nil {
			return nil, err
		}
		return t.proceed(ctx, false)
	}

	return t.ask(ctx, ask{
		question: invalidChoiceMessage(len(c.Alternatives)),
		step:     model.StepResolvingConflict,
		options:  t.state.PendingOptions,
	})
}

// reschedule moves the request to slot and runs the conflict check again.
func (t *turn) reschedule(ctx context.Context, slot model.TimeSlot) (*model.TurnResult, error) {
	loc := t.o.location
	start := slot.Start.In(loc)

	data := t.state.ExtractedData.Clone()
	data.Date = start.Format(DateLayout)
	data.Time = start.Format(ClockLayout)
	data.DurationMinutes = int(slot.End.Sub(slot.Start) / time.Minute)

	err := t.update(conversation.Patch{
		Status:         ptr(model.StatusActive),
		CurrentStep:    ptr(model.StepExecuting),
		ExtractedData:  &data,
		PendingOptions: &[]model.ClarificationOption{},
		ClearConflict:  true,
	})
	if err != nil {
		return nil, err
	}
	if err := t.say(model.RoleSystem, rescheduleTranscript(data.Title, start, loc)); err != nil {
		return nil, err
	}
	return t.proceed(ctx, true)
}

// normalize lowercases text and turns punctuation into spaces.
func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// fillers are dropped before a reply is compared against a command phrase.
var fillers = map[string]bool{
	"please": true, "just": true, "actually": true, "oh": true, "thanks": true,
	"it": true, "that": true, "this": true, "the": true, "request": true,
}

// stripFillers returns the words of text without filler words.
func stripFillers(text string) []string {
	var words []string
	for _, f := range strings.Fields(text) {
		if !fillers[f] {
			words = append(words, f)
		}
	}
	return words
}

// isWholeReply reports whether text, minus fillers, is exactly one of phrases.
func isWholeReply(text string, phrases ...string) bool {
	reply := strings.Join(stripFillers(text), " ")
	if reply == "" {
		return false
	}
	for _, p := range phrases {
		if reply == p {
			return true
		}
	}
	return false
}

func isCancel(text string) bool {
	return isWholeReply(text, "cancel", "nevermind", "never mind", "forget", "forget about", "stop")
}

func isOverride(text string) bool {
	return isWholeReply(text,
		"keep", "override", "anyway", "keep original", "keep original time", "keep time",
		"schedule anyway", "book anyway", "do anyway", "keep as is",
	)
}

var affirmativeWords = map[string]bool{
	"yes": true, "yeah": true, "yep": true, "sure": true, "ok": true, "okay": true,
	"retry": true, "try": true, "again": true, "go": true, "ahead": true,
}

// isAffirmative accepts replies made only of agreement words such as
// "yes, try again".
func isAffirmative(text string) bool {
	words := stripFillers(text)
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if !affirmativeWords[w] {
			return false
		}
	}
	return true
}

var choiceWords = map[string]int{
	"one": 1, "first": 1, "1st": 1,
	"two": 2, "second": 2, "2nd": 2,
	"three": 3, "third": 3, "3rd": 3,
	"four": 4, "fourth": 4, "4th": 4,
	"five": 5, "fifth": 5, "5th": 5,
}

// choicePrefixes may precede the index in a choice reply.
var choicePrefixes = map[string]bool{
	"number": true, "option": true, "slot": true, "choice": true, "alternative": true,
	"let": true, "s": true, "lets": true, "do": true, "go": true, "with": true,
	"take": true, "i": true, "ll": true, "pick": true,
}

// clockTime matches replies that name a time of day rather than an option.
var clockTime = regexp.MustCompile(`(?i)\d{1,2}:\d{2}|\d\s*(am|pm|a\.m\.|p\.m\.)|\b(noon|midnight|o'?clock)\b`)

// parseChoice accepts a reply that is only an option index or ordinal, such
// as "2", "option 2" or "the second one". Raw is the reply as typed and text
// its normalized form.
func parseChoice(raw, text string) (int, bool) {
	if clockTime.MatchString(raw) {
		return 0, false
	}
	var words []string
	for _, f := range stripFillers(text) {
		if !choicePrefixes[f] {
			words = append(words, f)
		}
	}
	if len(words) == 2 && words[1] == "one" {
		words = words[:1]
	}
	if len(words) != 1 {
		return 0, false
	}
	if n, err := strconv.Atoi(words[0]); err == nil {
		return n, true
	}
	n, ok := choiceWords[words[0]]
	return n, ok
}
