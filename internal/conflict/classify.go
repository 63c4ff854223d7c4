package conflict

import (
	"github.com/khanflow/voice-assistant/internal/model"
)

// SeverityWeights are the points used to grade a conflict. They are hand
// tuned defaults and may be overridden per deployment.
type SeverityWeights struct {
	PerEvent      int
	PerRigidEvent int
	PerAttendee   int
	MediumAt      int
	HighAt        int
}

// DefaultSeverityWeights returns the stock severity weights.
func DefaultSeverityWeights() SeverityWeights {
	return SeverityWeights{
		PerEvent:      2,
		PerRigidEvent: 3,
		PerAttendee:   1,
		MediumAt:      5,
		HighAt:        10,
	}
}

// Classifier maps a set of colliding events to a conflict type and severity.
type Classifier struct {
	Weights SeverityWeights
}

// NewClassifier returns a classifier using the given weights.
func NewClassifier(w SeverityWeights) Classifier {
	return Classifier{Weights: w}
}

// Classify returns the conflict type and severity for colliding events.
func (c Classifier) Classify(events []model.ConflictEvent) (model.ConflictType, model.Severity) {
	return c.Type(events), c.Severity(events)
}

// Type picks the first matching rule: a shared meeting is a hard conflict,
// an all-flexible set is soft, several rigid collisions are overbooked,
// anything else is a partial overlap.
func (c Classifier) Type(events []model.ConflictEvent) model.ConflictType {
	allFlexible := true
	for _, ev := range events {
		if ev.AttendeeCount > 1 {
			return model.ConflictHard
		}
		if !ev.Flexible {
			allFlexible = false
		}
	}
	switch {
	case allFlexible:
		return model.ConflictSoft
	case len(events) > 1:
		return model.ConflictOverbooked
	default:
		return model.ConflictPartialOverlap
	}
}

// Score is the raw severity score of a set of colliding events.
func (c Classifier) Score(events []model.ConflictEvent) int {
	score := 0
	for _, ev := range events {
		score += c.Weights.PerEvent
		if !ev.Flexible {
			score += c.Weights.PerRigidEvent
		}
		score += c.Weights.PerAttendee * ev.AttendeeCount
	}
	return score
}

// Severity buckets the score.
func (c Classifier) Severity(events []model.ConflictEvent) model.Severity {
	score := c.Score(events)
	switch {
	case score >= c.Weights.HighAt:
		return model.SeverityHigh
	case score >= c.Weights.MediumAt:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// IsFlexible decides whether a busy entry can be moved without breaking a
// commitment to others. Providers call it when building ConflictEvents.
func IsFlexible(attendeeCount int, allDay, markedBusy bool) bool {
	switch {
	case attendeeCount > 1:
		return false
	case allDay:
		return true
	case markedBusy:
		return false
	default:
		return true
	}
}
