package conflict

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/khanflow/voice-assistant/internal/model"
)

func TestClassifierType(t *testing.T) {
	c := NewClassifier(DefaultSeverityWeights())

	tests := []struct {
		name   string
		events []model.ConflictEvent
		want   model.ConflictType
	}{
		{
			name:   "shared meeting wins",
			events: []model.ConflictEvent{{Flexible: true}, {AttendeeCount: 3}},
			want:   model.ConflictHard,
		},
		{
			name:   "all flexible",
			events: []model.ConflictEvent{{Flexible: true}, {Flexible: true, AttendeeCount: 1}},
			want:   model.ConflictSoft,
		},
		{
			name:   "several rigid",
			events: []model.ConflictEvent{{Flexible: false}, {Flexible: true}},
			want:   model.ConflictOverbooked,
		},
		{
			name:   "single rigid",
			events: []model.ConflictEvent{{Flexible: false, AttendeeCount: 1}},
			want:   model.ConflictPartialOverlap,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Type(tt.events))
		})
	}
}

func TestClassifierSeverity(t *testing.T) {
	c := NewClassifier(DefaultSeverityWeights())

	// one rigid meeting with three attendees: 2 + 3 + 3
	sprint := []model.ConflictEvent{{Title: "Sprint Planning", AttendeeCount: 3}}
	assert.Equal(t, 8, c.Score(sprint))
	assert.Equal(t, model.SeverityMedium, c.Severity(sprint))

	solo := []model.ConflictEvent{{Flexible: true}}
	assert.Equal(t, 2, c.Score(solo))
	assert.Equal(t, model.SeverityLow, c.Severity(solo))

	// rigid six-person meeting (2 + 3 + 6) plus a flexible solo block (2)
	big := []model.ConflictEvent{{AttendeeCount: 6}, {Flexible: true}}
	assert.Equal(t, 13, c.Score(big))
	assert.Equal(t, model.SeverityHigh, c.Severity(big))
}

func TestClassifierCustomWeights(t *testing.T) {
	c := NewClassifier(SeverityWeights{PerEvent: 1, MediumAt: 2, HighAt: 3})
	assert.Equal(t, model.SeverityLow, c.Severity([]model.ConflictEvent{{}}))
	assert.Equal(t, model.SeverityMedium, c.Severity([]model.ConflictEvent{{}, {}}))
	assert.Equal(t, model.SeverityHigh, c.Severity([]model.ConflictEvent{{}, {}, {}}))
}

func randomEvents(rng *rand.Rand, n int) []model.ConflictEvent {
	events := make([]model.ConflictEvent, n)
	for i := range events {
		events[i] = model.ConflictEvent{
			Flexible:      rng.Intn(2) == 0,
			AttendeeCount: rng.Intn(6),
		}
	}
	return events
}

func TestSeverityMonotonic(t *testing.T) {
	c := NewClassifier(DefaultSeverityWeights())
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		events := randomEvents(rng, rng.Intn(5))
		before := c.Severity(events).Rank()

		more := append(append([]model.ConflictEvent(nil), events...), randomEvents(rng, 1)...)
		assert.GreaterOrEqual(t, c.Severity(more).Rank(), before, "adding an event lowered severity")

		if len(events) > 0 {
			crowded := append([]model.ConflictEvent(nil), events...)
			crowded[rng.Intn(len(crowded))].AttendeeCount++
			assert.GreaterOrEqual(t, c.Severity(crowded).Rank(), before, "adding an attendee lowered severity")
		}
	}
}

func TestIsFlexible(t *testing.T) {
	assert.False(t, IsFlexible(2, true, false))
	assert.True(t, IsFlexible(0, true, true))
	assert.False(t, IsFlexible(1, false, true))
	assert.True(t, IsFlexible(0, false, false))
}
