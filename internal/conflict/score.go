package conflict

import (
	"fmt"
	"sort"
	"time"

	"github.com/khanflow/voice-assistant/internal/model"
)

// ScoringWeights are the hand tuned points used to rank alternative slots.
type ScoringWeights struct {
	Base            float64
	SameDayBonus    float64
	PerDayPenalty   float64
	PreferredBonus  float64
	CoreHoursBonus  float64
	OffHoursPenalty float64
}

// DefaultScoringWeights returns the stock slot scoring weights.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		Base:            100,
		SameDayBonus:    50,
		PerDayPenalty:   5,
		PreferredBonus:  20,
		CoreHoursBonus:  10,
		OffHoursPenalty: 15,
	}
}

// SlotScorer ranks candidate slots against the requested instant.
type SlotScorer struct {
	Weights  ScoringWeights
	Location *time.Location
}

// Score rates one slot. Scores never drop below zero.
func (s SlotScorer) Score(slot model.TimeSlot, preferred time.Time, band TimeOfDay) float64 {
	loc := s.location()
	start := slot.Start.In(loc)
	days := daysBetween(preferred.In(loc), start)

	score := s.Weights.Base
	if days == 0 {
		score += s.Weights.SameDayBonus
	}
	score -= s.Weights.PerDayPenalty * float64(abs(days))

	hour := start.Hour()
	if from, to, ok := band.Hours(); ok && hour >= from && hour < to {
		score += s.Weights.PreferredBonus
	}
	if hour >= 10 && hour < 16 {
		score += s.Weights.CoreHoursBonus
	}
	if hour < 8 || hour >= 18 {
		score -= s.Weights.OffHoursPenalty
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Reason explains a slot relative to the requested instant.
func (s SlotScorer) Reason(slot model.TimeSlot, preferred time.Time) string {
	loc := s.location()
	start := slot.Start.In(loc)
	days := daysBetween(preferred.In(loc), start)

	switch {
	case days == 0:
		switch h := start.Hour(); {
		case h < 12:
			return "Available this morning"
		case h < 17:
			return "Available this afternoon"
		default:
			return "Available later today"
		}
	case days == 1:
		return "Available tomorrow"
	case days > 1 && days <= 7:
		return fmt.Sprintf("Available in %d days", days)
	default:
		return "Available soon."
	}
}

// Rank scores every candidate, sorts by descending score (earlier start on
// ties) and returns at most limit slots with their reason filled in.
func (s SlotScorer) Rank(candidates []model.TimeSlot, preferred time.Time, band TimeOfDay, limit int) []model.TimeSlot {
	ranked := make([]model.TimeSlot, len(candidates))
	for i, c := range candidates {
		c.Score = s.Score(c, preferred, band)
		ranked[i] = c
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Start.Before(ranked[j].Start)
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	for i := range ranked {
		ranked[i].Reason = s.Reason(ranked[i], preferred)
	}
	return ranked
}

func (s SlotScorer) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// daysBetween counts calendar days from a to b, both read in their own
// location.
func daysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
