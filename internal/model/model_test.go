package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingField_Names(t *testing.T) {
	for f := MissingField(0); int(f) < NumMissingFields; f++ {
		parsed, ok := ParseMissingField(f.String())
		require.True(t, ok, f.String())
		assert.Equal(t, f, parsed)
	}

	f, ok := ParseMissingField("board")
	assert.True(t, ok)
	assert.Equal(t, FieldList, f)

	_, ok = ParseMissingField("colour")
	assert.False(t, ok)
}

func TestMissingField_JSON(t *testing.T) {
	var meta ParseMeta
	require.NoError(t, json.Unmarshal([]byte(`{"confident":true,"missing":["title","time"]}`), &meta))
	assert.Equal(t, []MissingField{FieldTitle, FieldTime}, meta.Missing)

	err := json.Unmarshal([]byte(`{"missing":["colour"]}`), &meta)
	assert.Error(t, err)
}

func TestApply_OverwritesOnlyNonEmpty(t *testing.T) {
	data := ExtractedData{Title: "Team sync", Date: "2026-10-15", DurationMinutes: 30}

	CreateEvent{Time: "14:00"}.Apply(&data)

	assert.Equal(t, ActionCreateEvent, data.Kind)
	assert.Equal(t, "Team sync", data.Title)
	assert.Equal(t, "2026-10-15", data.Date)
	assert.Equal(t, "14:00", data.Time)
	assert.Equal(t, 30, data.DurationMinutes)

	CreateEvent{Title: "Design review", DurationMinutes: 45}.Apply(&data)
	assert.Equal(t, "Design review", data.Title)
	assert.Equal(t, 45, data.DurationMinutes)
}

func TestApply_ClarificationKeepsKind(t *testing.T) {
	data := ExtractedData{Kind: ActionCreateTask, Title: "Buy milk"}
	ClarificationRequired{ParseMeta{Question: "When?"}}.Apply(&data)
	assert.Equal(t, ActionCreateTask, data.Kind)
	assert.Equal(t, "Buy milk", data.Title)
}

func TestExtractedData_Action(t *testing.T) {
	meta := ParseMeta{Confident: true}

	task := ExtractedData{Kind: ActionCreateTask, Title: "Buy milk", Date: "2026-10-15", ListIDs: []string{"groceries"}}.Action(meta)
	require.IsType(t, CreateTask{}, task)
	assert.Equal(t, "2026-10-15", task.(CreateTask).DueDate)
	assert.Equal(t, "groceries", task.(CreateTask).ListID)
	assert.True(t, task.Meta().Confident)

	empty := ExtractedData{}.Action(meta)
	assert.Equal(t, ActionClarificationRequired, empty.Kind())
}

func TestConversationState_CloneIsIndependent(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	s := &ConversationState{
		ID:            "c1",
		ExtractedData: ExtractedData{ListIDs: []string{"a"}},
		Messages:      []Message{{Role: RoleUser, Content: "hi", CreatedAt: now}},
		ConflictInfo:  &Conflict{Events: []ConflictEvent{{ID: "e1"}}},
		TimeoutAt:     now.Add(30 * time.Minute),
	}

	c := s.Clone()
	c.Messages[0].Content = "changed"
	c.ExtractedData.ListIDs[0] = "b"
	c.ConflictInfo.Events[0].ID = "e2"

	assert.Equal(t, "hi", s.Messages[0].Content)
	assert.Equal(t, "a", s.ExtractedData.ListIDs[0])
	assert.Equal(t, "e1", s.ConflictInfo.Events[0].ID)
}

func TestConversationState_Deadline(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	s := &ConversationState{TimeoutAt: now.Add(30 * time.Minute)}
	assert.Equal(t, s.TimeoutAt, s.Deadline())
	assert.False(t, s.Expired(s.TimeoutAt))
	assert.True(t, s.Expired(s.TimeoutAt.Add(time.Second)))

	retain := now.Add(5 * time.Minute)
	s.RetainUntil = &retain
	assert.Equal(t, retain, s.Deadline())
}

func TestRecurrencePattern_RRule(t *testing.T) {
	until := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	p := &RecurrencePattern{
		Frequency:  FrequencyWeekly,
		Interval:   2,
		DaysOfWeek: []time.Weekday{time.Monday, time.Wednesday},
		Until:      &until,
	}

	rule, err := p.RRule()
	require.NoError(t, err)
	assert.Contains(t, rule, "FREQ=WEEKLY")
	assert.Contains(t, rule, "INTERVAL=2")
	assert.Contains(t, rule, "BYDAY=MO,WE")
	assert.Contains(t, rule, "UNTIL=")

	_, err = (&RecurrencePattern{Frequency: "HOURLY"}).RRule()
	assert.Error(t, err)
}

func TestRecurrencePattern_Occurrences(t *testing.T) {
	start := time.Date(2026, 10, 15, 14, 0, 0, 0, time.UTC)
	p := &RecurrencePattern{Frequency: FrequencyDaily, Count: 3}

	got, err := p.Occurrences(start, start, start.AddDate(0, 0, 10))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[2].Equal(start.AddDate(0, 0, 2)))
}

func TestSeverity_Rank(t *testing.T) {
	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityHigh.Rank())
}
