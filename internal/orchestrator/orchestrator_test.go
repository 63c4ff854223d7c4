package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/khanflow/voice-assistant/internal/clock"
	"github.com/khanflow/voice-assistant/internal/conflict"
	"github.com/khanflow/voice-assistant/internal/conversation"
	"github.com/khanflow/voice-assistant/internal/model"
	"github.com/khanflow/voice-assistant/pkg/logger"
)

// 2026-10-14 is a Wednesday; "tomorrow" is Thursday 2026-10-15.
var now = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

func tomorrowAt(hour, min int) time.Time {
	return time.Date(2026, 10, 15, hour, min, 0, 0, time.UTC)
}

type MockParser struct{ mock.Mock }

func (m *MockParser) Parse(ctx context.Context, transcript string, pc model.ParseContext) (model.ParsedAction, error) {
	args := m.Called(ctx, transcript, pc)
	action, _ := args.Get(0).(model.ParsedAction)
	return action, args.Error(1)
}

type MockExecutor struct{ mock.Mock }

func (m *MockExecutor) Execute(ctx context.Context, userID string, action model.ResolvedAction) (*model.ExecutedAction, error) {
	args := m.Called(ctx, userID, action)
	if fn, ok := args.Get(0).(func(model.ResolvedAction) *model.ExecutedAction); ok {
		return fn(action), args.Error(1)
	}
	executed, _ := args.Get(0).(*model.ExecutedAction)
	return executed, args.Error(1)
}

func echo(a model.ResolvedAction) *model.ExecutedAction {
	return &model.ExecutedAction{
		Kind:       a.Kind,
		ID:         "exec-1",
		Provider:   "test",
		Title:      a.Title,
		Start:      a.Start,
		End:        a.End,
		ExecutedAt: now,
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*model.ConversationEvent
}

func (p *recordingPublisher) PublishEvent(_ context.Context, e *model.ConversationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type staticProvider struct {
	events []model.ConflictEvent
	err    error
}

func (p *staticProvider) Name() string { return "static" }

func (p *staticProvider) ListBusyEvents(_ context.Context, _ string, start, end time.Time) ([]model.ConflictEvent, error) {
	if p.err != nil {
		return nil, p.err
	}
	return conflict.Colliding(p.events, start, end), nil
}

type fixture struct {
	orch     *Orchestrator
	store    *conversation.Store
	clock    *clock.Fake
	parser   *MockParser
	executor *MockExecutor
	provider *staticProvider
	events   *recordingPublisher
}

func newFixture(t *testing.T, busy ...model.ConflictEvent) *fixture {
	t.Helper()
	log := logger.NewNop()
	clk := clock.NewFake(now)

	f := &fixture{
		store:    conversation.NewStore(conversation.Options{Clock: clk}, log),
		clock:    clk,
		parser:   &MockParser{},
		executor: &MockExecutor{},
		provider: &staticProvider{events: busy},
		events:   &recordingPublisher{},
	}

	engineOpts := conflict.DefaultOptions()
	engineOpts.Clock = clk
	engine := conflict.NewEngine([]conflict.CalendarProvider{f.provider}, engineOpts, log)

	f.orch = New(f.store, f.parser, engine, f.executor, Options{Clock: clk, Events: f.events}, log)
	return f
}

const teamSync = "schedule team sync tomorrow 2pm for 30 min"

func teamSyncEvent() model.CreateEvent {
	return model.CreateEvent{
		ParseMeta:       model.ParseMeta{Confident: true},
		Title:           "Team sync",
		Date:            "2026-10-15",
		Time:            "14:00",
		DurationMinutes: 30,
	}
}

func sprintPlanning() model.ConflictEvent {
	return model.ConflictEvent{
		ID:            "evt-1",
		Title:         "Sprint Planning",
		Start:         tomorrowAt(14, 0),
		End:           tomorrowAt(15, 0),
		AttendeeCount: 3,
		Source:        "google",
	}
}

func TestScenarioClearCalendarSucceeds(t *testing.T) {
	f := newFixture(t)
	f.parser.On("Parse", mock.Anything, teamSync, mock.Anything).Return(teamSyncEvent(), nil)
	f.executor.On("Execute", mock.Anything, "user-1", mock.Anything).Return(echo, nil)

	result, err := f.orch.StartOrContinue(context.Background(), "user-1", teamSync, "")
	require.NoError(t, err)

	assert.Equal(t, model.TurnSuccess, result.Kind)
	assert.Equal(t, `Scheduled "Team sync" for Thu, Oct 15 at 2:00 PM.`, result.Message)
	require.NotNil(t, result.Executed)
	assert.Equal(t, tomorrowAt(14, 0), *result.Executed.Start)
	assert.Equal(t, tomorrowAt(14, 30), *result.Executed.End)

	state, ok := f.orch.GetConversation(result.ConversationID)
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, state.Status)
	assert.Equal(t, "exec-1", state.ExecutedAction.ID)
	assert.Equal(t, model.RoleAssistant, state.Messages[len(state.Messages)-1].Role)
	assert.Equal(t, model.ActionCreateEvent, state.Messages[0].ParsedKind)

	assert.Equal(t, []model.EventType{model.EventTypeExecuted}, f.events.types())
	f.parser.AssertExpectations(t)
	f.executor.AssertExpectations(t)
}

func startConflict(t *testing.T, f *fixture) *model.TurnResult {
	t.Helper()
	f.parser.On("Parse", mock.Anything, teamSync, mock.Anything).Return(teamSyncEvent(), nil).Once()

	result, err := f.orch.StartOrContinue(context.Background(), "user-1", teamSync, "")
	require.NoError(t, err)
	require.Equal(t, model.TurnConflictDetected, result.Kind)
	return result
}

func TestScenarioConflictDetected(t *testing.T) {
	f := newFixture(t, sprintPlanning())
	result := startConflict(t, f)

	c := result.Conflict
	require.NotNil(t, c)
	assert.Equal(t, model.ConflictHard, c.Type)
	assert.GreaterOrEqual(t, c.Severity.Rank(), model.SeverityMedium.Rank())
	require.NotEmpty(t, c.Alternatives)
	for _, alt := range c.Alternatives {
		assert.False(t, conflict.Overlaps(alt.Start, alt.End, tomorrowAt(14, 0), tomorrowAt(15, 0)))
	}

	assert.Equal(t, `Team sync conflicts with "Sprint Planning" scheduled at 2:00 PM.`+
		` Here are some open times: 1) Thu, Oct 15 at 10:00 AM. 2) Thu, Oct 15 at 10:30 AM. 3) Thu, Oct 15 at 11:00 AM.`+
		` Pick a number, say "schedule anyway" to keep this time, or cancel.`, result.Message)

	require.Len(t, result.Options, len(c.Alternatives)+2)
	assert.Equal(t, "slot-1", result.Options[0].ID)
	assert.Equal(t, "Thu, Oct 15 at 10:00 AM", result.Options[0].Label)

	state, ok := f.orch.GetConversation(result.ConversationID)
	require.True(t, ok)
	assert.Equal(t, model.StepResolvingConflict, state.CurrentStep)
	assert.Equal(t, model.StatusWaitingForUser, state.Status)
	require.NotNil(t, state.ConflictInfo)
	assert.Equal(t, result.Message, state.Messages[len(state.Messages)-1].Content)

	f.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, []model.EventType{model.EventTypeConflict}, f.events.types())
}

func TestScenarioMissingTitleAsksForIt(t *testing.T) {
	f := newFixture(t)
	f.parser.On("Parse", mock.Anything, "add a task", mock.Anything).
		Return(model.CreateTask{ParseMeta: model.ParseMeta{Confident: true}}, nil)

	result, err := f.orch.StartOrContinue(context.Background(), "user-1", "add a task", "")
	require.NoError(t, err)
	assert.Equal(t, model.TurnClarificationNeeded, result.Kind)
	assert.Equal(t, "What would you like to add?", result.Question)
	assert.Equal(t, result.Question, result.Message)

	state, ok := f.orch.GetConversation(result.ConversationID)
	require.True(t, ok)
	assert.Equal(t, model.StepClarifying, state.CurrentStep)
	assert.Equal(t, model.StatusWaitingForUser, state.Status)
	assert.Equal(t, []model.MissingField{model.FieldTitle}, state.PendingFields)
	assert.Equal(t, model.ActionCreateTask, state.ExtractedData.Kind)
}

func TestClarificationThenSuccess(t *testing.T) {
	f := newFixture(t)
	f.parser.On("Parse", mock.Anything, "add a task", mock.Anything).
		Return(model.CreateTask{ParseMeta: model.ParseMeta{Confident: true}}, nil)
	f.parser.On("Parse", mock.Anything, "buy groceries", mock.MatchedBy(func(pc model.ParseContext) bool {
		return pc.Previous.Kind == model.ActionCreateTask &&
			pc.Step == model.StepClarifying &&
			len(pc.PendingFields) == 1 && pc.PendingFields[0] == model.FieldTitle
	})).Return(model.CreateTask{ParseMeta: model.ParseMeta{Confident: true}, Title: "Buy groceries"}, nil)
	f.executor.On("Execute", mock.Anything, "user-1", mock.MatchedBy(func(a model.ResolvedAction) bool {
		return a.Kind == model.ActionCreateTask && a.Title == "Buy groceries" && a.Start == nil
	})).Return(echo, nil)

	first, err := f.orch.StartOrContinue(context.Background(), "user-1", "add a task", "")
	require.NoError(t, err)

	second, err := f.orch.StartOrContinue(context.Background(), "user-1", "buy groceries", first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, model.TurnSuccess, second.Kind)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Equal(t, `Added "Buy groceries" to your tasks.`, second.Message)

	state, ok := f.orch.GetConversation(first.ConversationID)
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, state.Status)
	assert.Len(t, state.Messages, 4)
	f.parser.AssertExpectations(t)
}

func TestScenarioPickAlternative(t *testing.T) {
	f := newFixture(t, sprintPlanning())
	first := startConflict(t, f)
	chosen := first.Conflict.Alternatives[0]

	f.executor.On("Execute", mock.Anything, "user-1", mock.Anything).Return(echo, nil)

	result, err := f.orch.StartOrContinue(context.Background(), "user-1", "1", first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, model.TurnSuccess, result.Kind)
	require.NotNil(t, result.Executed)
	assert.Equal(t, chosen.Start, *result.Executed.Start)
	assert.Equal(t, `Scheduled "Team sync" for Thu, Oct 15 at 10:00 AM.`, result.Message)

	state, ok := f.orch.GetConversation(first.ConversationID)
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, state.Status)
	assert.Nil(t, state.ConflictInfo)
	assert.Equal(t, "2026-10-15", state.ExtractedData.Date)
	assert.Equal(t, "10:00", state.ExtractedData.Time)

	var system []string
	for _, m := range state.Messages {
		if m.Role == model.RoleSystem {
			system = append(system, m.Content)
		}
	}
	assert.Equal(t, []string{`Reschedule "Team sync" to Thu, Oct 15 at 10:00 AM.`}, system)

	// the parser is not consulted for a choice
	f.parser.AssertNumberOfCalls(t, "Parse", 1)
	assert.Equal(t, []model.EventType{model.EventTypeConflict, model.EventTypeExecuted}, f.events.types())
}

func TestScenarioIdleConversationExpires(t *testing.T) {
	f := newFixture(t)
	f.parser.On("Parse", mock.Anything, "add a task", mock.Anything).
		Return(model.CreateTask{ParseMeta: model.ParseMeta{Confident: true}}, nil)

	result, err := f.orch.StartOrContinue(context.Background(), "user-1", "add a task", "")
	require.NoError(t, err)
	require.Len(t, f.orch.ListConversations("user-1"), 1)

	f.clock.Advance(31 * time.Minute)
	_, ok := f.orch.GetConversation(result.ConversationID)
	assert.False(t, ok)
	assert.Empty(t, f.orch.ListConversations("user-1"))
	assert.Equal(t, 1, f.orch.Stats().Abandoned)
}

func TestExpiredConversationStartsFresh(t *testing.T) {
	f := newFixture(t)
	f.parser.On("Parse", mock.Anything, "add a task", mock.Anything).
		Return(model.CreateTask{ParseMeta: model.ParseMeta{Confident: true}}, nil)
	f.parser.On("Parse", mock.Anything, "buy groceries", mock.MatchedBy(func(pc model.ParseContext) bool {
		return pc.Previous.Kind == "" && pc.Step == model.StepInitial
	})).Return(model.CreateTask{ParseMeta: model.ParseMeta{Confident: true}, Title: "Buy groceries"}, nil)
	f.executor.On("Execute", mock.Anything, "user-1", mock.Anything).Return(echo, nil)

	first, err := f.orch.StartOrContinue(context.Background(), "user-1", "add a task", "")
	require.NoError(t, err)
	f.clock.Advance(31 * time.Minute)

	second, err := f.orch.StartOrContinue(context.Background(), "user-1", "buy groceries", first.ConversationID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ConversationID, second.ConversationID)
	assert.Equal(t, model.TurnSuccess, second.Kind)
}

func TestOtherUsersConversationStartsFresh(t *testing.T) {
	f := newFixture(t)
	f.parser.On("Parse", mock.Anything, "add a task", mock.Anything).
		Return(model.CreateTask{ParseMeta: model.ParseMeta{Confident: true}}, nil)

	first, err := f.orch.StartOrContinue(context.Background(), "user-1", "add a task", "")
	require.NoError(t, err)
	second, err := f.orch.StartOrContinue(context.Background(), "user-2", "add a task", first.ConversationID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ConversationID, second.ConversationID)

	state, ok := f.orch.GetConversation(first.ConversationID)
	require.True(t, ok)
	assert.Len(t, state.Messages, 2)
}

func TestCancelConflict(t *testing.T) {
	f := newFixture(t, sprintPlanning())
	first := startConflict(t, f)

	result, err := f.orch.StartOrContinue(context.Background(), "user-1", "Cancel that, please.", first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, model.TurnSuccess, result.Kind)
	assert.True(t, result.Cancelled)
	assert.Nil(t, result.Executed)
	assert.Equal(t, MsgCancelled, result.Message)

	state, ok := f.orch.GetConversation(first.ConversationID)
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, state.Status)
	assert.Nil(t, state.ExecutedAction)

	f.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, []model.EventType{model.EventTypeConflict, model.EventTypeCancelled}, f.events.types())
}

func TestInvalidChoiceDoesNotMutate(t *testing.T) {
	f := newFixture(t, sprintPlanning())
	first := startConflict(t, f)
	before, ok := f.orch.GetConversation(first.ConversationID)
	require.True(t, ok)

	result, err := f.orch.StartOrContinue(context.Background(), "user-1", "option 9", first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, model.TurnClarificationNeeded, result.Kind)
	assert.Equal(t, "Please choose a number between 1 and 5, or say cancel.", result.Question)
	assert.Equal(t, first.Options, result.Options)

	after, ok := f.orch.GetConversation(first.ConversationID)
	require.True(t, ok)
	assert.Equal(t, before.ExtractedData, after.ExtractedData)
	assert.Equal(t, model.StepResolvingConflict, after.CurrentStep)
	assert.NotNil(t, after.ConflictInfo)

	result, err = f.orch.StartOrContinue(context.Background(), "user-1", "hmm", first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, model.TurnClarificationNeeded, result.Kind)
	f.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestClarifyingReplyMentioningCancelIsParsed(t *testing.T) {
	f := newFixture(t)
	f.parser.On("Parse", mock.Anything, "add a task", mock.Anything).
		Return(model.CreateTask{ParseMeta: model.ParseMeta{Confident: true}}, nil)
	f.parser.On("Parse", mock.Anything, "cancel my gym membership", mock.Anything).
		Return(model.CreateTask{ParseMeta: model.ParseMeta{Confident: true}, Title: "Cancel my gym membership"}, nil)
	f.executor.On("Execute", mock.Anything, "user-1", mock.MatchedBy(func(a model.ResolvedAction) bool {
		return a.Kind == model.ActionCreateTask && a.Title == "Cancel my gym membership"
	})).Return(echo, nil)

	first, err := f.orch.StartOrContinue(context.Background(), "user-1", "add a task", "")
	require.NoError(t, err)
	require.Equal(t, model.TurnClarificationNeeded, first.Kind)

	second, err := f.orch.StartOrContinue(context.Background(), "user-1", "cancel my gym membership", first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, model.TurnSuccess, second.Kind)
	assert.False(t, second.Cancelled)
	require.NotNil(t, second.Executed)
	assert.Equal(t, "Cancel my gym membership", second.Executed.Title)
	f.executor.AssertNumberOfCalls(t, "Execute", 1)
	f.parser.AssertExpectations(t)
}

func TestClarifyingBareCancelEndsConversation(t *testing.T) {
	f := newFixture(t)
	f.parser.On("Parse", mock.Anything, "add a task", mock.Anything).
		Return(model.CreateTask{ParseMeta: model.ParseMeta{Confident: true}}, nil)

	first, err := f.orch.StartOrContinue(context.Background(), "user-1", "add a task", "")
	require.NoError(t, err)

	second, err := f.orch.StartOrContinue(context.Background(), "user-1", "Never mind.", first.ConversationID)
	require.NoError(t, err)
	assert.True(t, second.Cancelled)
	assert.Equal(t, MsgCancelled, second.Message)
	f.parser.AssertNumberOfCalls(t, "Parse", 1)
	f.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestClockTimeReplyIsNotAChoice(t *testing.T) {
	f := newFixture(t, sprintPlanning())
	first := startConflict(t, f)
	require.Len(t, first.Conflict.Alternatives, 5)
	before, ok := f.orch.GetConversation(first.ConversationID)
	require.True(t, ok)

	for _, reply := range []string{"how about 4:30 instead", "4pm", "keep my dentist appointment"} {
		result, err := f.orch.StartOrContinue(context.Background(), "user-1", reply, first.ConversationID)
		require.NoError(t, err, reply)
		assert.Equal(t, model.TurnClarificationNeeded, result.Kind, reply)
		assert.Equal(t, "Please choose a number between 1 and 5, or say cancel.", result.Question, reply)
	}

	after, ok := f.orch.GetConversation(first.ConversationID)
	require.True(t, ok)
	assert.Equal(t, before.ExtractedData, after.ExtractedData)
	assert.Equal(t, model.StepResolvingConflict, after.CurrentStep)
	f.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestOverrideKeepsOriginalTime(t *testing.T) {
	f := newFixture(t, sprintPlanning())
	first := startConflict(t, f)
	f.executor.On("Execute", mock.Anything, "user-1", mock.Anything).Return(echo, nil)

	result, err := f.orch.StartOrContinue(context.Background(), "user-1", "schedule anyway", first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, model.TurnSuccess, result.Kind)
	assert.Equal(t, tomorrowAt(14, 0), *result.Executed.Start)
}

func TestCalendarUnavailableThenRetry(t *testing.T) {
	f := newFixture(t)
	f.provider.err = errors.New("token expired")
	f.parser.On("Parse", mock.Anything, teamSync, mock.Anything).Return(teamSyncEvent(), nil)
	f.executor.On("Execute", mock.Anything, "user-1", mock.Anything).Return(echo, nil)

	first, err := f.orch.StartOrContinue(context.Background(), "user-1", teamSync, "")
	require.NoError(t, err)
	assert.Equal(t, model.TurnClarificationNeeded, first.Kind)
	assert.Equal(t, MsgCalendarUnavailable, first.Message)
	f.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)

	state, ok := f.orch.GetConversation(first.ConversationID)
	require.True(t, ok)
	assert.Equal(t, model.StepConfirming, state.CurrentStep)

	f.provider.err = nil
	second, err := f.orch.StartOrContinue(context.Background(), "user-1", "try again", first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, model.TurnSuccess, second.Kind)
	f.parser.AssertNumberOfCalls(t, "Parse", 1)
}

func TestExecutionFailureKeepsConversation(t *testing.T) {
	f := newFixture(t)
	f.parser.On("Parse", mock.Anything, teamSync, mock.Anything).Return(teamSyncEvent(), nil)
	f.executor.On("Execute", mock.Anything, "user-1", mock.Anything).Return(nil, errors.New("quota exceeded")).Once()
	f.executor.On("Execute", mock.Anything, "user-1", mock.Anything).Return(echo, nil).Once()

	first, err := f.orch.StartOrContinue(context.Background(), "user-1", teamSync, "")
	require.NoError(t, err)
	assert.Equal(t, model.TurnClarificationNeeded, first.Kind)
	assert.Equal(t, MsgExecutionFailed, first.Message)

	state, ok := f.orch.GetConversation(first.ConversationID)
	require.True(t, ok)
	assert.Equal(t, model.StatusWaitingForUser, state.Status)
	assert.Equal(t, MsgExecutionFailed, state.Messages[len(state.Messages)-1].Content)
	assert.Equal(t, "Team sync", state.ExtractedData.Title)

	second, err := f.orch.StartOrContinue(context.Background(), "user-1", "yes", first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, model.TurnSuccess, second.Kind)
	assert.Equal(t, []model.EventType{model.EventTypeExecutionFailed, model.EventTypeExecuted}, f.events.types())
}

func TestParserFailureAsksGenericQuestion(t *testing.T) {
	f := newFixture(t)
	f.parser.On("Parse", mock.Anything, "uh", mock.Anything).Return(nil, errors.New("llm timeout"))

	result, err := f.orch.StartOrContinue(context.Background(), "user-1", "uh", "")
	require.NoError(t, err)
	assert.Equal(t, model.TurnClarificationNeeded, result.Kind)
	assert.Equal(t, conversation.GenericQuestion, result.Question)
}

func TestParserOptionsAreOffered(t *testing.T) {
	f := newFixture(t)
	options := []model.ClarificationOption{{ID: "health", Label: "Health"}, {ID: "career", Label: "Career"}}
	f.parser.On("Parse", mock.Anything, "I want to run a 5k", mock.Anything).Return(model.CreateStructuredIntent{
		ParseMeta: model.ParseMeta{Confident: true, Options: options},
		Title:     "Run a 5k",
	}, nil)
	f.parser.On("Parse", mock.Anything, "Health", mock.Anything).Return(model.CreateStructuredIntent{
		ParseMeta:  model.ParseMeta{Confident: true},
		CategoryID: "health",
	}, nil)
	f.executor.On("Execute", mock.Anything, "user-1", mock.MatchedBy(func(a model.ResolvedAction) bool {
		return a.Title == "Run a 5k" && a.CategoryID == "health"
	})).Return(echo, nil)

	first, err := f.orch.StartOrContinue(context.Background(), "user-1", "I want to run a 5k", "")
	require.NoError(t, err)
	assert.Equal(t, "Which life area should this go in?", first.Question)
	assert.Equal(t, options, first.Options)

	second, err := f.orch.ResolveClarification(context.Background(), "user-1", first.ConversationID, "", "health")
	require.NoError(t, err)
	assert.Equal(t, model.TurnSuccess, second.Kind)
	assert.Equal(t, `Saved "Run a 5k".`, second.Message)
}

func TestResolveClarificationSelectsSlot(t *testing.T) {
	f := newFixture(t, sprintPlanning())
	first := startConflict(t, f)
	f.executor.On("Execute", mock.Anything, "user-1", mock.Anything).Return(echo, nil)

	result, err := f.orch.ResolveClarification(context.Background(), "user-1", first.ConversationID, "", "slot-2")
	require.NoError(t, err)
	assert.Equal(t, first.Conflict.Alternatives[1].Start, *result.Executed.Start)
}

func TestResolveClarificationErrors(t *testing.T) {
	f := newFixture(t, sprintPlanning())

	_, err := f.orch.ResolveClarification(context.Background(), "user-1", "missing", "", "slot-1")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	first := startConflict(t, f)
	_, err = f.orch.ResolveClarification(context.Background(), "user-1", first.ConversationID, "", "bogus")
	assert.ErrorIs(t, err, ErrUnknownOption)

	_, err = f.orch.StartOrContinue(context.Background(), "user-1", "   ", "")
	assert.ErrorIs(t, err, ErrEmptyTranscript)
}

func TestLateExecutionResultIsDiscarded(t *testing.T) {
	f := newFixture(t)
	f.parser.On("Parse", mock.Anything, teamSync, mock.Anything).Return(teamSyncEvent(), nil)
	f.executor.On("Execute", mock.Anything, "user-1", mock.Anything).
		Run(func(mock.Arguments) { f.clock.Advance(31 * time.Minute) }).
		Return(echo, nil)

	result, err := f.orch.StartOrContinue(context.Background(), "user-1", teamSync, "")
	require.NoError(t, err)
	assert.Equal(t, model.TurnSuccess, result.Kind)

	_, ok := f.orch.GetConversation(result.ConversationID)
	assert.False(t, ok)
	assert.Equal(t, 0, f.orch.Stats().Completed)
}

func TestDeleteConversation(t *testing.T) {
	f := newFixture(t)
	f.parser.On("Parse", mock.Anything, "add a task", mock.Anything).
		Return(model.CreateTask{ParseMeta: model.ParseMeta{Confident: true}}, nil)

	result, err := f.orch.StartOrContinue(context.Background(), "user-1", "add a task", "")
	require.NoError(t, err)
	assert.True(t, f.orch.DeleteConversation(result.ConversationID))
	assert.False(t, f.orch.DeleteConversation(result.ConversationID))
	_, ok := f.orch.GetConversation(result.ConversationID)
	assert.False(t, ok)
}

func TestAbandonedHook(t *testing.T) {
	pub := &recordingPublisher{}
	hook := AbandonedHook(pub, clock.NewFake(now), logger.NewNop())

	hook(&model.ConversationState{ID: "c1", UserID: "u1"}, conversation.EvictRetention)
	hook(&model.ConversationState{ID: "c2", UserID: "u1"}, conversation.EvictExpired)

	assert.Eventually(t, func() bool { return len(pub.types()) == 1 }, time.Second, 5*time.Millisecond)
	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, "c2", pub.events[0].ConversationID)
	assert.Equal(t, model.EventTypeAbandoned, pub.events[0].Type)
	assert.Equal(t, conversation.EvictExpired, pub.events[0].Reason)
}
