package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/khanflow/voice-assistant/internal/conflict"
	"github.com/khanflow/voice-assistant/internal/conversation"
	"github.com/khanflow/voice-assistant/internal/model"
	"github.com/khanflow/voice-assistant/pkg/logger"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"

	defaultEventMinutes = 60
	defaultTaskMinutes  = 30
)

// errExpired aborts a turn whose conversation vanished between steps.
var errExpired = fmt.Errorf("%w: expired during turn", ErrConversationNotFound)

// turn carries one conversation through a single user turn. state always
// holds the latest copy returned by the store.
type turn struct {
	o     *Orchestrator
	state *model.ConversationState
	log   *logger.Logger
}

func ptr[T any](v T) *T { return &v }

func (t *turn) update(p conversation.Patch) error {
	state, ok := t.o.store.Update(t.state.ID, p)
	if !ok {
		t.log.Warn("conversation expired mid-turn, discarding update")
		return errExpired
	}
	t.state = state
	return nil
}

func (t *turn) say(role model.Role, content string) error {
	state, ok := t.o.store.AddMessage(t.state.ID, role, content, nil)
	if !ok {
		t.log.Warn("conversation expired mid-turn, discarding message")
		return errExpired
	}
	t.state = state
	return nil
}

func (t *turn) parseAndDecide(ctx context.Context, transcript string) (*model.TurnResult, error) {
	o := t.o
	pc := model.ParseContext{
		UserID:        t.state.UserID,
		Now:           o.clock.Now(),
		Location:      o.location,
		Step:          t.state.CurrentStep,
		Previous:      t.state.ExtractedData.Clone(),
		PendingFields: t.state.PendingFields,
		History:       lastMessages(t.state.Messages, o.history),
	}

	parsed, err := o.parser.Parse(ctx, transcript, pc)
	if err != nil {
		t.log.Warn("failed to parse transcript", zap.Error(err))
		return t.ask(ctx, ask{question: conversation.GenericQuestion})
	}

	data := t.state.ExtractedData.Clone()
	parsed.Apply(&data)

	action := parsed
	if parsed.Kind() != model.ActionClarificationRequired {
		action = data.Action(parsed.Meta())
	}

	if conversation.RequiresClarification(action) {
		return t.ask(ctx, ask{
			data:     &data,
			parsed:   parsed,
			question: conversation.GenerateClarificationQuestion(action, t.state),
			fields:   conversation.MissingFields(action),
			options:  action.Meta().Options,
		})
	}

	err = t.update(conversation.Patch{
		Status:         ptr(model.StatusActive),
		CurrentStep:    ptr(model.StepInitial),
		ExtractedData:  &data,
		PendingFields:  &[]model.MissingField{},
		PendingOptions: &[]model.ClarificationOption{},
		LastParsed:     parsed,
	})
	if err != nil {
		return nil, err
	}
	t.log.Debug("action complete", logger.Kind(data.Kind))
	return t.proceed(ctx, true)
}

// ask is a clarification-shaped reply.
type ask struct {
	data     *model.ExtractedData
	parsed   model.ParsedAction
	question string
	fields   []model.MissingField
	options  []model.ClarificationOption
	step     model.Step
	event    model.EventType
	reason   string
}

func (t *turn) ask(ctx context.Context, a ask) (*model.TurnResult, error) {
	if a.step == "" {
		a.step = model.StepClarifying
	}
	if a.event == "" {
		a.event = model.EventTypeClarification
	}
	if a.reason == "" {
		a.reason = a.question
	}

	err := t.update(conversation.Patch{
		Status:         ptr(model.StatusWaitingForUser),
		CurrentStep:    &a.step,
		ExtractedData:  a.data,
		PendingFields:  &a.fields,
		PendingOptions: &a.options,
		LastParsed:     a.parsed,
	})
	if err != nil {
		return nil, err
	}
	if err := t.say(model.RoleAssistant, a.question); err != nil {
		return nil, err
	}

	t.log.Debug("waiting for user", zap.String("step", string(a.step)), zap.String("event", string(a.event)))
	t.o.publish(ctx, t.state, a.event, a.reason, map[string]any{"step": string(a.step)})

	return &model.TurnResult{
		Kind:           model.TurnClarificationNeeded,
		ConversationID: t.state.ID,
		Message:        a.question,
		Question:       a.question,
		Options:        a.options,
	}, nil
}

// proceed checks the calendar when the action occupies time and executes
// when nothing stands in the way.
func (t *turn) proceed(ctx context.Context, checkConflicts bool) (*model.TurnResult, error) {
	o := t.o
	p, missing := o.plan(t.state.ExtractedData)
	if len(missing) > 0 {
		return t.ask(ctx, ask{question: conversation.QuestionFor(missing[0]), fields: missing})
	}

	if p.calendar && checkConflicts {
		c, err := o.checker.CheckConflicts(ctx, t.state.UserID, *p.action.Start, *p.action.End, conflict.CheckOptions{Title: p.action.Title})
		if err != nil {
			t.log.Error("conflict check failed", zap.Error(err))
			return t.ask(ctx, ask{
				question: MsgCalendarUnavailable,
				step:     model.StepConfirming,
				reason:   err.Error(),
			})
		}
		if c != nil {
			return t.surfaceConflict(ctx, c)
		}
	}
	return t.execute(ctx, p.action)
}

func (t *turn) surfaceConflict(ctx context.Context, c *model.Conflict) (*model.TurnResult, error) {
	options := conflictOptions(c, t.o.location)
	msg := conflictMessage(c, t.o.location)

	err := t.update(conversation.Patch{
		Status:         ptr(model.StatusWaitingForUser),
		CurrentStep:    ptr(model.StepResolvingConflict),
		ConflictInfo:   c,
		PendingOptions: &options,
	})
	if err != nil {
		return nil, err
	}
	if err := t.say(model.RoleAssistant, msg); err != nil {
		return nil, err
	}

	t.log.Debug("conflict surfaced",
		zap.String("type", string(c.Type)),
		zap.String("severity", string(c.Severity)),
		zap.Int("alternatives", len(c.Alternatives)),
	)
	t.o.publish(ctx, t.state, model.EventTypeConflict, c.Message, map[string]any{
		"type":         string(c.Type),
		"severity":     string(c.Severity),
		"alternatives": len(c.Alternatives),
	})

	return &model.TurnResult{
		Kind:           model.TurnConflictDetected,
		ConversationID: t.state.ID,
		Message:        msg,
		Options:        options,
		Conflict:       c,
	}, nil
}

func (t *turn) execute(ctx context.Context, action model.ResolvedAction) (*model.TurnResult, error) {
	o := t.o
	executed, err := o.executor.Execute(ctx, t.state.UserID, action)
	if err != nil {
		t.log.Error("failed to execute action", logger.Kind(action.Kind), zap.Error(err))
		return t.ask(ctx, ask{
			question: MsgExecutionFailed,
			step:     model.StepConfirming,
			event:    model.EventTypeExecutionFailed,
			reason:   err.Error(),
		})
	}

	msg := confirmation(action, o.location)
	if state, ok := o.store.Complete(t.state.ID, executed, msg); ok {
		t.state = state
	} else {
		t.log.Warn("conversation expired before execution returned, result not recorded",
			zap.String("executed_id", executed.ID),
		)
	}

	o.publish(ctx, t.state, model.EventTypeExecuted, msg, map[string]any{
		"kind":     string(executed.Kind),
		"id":       executed.ID,
		"provider": executed.Provider,
	})

	return &model.TurnResult{
		Kind:           model.TurnSuccess,
		ConversationID: t.state.ID,
		Message:        msg,
		Executed:       executed,
	}, nil
}

// retry repeats the step that failed for an unreachable calendar or a
// failed execution.
func (t *turn) retry(ctx context.Context) (*model.TurnResult, error) {
	if err := t.update(conversation.Patch{Status: ptr(model.StatusActive), CurrentStep: ptr(model.StepExecuting)}); err != nil {
		return nil, err
	}
	return t.proceed(ctx, true)
}

func (t *turn) cancel(ctx context.Context) (*model.TurnResult, error) {
	state, ok := t.o.store.Complete(t.state.ID, nil, MsgCancelled)
	if !ok {
		return nil, errExpired
	}
	t.state = state
	t.o.publish(ctx, t.state, model.EventTypeCancelled, MsgCancelled, nil)

	return &model.TurnResult{
		Kind:           model.TurnSuccess,
		ConversationID: t.state.ID,
		Message:        MsgCancelled,
		Cancelled:      true,
	}, nil
}

// plan turns accumulated data into a resolved action, reporting the fields
// that still prevent it.
type plan struct {
	action   model.ResolvedAction
	calendar bool
}

func (o *Orchestrator) plan(d model.ExtractedData) (plan, []model.MissingField) {
	p := plan{action: model.ResolvedAction{
		Kind:            d.Kind,
		Title:           d.Title,
		Description:     d.Description,
		DurationMinutes: d.DurationMinutes,
		Recurrence:      d.Recurrence,
		Priority:        d.Priority,
		Urgency:         d.Urgency,
		CategoryID:      d.CategoryID,
		ListIDs:         append([]string(nil), d.ListIDs...),
	}}

	switch d.Kind {
	case model.ActionCreateEvent:
		var missing []model.MissingField
		if d.Date == "" {
			missing = append(missing, model.FieldDate)
		}
		if d.Time == "" {
			missing = append(missing, model.FieldTime)
		}
		if len(missing) > 0 {
			return p, missing
		}
		if p.action.DurationMinutes <= 0 {
			p.action.DurationMinutes = defaultEventMinutes
		}
	case model.ActionCreateTask:
		p.action.DueDate = d.Date
		if d.Date == "" || d.Time == "" {
			return p, nil
		}
		if p.action.DurationMinutes <= 0 {
			p.action.DurationMinutes = defaultTaskMinutes
		}
	case model.ActionCreateStructuredIntent:
		return p, nil
	default:
		return p, []model.MissingField{model.FieldTitle}
	}

	start, bad := o.parseStart(d.Date, d.Time)
	if bad != nil {
		return p, []model.MissingField{*bad}
	}
	end := start.Add(time.Duration(p.action.DurationMinutes) * time.Minute)
	p.action.Start = &start
	p.action.End = &end
	p.calendar = true
	return p, nil
}

func (o *Orchestrator) parseStart(date, hhmm string) (time.Time, *model.MissingField) {
	day, err := time.ParseInLocation(DateLayout, date, o.location)
	if err != nil {
		return time.Time{}, ptr(model.FieldDate)
	}
	hm, err := time.Parse(ClockLayout, hhmm)
	if err != nil {
		return time.Time{}, ptr(model.FieldTime)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hm.Hour(), hm.Minute(), 0, 0, o.location), nil
}

func lastMessages(msgs []model.Message, n int) []model.Message {
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]model.Message(nil), msgs...)
}
