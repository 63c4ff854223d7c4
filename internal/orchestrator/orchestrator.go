// Package orchestrator runs the multi-turn conversation state machine: it
// merges parser output into conversation state and decides whether to
// clarify, surface a calendar conflict or execute.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/khanflow/voice-assistant/internal/clock"
	"github.com/khanflow/voice-assistant/internal/conflict"
	"github.com/khanflow/voice-assistant/internal/conversation"
	"github.com/khanflow/voice-assistant/internal/model"
	"github.com/khanflow/voice-assistant/pkg/logger"
	"github.com/khanflow/voice-assistant/pkg/metrics"
	"github.com/khanflow/voice-assistant/pkg/tracing"
)

var (
	// ErrConversationNotFound is returned when a turn names a conversation
	// that is gone and there is nothing to start fresh with.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrEmptyTranscript is returned for a turn without any text.
	ErrEmptyTranscript = errors.New("transcript is empty")
	// ErrUnknownOption is returned when a selected option id was never offered.
	ErrUnknownOption = errors.New("unknown option")
)

// Parser turns a transcript into a structured action.
type Parser interface {
	Parse(ctx context.Context, transcript string, pc model.ParseContext) (model.ParsedAction, error)
}

// ConflictChecker finds collisions for a requested window. A nil conflict
// with a nil error means the window is clear.
type ConflictChecker interface {
	CheckConflicts(ctx context.Context, userID string, start, end time.Time, opts conflict.CheckOptions) (*model.Conflict, error)
}

// Executor creates whatever a resolved action describes.
type Executor interface {
	Execute(ctx context.Context, userID string, action model.ResolvedAction) (*model.ExecutedAction, error)
}

// EventPublisher receives turn outcomes.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.ConversationEvent) error
}

// Options configure an Orchestrator.
type Options struct {
	Location *time.Location
	Clock    clock.Clock
	Events   EventPublisher
	// HistoryLimit bounds the messages passed to the parser.
	HistoryLimit int
}

// Orchestrator drives conversation turns.
type Orchestrator struct {
	store    *conversation.Store
	parser   Parser
	checker  ConflictChecker
	executor Executor
	events   EventPublisher
	location *time.Location
	clock    clock.Clock
	history  int
	logger   *logger.Logger
	tracer   trace.Tracer
}

// New creates an Orchestrator.
func New(store *conversation.Store, parser Parser, checker ConflictChecker, executor Executor, opts Options, log *logger.Logger) *Orchestrator {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	return &Orchestrator{
		store:    store,
		parser:   parser,
		checker:  checker,
		executor: executor,
		events:   opts.Events,
		location: opts.Location,
		clock:    opts.Clock,
		history:  opts.HistoryLimit,
		logger:   log.Named("orchestrator"),
		tracer:   tracing.Tracer("orchestrator"),
	}
}

// StartOrContinue handles one user turn. An empty or unknown conversationID,
// or one owned by another user, starts a new conversation.
func (o *Orchestrator) StartOrContinue(ctx context.Context, userID, transcript, conversationID string) (*model.TurnResult, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, ErrEmptyTranscript
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.StartOrContinue")
	defer span.End()

	state := o.open(userID, transcript, conversationID)
	span.SetAttributes(
		attribute.String("conversation_id", state.ID),
		attribute.String("step", string(state.CurrentStep)),
	)

	t := &turn{o: o, state: state, log: o.logger.WithConversation(state.ID, userID)}

	text := normalize(transcript)
	waiting := state.CurrentStep == model.StepClarifying || state.CurrentStep == model.StepConfirming

	var (
		result *model.TurnResult
		err    error
	)
	switch {
	case state.CurrentStep == model.StepResolvingConflict && state.ConflictInfo != nil:
		result, err = t.resolveConflict(ctx, transcript)
	case waiting && isCancel(text):
		result, err = t.cancel(ctx)
	case state.CurrentStep == model.StepConfirming && isAffirmative(text):
		result, err = t.retry(ctx)
	default:
		result, err = t.parseAndDecide(ctx, transcript)
	}
	if err != nil {
		return nil, err
	}

	outcome := string(result.Kind)
	if result.Cancelled {
		outcome = "cancelled"
	}
	metrics.RecordTurn(outcome)
	span.SetAttributes(attribute.String("outcome", outcome))
	return result, nil
}

// ResolveClarification answers an outstanding question, either with free
// text or by selecting one of the offered options.
func (o *Orchestrator) ResolveClarification(ctx context.Context, userID, conversationID, freeText, selectedOptionID string) (*model.TurnResult, error) {
	state, ok := o.store.Get(conversationID)
	if !ok || state.UserID != userID {
		if strings.TrimSpace(freeText) != "" {
			return o.StartOrContinue(ctx, userID, freeText, "")
		}
		return nil, ErrConversationNotFound
	}

	if selectedOptionID == "" {
		return o.StartOrContinue(ctx, userID, freeText, state.ID)
	}

	text, ok := optionText(state, selectedOptionID)
	if !ok {
		if strings.TrimSpace(freeText) != "" {
			return o.StartOrContinue(ctx, userID, freeText, state.ID)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownOption, selectedOptionID)
	}
	return o.StartOrContinue(ctx, userID, text, state.ID)
}

// GetConversation returns a live conversation. Callers verify ownership.
func (o *Orchestrator) GetConversation(id string) (*model.ConversationState, bool) {
	return o.store.Get(id)
}

// ListConversations returns the user's live conversations.
func (o *Orchestrator) ListConversations(userID string) []*model.ConversationState {
	return o.store.ListForUser(userID)
}

// DeleteConversation abandons a conversation.
func (o *Orchestrator) DeleteConversation(id string) bool {
	return o.store.Delete(id)
}

// Stats reports store counts.
func (o *Orchestrator) Stats() conversation.Stats {
	return o.store.Stats()
}

// open resolves the turn's conversation, creating one when needed, and
// records the user transcript.
func (o *Orchestrator) open(userID, transcript, conversationID string) *model.ConversationState {
	if conversationID != "" {
		if state, ok := o.store.Get(conversationID); ok && state.UserID == userID {
			state, ok = o.store.AddMessage(state.ID, model.RoleUser, transcript, nil)
			if ok {
				return state
			}
		} else if ok {
			o.logger.Warn("conversation owned by another user, starting fresh",
				logger.ConversationID(conversationID),
				logger.UserID(userID),
			)
		}
	}
	return o.store.Create(userID, transcript)
}

// optionText maps an option id to the transcript it stands for.
func optionText(state *model.ConversationState, id string) (string, bool) {
	switch id {
	case OptionCancel:
		return "cancel", true
	case OptionOverride:
		return "schedule anyway", true
	}
	if n, ok := strings.CutPrefix(id, slotOptionPrefix); ok && state.ConflictInfo != nil {
		return n, true
	}
	for _, opt := range state.PendingOptions {
		if opt.ID == id {
			return opt.Label, true
		}
	}
	return "", false
}

// publish emits a turn outcome. Failures are logged and never fail the turn.
func (o *Orchestrator) publish(ctx context.Context, state *model.ConversationState, typ model.EventType, reason string, metadata map[string]any) {
	if o.events == nil {
		return
	}
	event := newEvent(state, typ, reason, metadata, o.clock.Now())
	if err := o.events.PublishEvent(ctx, event); err != nil {
		o.logger.Warn("failed to publish conversation event",
			logger.ConversationID(state.ID),
			zap.String("type", string(typ)),
			zap.Error(err),
		)
	}
}

func newEvent(state *model.ConversationState, typ model.EventType, reason string, metadata map[string]any, now time.Time) *model.ConversationEvent {
	return &model.ConversationEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: state.ID,
		UserID:         state.UserID,
		Type:           typ,
		Reason:         reason,
		Metadata:       metadata,
		CreatedAt:      now,
	}
}

// AbandonedHook returns a store eviction hook that publishes an abandoned
// event for every conversation that expired or was deleted. Retention purges
// of completed conversations are not reported. Publishing happens off the
// store's lock.
func AbandonedHook(events EventPublisher, clk clock.Clock, log *logger.Logger) conversation.EvictFunc {
	return func(state *model.ConversationState, reason string) {
		if reason == conversation.EvictRetention {
			return
		}
		event := newEvent(state, model.EventTypeAbandoned, reason, nil, clk.Now())
		go func() {
			if err := events.PublishEvent(context.Background(), event); err != nil {
				log.Warn("failed to publish abandoned event",
					logger.ConversationID(event.ConversationID),
					zap.Error(err),
				)
			}
		}()
	}
}
