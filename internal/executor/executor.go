// Package executor carries out resolved actions: calendar events are written
// to the user's calendar and tasks and intents are handed to downstream
// workers over NATS.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khanflow/voice-assistant/internal/clock"
	"github.com/khanflow/voice-assistant/internal/model"
	"github.com/khanflow/voice-assistant/internal/nats"
	"github.com/khanflow/voice-assistant/pkg/logger"
)

// ProviderNATS tags actions handed off over NATS.
const ProviderNATS = "nats"

var (
	// ErrUnsupportedAction is returned for an action kind with no handler.
	ErrUnsupportedAction = errors.New("unsupported action")
	// ErrNoEventWriter is returned for events when no calendar is writable.
	ErrNoEventWriter = errors.New("no calendar configured for writing")
)

// EventWriter creates calendar events.
type EventWriter interface {
	CreateEvent(ctx context.Context, userID string, action model.ResolvedAction) (*model.ExecutedAction, error)
}

// CommandPublisher hands commands to downstream workers.
type CommandPublisher interface {
	PublishCommand(ctx context.Context, cmd *nats.Command) (uint64, error)
}

// Dispatcher routes a resolved action to the handler for its kind.
type Dispatcher struct {
	events   EventWriter
	commands CommandPublisher
	clock    clock.Clock
	logger   *logger.Logger
}

// NewDispatcher creates a dispatcher. events may be nil when no calendar is
// writable; commands may be nil when NATS is not configured.
func NewDispatcher(events EventWriter, commands CommandPublisher, clk clock.Clock, log *logger.Logger) *Dispatcher {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Dispatcher{
		events:   events,
		commands: commands,
		clock:    clk,
		logger:   log.Named("executor"),
	}
}

// Execute carries out action for userID.
func (d *Dispatcher) Execute(ctx context.Context, userID string, action model.ResolvedAction) (*model.ExecutedAction, error) {
	var (
		executed *model.ExecutedAction
		err      error
	)
	switch action.Kind {
	case model.ActionCreateEvent:
		if d.events == nil {
			err = ErrNoEventWriter
			break
		}
		executed, err = d.events.CreateEvent(ctx, userID, action)
	case model.ActionCreateTask, model.ActionCreateStructuredIntent:
		executed, err = d.handOff(ctx, userID, action)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedAction, action.Kind)
	}

	if err != nil {
		d.logger.Error("failed to execute action",
			logger.UserID(userID),
			logger.Kind(action.Kind),
			zap.Error(err),
		)
		return nil, err
	}

	d.logger.Info("executed action",
		logger.UserID(userID),
		logger.Kind(action.Kind),
		zap.String("id", executed.ID),
		logger.Provider(executed.Provider),
	)
	return executed, nil
}

func (d *Dispatcher) handOff(ctx context.Context, userID string, action model.ResolvedAction) (*model.ExecutedAction, error) {
	if d.commands == nil {
		return nil, fmt.Errorf("%w: %s without a command publisher", ErrUnsupportedAction, action.Kind)
	}

	now := d.clock.Now()
	cmd := &nats.Command{
		ID:        uuid.Must(uuid.NewV7()).String(),
		UserID:    userID,
		Action:    action,
		CreatedAt: now,
	}
	if _, err := d.commands.PublishCommand(ctx, cmd); err != nil {
		return nil, err
	}

	return &model.ExecutedAction{
		Kind:       action.Kind,
		ID:         cmd.ID,
		Provider:   ProviderNATS,
		Title:      action.Title,
		Start:      action.Start,
		End:        action.End,
		ExecutedAt: now,
	}, nil
}
