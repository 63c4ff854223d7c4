package conflict

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/khanflow/voice-assistant/internal/clock"
	"github.com/khanflow/voice-assistant/internal/model"
	"github.com/khanflow/voice-assistant/pkg/logger"
	"github.com/khanflow/voice-assistant/pkg/metrics"
	"github.com/khanflow/voice-assistant/pkg/tracing"
)

// ErrCheckFailed is returned when every calendar provider failed, so the
// calendar state is unknown. It is never reported as "no conflict".
var ErrCheckFailed = errors.New("conflict check failed")

// CalendarProvider is a source of busy events.
type CalendarProvider interface {
	Name() string
	ListBusyEvents(ctx context.Context, userID string, start, end time.Time) ([]model.ConflictEvent, error)
}

// ProviderError is one provider's fetch failure.
type ProviderError struct {
	Provider string
	Err      error
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

// CheckFailedError lists the failures of a check in which no provider
// succeeded. It matches ErrCheckFailed with errors.Is.
type CheckFailedError struct {
	Failures []ProviderError
}

func (e *CheckFailedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("%s: %s", ErrCheckFailed, strings.Join(parts, "; "))
}

func (e *CheckFailedError) Unwrap() error {
	return ErrCheckFailed
}

// CheckOptions qualify a conflict check.
type CheckOptions struct {
	Title string
	// IncludeAllCalendars consults secondary calendars too. Providers opt
	// out of the primary set by implementing Primary() returning false.
	IncludeAllCalendars bool
}

// Options configure an Engine.
type Options struct {
	Location         *time.Location
	WorkDayStartHour int
	WorkDayEndHour   int
	Severity         SeverityWeights
	Scoring          ScoringWeights
	// Slots are used for the alternatives attached to a conflict.
	Slots SlotOptions
	Clock clock.Clock
}

// DefaultOptions returns UTC, 09:00-17:00 working hours and stock weights.
func DefaultOptions() Options {
	return Options{
		Location:         time.UTC,
		WorkDayStartHour: 9,
		WorkDayEndHour:   17,
		Severity:         DefaultSeverityWeights(),
		Scoring:          DefaultScoringWeights(),
		Slots:            DefaultSlotOptions(),
		Clock:            clock.Real{},
	}
}

// Engine composes provider fan-out, overlap testing, classification and
// alternative slot generation.
type Engine struct {
	providers  []CalendarProvider
	classifier Classifier
	generator  SlotGenerator
	scorer     SlotScorer
	slots      SlotOptions
	location   *time.Location
	clock      clock.Clock
	logger     *logger.Logger
	tracer     trace.Tracer
}

// NewEngine creates a conflict detection engine over the given providers.
func NewEngine(providers []CalendarProvider, opts Options, log *logger.Logger) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Severity == (SeverityWeights{}) {
		opts.Severity = DefaultSeverityWeights()
	}
	if opts.Scoring == (ScoringWeights{}) {
		opts.Scoring = DefaultScoringWeights()
	}
	if opts.Slots == (SlotOptions{}) {
		opts.Slots = DefaultSlotOptions()
	}
	if opts.WorkDayEndHour <= opts.WorkDayStartHour {
		opts.WorkDayStartHour, opts.WorkDayEndHour = 9, 17
	}
	return &Engine{
		providers:  providers,
		classifier: NewClassifier(opts.Severity),
		generator: SlotGenerator{
			WorkDayStartHour: opts.WorkDayStartHour,
			WorkDayEndHour:   opts.WorkDayEndHour,
			Location:         opts.Location,
		},
		scorer:   SlotScorer{Weights: opts.Scoring, Location: opts.Location},
		slots:    opts.Slots,
		location: opts.Location,
		clock:    opts.Clock,
		logger:   log.Named("conflict"),
		tracer:   tracing.Tracer("conflict"),
	}
}

// Location is the zone used for day boundaries and message formatting.
func (e *Engine) Location() *time.Location {
	return e.location
}

// CheckConflicts returns the conflict for [start, end), nil when the window
// is clear, or an error wrapping ErrCheckFailed when no provider answered.
func (e *Engine) CheckConflicts(ctx context.Context, userID string, start, end time.Time, opts CheckOptions) (*model.Conflict, error) {
	ctx, span := e.tracer.Start(ctx, "conflict.CheckConflicts")
	defer span.End()

	busy, err := e.fetchBusy(ctx, userID, start, end, opts.IncludeAllCalendars)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	colliding := Colliding(busy, start, end)
	span.SetAttributes(
		attribute.Int("busy_events", len(busy)),
		attribute.Int("colliding_events", len(colliding)),
	)
	if len(colliding) == 0 {
		return nil, nil
	}
	sort.SliceStable(colliding, func(i, j int) bool {
		return colliding[i].Start.Before(colliding[j].Start)
	})

	conflictType, severity := e.classifier.Classify(colliding)

	duration := int(end.Sub(start) / time.Minute)
	slotOpts := e.slots
	slotOpts.IncludeAllCalendars = opts.IncludeAllCalendars
	alternatives, err := e.FindAlternativeSlots(ctx, userID, duration, start, slotOpts)
	if err != nil {
		e.logger.Warn("alternative slot search failed", logger.UserID(userID), zap.Error(err))
		alternatives = nil
	}

	metrics.RecordConflict(string(conflictType), string(severity))
	e.logger.Debug("conflict detected",
		logger.UserID(userID),
		zap.String("type", string(conflictType)),
		zap.String("severity", string(severity)),
		zap.Int("colliding", len(colliding)),
		zap.Int("alternatives", len(alternatives)),
	)

	return &model.Conflict{
		Type:         conflictType,
		Severity:     severity,
		Requested:    model.RequestedEvent{Title: opts.Title, Start: start, End: end},
		Events:       colliding,
		Alternatives: alternatives,
		Message:      Describe(opts.Title, colliding, e.location),
	}, nil
}

// FindAlternativeSlots proposes ranked windows of durationMinutes near
// preferred that collide with none of the user's busy events on the calendars
// selected by opts.IncludeAllCalendars.
func (e *Engine) FindAlternativeSlots(ctx context.Context, userID string, durationMinutes int, preferred time.Time, opts SlotOptions) ([]model.TimeSlot, error) {
	ctx, span := e.tracer.Start(ctx, "conflict.FindAlternativeSlots")
	defer span.End()

	from, to := e.generator.Horizon(preferred, opts.SameDayOnly)
	busy, err := e.fetchBusy(ctx, userID, from, to, opts.IncludeAllCalendars)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return e.Alternatives(busy, durationMinutes, preferred, opts), nil
}

// Alternatives runs candidate generation and ranking over an already
// fetched busy set.
func (e *Engine) Alternatives(busy []model.ConflictEvent, durationMinutes int, preferred time.Time, opts SlotOptions) []model.TimeSlot {
	if opts.MaxSuggestions <= 0 {
		opts.MaxSuggestions = DefaultSlotOptions().MaxSuggestions
	}
	duration := time.Duration(durationMinutes) * time.Minute
	candidates := e.generator.Candidates(busy, duration, preferred, opts, e.clock.Now())
	return e.scorer.Rank(candidates, preferred, opts.PreferredTimeOfDay, opts.MaxSuggestions)
}

type primaryAware interface {
	Primary() bool
}

// fetchBusy queries providers concurrently and concatenates their events.
// Individual failures are logged and skipped; only a total failure errors.
func (e *Engine) fetchBusy(ctx context.Context, userID string, start, end time.Time, all bool) ([]model.ConflictEvent, error) {
	providers := make([]CalendarProvider, 0, len(e.providers))
	for _, p := range e.providers {
		if pa, ok := p.(primaryAware); ok && !all && !pa.Primary() {
			continue
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, nil
	}

	type result struct {
		events []model.ConflictEvent
		err    error
	}
	results := make([]result, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p CalendarProvider) {
			defer wg.Done()
			events, err := p.ListBusyEvents(ctx, userID, start, end)
			results[i] = result{events: events, err: err}
		}(i, p)
	}
	wg.Wait()

	var busy []model.ConflictEvent
	var failures []ProviderError
	for i, r := range results {
		name := providers[i].Name()
		if r.err != nil {
			metrics.RecordProviderError(name)
			e.logger.Warn("calendar provider fetch failed",
				logger.Provider(name),
				logger.UserID(userID),
				zap.Error(r.err),
			)
			failures = append(failures, ProviderError{Provider: name, Err: r.err})
			continue
		}
		busy = append(busy, r.events...)
	}

	if len(failures) == len(providers) {
		err := &CheckFailedError{Failures: failures}
		e.logger.Error("all calendar providers failed", logger.UserID(userID), zap.Error(err))
		return nil, err
	}
	return busy, nil
}
