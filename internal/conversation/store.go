package conversation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khanflow/voice-assistant/internal/clock"
	"github.com/khanflow/voice-assistant/internal/model"
	"github.com/khanflow/voice-assistant/pkg/logger"
	"github.com/khanflow/voice-assistant/pkg/metrics"
)

// ErrNotFound is returned by callers that need an error for an absent or
// expired conversation. Store methods themselves report absence with a bool.
var ErrNotFound = errors.New("conversation not found")

const (
	DefaultTTL       = 30 * time.Minute
	DefaultRetention = 5 * time.Minute
)

// Eviction reasons.
const (
	EvictExpired   = "expired"
	EvictRetention = "retention"
	EvictDeleted   = "deleted"
)

// EvictFunc observes a state as it leaves the store. It runs while the store
// is locked and must not call back into it.
type EvictFunc func(state *model.ConversationState, reason string)

// Options configure a Store.
type Options struct {
	TTL       time.Duration
	Retention time.Duration
	Clock     clock.Clock
	Storage   Storage
	OnEvict   EvictFunc
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Status         *model.Status
	CurrentStep    *model.Step
	ExtractedData  *model.ExtractedData
	PendingFields  *[]model.MissingField
	PendingOptions *[]model.ClarificationOption
	ConflictInfo   *model.Conflict
	ClearConflict  bool
	// LastParsed attaches a parse result to the most recent user message.
	LastParsed model.ParsedAction
}

// Stats counts conversations by status. Total, Active, WaitingForUser and
// Completed describe the live store, and Total is the sum of Active and
// Completed; Active includes conversations waiting for the user.
//
// Abandoned is a running count since the process started, not part of Total,
// because abandoned states are purged as soon as they are discovered.
type Stats struct {
	Total          int `json:"total"`
	Active         int `json:"active"`
	WaitingForUser int `json:"waiting_for_user"`
	Completed      int `json:"completed"`
	Abandoned      int `json:"abandoned_total"`
}

// Store is the registry of live conversations. It owns its storage, refreshes
// the idle timeout on every mutation and expires states lazily on access and
// actively through Sweep.
type Store struct {
	mu        sync.Mutex
	storage   Storage
	expiry    expiryQueue
	clock     clock.Clock
	ttl       time.Duration
	retention time.Duration
	onEvict   EvictFunc
	abandoned int
	logger    *logger.Logger
}

// NewStore creates a Store. Zero options fall back to the defaults and a map
// backed storage.
func NewStore(opts Options, log *logger.Logger) *Store {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Storage == nil {
		opts.Storage = NewMapStorage()
	}
	return &Store{
		storage:   opts.Storage,
		clock:     opts.Clock,
		ttl:       opts.TTL,
		retention: opts.Retention,
		onEvict:   opts.OnEvict,
		logger:    log.Named("conversation"),
	}
}

// TTL returns the idle timeout applied to every mutation.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create starts a conversation for userID seeded with its first transcript.
func (s *Store) Create(userID, transcript string) *model.ConversationState {
	now := s.clock.Now()
	state := &model.ConversationState{
		ID:             uuid.Must(uuid.NewV7()).String(),
		UserID:         userID,
		Status:         model.StatusActive,
		CurrentStep:    model.StepInitial,
		CreatedAt:      now,
		LastActivityAt: now,
		TimeoutAt:      now.Add(s.ttl),
	}
	if transcript != "" {
		state.Messages = []model.Message{{Role: model.RoleUser, Content: transcript, CreatedAt: now}}
	}

	s.mu.Lock()
	s.storage.Save(state)
	s.expiry.schedule(state.ID, state.Deadline())
	out := state.Clone()
	s.mu.Unlock()

	metrics.ConversationsLive.Inc()
	s.logger.Info("conversation created",
		logger.ConversationID(state.ID),
		logger.UserID(userID),
	)
	return out
}

// Get returns a copy of the state if it is still live. An expired state is
// evicted as a side effect and reported absent.
func (s *Store) Get(id string) (*model.ConversationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.liveLocked(id, s.clock.Now())
	if !ok {
		return nil, false
	}
	return state.Clone(), true
}

// Update applies p and refreshes the idle timeout. There is no version
// check: the last writer wins.
func (s *Store) Update(id string, p Patch) (*model.ConversationState, bool) {
	return s.mutate(id, func(state *model.ConversationState, _ time.Time) {
		if p.Status != nil {
			state.Status = *p.Status
		}
		if p.CurrentStep != nil {
			state.CurrentStep = *p.CurrentStep
		}
		if p.ExtractedData != nil {
			state.ExtractedData = p.ExtractedData.Clone()
		}
		if p.PendingFields != nil {
			state.PendingFields = append([]model.MissingField(nil), (*p.PendingFields)...)
		}
		if p.PendingOptions != nil {
			state.PendingOptions = append([]model.ClarificationOption(nil), (*p.PendingOptions)...)
		}
		if p.ConflictInfo != nil {
			c := p.ConflictInfo.Clone()
			state.ConflictInfo = &c
		}
		if p.ClearConflict {
			state.ConflictInfo = nil
		}
		if p.LastParsed != nil {
			for i := len(state.Messages) - 1; i >= 0; i-- {
				if state.Messages[i].Role == model.RoleUser {
					state.Messages[i].Parsed = p.LastParsed
					state.Messages[i].ParsedKind = p.LastParsed.Kind()
					break
				}
			}
		}
	})
}

// AddMessage appends a message and refreshes the idle timeout.
func (s *Store) AddMessage(id string, role model.Role, content string, parsed model.ParsedAction) (*model.ConversationState, bool) {
	return s.mutate(id, func(state *model.ConversationState, now time.Time) {
		msg := model.Message{Role: role, Content: content, CreatedAt: now}
		if parsed != nil {
			msg.Parsed = parsed
			msg.ParsedKind = parsed.Kind()
		}
		state.Messages = append(state.Messages, msg)
	})
}

// Complete marks the conversation completed and keeps it readable for the
// retention window. A non-empty message is appended as the assistant reply.
func (s *Store) Complete(id string, executed *model.ExecutedAction, message string) (*model.ConversationState, bool) {
	state, ok := s.mutate(id, func(state *model.ConversationState, now time.Time) {
		state.Status = model.StatusCompleted
		state.CurrentStep = model.StepExecuting
		state.ConflictInfo = nil
		state.PendingFields = nil
		state.PendingOptions = nil
		if executed != nil {
			ea := *executed
			state.ExecutedAction = &ea
		}
		if message != "" {
			state.Messages = append(state.Messages, model.Message{Role: model.RoleAssistant, Content: message, CreatedAt: now})
		}
		retainUntil := now.Add(s.retention)
		state.RetainUntil = &retainUntil
	})
	if ok {
		s.logger.Info("conversation completed",
			logger.ConversationID(id),
			logger.UserID(state.UserID),
		)
	}
	return state, ok
}

// Delete abandons and evicts a conversation. It reports whether a live
// conversation was removed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.liveLocked(id, s.clock.Now())
	if !ok {
		return false
	}
	s.evictLocked(state, EvictDeleted)
	return true
}

// ListForUser returns copies of the user's live conversations, oldest first.
// Expired ones encountered along the way are evicted.
func (s *Store) ListForUser(userID string) []*model.ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var out []*model.ConversationState
	var expired []*model.ConversationState
	s.storage.Range(func(state *model.ConversationState) bool {
		if state.UserID != userID {
			return true
		}
		if state.Expired(now) {
			expired = append(expired, state)
			return true
		}
		out = append(out, state.Clone())
		return true
	})
	for _, state := range expired {
		s.evictLocked(state, s.expiryReason(state))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stats counts live conversations by status.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	st := Stats{Abandoned: s.abandoned}
	s.storage.Range(func(state *model.ConversationState) bool {
		if state.Expired(now) {
			return true
		}
		st.Total++
		switch state.Status {
		case model.StatusCompleted:
			st.Completed++
		case model.StatusWaitingForUser:
			st.WaitingForUser++
			st.Active++
		case model.StatusActive:
			st.Active++
		}
		return true
	})
	return st
}

// Sweep evicts every state whose deadline passed before now and returns the
// number evicted.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for {
		entry, ok := s.expiry.popDue(now)
		if !ok {
			break
		}
		state, ok := s.storage.Load(entry.id)
		if !ok || !state.Deadline().Equal(entry.deadline) {
			continue
		}
		s.evictLocked(state, s.expiryReason(state))
		evicted++
	}
	if evicted > 0 {
		s.logger.Debug("swept conversations", zap.Int("evicted", evicted), zap.Int("remaining", s.storage.Len()))
	}
	return evicted
}

// Run sweeps on every tick of interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.clock.Now())
		}
	}
}

func (s *Store) mutate(id string, fn func(state *model.ConversationState, now time.Time)) (*model.ConversationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	state, ok := s.liveLocked(id, now)
	if !ok {
		return nil, false
	}
	fn(state, now)
	state.LastActivityAt = now
	state.TimeoutAt = now.Add(s.ttl)
	s.expiry.schedule(state.ID, state.Deadline())
	return state.Clone(), true
}

// liveLocked loads id, evicting it if it is past its deadline.
func (s *Store) liveLocked(id string, now time.Time) (*model.ConversationState, bool) {
	state, ok := s.storage.Load(id)
	if !ok {
		return nil, false
	}
	if state.Expired(now) {
		s.evictLocked(state, s.expiryReason(state))
		return nil, false
	}
	return state, true
}

func (s *Store) expiryReason(state *model.ConversationState) string {
	if state.Status == model.StatusCompleted {
		return EvictRetention
	}
	return EvictExpired
}

func (s *Store) evictLocked(state *model.ConversationState, reason string) {
	if reason != EvictRetention {
		state.Status = model.StatusAbandoned
		s.abandoned++
	}
	s.storage.Remove(state.ID)
	metrics.RecordEviction(reason)

	s.logger.Info("conversation evicted",
		logger.ConversationID(state.ID),
		logger.UserID(state.UserID),
		zap.String("reason", reason),
	)
	if s.onEvict != nil {
		s.onEvict(state.Clone(), reason)
	}
}
