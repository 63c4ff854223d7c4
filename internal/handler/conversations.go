package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/khanflow/voice-assistant/internal/middleware"
	"github.com/khanflow/voice-assistant/internal/model"
	"github.com/khanflow/voice-assistant/pkg/logger"
)

// EventReader reads back published conversation events.
type EventReader interface {
	RecentEvents(ctx context.Context, userID, conversationID string, limit int) ([]model.ConversationEvent, error)
}

// ListConversationsResponse is the body of GET /api/v1/conversations.
type ListConversationsResponse struct {
	Conversations []*model.ConversationState `json:"conversations"`
	Total         int                        `json:"total"`
}

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	assistant Assistant
	events    EventReader
	logger    *logger.Logger
}

// NewConversationHandler creates a conversation handler. events may be nil
// when no event log is available.
func NewConversationHandler(a Assistant, events EventReader, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		assistant: a,
		events:    events,
		logger:    log.Named("handler.conversations"),
	}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	convs := h.assistant.ListConversations(userID)
	if convs == nil {
		convs = []*model.ConversationState{}
	}
	writeJSON(w, http.StatusOK, ListConversationsResponse{Conversations: convs, Total: len(convs)})
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	state, ok := h.owned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Delete handles DELETE /api/v1/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	state, ok := h.owned(w, r)
	if !ok {
		return
	}
	if !h.assistant.DeleteConversation(state.ID) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Events handles GET /api/v1/conversations/{id}/events
func (h *ConversationHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotImplemented, "event log not configured")
		return
	}
	state, ok := h.owned(w, r)
	if !ok {
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	events, err := h.events.RecentEvents(r.Context(), state.UserID, state.ID, limit)
	if err != nil {
		h.logger.WithConversation(state.ID, state.UserID).Error("failed to read events", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to read events")
		return
	}
	if events == nil {
		events = []model.ConversationEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// owned loads the conversation named in the path. Conversations of other
// users are reported as not found.
func (h *ConversationHandler) owned(w http.ResponseWriter, r *http.Request) (*model.ConversationState, bool) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil || conversationID == "" {
		writeError(w, http.StatusBadRequest, "invalid conversation ID format")
		return nil, false
	}

	state, ok := h.assistant.GetConversation(conversationID)
	if !ok || state.UserID != middleware.GetUserID(r.Context()) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	return state, true
}

// Stats handles GET /api/v1/stats
func (h *ConversationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.assistant.Stats())
}
