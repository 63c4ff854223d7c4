// Package handler exposes the assistant over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/khanflow/voice-assistant/internal/conversation"
	"github.com/khanflow/voice-assistant/internal/middleware"
	"github.com/khanflow/voice-assistant/internal/model"
	"github.com/khanflow/voice-assistant/internal/orchestrator"
	"github.com/khanflow/voice-assistant/pkg/logger"
)

// Assistant is the conversation API the handlers serve.
type Assistant interface {
	StartOrContinue(ctx context.Context, userID, transcript, conversationID string) (*model.TurnResult, error)
	ResolveClarification(ctx context.Context, userID, conversationID, freeText, selectedOptionID string) (*model.TurnResult, error)
	GetConversation(id string) (*model.ConversationState, bool)
	ListConversations(userID string) []*model.ConversationState
	DeleteConversation(id string) bool
	Stats() conversation.Stats
}

// TurnRequest is the body of POST /api/v1/turns.
type TurnRequest struct {
	Transcript     string `json:"transcript"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ResolveRequest is the body of POST /api/v1/conversations/{id}/resolve.
// Either field may be empty but not both.
type ResolveRequest struct {
	Text     string `json:"text,omitempty"`
	OptionID string `json:"option_id,omitempty"`
}

// TurnHandler handles turn endpoints.
type TurnHandler struct {
	assistant Assistant
	logger    *logger.Logger
}

// NewTurnHandler creates a new turn handler.
func NewTurnHandler(a Assistant, log *logger.Logger) *TurnHandler {
	return &TurnHandler{assistant: a, logger: log.Named("handler.turns")}
}

// Turn handles POST /api/v1/turns
func (h *TurnHandler) Turn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req TurnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateTranscript(req.Transcript); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.assistant.StartOrContinue(ctx, userID, req.Transcript, req.ConversationID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Resolve handles POST /api/v1/conversations/{id}/resolve
func (h *TurnHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil || conversationID == "" {
		writeError(w, http.StatusBadRequest, "invalid conversation ID format")
		return
	}

	var req ResolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" && req.OptionID == "" {
		writeError(w, http.StatusBadRequest, "text or option_id is required")
		return
	}
	if req.Text != "" {
		if err := middleware.ValidateTranscript(req.Text); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := middleware.ValidateOptionID(req.OptionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.assistant.ResolveClarification(ctx, userID, conversationID, req.Text, req.OptionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *TurnHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyTranscript), errors.Is(err, orchestrator.ErrUnknownOption):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	default:
		h.logger.WithContext(middleware.GetCorrelationID(r.Context()), middleware.GetUserID(r.Context())).
			Error("turn failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to process turn")
	}
}
