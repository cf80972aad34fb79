package api

import (
	"encoding/json"
	"net/http"

	"github.com/querypilot/querypilot/internal/conversation"
	"github.com/querypilot/querypilot/internal/log"

	"github.com/google/uuid"
)

// MaxTitleLength bounds conversation titles.
const MaxTitleLength = 100

// conversationHandler handles conversation endpoints.
type conversationHandler struct {
	store  ConversationStore
	logger log.Logger
}

// CreateConversationRequest is the request body for starting a conversation.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

func (h *conversationHandler) create(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if len(req.Title) > MaxTitleLength {
		writeError(w, http.StatusBadRequest, "title_too_long", "title too long (max 100 characters)", h.logger)
		return
	}

	conv, err := h.store.Create(r.Context(), userID, req.Title)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, conv, h.logger)
}

func (h *conversationHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)
	offset := parseIntParam(r, "offset", 0, 0, MaxListOffset)

	conversations, err := h.store.List(r.Context(), userID, limit, offset)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": conversations,
		"total":         len(conversations),
		"limit":         limit,
		"offset":        offset,
	}, h.logger)
}

func (h *conversationHandler) get(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.owned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conv, h.logger)
}

// messages returns the full message tree; clients reconstruct branches from
// parent_message_id.
func (h *conversationHandler) messages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.owned(w, r)
	if !ok {
		return
	}

	messages, err := h.store.Messages(r.Context(), conv.ID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conv.ID,
		"messages":        messages,
	}, h.logger)
}

func (h *conversationHandler) owned(w http.ResponseWriter, r *http.Request) (*conversation.Conversation, bool) {
	userID, _ := userIDFromContext(r.Context())

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "conversation id must be a UUID", h.logger)
		return nil, false
	}

	conv, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return nil, false
	}
	if conv.UserID != userID {
		writeError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
		return nil, false
	}
	return conv, true
}
