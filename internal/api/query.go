package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/querypilot/querypilot/internal/conversation"
	"github.com/querypilot/querypilot/internal/log"
	"github.com/querypilot/querypilot/internal/query"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
)

// Query validation constants.
const (
	MaxQuestionLength = 5000
	DefaultListLimit  = 50
	MaxListLimit      = 500
	MaxListOffset     = 100000
)

// queryHandler handles attempt lifecycle endpoints.
type queryHandler struct {
	svc           QueryService
	conversations ConversationStore
	history       int
	logger        log.Logger
}

// GenerateRequest is the request body for creating an attempt.
type GenerateRequest struct {
	Question        string    `json:"question"`
	ConversationID  uuid.UUID `json:"conversation_id,omitzero"`
	ParentMessageID uuid.UUID `json:"parent_message_id,omitzero"`
}

// AttemptResponse wraps an attempt, carrying the failure message when
// generation or execution did not succeed.
type AttemptResponse struct {
	Attempt *query.Attempt `json:"attempt"`
	Error   string         `json:"error,omitempty"`
}

// generate creates an attempt and runs SQL generation. When the request
// names a conversation, the thread up to parent_message_id becomes model
// context and the question/answer pair is appended to the thread.
func (h *queryHandler) generate(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if len(req.Question) > MaxQuestionLength {
		writeError(w, http.StatusBadRequest, "question_too_long",
			fmt.Sprintf("question exceeds %d characters", MaxQuestionLength), h.logger)
		return
	}

	var history []*ai.Message
	if req.ConversationID != uuid.Nil {
		conv, err := h.conversations.Get(r.Context(), req.ConversationID)
		if err != nil {
			writeServiceError(w, err, h.logger)
			return
		}
		if conv.UserID != userID {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
			return
		}
		history, err = h.conversations.Window(r.Context(), req.ConversationID, req.ParentMessageID, h.history)
		if err != nil {
			writeServiceError(w, err, h.logger)
			return
		}
	}

	attempt, genErr := h.svc.Generate(r.Context(), userID, req.ConversationID, req.Question, history)
	if attempt != nil && req.ConversationID != uuid.Nil {
		h.appendTurns(r, req, attempt)
	}
	if genErr != nil {
		if attempt == nil {
			writeServiceError(w, genErr, h.logger)
			return
		}
		status, _ := classifyError(genErr)
		writeJSON(w, status, AttemptResponse{Attempt: attempt, Error: genErr.Error()}, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, AttemptResponse{Attempt: attempt}, h.logger)
}

// appendTurns records the question and the outcome in the conversation tree.
// Failures here are logged, not surfaced: the attempt itself is already
// persisted.
func (h *queryHandler) appendTurns(r *http.Request, req GenerateRequest, attempt *query.Attempt) {
	userMsg, err := h.conversations.Append(r.Context(), req.ConversationID, req.ParentMessageID,
		conversation.RoleUser, attempt.Question, uuid.Nil)
	if err != nil {
		h.logger.Warn("appending user turn failed", "conversation_id", req.ConversationID, "error", err)
		return
	}
	content := attempt.GeneratedSQL
	if content == "" {
		content = attempt.ErrorMessage
	}
	if _, err := h.conversations.Append(r.Context(), req.ConversationID, userMsg.ID,
		conversation.RoleAssistant, content, attempt.ID); err != nil {
		h.logger.Warn("appending assistant turn failed", "conversation_id", req.ConversationID, "error", err)
	}
}

// rerun creates a fresh attempt from an existing one.
func (h *queryHandler) rerun(w http.ResponseWriter, r *http.Request) {
	attempt, ok := h.ownedAttempt(w, r)
	if !ok {
		return
	}

	fresh, err := h.svc.Rerun(r.Context(), attempt.ID, nil)
	if err != nil {
		if fresh == nil {
			writeServiceError(w, err, h.logger)
			return
		}
		status, _ := classifyError(err)
		writeJSON(w, status, AttemptResponse{Attempt: fresh, Error: err.Error()}, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, AttemptResponse{Attempt: fresh}, h.logger)
}

// ExecuteResponse summarizes a completed execution.
type ExecuteResponse struct {
	Attempt     *query.Attempt `json:"attempt"`
	TotalRows   int            `json:"total_rows"`
	Truncated   bool           `json:"truncated"`
	ExecutionMs int64          `json:"execution_ms"`
	Error       string         `json:"error,omitempty"`
}

// execute runs the attempt's generated SQL.
func (h *queryHandler) execute(w http.ResponseWriter, r *http.Request) {
	attempt, ok := h.ownedAttempt(w, r)
	if !ok {
		return
	}

	executed, manifest, err := h.svc.Execute(r.Context(), attempt.ID)
	if err != nil {
		if executed == nil {
			writeServiceError(w, err, h.logger)
			return
		}
		status, _ := classifyError(err)
		writeJSON(w, status, ExecuteResponse{Attempt: executed, Error: err.Error()}, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, ExecuteResponse{
		Attempt:     executed,
		TotalRows:   manifest.TotalRows,
		Truncated:   manifest.Truncated,
		ExecutionMs: manifest.ExecutionMs,
	}, h.logger)
}

// get returns one attempt.
func (h *queryHandler) get(w http.ResponseWriter, r *http.Request) {
	attempt, ok := h.ownedAttempt(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, AttemptResponse{Attempt: attempt}, h.logger)
}

// list returns the caller's attempts with pagination.
func (h *queryHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)
	offset := parseIntParam(r, "offset", 0, 0, MaxListOffset)

	attempts, err := h.svc.List(r.Context(), userID, limit, offset)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attempts": attempts,
		"total":    len(attempts),
		"limit":    limit,
		"offset":   offset,
	}, h.logger)
}

// results returns one page of frozen results.
func (h *queryHandler) results(w http.ResponseWriter, r *http.Request) {
	attempt, ok := h.ownedAttempt(w, r)
	if !ok {
		return
	}
	page := parseIntParam(r, "page", 1, 1, 1<<30)

	p, err := h.svc.ResultsPage(r.Context(), attempt.ID, page)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, p, h.logger)
}

// export streams the results as a CSV download.
func (h *queryHandler) export(w http.ResponseWriter, r *http.Request) {
	attempt, ok := h.ownedAttempt(w, r)
	if !ok {
		return
	}

	export, err := h.svc.ExportCSV(r.Context(), attempt.ID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(export.Data)))
	w.Header().Set("X-Export-Truncated", strconv.FormatBool(export.Truncated))
	if _, err := w.Write(export.Data); err != nil {
		h.logger.Debug("writing csv body", "error", err)
	}
}

// ownedAttempt parses {id}, loads the attempt, and enforces ownership.
// A foreign attempt reads as not found.
func (h *queryHandler) ownedAttempt(w http.ResponseWriter, r *http.Request) (*query.Attempt, bool) {
	userID, _ := userIDFromContext(r.Context())

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "attempt id must be a UUID", h.logger)
		return nil, false
	}

	attempt, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return nil, false
	}
	if attempt.UserID != userID {
		writeError(w, http.StatusNotFound, "not_found", "attempt not found", h.logger)
		return nil, false
	}
	return attempt, true
}
