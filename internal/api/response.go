package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/querypilot/querypilot/internal/conversation"
	"github.com/querypilot/querypilot/internal/executor"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/log"
	"github.com/querypilot/querypilot/internal/query"
)

// writeJSON writes a JSON response with the given status code.
// Uses buffer-first strategy so headers are only sent after successful
// encoding; an encode failure still yields a clean 500.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("encoding JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		logger.Debug("writing response body", "error", err)
	}
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, logger log.Logger) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message}, logger)
}

// writeServiceError maps a service-layer error onto an HTTP error response.
func writeServiceError(w http.ResponseWriter, err error, logger log.Logger) {
	status, code := classifyError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Internal details stay in the logs.
		logger.Error("request failed", "error", err)
		msg = "internal server error"
	}
	writeError(w, status, code, msg, logger)
}

func classifyError(err error) (status int, code string) {
	var rej *query.RejectionError
	switch {
	case errors.Is(err, query.ErrEmptyQuestion):
		return http.StatusBadRequest, "empty_question"
	case errors.As(err, &rej):
		return http.StatusUnprocessableEntity, "sql_rejected"
	case errors.Is(err, query.ErrSelectionFailed), errors.Is(err, query.ErrSynthesisFailed):
		return http.StatusUnprocessableEntity, "generation_failed"
	case errors.Is(err, query.ErrAttemptNotFound), errors.Is(err, conversation.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, conversation.ErrParentNotFound):
		return http.StatusBadRequest, "parent_not_found"
	case errors.Is(err, conversation.ErrInvalidRole):
		return http.StatusBadRequest, "invalid_role"
	case errors.Is(err, query.ErrAlreadyExecuted):
		return http.StatusConflict, "already_executed"
	case errors.Is(err, query.ErrNotExecuted):
		return http.StatusConflict, "not_executed"
	case errors.Is(err, query.ErrPageOutOfRange):
		return http.StatusBadRequest, "page_out_of_range"
	case errors.Is(err, executor.ErrTimeout):
		return http.StatusUnprocessableEntity, "query_timeout"
	case errors.Is(err, executor.ErrBusy):
		return http.StatusServiceUnavailable, "executor_busy"
	case errors.Is(err, llm.ErrUnavailable):
		return http.StatusServiceUnavailable, "model_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// parseIntParam parses an integer query parameter with bounds clamping.
func parseIntParam(r *http.Request, name string, defaultVal, minVal, maxVal int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}
