package api

import (
	"net/http"

	"github.com/querypilot/querypilot/internal/log"
)

// adminHandler handles catalog and knowledge base maintenance endpoints.
type adminHandler struct {
	catalog SchemaCatalog
	kb      KnowledgeBase
	logger  log.Logger
}

// refreshSchema reloads the schema catalog from disk. Readers keep the old
// snapshot until the swap.
func (h *adminHandler) refreshSchema(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeError(w, http.StatusNotFound, "not_configured", "schema catalog not configured", h.logger)
		return
	}
	if err := h.catalog.Refresh(); err != nil {
		h.logger.Error("schema refresh failed", "error", err)
		writeError(w, http.StatusUnprocessableEntity, "refresh_failed", err.Error(), h.logger)
		return
	}
	stats, err := h.catalog.Stats()
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	h.logger.Info("schema catalog refreshed", "tables", stats.Tables)
	writeJSON(w, http.StatusOK, stats, h.logger)
}

// reloadKB rescans and re-embeds the knowledge base. Retrieval keeps serving
// the old example set until the swap.
func (h *adminHandler) reloadKB(w http.ResponseWriter, r *http.Request) {
	if h.kb == nil {
		writeError(w, http.StatusNotFound, "not_configured", "knowledge base not configured", h.logger)
		return
	}
	if err := h.kb.Reload(r.Context()); err != nil {
		h.logger.Error("knowledge base reload failed", "error", err)
		writeError(w, http.StatusUnprocessableEntity, "reload_failed", err.Error(), h.logger)
		return
	}
	stats := h.kb.Stats()
	h.logger.Info("knowledge base reloaded", "examples", stats.Examples)
	writeJSON(w, http.StatusOK, stats, h.logger)
}

// stats reports the current catalog and knowledge base state.
func (h *adminHandler) stats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if h.catalog != nil {
		if s, err := h.catalog.Stats(); err == nil {
			out["schema"] = s
		}
	}
	if h.kb != nil {
		out["knowledge_base"] = h.kb.Stats()
	}
	writeJSON(w, http.StatusOK, out, h.logger)
}
