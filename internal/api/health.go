package api

import (
	"context"
	"net/http"
	"time"

	"github.com/querypilot/querypilot/internal/log"

	"github.com/jackc/pgx/v5/pgxpool"
)

// health is a liveness probe endpoint.
func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// readiness probes the app database pool. With no pool configured it
// degrades to a liveness check.
func readiness(pool *pgxpool.Pool, logger log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				logger.Error("readiness check failed", "error", err)
				writeError(w, http.StatusServiceUnavailable, "not_ready", "database unreachable", logger)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, logger)
	})
}
