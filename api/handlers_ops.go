package api

import (
	"context"
	"net/http"
	"time"
)

// handleHealth returns the health status of the API
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			respondWithError(w, http.StatusServiceUnavailable, "storage unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetSyncLogs lists recent dispatch, snapshot and rollup runs
func (s *Server) handleGetSyncLogs(w http.ResponseWriter, r *http.Request) {
	minLimit, maxLimit := 1, 500
	limit := getIntParam(r, "limit", 50, &minLimit, &maxLimit)
	source := r.URL.Query().Get("source")

	logs, err := s.syncLogs.Recent(r.Context(), source, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load sync logs", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sync_logs": logs,
		"count":     len(logs),
	})
}
