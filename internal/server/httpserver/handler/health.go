package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
)

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles GET /ready. The server is ready once recovery on
// start has finished.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if !h.Ready() {
		h.writeError(w, r, http.StatusServiceUnavailable, domain.ErrEngineUnloaded.Code, "not ready", nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
