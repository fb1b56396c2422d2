package handlers

import (
	"net/http"

	"storyforge/internal/httpkit"
)

// Health reports service liveness and the configured storage backend.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":  "ok",
		"service": "storyforge-api",
		"version": "0.1.0",
		"storage": h.sp.Provider(),
	}
	httpkit.WriteJSON(w, http.StatusOK, health)
}
