package api

import (
	"net/http"

	"github.com/arnavmehta/webhook-dispatcher/internal/store"
)

// AttemptHandler exposes the append-only attempt log for a given event.
type AttemptHandler struct {
	store store.Store
}

func NewAttemptHandler(s store.Store) *AttemptHandler {
	return &AttemptHandler{store: s}
}

// List returns every recorded attempt for ?event_id=, oldest first.
func (h *AttemptHandler) List(w http.ResponseWriter, r *http.Request) {
	eventID := r.URL.Query().Get("event_id")
	if eventID == "" {
		respondError(w, http.StatusBadRequest, "event_id query parameter is required")
		return
	}

	attempts, err := h.store.ListAttempts(r.Context(), eventID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}

	respondJSON(w, http.StatusOK, attempts)
}
