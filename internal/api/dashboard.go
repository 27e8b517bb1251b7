package api

import (
	"net/http"

	"github.com/arnavmehta/webhook-dispatcher/internal/notify"
	"github.com/arnavmehta/webhook-dispatcher/internal/store"
)

// DashboardHandler serves the read-only aggregate view: event counts by
// status plus how many observers are attached to the notify hub. Never
// touches the claim/deliver path.
type DashboardHandler struct {
	store store.Store
	hub   *notify.Hub
}

func NewDashboardHandler(s store.Store, hub *notify.Hub) *DashboardHandler {
	return &DashboardHandler{store: s, hub: hub}
}

type metricsResponse struct {
	Pending        int `json:"pending"`
	Delivered      int `json:"delivered"`
	Dead           int `json:"dead"`
	WebSocketPeers int `json:"websocket_peers"`
}

func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	pending, delivered, dead, err := h.store.Counts(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to compute metrics")
		return
	}

	peers := 0
	if h.hub != nil {
		peers = h.hub.ClientCount()
	}

	respondJSON(w, http.StatusOK, metricsResponse{
		Pending:        pending,
		Delivered:      delivered,
		Dead:           dead,
		WebSocketPeers: peers,
	})
}
