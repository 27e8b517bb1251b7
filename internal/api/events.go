package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/arnavmehta/webhook-dispatcher/internal/store"
	"github.com/go-chi/chi/v5"
)

// EventHandler exposes event ingestion and lookup.
type EventHandler struct {
	store            store.Store
	defaultTargetURL string
}

func NewEventHandler(s store.Store, defaultTargetURL string) *EventHandler {
	return &EventHandler{store: s, defaultTargetURL: defaultTargetURL}
}

type createEventRequest struct {
	Payload   json.RawMessage `json:"payload"`
	TargetURL string          `json:"target_url"`
}

type createEventResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Create accepts a payload and an optional target_url, persisting the event
// as pending for a Worker to pick up. The request never blocks on delivery.
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req createEventRequest
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	targetURL := req.TargetURL
	if targetURL == "" {
		targetURL = h.defaultTargetURL
	}
	if err := validateTargetURL(targetURL); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if !isJSONObject(req.Payload) {
		respondError(w, http.StatusUnprocessableEntity, "payload must be a JSON object")
		return
	}

	event, err := h.store.InsertEvent(r.Context(), req.Payload, targetURL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to record event")
		return
	}

	respondJSON(w, http.StatusAccepted, createEventResponse{ID: event.ID, Status: "accepted"})
}

// Get returns the current state of one event.
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	event, err := h.store.GetEvent(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	if event == nil {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}

	respondJSON(w, http.StatusOK, event)
}

func validateTargetURL(raw string) error {
	if raw == "" {
		return errMissingTargetURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return errInvalidTargetURL
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return nil
	default:
		return errInvalidTargetURL
	}
}

func isJSONObject(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	_, ok := v.(map[string]interface{})
	return ok
}
