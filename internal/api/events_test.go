package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnavmehta/webhook-dispatcher/internal/clock"
	"github.com/arnavmehta/webhook-dispatcher/internal/store"
)

// withChiParam injects a chi URL parameter into req's context, letting
// handler tests call chi.URLParam(r, key) without routing through a full
// chi.Router.
func withChiParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestEventHandler_CreateAcceptsValidEvent(t *testing.T) {
	st := store.NewMemStore(clock.NewFixed(time.Now()))
	h := NewEventHandler(st, "http://default.test/hook")

	body := `{"payload":{"hello":"world"},"target_url":"http://example.test/hook"}`
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp createEventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.NotEmpty(t, resp.ID)
}

func TestEventHandler_CreateRejectsNonObjectPayload(t *testing.T) {
	st := store.NewMemStore(clock.NewFixed(time.Now()))
	h := NewEventHandler(st, "http://default.test/hook")

	body := `{"payload":"not-an-object","target_url":"http://example.test/hook"}`
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestEventHandler_CreateRejectsNonHTTPTargetURL(t *testing.T) {
	st := store.NewMemStore(clock.NewFixed(time.Now()))
	h := NewEventHandler(st, "http://default.test/hook")

	body := `{"payload":{},"target_url":"ftp://example.test/hook"}`
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestEventHandler_CreateFallsBackToDefaultTargetURL(t *testing.T) {
	st := store.NewMemStore(clock.NewFixed(time.Now()))
	h := NewEventHandler(st, "http://default.test/hook")

	body := `{"payload":{}}`
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp createEventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	event, err := st.GetEvent(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "http://default.test/hook", event.TargetURL)
}

func TestEventHandler_CreateRejectsUnknownFields(t *testing.T) {
	st := store.NewMemStore(clock.NewFixed(time.Now()))
	h := NewEventHandler(st, "http://default.test/hook")

	body := `{"payload":{},"target_url":"http://example.test/hook","extra":"nope"}`
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestEventHandler_GetReturnsNotFoundForUnknownID(t *testing.T) {
	st := store.NewMemStore(clock.NewFixed(time.Now()))
	h := NewEventHandler(st, "http://default.test/hook")

	req := httptest.NewRequest(http.MethodGet, "/events/does-not-exist", nil)
	rec := httptest.NewRecorder()

	req = withChiParam(req, "id", "does-not-exist")
	h.Get(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
