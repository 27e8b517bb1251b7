package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arnavmehta/webhook-dispatcher/internal/clock"
	"github.com/arnavmehta/webhook-dispatcher/internal/deliver"
	"github.com/arnavmehta/webhook-dispatcher/internal/sign"
	"github.com/arnavmehta/webhook-dispatcher/internal/store"
)

func nilLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Secret:      "test-secret",
		ClaimLimit:  10,
		MaxAttempts: 3,
		BackoffBase: time.Second,
		BackoffMax:  time.Hour,
		HTTPTimeout: 5 * time.Second,
	}
}

func newTestWorker(st store.Store, clk clock.Clock, cfg Config) *Worker {
	return New(st, deliver.New(cfg.HTTPTimeout), clk, clock.ConstRand(0), nil, nil, nilLogger(), cfg)
}

func TestTick_HappyPathMarksDelivered(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	clk := clock.NewFixed(time.Now())
	st := store.NewMemStore(clk)
	ctx := context.Background()

	event, err := st.InsertEvent(ctx, json.RawMessage(`{"hello":"world"}`), srv.URL)
	if err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	w := newTestWorker(st, clk, testConfig())
	if err := w.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if received.Load() != 1 {
		t.Fatalf("expected 1 request, got %d", received.Load())
	}

	got, err := st.GetEvent(ctx, event.ID)
	if err != nil || got == nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if got.Status != "delivered" {
		t.Fatalf("expected delivered, got %s", got.Status)
	}

	attempts, err := st.ListAttempts(ctx, event.ID)
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(attempts) != 1 || attempts[0].AttemptNumber != 1 {
		t.Fatalf("expected exactly one attempt numbered 1, got %+v", attempts)
	}
}

func TestTick_TransientFailureThenSuccessSchedulesBackoff(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	clk := clock.NewFixed(time.Now())
	st := store.NewMemStore(clk)
	ctx := context.Background()

	event, _ := st.InsertEvent(ctx, json.RawMessage(`{}`), srv.URL)

	w := newTestWorker(st, clk, testConfig())
	if err := w.Tick(ctx); err != nil {
		t.Fatalf("Tick 1: %v", err)
	}

	got, _ := st.GetEvent(ctx, event.ID)
	if got.Status != "pending" {
		t.Fatalf("expected pending after first failure, got %s", got.Status)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.After(clk.Now()) {
		t.Fatalf("expected next_retry_at scheduled in the future, got %v", got.NextRetryAt)
	}

	// Retrying before next_retry_at must not claim the event.
	if err := w.Tick(ctx); err != nil {
		t.Fatalf("Tick 2: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected no redelivery before next_retry_at, got %d calls", calls.Load())
	}

	clk.Advance(2 * time.Hour)
	if err := w.Tick(ctx); err != nil {
		t.Fatalf("Tick 3: %v", err)
	}

	got, _ = st.GetEvent(ctx, event.ID)
	if got.Status != "delivered" {
		t.Fatalf("expected delivered after retry succeeds, got %s", got.Status)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", calls.Load())
	}
}

func TestTick_DeadLettersAtMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	clk := clock.NewFixed(time.Now())
	st := store.NewMemStore(clk)
	ctx := context.Background()

	cfg := testConfig()
	cfg.MaxAttempts = 2

	event, _ := st.InsertEvent(ctx, json.RawMessage(`{}`), srv.URL)
	w := newTestWorker(st, clk, cfg)

	for i := 0; i < cfg.MaxAttempts; i++ {
		if err := w.Tick(ctx); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
		clk.Advance(2 * time.Hour)
	}

	got, _ := st.GetEvent(ctx, event.ID)
	if got.Status != "dead" {
		t.Fatalf("expected dead after %d attempts, got %s", cfg.MaxAttempts, got.Status)
	}
	if got.AttemptCount != cfg.MaxAttempts {
		t.Fatalf("expected attempt_count %d, got %d", cfg.MaxAttempts, got.AttemptCount)
	}

	attempts, _ := st.ListAttempts(ctx, event.ID)
	if len(attempts) != cfg.MaxAttempts {
		t.Fatalf("expected %d recorded attempts, got %d", cfg.MaxAttempts, len(attempts))
	}
}

func TestTick_UnreachableTargetLeavesEventPending(t *testing.T) {
	clk := clock.NewFixed(time.Now())
	st := store.NewMemStore(clk)
	ctx := context.Background()

	event, _ := st.InsertEvent(ctx, json.RawMessage(`{}`), "http://127.0.0.1:1")

	w := newTestWorker(st, clk, testConfig())
	if err := w.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, _ := st.GetEvent(ctx, event.ID)
	if got.Status != "pending" {
		t.Fatalf("expected pending after transport error, got %s", got.Status)
	}
	if got.LastError == nil || *got.LastError == "" {
		t.Fatal("expected last_error to be recorded")
	}
}

func TestTick_RejectsBadSignatureAndSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sign.Verify("correct-secret", mustReadBody(r), r.Header.Get("X-Webhook-Signature")) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	clk := clock.NewFixed(time.Now())
	st := store.NewMemStore(clk)
	ctx := context.Background()

	event, _ := st.InsertEvent(ctx, json.RawMessage(`{}`), srv.URL)

	cfg := testConfig()
	cfg.Secret = "wrong-secret"
	w := newTestWorker(st, clk, cfg)

	if err := w.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, _ := st.GetEvent(ctx, event.ID)
	if got.Status != "pending" {
		t.Fatalf("expected pending after 401, got %s", got.Status)
	}
	attempts, _ := st.ListAttempts(ctx, event.ID)
	if len(attempts) != 1 || attempts[0].StatusCode == nil || *attempts[0].StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected one recorded 401 attempt, got %+v", attempts)
	}
}

func TestTick_ShortCircuitsPermanent4xxWhenEnabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	clk := clock.NewFixed(time.Now())
	st := store.NewMemStore(clk)
	ctx := context.Background()

	event, _ := st.InsertEvent(ctx, json.RawMessage(`{}`), srv.URL)

	cfg := testConfig()
	cfg.ShortCircuitPermanent4xx = true
	w := newTestWorker(st, clk, cfg)

	if err := w.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, _ := st.GetEvent(ctx, event.ID)
	if got.Status != "dead" {
		t.Fatalf("expected immediate dead-letter on 404 with short-circuit enabled, got %s", got.Status)
	}
}

func TestTick_ConcurrentWorkersNeverDoubleDeliver(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	clk := clock.NewFixed(time.Now())
	st := store.NewMemStore(clk)
	ctx := context.Background()

	const eventCount = 20
	ids := make([]string, eventCount)
	for i := 0; i < eventCount; i++ {
		event, err := st.InsertEvent(ctx, json.RawMessage(`{}`), srv.URL)
		if err != nil {
			t.Fatalf("InsertEvent: %v", err)
		}
		ids[i] = event.ID
	}

	w1 := newTestWorker(st, clk, testConfig())
	w2 := newTestWorker(st, clk, testConfig())

	done := make(chan struct{})
	go func() { w1.Tick(ctx); close(done) }()
	w2.Tick(ctx)
	<-done

	if received.Load() != eventCount {
		t.Fatalf("expected exactly %d deliveries total, got %d", eventCount, received.Load())
	}
	for _, id := range ids {
		attempts, err := st.ListAttempts(ctx, id)
		if err != nil {
			t.Fatalf("ListAttempts: %v", err)
		}
		if len(attempts) != 1 {
			t.Fatalf("event %s: expected exactly 1 attempt, got %d", id, len(attempts))
		}
	}
}

func mustReadBody(r *http.Request) []byte {
	body, _ := io.ReadAll(r.Body)
	return body
}
