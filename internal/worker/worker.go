// Package worker implements the delivery engine: the claim/deliver/ack state
// machine that drives events from pending to delivered or dead.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arnavmehta/webhook-dispatcher/internal/clock"
	"github.com/arnavmehta/webhook-dispatcher/internal/deliver"
	"github.com/arnavmehta/webhook-dispatcher/internal/domain"
	"github.com/arnavmehta/webhook-dispatcher/internal/engine"
	"github.com/arnavmehta/webhook-dispatcher/internal/notify"
	"github.com/arnavmehta/webhook-dispatcher/internal/sign"
	"github.com/arnavmehta/webhook-dispatcher/internal/store"
)

// permanentFailureCodes are the 4xx statuses an operator may choose to treat
// as non-retryable when Config.ShortCircuitPermanent4xx is set. Per spec.md
// §9, the default behavior makes no such distinction.
var permanentFailureCodes = map[int]bool{
	400: true,
	401: true,
	404: true,
	410: true,
}

// Config holds the tunables of the delivery loop, all overridable via
// environment variables at the process boundary (internal/config).
type Config struct {
	Secret                   string
	PollInterval             time.Duration
	ClaimLimit               int
	MaxAttempts              int
	BackoffBase              time.Duration
	BackoffMax               time.Duration
	HTTPTimeout              time.Duration
	ShortCircuitPermanent4xx bool
}

// Worker is the delivery loop. Multiple Worker instances may run
// concurrently against the same Store; mutual exclusion is enforced by the
// Store's row-locked claim, not by anything in this type.
type Worker struct {
	store      store.Store
	deliverer  *deliver.Deliverer
	clock      clock.Clock
	rand       clock.Rand
	hub        *notify.Hub
	leaderLock *engine.LeaderLock
	logger     *slog.Logger
	cfg        Config
}

// New builds a Worker. hub may be nil — broadcasting is best-effort and
// never gates delivery. lock may also be nil, in which case every tick
// proceeds (equivalent to a no-op lock that always acquires).
func New(st store.Store, deliverer *deliver.Deliverer, clk clock.Clock, rnd clock.Rand, hub *notify.Hub, lock *engine.LeaderLock, logger *slog.Logger, cfg Config) *Worker {
	return &Worker{
		store:      st,
		deliverer:  deliverer,
		clock:      clk,
		rand:       rnd,
		hub:        hub,
		leaderLock: lock,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run executes the poll loop until ctx is cancelled. On any loop-level error
// it logs and sleeps before retrying, per spec.md §7's propagation policy.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				w.logger.Error("worker tick failed", "error", err)
			}
		}
	}
}

// Tick runs one claim/deliver/ack cycle: claim a batch, deliver each event,
// and commit the batch transaction. A per-event delivery error never
// prevents the rest of the batch from being attempted — see Store.Tx.
func (w *Worker) Tick(ctx context.Context) error {
	if w.leaderLock != nil && !w.leaderLock.Acquire(ctx) {
		return nil
	}

	tx, claimed, err := w.store.ClaimPending(ctx, w.cfg.ClaimLimit)
	if err != nil {
		return fmt.Errorf("claiming pending events: %w", err)
	}
	defer tx.Close(ctx)

	for _, event := range claimed {
		if ctx.Err() != nil {
			break
		}
		if err := w.deliverOne(ctx, tx, event); err != nil {
			w.logger.Error("delivering event failed", "event_id", event.ID, "error", err)
		}
	}

	return tx.Close(ctx)
}

// deliverOne implements spec.md §4.4's deliver_one exactly: sign, send,
// record, classify, transition.
func (w *Worker) deliverOne(ctx context.Context, tx store.Tx, event domain.ClaimedEvent) error {
	attemptNumber := event.AttemptCount + 1

	body := []byte(event.Payload)
	signature := sign.Sign(w.cfg.Secret, body)

	headers := map[string]string{
		"Content-Type":        "application/json",
		"X-Webhook-Signature": signature,
	}

	outcome := w.deliverer.Deliver(ctx, event.TargetURL, body, headers, w.cfg.HTTPTimeout)

	if outcome.Response != nil && outcome.Response.Success() {
		input := store.AttemptInput{
			EventID:       event.ID,
			AttemptNumber: attemptNumber,
			StatusCode:    intPtr(outcome.Response.StatusCode),
		}
		if err := tx.RecordAndMarkDelivered(ctx, input); err != nil {
			return err
		}
		w.logger.Info("delivery succeeded",
			"event_id", event.ID, "attempt", attemptNumber, "status_code", outcome.Response.StatusCode)
		w.broadcast(notify.Event{
			Type: notify.TypeSuccess, EventID: event.ID, Attempt: attemptNumber,
			StatusCode: intPtr(outcome.Response.StatusCode),
		})
		return nil
	}

	var statusCode *int
	var responseBody string
	var lastError string

	switch {
	case outcome.Response != nil:
		statusCode = intPtr(outcome.Response.StatusCode)
		responseBody = string(outcome.Response.BodySnippet)
		snippet := responseBody
		if snippet == "" {
			snippet = "no body"
		}
		lastError = fmt.Sprintf("HTTP %d: %s", outcome.Response.StatusCode, snippet)
	case outcome.TransportErr != nil:
		lastError = outcome.TransportErr.Message
	default:
		return fmt.Errorf("deliverer returned neither a response nor a transport error")
	}

	nextAttemptCount := attemptNumber
	dead := nextAttemptCount >= w.cfg.MaxAttempts
	if w.cfg.ShortCircuitPermanent4xx && statusCode != nil && permanentFailureCodes[*statusCode] {
		dead = true
	}

	nextRetryAt := w.clock.Now().Add(Backoff(w.cfg.BackoffBase, w.cfg.BackoffMax, nextAttemptCount, w.rand))

	input := store.AttemptInput{
		EventID:       event.ID,
		AttemptNumber: attemptNumber,
		StatusCode:    statusCode,
		ResponseBody:  responseBody,
		Error:         errorOnly(outcome),
	}
	if err := tx.RecordAndMarkFailed(ctx, input, nextAttemptCount, nextRetryAt, lastError, dead); err != nil {
		return err
	}

	evType := notify.TypeRetry
	if dead {
		evType = notify.TypeDead
	}
	w.logger.Warn("delivery failed",
		"event_id", event.ID, "attempt", attemptNumber, "dead", dead, "error", lastError)
	w.broadcast(notify.Event{
		Type: evType, EventID: event.ID, Attempt: attemptNumber,
		StatusCode: statusCode, Error: lastError,
	})

	return nil
}

func (w *Worker) broadcast(ev notify.Event) {
	if w.hub == nil {
		return
	}
	ev.Timestamp = w.clock.Now()
	w.hub.Broadcast(ev)
}

func errorOnly(outcome deliver.Outcome) string {
	if outcome.TransportErr != nil {
		return outcome.TransportErr.Message
	}
	return ""
}

func intPtr(v int) *int { return &v }
