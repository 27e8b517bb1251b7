// Package store owns the Event and Attempt entities and the transactional,
// row-locked claim protocol that lets multiple Worker instances share a
// single backing database without double-delivering an event.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/arnavmehta/webhook-dispatcher/internal/domain"
)

// AttemptInput is the data recorded for one delivery attempt.
type AttemptInput struct {
	EventID       string
	AttemptNumber int
	StatusCode    *int
	ResponseBody  string
	Error         string
}

// Store is the persistence boundary the Worker depends on. PostgresStore is
// the production implementation; MemStore backs unit tests that don't need a
// live database.
type Store interface {
	// InsertEvent inserts a row with status=pending, attempt_count=0,
	// next_retry_at=now. payload must be a JSON object.
	InsertEvent(ctx context.Context, payload json.RawMessage, targetURL string) (*domain.Event, error)

	// GetEvent returns the current state of an event, or nil if unknown.
	GetEvent(ctx context.Context, id string) (*domain.Event, error)

	// ClaimPending selects up to limit pending, due events, taking an
	// exclusive row lock on each that is held until the transaction the
	// returned Tx wraps commits or rolls back, skipping rows already locked
	// by another transaction.
	ClaimPending(ctx context.Context, limit int) (Tx, []domain.ClaimedEvent, error)

	// ListAttempts returns attempts for an event, oldest first.
	ListAttempts(ctx context.Context, eventID string) ([]domain.Attempt, error)

	// Counts returns the number of events in each terminal/non-terminal
	// status, for the metrics endpoint.
	Counts(ctx context.Context) (pending, delivered, dead int, err error)
}

// Tx scopes one claimed batch. Each event is finalized independently:
// RecordAndMarkDelivered / RecordAndMarkFailed run in their own
// sub-transaction (or savepoint) so that one event's failure cannot poison
// the rest of the batch. Close ends the batch and releases every lock it
// holds; events that were never finalized (e.g. on shutdown) were never
// mutated, so they stay pending at their existing next_retry_at.
type Tx interface {
	// RecordAndMarkDelivered appends the Attempt row and marks the event
	// delivered, atomically.
	RecordAndMarkDelivered(ctx context.Context, attempt AttemptInput) error

	// RecordAndMarkFailed appends the Attempt row and updates the event to
	// pending (with nextRetryAt) or dead, atomically.
	RecordAndMarkFailed(ctx context.Context, attempt AttemptInput, attemptCount int, nextRetryAt time.Time, lastError string, dead bool) error

	// Close releases the underlying connection/transaction resources and the
	// claim locks. Any claimed event not yet finalized via RecordAndMark* is
	// left unchanged, still pending.
	Close(ctx context.Context) error
}
