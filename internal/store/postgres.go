package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arnavmehta/webhook-dispatcher/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the production Store, backed by a row-locking Postgres
// database reached through a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a pool against databaseURL and verifies connectivity.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pgx pool to callers that need direct access.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) InsertEvent(ctx context.Context, payload json.RawMessage, targetURL string) (*domain.Event, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	var event domain.Event
	err := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_events (id, payload, target_url, status, attempt_count, next_retry_at, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', 0, $4, $4, $4)
		RETURNING id, payload, target_url, status, attempt_count, next_retry_at, last_error, created_at, updated_at
	`, id, payload, targetURL, now).Scan(
		&event.ID, &event.Payload, &event.TargetURL, &event.Status,
		&event.AttemptCount, &event.NextRetryAt, &event.LastError,
		&event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting event: %w", err)
	}
	return &event, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	var event domain.Event
	err := s.pool.QueryRow(ctx, `
		SELECT id, payload, target_url, status, attempt_count, next_retry_at, last_error, created_at, updated_at
		FROM webhook_events WHERE id = $1
	`, id).Scan(
		&event.ID, &event.Payload, &event.TargetURL, &event.Status,
		&event.AttemptCount, &event.NextRetryAt, &event.LastError,
		&event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return &event, nil
}

// ClaimPending selects up to limit pending, due events with
// SELECT ... FOR UPDATE SKIP LOCKED, ordered by created_at ascending, inside
// one transaction that spans the whole batch. The row locks are held until
// the returned Tx is Closed (committed) at the end of the tick — see pgxTx.
func (s *PostgresStore) ClaimPending(ctx context.Context, limit int) (Tx, []domain.ClaimedEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, payload, target_url, attempt_count
		FROM webhook_events
		WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		tx.Rollback(ctx)
		return nil, nil, fmt.Errorf("claiming pending events: %w", err)
	}

	var claimed []domain.ClaimedEvent
	for rows.Next() {
		var e domain.ClaimedEvent
		if err := rows.Scan(&e.ID, &e.Payload, &e.TargetURL, &e.AttemptCount); err != nil {
			rows.Close()
			tx.Rollback(ctx)
			return nil, nil, fmt.Errorf("scanning claimed event: %w", err)
		}
		claimed = append(claimed, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		tx.Rollback(ctx)
		return nil, nil, fmt.Errorf("reading claimed events: %w", err)
	}
	rows.Close()

	return &pgxTx{ctx: ctx, tx: tx}, claimed, nil
}

func (s *PostgresStore) ListAttempts(ctx context.Context, eventID string) ([]domain.Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_id, attempt_number, status_code, response_body, error, created_at
		FROM delivery_attempts WHERE event_id = $1 ORDER BY attempt_number ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("querying delivery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		if err := rows.Scan(&a.ID, &a.EventID, &a.AttemptNumber, &a.StatusCode, &a.ResponseBody, &a.Error, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning delivery attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if attempts == nil {
		attempts = []domain.Attempt{}
	}
	return attempts, nil
}

func (s *PostgresStore) Counts(ctx context.Context) (pending, delivered, dead int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'delivered'),
			COUNT(*) FILTER (WHERE status = 'dead')
		FROM webhook_events
	`).Scan(&pending, &delivered, &dead)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("querying event counts: %w", err)
	}
	return pending, delivered, dead, nil
}

// pgxTx implements Tx over one pgx.Tx spanning a whole claimed batch. Each
// RecordAndMark* call runs inside its own savepoint (tx.Begin/Commit on the
// pgx.Tx are nested-transaction savepoints, not a real commit) so that one
// event's write failure rolls back only that event, never the rest of the
// batch or the row locks claimed for it. The real commit — and the release
// of every row lock in the batch — happens once, in Close.
type pgxTx struct {
	ctx    context.Context
	tx     pgx.Tx
	closed bool
}

func (t *pgxTx) RecordAndMarkDelivered(ctx context.Context, attempt AttemptInput) error {
	return t.withSavepoint(ctx, func(sp pgx.Tx) error {
		if err := recordAttempt(ctx, sp, attempt); err != nil {
			return err
		}
		_, err := sp.Exec(ctx, `
			UPDATE webhook_events SET status = 'delivered', attempt_count = $2, last_error = NULL, updated_at = now()
			WHERE id = $1
		`, attempt.EventID, attempt.AttemptNumber)
		if err != nil {
			return fmt.Errorf("marking event delivered: %w", err)
		}
		return nil
	})
}

func (t *pgxTx) RecordAndMarkFailed(ctx context.Context, attempt AttemptInput, attemptCount int, nextRetryAt time.Time, lastError string, dead bool) error {
	status := domain.StatusPending
	if dead {
		status = domain.StatusDead
	}

	return t.withSavepoint(ctx, func(sp pgx.Tx) error {
		if err := recordAttempt(ctx, sp, attempt); err != nil {
			return err
		}
		_, err := sp.Exec(ctx, `
			UPDATE webhook_events
			SET status = $2, attempt_count = $3, next_retry_at = $4, last_error = $5, updated_at = now()
			WHERE id = $1
		`, attempt.EventID, status, attemptCount, nextRetryAt, lastError)
		if err != nil {
			return fmt.Errorf("marking event failed: %w", err)
		}
		return nil
	})
}

// withSavepoint runs fn inside a nested transaction (a real SAVEPOINT on a
// non-pooled pgx.Tx) and rolls it back on error, leaving the outer batch
// transaction and its row locks untouched for the remaining events.
func (t *pgxTx) withSavepoint(ctx context.Context, fn func(pgx.Tx) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("opening savepoint: %w", err)
	}
	if err := fn(sp); err != nil {
		sp.Rollback(ctx)
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("releasing savepoint: %w", err)
	}
	return nil
}

func recordAttempt(ctx context.Context, q interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgx.CommandTag, error)
}, a AttemptInput) error {
	id := uuid.New().String()
	var respBody *string
	if a.ResponseBody != "" {
		respBody = &a.ResponseBody
	}
	var errMsg *string
	if a.Error != "" {
		errMsg = &a.Error
	}

	_, err := q.Exec(ctx, `
		INSERT INTO delivery_attempts (id, event_id, attempt_number, status_code, response_body, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, id, a.EventID, a.AttemptNumber, a.StatusCode, respBody, errMsg)
	if err != nil {
		return fmt.Errorf("recording delivery attempt: %w", err)
	}
	return nil
}

// Close commits the batch transaction, persisting every RecordAndMark* call
// made on it and releasing the row locks taken by ClaimPending in one shot.
// Events that were claimed but never finalized (e.g. the worker is shutting
// down mid-batch) were never mutated, so committing simply releases their
// lock and leaves them pending at their existing next_retry_at.
func (t *pgxTx) Close(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing claim transaction: %w", err)
	}
	return nil
}
