package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arnavmehta/webhook-dispatcher/internal/clock"
	"github.com/arnavmehta/webhook-dispatcher/internal/domain"
	"github.com/google/uuid"
)

// MemStore is an in-memory Store used by worker unit tests in place of a
// live Postgres database. It reproduces the claim protocol's observable
// contract — exclusive claim until the batch transaction closes, skip rows
// already claimed — with a mutex instead of row locks, which is sufficient
// for single-process tests; it is not a substitute for PostgresStore's
// cross-process guarantees.
type MemStore struct {
	mu       sync.Mutex
	clock    clock.Clock
	events   map[string]*domain.Event
	attempts map[string][]domain.Attempt
	locked   map[string]bool
}

// NewMemStore builds an empty MemStore using clk for InsertEvent's
// next_retry_at default.
func NewMemStore(clk clock.Clock) *MemStore {
	return &MemStore{
		clock:    clk,
		events:   make(map[string]*domain.Event),
		attempts: make(map[string][]domain.Attempt),
		locked:   make(map[string]bool),
	}
}

func (m *MemStore) InsertEvent(ctx context.Context, payload json.RawMessage, targetURL string) (*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	cp := make(json.RawMessage, len(payload))
	copy(cp, payload)

	e := &domain.Event{
		ID:           uuid.New().String(),
		Payload:      cp,
		TargetURL:    targetURL,
		Status:       domain.StatusPending,
		AttemptCount: 0,
		NextRetryAt:  &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.events[e.ID] = e
	return cloneEvent(e), nil
}

func (m *MemStore) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[id]
	if !ok {
		return nil, nil
	}
	return cloneEvent(e), nil
}

func (m *MemStore) ClaimPending(ctx context.Context, limit int) (Tx, []domain.ClaimedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	// Stable order: created_at ascending, id as a tiebreaker for determinism.
	var ordered []*domain.Event
	for _, e := range m.events {
		ordered = append(ordered, e)
	}
	sortEventsByCreatedAt(ordered)

	var claimed []domain.ClaimedEvent
	var claimedIDs []string
	for _, e := range ordered {
		if len(claimed) >= limit {
			break
		}
		if e.Status != domain.StatusPending {
			continue
		}
		if e.NextRetryAt != nil && e.NextRetryAt.After(now) {
			continue
		}
		if m.locked[e.ID] {
			continue // simulates SKIP LOCKED
		}
		m.locked[e.ID] = true
		claimedIDs = append(claimedIDs, e.ID)
		claimed = append(claimed, domain.ClaimedEvent{
			ID:           e.ID,
			Payload:      e.Payload,
			TargetURL:    e.TargetURL,
			AttemptCount: e.AttemptCount,
		})
	}

	return &memTx{store: m, claimedIDs: claimedIDs}, claimed, nil
}

func (m *MemStore) ListAttempts(ctx context.Context, eventID string) ([]domain.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := append([]domain.Attempt{}, m.attempts[eventID]...)
	return out, nil
}

func (m *MemStore) Counts(ctx context.Context) (pending, delivered, dead int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.events {
		switch e.Status {
		case domain.StatusPending:
			pending++
		case domain.StatusDelivered:
			delivered++
		case domain.StatusDead:
			dead++
		}
	}
	return pending, delivered, dead, nil
}

// memTx implements Tx over MemStore. Unlike pgxTx it finalizes each event
// immediately (there is no meaningful "savepoint" over a mutex-protected
// map) but it preserves the same observable contract: locks release only
// when Close is called.
type memTx struct {
	store      *MemStore
	claimedIDs []string
	closed     bool
}

func (t *memTx) RecordAndMarkDelivered(ctx context.Context, attempt AttemptInput) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	e, ok := t.store.events[attempt.EventID]
	if !ok {
		return fmt.Errorf("memstore: unknown event %s", attempt.EventID)
	}

	t.store.appendAttemptLocked(attempt)
	e.Status = domain.StatusDelivered
	e.LastError = nil
	e.UpdatedAt = t.store.clock.Now()
	e.AttemptCount = attempt.AttemptNumber
	return nil
}

func (t *memTx) RecordAndMarkFailed(ctx context.Context, attempt AttemptInput, attemptCount int, nextRetryAt time.Time, lastError string, dead bool) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	e, ok := t.store.events[attempt.EventID]
	if !ok {
		return fmt.Errorf("memstore: unknown event %s", attempt.EventID)
	}

	t.store.appendAttemptLocked(attempt)
	if dead {
		e.Status = domain.StatusDead
	} else {
		e.Status = domain.StatusPending
	}
	e.AttemptCount = attemptCount
	nr := nextRetryAt
	e.NextRetryAt = &nr
	le := lastError
	e.LastError = &le
	e.UpdatedAt = t.store.clock.Now()
	return nil
}

// Close releases the locks held on every event claimed by this batch,
// regardless of whether each was finalized — mirroring pgxTx's Close, which
// commits (and thereby releases) the whole batch's row locks at once.
func (t *memTx) Close(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, id := range t.claimedIDs {
		delete(t.store.locked, id)
	}
	return nil
}

func (m *MemStore) appendAttemptLocked(a AttemptInput) {
	id := uuid.New().String()
	var respBody *string
	if a.ResponseBody != "" {
		respBody = &a.ResponseBody
	}
	var errMsg *string
	if a.Error != "" {
		errMsg = &a.Error
	}
	m.attempts[a.EventID] = append(m.attempts[a.EventID], domain.Attempt{
		ID:            id,
		EventID:       a.EventID,
		AttemptNumber: a.AttemptNumber,
		StatusCode:    a.StatusCode,
		ResponseBody:  respBody,
		Error:         errMsg,
		CreatedAt:     m.clock.Now(),
	})
}

func cloneEvent(e *domain.Event) *domain.Event {
	cp := *e
	return &cp
}

func sortEventsByCreatedAt(events []*domain.Event) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
