// Package engine holds the advisory, Redis-backed coordination helpers that
// sit alongside the Store's row-locked claim — never in place of it. The
// Postgres claim lock documented in internal/store remains the sole
// mechanism preventing double-delivery (spec.md §5); everything here is a
// best-effort nicety that degrades gracefully if Redis is unavailable.
package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockKey = "dispatcher:poll-leader"

// LeaderLock lets dispatcher replicas debounce redundant claim polling: all
// callers share one lock key, so at most one caller — across replicas and
// across the worker goroutines within a replica — proceeds per ttl window;
// the rest skip that tick and try again next tick. Built on the teacher's HSet/HGetAll circuit-breaker-state
// pattern, simplified to a single SET NX PX.
type LeaderLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLeaderLock builds a LeaderLock held for ttl per acquisition. client may
// be nil, in which case Acquire always reports true (degrading to "every
// replica polls independently", which is still correct, just busier).
func NewLeaderLock(client *redis.Client, ttl time.Duration) *LeaderLock {
	return &LeaderLock{client: client, ttl: ttl}
}

// Acquire attempts to take the poll-leader lock for this tick. It returns
// true if the caller should proceed with claiming; false if another replica
// already holds it.
func (l *LeaderLock) Acquire(ctx context.Context) bool {
	if l.client == nil {
		return true
	}
	ok, err := l.client.SetNX(ctx, lockKey, "1", l.ttl).Result()
	if err != nil {
		// Redis trouble is never a reason to stop delivering; fail open.
		return true
	}
	return ok
}
