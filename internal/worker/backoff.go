package worker

import (
	"time"

	"github.com/arnavmehta/webhook-dispatcher/internal/clock"
)

// Backoff computes the delay before a failed event becomes eligible again:
// exponential with additive, full-second uniform jitter, capped at max.
// nextAttemptCount is attempt_count + 1 (the ordinal of the attempt that
// just failed).
func Backoff(base, max time.Duration, nextAttemptCount int, rnd clock.Rand) time.Duration {
	exp := expBackoff(base, max, nextAttemptCount)
	jitter := time.Duration(rnd.Float64() * float64(time.Second))
	delay := exp + jitter
	if delay > max || delay < 0 {
		return max
	}
	return delay
}

// expBackoff doubles base nextAttemptCount times, clamping to max as soon as
// it's reached so a large MAX_ATTEMPTS can never overflow the multiply.
func expBackoff(base, max time.Duration, nextAttemptCount int) time.Duration {
	exp := base
	for i := 0; i < nextAttemptCount; i++ {
		if exp >= max {
			return max
		}
		exp *= 2
		if exp < 0 {
			return max
		}
	}
	if exp > max {
		return max
	}
	return exp
}
