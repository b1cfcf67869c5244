package workflow

import (
	"math/rand"
	"time"
)

// computeBackoff calculates the delay before the next retry attempt of a
// task, using exponential backoff with jitter. Grounded on
// graph/policy.go's computeBackoff; adapted from the teacher's
// (BaseDelay, MaxDelay, 2^attempt) tuple to the spec's
// (BackoffMS, BackoffMultiplier, Jitter) tuple (spec.md §3/§4.9):
//
//	delay = backoff_ms * backoff_multiplier^(attempt-1)
//
// where attempt is 1-based (the first retry, i.e. the second overall
// attempt, uses attempt=1). Jitter, when enabled, perturbs the result by up
// to ±25%, matching spec.md's requirement that retries not synchronize
// across concurrently failing tasks.
func computeBackoff(policy *RetryPolicy, attempt int, rng *rand.Rand) time.Duration {
	if policy == nil || attempt < 1 {
		return 0
	}
	mult := policy.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	delayMS := float64(policy.BackoffMS)
	for i := 1; i < attempt; i++ {
		delayMS *= mult
	}
	delay := time.Duration(delayMS) * time.Millisecond

	if !policy.Jitter || delay <= 0 {
		return delay
	}
	spread := delay / 4
	if spread <= 0 {
		return delay
	}
	var offset time.Duration
	if rng != nil {
		offset = time.Duration(rng.Int63n(int64(2*spread))) - spread
	} else {
		offset = time.Duration(rand.Int63n(int64(2*spread))) - spread // #nosec G404 -- jitter timing, not security-sensitive
	}
	result := delay + offset
	if result < 0 {
		return 0
	}
	return result
}

// shouldRetry reports whether a failed task attempt should be retried,
// given its retry policy and the error code produced. Matches spec.md §7:
// only TaskError.Retryable failures are eligible, and only while attempts
// remain under MaxAttempts.
func shouldRetry(policy *RetryPolicy, attempt int, err *TaskError) bool {
	if policy == nil || err == nil || !err.Retryable {
		return false
	}
	return attempt < policy.MaxAttempts
}
