// Package backoff computes exponential retry delays with jitter, shared by
// the outbox worker (spec §4.7) and the provider invoker's transport retry
// policy (spec §4.4).
package backoff

import (
	"math/rand/v2"
	"time"
)

// Compute returns the delay before attempt number attempt (1-indexed)
// should be retried: min(max, base*2^(attempt-1)) with ±25% jitter, per
// spec §4.7.
func Compute(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := base * time.Duration(uint64(1)<<uint(attempt-1))
	if d <= 0 || d > max {
		d = max
	}

	jitter := time.Duration(float64(d) * 0.25)
	if jitter <= 0 {
		return d
	}
	offset := time.Duration(rand.Int64N(int64(2*jitter+1))) - jitter

	result := d + offset
	if result < 0 {
		result = 0
	}
	return result
}
