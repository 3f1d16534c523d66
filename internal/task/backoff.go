package task

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes the redelivery delay before a retry attempt.
// With Exponential set, the delay grows as Base * 2^(attempt-1) with a
// jitter factor in [0.5, 1.0) to spread correlated retries; otherwise
// the delay is the fixed Base.
type Backoff struct {
	Base        time.Duration
	Exponential bool
}

// Delay returns the wait before redelivering a message whose attempt
// number (1-based) just failed.
func (b Backoff) Delay(attempt uint64) time.Duration {
	if !b.Exponential {
		return b.Base
	}
	if attempt < 1 {
		attempt = 1
	}

	backoff := float64(b.Base) * math.Pow(2, float64(attempt-1))
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(backoff * jitter)
}
