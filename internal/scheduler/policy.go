package scheduler

import (
	"math"
	"time"
)

// RetryPolicy bounds consecutive failures of a session.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// MaxConsecutive is the failure count that ends the session.
	// Zero retries forever.
	MaxConsecutive int
}

// Delay returns the wait before the retry following the n-th consecutive
// failure. Without MaxDelay the doubling saturates at math.MaxInt64.
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 || p.BaseDelay <= 0 {
		return p.BaseDelay
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether n consecutive failures reach the ceiling.
func (p RetryPolicy) Exhausted(n int) bool {
	return p.MaxConsecutive > 0 && n >= p.MaxConsecutive
}
