package service

import "time"

// RetryPolicy schedules disbursement retries with capped exponential backoff.
type RetryPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy is 30s doubling up to one hour, ten attempts.
var DefaultRetryPolicy = RetryPolicy{Base: 30 * time.Second, Cap: time.Hour, MaxAttempts: 10}

// Delay returns the wait before the next try after attempt failures (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// Exhausted reports whether attempt failures use up the retry budget.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
