package model

import "time"

// RetryParams controls the backoff schedule the Fetcher applies to a failed
// request before it gives up and the engine surfaces a network Error.
type RetryParams struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	FuzzFactor   float64
	BackoffFactor float64
	Timeout      time.Duration
}

// DefaultRetryParams mirrors the defaults used across the DASH-IF tooling:
// a handful of attempts with exponential backoff and light jitter.
func DefaultRetryParams() RetryParams {
	return RetryParams{
		MaxAttempts:   3,
		BaseDelay:     1 * time.Second,
		FuzzFactor:    0.5,
		BackoffFactor: 2.0,
		Timeout:       30 * time.Second,
	}
}

// DelayForAttempt returns the (unfuzzed-center) backoff delay before the
// given zero-based retry attempt.
func (p RetryParams) DelayForAttempt(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.BackoffFactor)
	}
	return d
}
