package rpc

import (
	"time"

	"github.com/jpillora/backoff"
)

// RetryPolicy is an immutable description of how a failed submission is
// retried: a bound on attempts and an exponential delay schedule.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay maps a 1-based attempt number to the sleep taken after that attempt
// fails. The first failure waits InitialDelay; each further failure
// multiplies the delay by Multiplier, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := backoff.Backoff{
		Min:    p.InitialDelay,
		Max:    p.MaxDelay,
		Factor: p.Multiplier,
	}
	return b.ForAttempt(float64(attempt - 1))
}
