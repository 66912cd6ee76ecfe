package worker

import (
	"context"
	"math"
	"time"
)

// RetryPolicy defines exponential backoff parameters.
// MaxRetries counts retries after the first attempt.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// ShouldRetry filters which errors are retried; nil retries every error.
	ShouldRetry func(error) bool
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// Do runs fn, retrying failures per the policy. A nil policy runs fn once.
// It stops early when ctx is done and returns the last error from fn.
func Do(ctx context.Context, policy *RetryPolicy, fn func() error) error {
	err := fn()
	if err == nil || policy == nil {
		return err
	}

	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		if policy.ShouldRetry != nil && !policy.ShouldRetry(err) {
			return err
		}

		timer := time.NewTimer(policy.NextDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}

		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}
