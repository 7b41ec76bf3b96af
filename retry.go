package couchkit

import (
	"errors"
	"math/rand"
	"time"

	"stealthcompany.com/couchkit/internal/metrics"
)

// RetryPolicy selects how the backoff between retry attempts grows.
type RetryPolicy int

const (
	RetryPolicyFlat RetryPolicy = iota + 1
	RetryPolicyLinear
	RetryPolicyExponential
	RetryPolicyRandom
)

func (p RetryPolicy) String() string {
	switch p {
	case RetryPolicyFlat:
		return "flat"
	case RetryPolicyLinear:
		return "linear"
	case RetryPolicyExponential:
		return "exponential"
	case RetryPolicyRandom:
		return "random"
	default:
		return "unknown"
	}
}

// Retrier wraps operations with a bounded retry policy. The zero value
// performs a single attempt with no retries.
type Retrier struct {
	// Attempts is the total number of invocations, including the first.
	// Values below 1 are treated as 1.
	Attempts int

	// Delay is the base backoff between attempts.
	Delay time.Duration

	// Policy computes the backoff growth; defaults to flat.
	Policy RetryPolicy

	// Retryable decides whether an error is worth retrying. When nil, no
	// error is retried and every error propagates immediately.
	Retryable func(error) bool
}

// RetryableErrors builds a Retryable predicate matching any of the given
// errors via errors.Is.
func RetryableErrors(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

// Do invokes op, retrying per the configured policy while op returns a
// retryable error and attempts remain. The original error is returned when
// attempts are exhausted or the error is not retryable.
func (r Retrier) Do(op func() error) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if r.Retryable == nil || !r.Retryable(err) {
			return err
		}
		if attempt == attempts {
			return err
		}

		metrics.RecordRetry(r.Policy.String())
		time.Sleep(r.backoff(attempt))
	}
	return err
}

// backoff computes the sleep before the next attempt; attempt is 1-based.
func (r Retrier) backoff(attempt int) time.Duration {
	switch r.Policy {
	case RetryPolicyLinear:
		return r.Delay * time.Duration(attempt)
	case RetryPolicyExponential:
		return (r.Delay / 2) * time.Duration(1<<attempt)
	case RetryPolicyRandom:
		// Uniform factor in [0.17, 2.33].
		factor := float64(rand.Intn(217)+17) / 100
		return time.Duration(float64(r.Delay) * factor)
	default:
		return r.Delay
	}
}
