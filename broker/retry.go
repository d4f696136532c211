// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package broker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
)

// Backoff selects how the base delay grows between attempts.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"

	// BackoffMultiplier grows by a configurable factor instead of doubling.
	BackoffMultiplier Backoff = "exponential-with-multiplier"
)

// Jitter selects how computed delays are randomized.
type Jitter string

const (
	JitterNone Jitter = "none"

	// JitterEqual keeps half the delay and randomizes the other half.
	JitterEqual Jitter = "equal"

	// JitterFull randomizes over the whole delay.
	JitterFull Jitter = "full"

	// JitterDecorrelated derives each delay from the previous one rather
	// than the attempt number.
	JitterDecorrelated Jitter = "decorrelated"
)

// nonRetryableError marks an error that must bypass the retry loop.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable wraps an error so that no further attempts are made.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether the error was marked with NonRetryable.
func IsNonRetryable(err error) bool {
	var nr *nonRetryableError
	return errors.As(err, &nr)
}

// RetryPolicy configures the retry loop around an operation.
type RetryPolicy struct {
	// MaxAttempts counts the first try too; zero means 3.
	MaxAttempts uint

	// BaseDelay seeds the backoff; zero means 100ms.
	BaseDelay time.Duration

	// MaxDelay caps any single delay; zero means 30s.
	MaxDelay time.Duration

	// Multiplier is the growth factor for BackoffMultiplier; zero means 2.
	Multiplier float64

	// Timeout bounds the whole loop including delays; zero means unbounded.
	Timeout time.Duration

	Backoff Backoff
	Jitter  Jitter

	// Lifecycle callbacks, all optional.
	OnRetry   func(attempt uint, err error)
	OnSuccess func(attempts uint)
	OnFailure func(attempts uint, err error)
}

func (p *RetryPolicy) withDefaults() RetryPolicy {
	out := *p
	if out.MaxAttempts == 0 {
		out.MaxAttempts = 3
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = 100 * time.Millisecond
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = 30 * time.Second
	}
	if out.Multiplier <= 1 {
		out.Multiplier = 2
	}
	if out.Backoff == "" {
		out.Backoff = BackoffExponential
	}
	if out.Jitter == "" {
		out.Jitter = JitterNone
	}
	return out
}

// delayFunc builds the retry-go delay function for this policy. Decorrelated
// jitter carries its previous delay in the closure.
func (p RetryPolicy) delayFunc(rng *rand.Rand) retry.DelayTypeFunc {
	var mu sync.Mutex
	prev := p.BaseDelay

	return func(n uint, err error, config *retry.Config) time.Duration {
		mu.Lock()
		defer mu.Unlock()

		var d time.Duration
		switch p.Backoff {
		case BackoffFixed:
			d = p.BaseDelay
		case BackoffMultiplier:
			d = p.BaseDelay
			for i := uint(0); i < n; i++ {
				d = time.Duration(float64(d) * p.Multiplier)
				if d > p.MaxDelay {
					break
				}
			}
		default: // exponential
			d = p.BaseDelay << n
		}
		if d > p.MaxDelay || d <= 0 {
			d = p.MaxDelay
		}

		switch p.Jitter {
		case JitterEqual:
			d = d/2 + time.Duration(rng.Int63n(int64(d/2)+1))
		case JitterFull:
			d = time.Duration(rng.Int63n(int64(d) + 1))
		case JitterDecorrelated:
			lo := p.BaseDelay
			hi := 3 * prev
			if hi <= lo {
				hi = lo + 1
			}
			d = lo + time.Duration(rng.Int63n(int64(hi-lo)))
			if d > p.MaxDelay {
				d = p.MaxDelay
			}
			prev = d
		}
		return d
	}
}

// Execute runs fn under the policy: backoff with jitter between attempts,
// non-retryable bypass, optional overall timeout and lifecycle callbacks.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(context.Context) error) error {
	policy := p.withDefaults()

	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempts := uint(0)

	err := retry.Do(
		func() error {
			attempts++
			return fn(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(policy.MaxAttempts),
		retry.DelayType(policy.delayFunc(rng)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !IsNonRetryable(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			if policy.OnRetry != nil {
				policy.OnRetry(n+1, err)
			}
		}),
	)

	if err != nil {
		if policy.OnFailure != nil {
			policy.OnFailure(attempts, err)
		}
		return err
	}
	if policy.OnSuccess != nil {
		policy.OnSuccess(attempts)
	}
	return nil
}
