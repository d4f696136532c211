// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package broker

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/schedcu/autosched/ci"
)

func TestRetryPolicy_EventualSuccess(t *testing.T) {
	ci.Parallel(t)

	policy := &RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Backoff:     BackoffFixed,
	}

	var retries []uint
	policy.OnRetry = func(attempt uint, err error) { retries = append(retries, attempt) }

	successAttempts := uint(0)
	policy.OnSuccess = func(attempts uint) { successAttempts = attempts }

	calls := 0
	err := policy.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	must.NoError(t, err)
	must.Eq(t, 3, calls)
	must.Eq(t, []uint{1, 2}, retries)
	must.Eq(t, 3, successAttempts)
}

func TestRetryPolicy_Exhaustion(t *testing.T) {
	ci.Parallel(t)

	boom := errors.New("boom")
	policy := &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Backoff:     BackoffFixed,
	}

	var failedAttempts uint
	var failedErr error
	policy.OnFailure = func(attempts uint, err error) {
		failedAttempts = attempts
		failedErr = err
	}

	calls := 0
	err := policy.Execute(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	must.ErrorIs(t, err, boom)
	must.Eq(t, 3, calls)
	must.Eq(t, 3, failedAttempts)
	must.ErrorIs(t, failedErr, boom)
}

func TestRetryPolicy_NonRetryableBypass(t *testing.T) {
	ci.Parallel(t)

	fatal := errors.New("validation failed")
	policy := &RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}

	calls := 0
	err := policy.Execute(context.Background(), func(context.Context) error {
		calls++
		return NonRetryable(fatal)
	})
	must.ErrorIs(t, err, fatal)
	must.Eq(t, 1, calls)
	must.True(t, IsNonRetryable(err))
}

func TestRetryPolicy_NilAndWrapped(t *testing.T) {
	ci.Parallel(t)

	must.Nil(t, NonRetryable(nil))
	must.False(t, IsNonRetryable(errors.New("plain")))
	must.True(t, IsNonRetryable(NonRetryable(errors.New("x"))))
}

func TestRetryPolicy_Timeout(t *testing.T) {
	ci.Parallel(t)

	policy := &RetryPolicy{
		MaxAttempts: 100,
		BaseDelay:   20 * time.Millisecond,
		Backoff:     BackoffFixed,
		Timeout:     50 * time.Millisecond,
	}

	calls := 0
	err := policy.Execute(context.Background(), func(context.Context) error {
		calls++
		return errors.New("transient")
	})
	must.Error(t, err)
	must.Less(t, 100, calls)
}

func TestRetryPolicy_DelaySchedules(t *testing.T) {
	ci.Parallel(t)

	rng := rand.New(rand.NewSource(1))

	fixed := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute, Backoff: BackoffFixed, Jitter: JitterNone, Multiplier: 2, MaxAttempts: 5}
	fn := fixed.delayFunc(rng)
	must.Eq(t, 100*time.Millisecond, fn(0, nil, nil))
	must.Eq(t, 100*time.Millisecond, fn(3, nil, nil))

	exp := fixed
	exp.Backoff = BackoffExponential
	fn = exp.delayFunc(rng)
	must.Eq(t, 100*time.Millisecond, fn(0, nil, nil))
	must.Eq(t, 200*time.Millisecond, fn(1, nil, nil))
	must.Eq(t, 800*time.Millisecond, fn(3, nil, nil))

	mult := fixed
	mult.Backoff = BackoffMultiplier
	mult.Multiplier = 3
	fn = mult.delayFunc(rng)
	must.Eq(t, 100*time.Millisecond, fn(0, nil, nil))
	must.Eq(t, 300*time.Millisecond, fn(1, nil, nil))
	must.Eq(t, 900*time.Millisecond, fn(2, nil, nil))

	// The cap binds every schedule.
	capped := exp
	capped.MaxDelay = 500 * time.Millisecond
	fn = capped.delayFunc(rng)
	must.Eq(t, 500*time.Millisecond, fn(10, nil, nil))
}

func TestRetryPolicy_JitterBounds(t *testing.T) {
	ci.Parallel(t)

	rng := rand.New(rand.NewSource(42))
	base := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute, Backoff: BackoffFixed, MaxAttempts: 5}

	equal := base
	equal.Jitter = JitterEqual
	fn := equal.delayFunc(rng)
	for i := 0; i < 50; i++ {
		d := fn(0, nil, nil)
		must.LessEq(t, d, 50*time.Millisecond)
		must.GreaterEq(t, d, 100*time.Millisecond)
	}

	full := base
	full.Jitter = JitterFull
	fn = full.delayFunc(rng)
	for i := 0; i < 50; i++ {
		d := fn(0, nil, nil)
		must.LessEq(t, d, 0)
		must.GreaterEq(t, d, 100*time.Millisecond)
	}

	// Decorrelated delays stay within [base, max] and depend on the
	// previous delay, not the attempt number.
	deco := base
	deco.Jitter = JitterDecorrelated
	deco.MaxDelay = time.Second
	fn = deco.delayFunc(rng)
	for i := 0; i < 50; i++ {
		d := fn(0, nil, nil)
		must.LessEq(t, d, 100*time.Millisecond)
		must.GreaterEq(t, d, time.Second)
	}
}
