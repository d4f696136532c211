// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/schedcu/autosched/ci"
	"github.com/schedcu/autosched/helper/testlog"
)

func TestBreaker_OpensOnConsecutiveFailures(t *testing.T) {
	ci.Parallel(t)

	b := NewBreaker(testlog.HCLogger(t), BreakerConfig{
		Name:             "eval",
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
	})
	ctx := context.Background()
	boom := errors.New("backend down")

	must.True(t, b.CanRequest())
	must.Eq(t, "closed", b.State())

	for i := 0; i < 3; i++ {
		err := b.Do(ctx, func(context.Context) error { return boom })
		must.ErrorIs(t, err, boom)
	}

	must.False(t, b.CanRequest())
	must.Eq(t, "open", b.State())

	// Open breaker sheds load without invoking the work.
	calls := 0
	err := b.Do(ctx, func(context.Context) error { calls++; return nil })
	must.ErrorIs(t, err, ErrBreakerOpen)
	must.Eq(t, 0, calls)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	ci.Parallel(t)

	b := NewBreaker(testlog.HCLogger(t), BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
	})
	ctx := context.Background()
	boom := errors.New("flaky")

	// Failures interleaved with successes never trip the breaker.
	for i := 0; i < 10; i++ {
		_ = b.Do(ctx, func(context.Context) error { return boom })
		_ = b.Do(ctx, func(context.Context) error { return boom })
		must.NoError(t, b.Do(ctx, func(context.Context) error { return nil }))
	}
	must.True(t, b.CanRequest())
	must.Eq(t, "closed", b.State())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	ci.Parallel(t)

	b := NewBreaker(testlog.HCLogger(t), BreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
	})
	ctx := context.Background()
	boom := errors.New("down")

	for i := 0; i < 2; i++ {
		_ = b.Do(ctx, func(context.Context) error { return boom })
	}
	must.False(t, b.CanRequest())

	time.Sleep(80 * time.Millisecond)

	// A successful probe closes the breaker again.
	must.True(t, b.CanRequest())
	must.NoError(t, b.Do(ctx, func(context.Context) error { return nil }))
	must.Eq(t, "closed", b.State())
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	ci.Parallel(t)

	b := NewBreaker(testlog.HCLogger(t), BreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
	})
	ctx := context.Background()
	boom := errors.New("still down")

	for i := 0; i < 2; i++ {
		_ = b.Do(ctx, func(context.Context) error { return boom })
	}
	time.Sleep(80 * time.Millisecond)

	err := b.Do(ctx, func(context.Context) error { return boom })
	must.ErrorIs(t, err, boom)
	must.False(t, b.CanRequest())
	must.Eq(t, "open", b.State())
}
