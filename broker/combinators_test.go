// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/schedcu/autosched/cache"
	"github.com/schedcu/autosched/ci"
	"github.com/schedcu/autosched/helper/testlog"
)

func TestCombinators_Cached(t *testing.T) {
	ci.Parallel(t)

	c, err := cache.New(testlog.HCLogger(t), nil, 16)
	must.NoError(t, err)

	calls := 0
	fetch := Cached(c, "eval:run-1", time.Minute, func(context.Context) ([]byte, error) {
		calls++
		return []byte("report"), nil
	})

	for i := 0; i < 3; i++ {
		got, err := fetch(context.Background())
		must.NoError(t, err)
		must.Eq(t, "report", string(got))
	}
	must.Eq(t, 1, calls)
}

func TestCombinators_Retrying(t *testing.T) {
	ci.Parallel(t)

	policy := &RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, Backoff: BackoffFixed}

	calls := 0
	fetch := Retrying(policy, func(context.Context) ([]byte, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return []byte("ok"), nil
	})

	got, err := fetch(context.Background())
	must.NoError(t, err)
	must.Eq(t, "ok", string(got))
	must.Eq(t, 3, calls)
}

func TestCombinators_Guarded(t *testing.T) {
	ci.Parallel(t)

	b := NewBreaker(testlog.HCLogger(t), BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute})
	boom := errors.New("backend down")

	calls := 0
	fetch := Guarded(b, func(context.Context) ([]byte, error) {
		calls++
		return nil, boom
	})

	for i := 0; i < 2; i++ {
		_, err := fetch(context.Background())
		must.ErrorIs(t, err, boom)
	}

	// Breaker is open now; the fetch is no longer invoked.
	_, err := fetch(context.Background())
	must.ErrorIs(t, err, ErrBreakerOpen)
	must.Eq(t, 2, calls)
}

func TestCombinators_Stacked(t *testing.T) {
	ci.Parallel(t)

	c, err := cache.New(testlog.HCLogger(t), nil, 16)
	must.NoError(t, err)
	b := NewBreaker(testlog.HCLogger(t), BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Minute})
	policy := &RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Backoff: BackoffFixed}

	calls := 0
	fetch := Guarded(b, Retrying(policy, Cached(c, "eval:run-2", time.Minute, func(context.Context) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return []byte("ok"), nil
	})))

	got, err := fetch(context.Background())
	must.NoError(t, err)
	must.Eq(t, "ok", string(got))
	must.Eq(t, 2, calls)

	// The second call never leaves the cache.
	_, err = fetch(context.Background())
	must.NoError(t, err)
	must.Eq(t, 2, calls)
}
