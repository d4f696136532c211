// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package broker

import (
	"context"
	"time"

	"github.com/schedcu/autosched/cache"
)

// Fetch is a computed read that the combinators below wrap. They compose in
// any order, e.g. Guarded(b, Retrying(p, Cached(c, key, ttl, fetch))).
type Fetch func(ctx context.Context) ([]byte, error)

// Cached serves the fetch through the two-tier cache under the given key.
func Cached(c *cache.Cache, key string, ttl time.Duration, next Fetch) Fetch {
	return func(ctx context.Context) ([]byte, error) {
		return c.GetOrFill(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
			return next(ctx)
		})
	}
}

// Retrying reruns the fetch under the retry policy.
func Retrying(policy *RetryPolicy, next Fetch) Fetch {
	return func(ctx context.Context) ([]byte, error) {
		var out []byte
		err := policy.Execute(ctx, func(ctx context.Context) error {
			var err error
			out, err = next(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

// Guarded runs the fetch through the circuit breaker; an open breaker
// returns ErrBreakerOpen without invoking it.
func Guarded(b *Breaker, next Fetch) Fetch {
	return func(ctx context.Context) ([]byte, error) {
		var out []byte
		err := b.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = next(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}
