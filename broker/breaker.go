// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package broker

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/sony/gobreaker"
)

// ErrBreakerOpen is returned when the breaker refuses a request.
var ErrBreakerOpen = errors.New("circuit breaker open")

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	Name string

	// FailureThreshold is the consecutive-failure count that opens the
	// breaker; zero means 5.
	FailureThreshold uint32

	// RecoveryTimeout is how long the breaker stays open before probing;
	// zero means 30s.
	RecoveryTimeout time.Duration

	// HalfOpenMaxRequests bounds concurrent probes while half-open; zero
	// means 1.
	HalfOpenMaxRequests uint32
}

// Breaker wraps a two-step circuit breaker: callers may either probe
// admission with CanRequest before doing work, or run the work through Do.
type Breaker struct {
	logger hclog.Logger
	cb     *gobreaker.TwoStepCircuitBreaker
}

// NewBreaker builds a closed breaker.
func NewBreaker(logger hclog.Logger, config BreakerConfig) *Breaker {
	if config.Name == "" {
		config.Name = "default"
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxRequests == 0 {
		config.HalfOpenMaxRequests = 1
	}

	b := &Breaker{logger: logger.Named("breaker").With("name", config.Name)}
	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.HalfOpenMaxRequests,
		Timeout:     config.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.IncrCounter([]string{"autosched", "breaker", "transition"}, 1)
			b.logger.Info("breaker state change", "from", from.String(), "to", to.String())
		},
	})
	return b
}

// CanRequest reports whether the breaker would currently admit a request,
// without consuming an admission slot.
func (b *Breaker) CanRequest() bool {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return false
	default:
		return true
	}
}

// State returns closed, half-open or open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Do runs fn through the breaker. An open breaker returns ErrBreakerOpen
// without invoking fn; otherwise fn's result feeds the failure counts.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	done, err := b.cb.Allow()
	if err != nil {
		metrics.IncrCounter([]string{"autosched", "breaker", "rejected"}, 1)
		return ErrBreakerOpen
	}

	err = fn(ctx)
	done(err == nil)
	return err
}
