// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package broker

import (
	"time"
)

// Load is the queue-pressure snapshot a throttle decides on.
type Load struct {
	Priority Priority
	Depth    int
	Capacity int
}

func (l Load) pct() float64 {
	if l.Capacity <= 0 {
		return 100
	}
	return 100 * float64(l.Depth) / float64(l.Capacity)
}

// Decision is a throttle's verdict. Wait is an admission delay for accepted
// work and a retry-after hint for rejected work.
type Decision struct {
	Accept bool
	Wait   time.Duration
}

// Throttle decides admission for incoming tasks.
type Throttle interface {
	Admit(load Load) Decision
}

// SimpleThrottle admits until the queue is full, then rejects flat out.
type SimpleThrottle struct {
	// RetryAfter is the hint on rejection; zero means 1s.
	RetryAfter time.Duration
}

func (t SimpleThrottle) Admit(load Load) Decision {
	if load.Depth >= load.Capacity {
		wait := t.RetryAfter
		if wait <= 0 {
			wait = time.Second
		}
		return Decision{Accept: false, Wait: wait}
	}
	return Decision{Accept: true}
}

// QueuedThrottle never rejects; it slows admission in proportion to depth
// instead.
type QueuedThrottle struct {
	// MaxWait is the admission delay at a full queue; zero means 10s.
	MaxWait time.Duration
}

func (t QueuedThrottle) Admit(load Load) Decision {
	maxWait := t.MaxWait
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}
	return Decision{Accept: true, Wait: time.Duration(float64(maxWait) * load.pct() / 100)}
}

// PriorityThrottle reserves headroom for urgent bands: critical work always
// fits, while lower bands are cut off at shrinking fractions of capacity.
type PriorityThrottle struct {
	// RetryAfter is the hint on rejection; zero means 1s.
	RetryAfter time.Duration
}

func (t PriorityThrottle) Admit(load Load) Decision {
	frac := 1.0
	switch load.Priority {
	case PriorityHigh:
		frac = 0.9
	case PriorityNormal:
		frac = 0.75
	case PriorityLow:
		frac = 0.5
	}
	if float64(load.Depth) >= frac*float64(load.Capacity) {
		wait := t.RetryAfter
		if wait <= 0 {
			wait = time.Second
		}
		return Decision{Accept: false, Wait: wait}
	}
	return Decision{Accept: true}
}

// AdaptiveThrottle follows the utilization ladder: waits grow through the
// 70/80/90% bands and admission stops at 95%.
type AdaptiveThrottle struct {
	// BaseWait is the green-band admission delay unit; zero means 1s.
	BaseWait time.Duration
}

func (t AdaptiveThrottle) Admit(load Load) Decision {
	base := t.BaseWait
	if base <= 0 {
		base = time.Second
	}
	pct := load.pct()
	wait := time.Duration(float64(base) * waitMultiplier(pct))
	if pct >= 95 {
		return Decision{Accept: false, Wait: wait}
	}
	if pct < 70 {
		// No pressure, no delay.
		return Decision{Accept: true}
	}
	return Decision{Accept: true, Wait: wait}
}
