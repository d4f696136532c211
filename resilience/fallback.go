// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/schedcu/autosched/structs"
)

// Catalogue holds the precomputed fallback schedules keyed by scenario tag.
// Activation is a map lookup plus flag flip under a short lock; nothing is
// generated on the hot path.
type Catalogue struct {
	logger hclog.Logger

	mu        sync.RWMutex
	fallbacks map[string]*structs.FallbackSchedule
}

// NewCatalogue builds an empty catalogue.
func NewCatalogue(logger hclog.Logger) *Catalogue {
	return &Catalogue{
		logger:    logger.Named("fallback"),
		fallbacks: make(map[string]*structs.FallbackSchedule),
	}
}

// Put stores or replaces the fallback for its scenario. Replacing an active
// fallback keeps the activation flag and counters.
func (c *Catalogue) Put(fb *structs.FallbackSchedule) error {
	if fb.Scenario == "" {
		return fmt.Errorf("fallback schedule requires a scenario tag")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	nf := fb.Copy()
	if prev, ok := c.fallbacks[fb.Scenario]; ok {
		nf.IsActive = prev.IsActive
		nf.ActivationCount = prev.ActivationCount
		nf.LastActivated = prev.LastActivated
	}
	c.fallbacks[fb.Scenario] = nf
	return nil
}

// Get returns a copy of the fallback for a scenario, or nil.
func (c *Catalogue) Get(scenario string) *structs.FallbackSchedule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fallbacks[scenario].Copy()
}

// List returns copies of every stored fallback in scenario-tag order of the
// canonical list, followed by any custom scenarios.
func (c *Catalogue) List() []*structs.FallbackSchedule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*structs.FallbackSchedule, 0, len(c.fallbacks))
	seen := make(map[string]bool)
	for _, scenario := range structs.FallbackScenarios {
		if fb, ok := c.fallbacks[scenario]; ok {
			out = append(out, fb.Copy())
			seen[scenario] = true
		}
	}
	for scenario, fb := range c.fallbacks {
		if !seen[scenario] {
			out = append(out, fb.Copy())
		}
	}
	return out
}

// Activate flips a fallback active and stamps its counters. Activating an
// expired fallback logs a warning but succeeds; activating an unknown
// scenario fails.
func (c *Catalogue) Activate(scenario string, now time.Time) (*structs.FallbackSchedule, error) {
	defer metrics.MeasureSince([]string{"autosched", "fallback", "activate"}, time.Now())

	c.mu.Lock()
	defer c.mu.Unlock()

	fb, ok := c.fallbacks[scenario]
	if !ok {
		return nil, fmt.Errorf("no fallback schedule for scenario %q", scenario)
	}
	if fb.Expired(now) {
		c.logger.Warn("activating expired fallback schedule",
			"scenario", scenario, "valid_until", fb.ValidUntil)
	}

	t := now.UTC()
	fb.IsActive = true
	fb.ActivationCount++
	fb.LastActivated = &t

	c.logger.Info("fallback schedule activated", "scenario", scenario,
		"coverage_rate", fb.CoverageRate, "activation_count", fb.ActivationCount)
	return fb.Copy(), nil
}

// Deactivate clears the active flag; deactivating an inactive or unknown
// scenario is an error.
func (c *Catalogue) Deactivate(scenario string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fb, ok := c.fallbacks[scenario]
	if !ok {
		return fmt.Errorf("no fallback schedule for scenario %q", scenario)
	}
	if !fb.IsActive {
		return fmt.Errorf("fallback for scenario %q is not active", scenario)
	}
	fb.IsActive = false
	c.logger.Info("fallback schedule deactivated", "scenario", scenario)
	return nil
}

// Active returns copies of the currently active fallbacks.
func (c *Catalogue) Active() []*structs.FallbackSchedule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*structs.FallbackSchedule
	for _, fb := range c.fallbacks {
		if fb.IsActive {
			out = append(out, fb.Copy())
		}
	}
	return out
}
