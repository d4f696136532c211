// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package structs

import (
	"time"
)

// Fallback scenario tags. The catalogue is keyed by these; activation is a
// constant-time lookup.
const (
	FallbackSingleLoss        = "single-loss"
	FallbackDoubleLoss        = "double-loss"
	FallbackPCSSeason         = "pcs-season-50"
	FallbackHolidaySkeleton   = "holiday-skeleton"
	FallbackPandemicEssential = "pandemic-essential"
	FallbackMassCasualty      = "mass-casualty"
	FallbackWeatherEmergency  = "weather-emergency"
)

// FallbackScenarios lists every precomputed scenario tag.
var FallbackScenarios = []string{
	FallbackSingleLoss,
	FallbackDoubleLoss,
	FallbackPCSSeason,
	FallbackHolidaySkeleton,
	FallbackPandemicEssential,
	FallbackMassCasualty,
	FallbackWeatherEmergency,
}

// FallbackSchedule is a precomputed assignment set for a crisis scenario.
// Activation never generates anything; the schedule is owned data.
type FallbackSchedule struct {
	ID       string `json:"id"`
	Scenario string `json:"scenario"`

	// ValidFrom/ValidUntil bound the advisory validity range. Activating an
	// expired fallback warns but does not fail.
	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`

	Assignments []*Assignment `json:"assignments"`

	// Assumptions states the staffing assumptions the schedule was computed
	// under.
	Assumptions []string `json:"assumptions,omitempty"`

	// ServicesReduced lists services shed under this scenario.
	ServicesReduced []string `json:"services_reduced,omitempty"`

	// CoverageRate is the fraction of normal coverage retained.
	CoverageRate float64 `json:"coverage_rate"`

	IsActive        bool       `json:"is_active"`
	ActivationCount int        `json:"activation_count"`
	LastActivated   *time.Time `json:"last_activated,omitempty"`
}

// Expired reports whether now falls outside the advisory validity range.
func (f *FallbackSchedule) Expired(now time.Time) bool {
	n := now.UTC()
	return n.Before(f.ValidFrom) || n.After(f.ValidUntil)
}

// Copy returns a deep copy of the fallback schedule.
func (f *FallbackSchedule) Copy() *FallbackSchedule {
	if f == nil {
		return nil
	}
	nf := *f
	nf.Assignments = CopyAssignments(f.Assignments)
	nf.Assumptions = append([]string(nil), f.Assumptions...)
	nf.ServicesReduced = append([]string(nil), f.ServicesReduced...)
	nf.LastActivated = copyTime(f.LastActivated)
	return &nf
}
