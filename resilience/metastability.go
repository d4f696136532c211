// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package resilience

import (
	"math"

	"github.com/hashicorp/go-hclog"
)

// EscapeStrategy is the detector's recommendation for leaving a metastable
// region of the search.
type EscapeStrategy string

const (
	ContinueSearch      EscapeStrategy = "CONTINUE_SEARCH"
	IncreaseTemperature EscapeStrategy = "INCREASE_TEMPERATURE"
	RestartNewSeed      EscapeStrategy = "RESTART_NEW_SEED"
	BasinHopping        EscapeStrategy = "BASIN_HOPPING"
	AcceptLocalOptimum  EscapeStrategy = "ACCEPT_LOCAL_OPTIMUM"
)

// TrajectoryPoint is one solver state in the run trajectory.
type TrajectoryPoint struct {
	Iteration  int     `json:"iteration"`
	Objective  float64 `json:"objective"`
	Violations int     `json:"violations"`
}

// Advice is the detector's classification of the current trajectory.
type Advice struct {
	Strategy   EscapeStrategy `json:"strategy"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
}

// DetectorConfig tunes plateau and stagnation detection.
type DetectorConfig struct {
	// PlateauWindow is the number of trailing points inspected for relative
	// change.
	PlateauWindow int

	// PlateauThreshold is the relative objective change below which the
	// window counts as flat.
	PlateauThreshold float64

	// MinStagnation is the minimum iterations-since-improvement before any
	// escape is recommended.
	MinStagnation int

	// AcceptableScore is the objective at which a plateaued search is worth
	// keeping instead of escaping.
	AcceptableScore float64
}

// DefaultDetectorConfig returns the standard tuning.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		PlateauWindow:    20,
		PlateauThreshold: 0.001,
		MinStagnation:    10,
		AcceptableScore:  0.90,
	}
}

// Detector classifies solver trajectories into escape strategies.
type Detector struct {
	logger hclog.Logger
	config DetectorConfig
}

// NewDetector builds a detector; zero config fields fall back to defaults.
func NewDetector(logger hclog.Logger, config DetectorConfig) *Detector {
	def := DefaultDetectorConfig()
	if config.PlateauWindow <= 0 {
		config.PlateauWindow = def.PlateauWindow
	}
	if config.PlateauThreshold <= 0 {
		config.PlateauThreshold = def.PlateauThreshold
	}
	if config.MinStagnation <= 0 {
		config.MinStagnation = def.MinStagnation
	}
	if config.AcceptableScore <= 0 {
		config.AcceptableScore = def.AcceptableScore
	}
	return &Detector{logger: logger.Named("metastability"), config: config}
}

// Detect inspects the trajectory and the stagnation counter and recommends
// an escape strategy with a confidence score. Escalation grows with how long
// the search has been stuck relative to MinStagnation.
func (d *Detector) Detect(trajectory []*TrajectoryPoint, sinceImprovement int) *Advice {
	if sinceImprovement < d.config.MinStagnation {
		return &Advice{
			Strategy:   ContinueSearch,
			Confidence: 1,
			Reason:     "stagnation below threshold",
		}
	}

	plateau := d.plateaued(trajectory)
	if !plateau {
		return &Advice{
			Strategy:   ContinueSearch,
			Confidence: 0.6,
			Reason:     "objective still moving inside window",
		}
	}

	best := 0.0
	for _, p := range trajectory {
		if p.Objective > best {
			best = p.Objective
		}
	}

	// Stuck on a good score: keep it.
	if best >= d.config.AcceptableScore {
		return &Advice{
			Strategy:   AcceptLocalOptimum,
			Confidence: confidence(sinceImprovement, d.config.MinStagnation),
			Reason:     "plateaued at an acceptable objective",
		}
	}

	// Escalate with stagnation depth: widen the search, then restart, then
	// hop basins.
	ratio := float64(sinceImprovement) / float64(d.config.MinStagnation)
	advice := &Advice{Confidence: confidence(sinceImprovement, d.config.MinStagnation)}
	switch {
	case ratio < 2:
		advice.Strategy = IncreaseTemperature
		advice.Reason = "shallow plateau, widen local search"
	case ratio < 4:
		advice.Strategy = RestartNewSeed
		advice.Reason = "persistent plateau, restart from a new seed"
	default:
		advice.Strategy = BasinHopping
		advice.Reason = "deep stagnation, perturb into a new basin"
	}

	d.logger.Debug("metastability detected", "strategy", advice.Strategy,
		"since_improvement", sinceImprovement, "best", best)
	return advice
}

// plateaued reports whether the trailing window shows relative change below
// the threshold. Short trajectories never count as plateaued.
func (d *Detector) plateaued(trajectory []*TrajectoryPoint) bool {
	if len(trajectory) < d.config.PlateauWindow {
		return false
	}
	window := trajectory[len(trajectory)-d.config.PlateauWindow:]

	lo, hi := window[0].Objective, window[0].Objective
	for _, p := range window[1:] {
		lo = math.Min(lo, p.Objective)
		hi = math.Max(hi, p.Objective)
	}
	base := math.Max(math.Abs(hi), 1e-9)
	return (hi-lo)/base < d.config.PlateauThreshold
}

// confidence grows asymptotically toward 1 with stagnation depth.
func confidence(sinceImprovement, minStagnation int) float64 {
	ratio := float64(sinceImprovement) / float64(minStagnation)
	return math.Min(0.5+0.1*ratio, 0.99)
}
