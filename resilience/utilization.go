// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package resilience watches the scheduling system's safety margins:
// utilization bands with admission-control multipliers, ordered defense
// levels, N-1/N-2 contingency analysis, a precomputed fallback catalogue and
// a metastability detector for the solver trajectory.
package resilience

import "fmt"

// UtilizationLevel is one band of the utilization ladder.
type UtilizationLevel string

const (
	LevelGreen  UtilizationLevel = "green"
	LevelYellow UtilizationLevel = "yellow"
	LevelOrange UtilizationLevel = "orange"
	LevelRed    UtilizationLevel = "red"
	LevelBlack  UtilizationLevel = "black"
)

// Band thresholds in percent. The ladder is fixed; tuning happens through
// capacity, not through the thresholds.
const (
	thresholdYellow = 70.0
	thresholdOrange = 80.0
	thresholdRed    = 90.0
	thresholdBlack  = 95.0
)

// LevelFor classifies a utilization percentage.
func LevelFor(pct float64) UtilizationLevel {
	switch {
	case pct < thresholdYellow:
		return LevelGreen
	case pct < thresholdOrange:
		return LevelYellow
	case pct < thresholdRed:
		return LevelOrange
	case pct < thresholdBlack:
		return LevelRed
	default:
		return LevelBlack
	}
}

// WaitMultiplier returns the admission-control wait-time multiplier for the
// level.
func (l UtilizationLevel) WaitMultiplier() float64 {
	switch l {
	case LevelGreen:
		return 1.0
	case LevelYellow:
		return 1.5
	case LevelOrange:
		return 2.0
	case LevelRed:
		return 3.0
	case LevelBlack:
		return 5.0
	default:
		return 1.0
	}
}

// rank orders levels for comparison; higher is worse.
func (l UtilizationLevel) rank() int {
	switch l {
	case LevelGreen:
		return 0
	case LevelYellow:
		return 1
	case LevelOrange:
		return 2
	case LevelRed:
		return 3
	case LevelBlack:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether the level is as bad or worse than other.
func (l UtilizationLevel) AtLeast(other UtilizationLevel) bool {
	return l.rank() >= other.rank()
}

// UtilizationReport is the monitor's classification of the current load.
type UtilizationReport struct {
	Assignments int     `json:"assignments"`
	SafeMaximum int     `json:"safe_maximum"`
	Utilization float64 `json:"utilization_pct"`

	Level              UtilizationLevel `json:"level"`
	WaitTimeMultiplier float64          `json:"wait_time_multiplier"`
	Recommendations    []string         `json:"recommendations,omitempty"`
}

// MeasureUtilization computes effective utilization and its band. A zero safe
// maximum is degenerate and pins the report to black.
func MeasureUtilization(assignments, safeMaximum int) *UtilizationReport {
	r := &UtilizationReport{
		Assignments: assignments,
		SafeMaximum: safeMaximum,
	}
	if safeMaximum <= 0 {
		r.Utilization = 100
	} else {
		r.Utilization = 100 * float64(assignments) / float64(safeMaximum)
	}
	r.Level = LevelFor(r.Utilization)
	r.WaitTimeMultiplier = r.Level.WaitMultiplier()
	r.Recommendations = recommendationsFor(r.Level)
	return r
}

func recommendationsFor(l UtilizationLevel) []string {
	switch l {
	case LevelGreen:
		return nil
	case LevelYellow:
		return []string{"review upcoming absences", "confirm backup availability"}
	case LevelOrange:
		return []string{"defer elective load", "stage backup personnel"}
	case LevelRed:
		return []string{"restrict new obligations", "prepare fallback activation"}
	case LevelBlack:
		return []string{"activate fallback schedule", "escalate to emergency posture"}
	default:
		return nil
	}
}

// String implements fmt.Stringer for log lines.
func (r *UtilizationReport) String() string {
	return fmt.Sprintf("%.1f%% (%s, x%.1f wait)", r.Utilization, r.Level, r.WaitTimeMultiplier)
}
