// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package structs

import (
	"math"
	"sort"
	"time"
)

// Severity grades a constraint violation.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Weight returns the scoring weight of the severity.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.5
	case SeverityMedium:
		return 0.2
	case SeverityLow:
		return 0.05
	default:
		return 0.05
	}
}

// rank orders severities from most to least severe for sorting.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	default:
		return 3
	}
}

// RuleType names the constraint rule a violation belongs to.
type RuleType string

const (
	RuleEightyHour         RuleType = "80_hour"
	RuleTwentyFourPlusFour RuleType = "24_plus_4"
	RuleTenHourRest        RuleType = "10_hour_rest"
	RuleOneInSeven         RuleType = "1_in_7"
	RuleSupervision        RuleType = "supervision"
	RuleAssignmentBlocked  RuleType = "assignment_during_block"
	RuleRecoveryPeriod     RuleType = "recovery_period"
	RuleDuplicatePrimary   RuleType = "duplicate_primary"
	RuleTemplateCapacity   RuleType = "template_capacity"
	RuleSwapEligibility    RuleType = "swap_eligibility"
)

// Violation is one constraint breach produced by a validator.
type Violation struct {
	Rule     RuleType `json:"rule"`
	Severity Severity `json:"severity"`
	PersonID string   `json:"person_id,omitempty"`
	BlockID  string   `json:"block_id,omitempty"`
	Start    time.Time `json:"start,omitempty"`
	End      time.Time `json:"end,omitempty"`
	Message  string   `json:"message"`

	// OverLimitPct carries the percentage over a numeric limit for rules
	// that have one (e.g. the 80-hour rule).
	OverLimitPct float64 `json:"over_limit_pct,omitempty"`
}

// Critical reports whether the violation invalidates a schedule on its own.
func (v *Violation) Critical() bool {
	return v.Severity == SeverityCritical
}

// WarningLevel grades advisory findings.
type WarningLevel string

const (
	WarnYellow WarningLevel = "yellow"
	WarnOrange WarningLevel = "orange"
	WarnRed    WarningLevel = "red"
)

// Warning is an advisory finding that does not affect validity.
type Warning struct {
	Code     string       `json:"code"`
	Level    WarningLevel `json:"level,omitempty"`
	PersonID string       `json:"person_id,omitempty"`
	Message  string       `json:"message"`
}

// PersonWorkload summarizes one person's load over the scored period.
type PersonWorkload struct {
	PersonID     string  `json:"person_id"`
	TotalHours   float64 `json:"total_hours"`
	CallCount    int     `json:"call_count"`
	WeekendCount int     `json:"weekend_count"`
	SundayCalls  int     `json:"sunday_calls"`
	WeekdayCalls int     `json:"weekday_calls"`
}

// ScheduleMetrics carries the workload-balance summary of an evaluation.
type ScheduleMetrics struct {
	// HoursCV is the coefficient of variation of total hours across
	// persons; lower is more equitable.
	HoursCV float64 `json:"hours_cv"`

	// CallGap is the difference between the highest and lowest call count.
	CallGap int `json:"call_gap"`

	PerPerson map[string]*PersonWorkload `json:"per_person,omitempty"`
}

// maxTopViolations bounds how many violations are carried verbatim on an
// evaluation result.
const maxTopViolations = 10

// EvaluationResult is the scored outcome of validating an assignment set.
type EvaluationResult struct {
	Score float64 `json:"score"`
	Valid bool    `json:"valid"`

	ViolationCounts map[RuleType]int `json:"violation_counts,omitempty"`

	// TopViolations holds the ten most severe violations verbatim.
	TopViolations []*Violation `json:"top_violations,omitempty"`

	TotalViolations    int `json:"total_violations"`
	CriticalViolations int `json:"critical_violations"`
	HighViolations     int `json:"high_violations"`

	Warnings []*Warning       `json:"warnings,omitempty"`
	Metrics  *ScheduleMetrics `json:"metrics,omitempty"`
}

// NewEvaluationResult scores a violation list. The score is a weighted
// deficit clamped to [0,1]: 1 - sum(weight*count)/max(1, expected). Validity
// requires the absence of CRITICAL and HIGH violations.
func NewEvaluationResult(violations []*Violation, warnings []*Warning, expected int) *EvaluationResult {
	r := &EvaluationResult{
		ViolationCounts: make(map[RuleType]int),
		Warnings:        warnings,
	}

	deficit := 0.0
	for _, v := range violations {
		r.ViolationCounts[v.Rule]++
		r.TotalViolations++
		switch v.Severity {
		case SeverityCritical:
			r.CriticalViolations++
		case SeverityHigh:
			r.HighViolations++
		}
		deficit += v.Severity.Weight()
	}

	denom := float64(expected)
	if denom < 1 {
		denom = 1
	}
	r.Score = clamp01(1 - deficit/denom)
	r.Valid = r.CriticalViolations == 0 && r.HighViolations == 0

	// Carry the most severe violations verbatim, ordered by severity and
	// then by how far over the limit they are.
	sorted := append([]*Violation(nil), violations...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Severity.rank() != sorted[j].Severity.rank() {
			return sorted[i].Severity.rank() < sorted[j].Severity.rank()
		}
		return sorted[i].OverLimitPct > sorted[j].OverLimitPct
	})
	if len(sorted) > maxTopViolations {
		sorted = sorted[:maxTopViolations]
	}
	r.TopViolations = sorted

	return r
}

// ComputeMetrics fills the workload-balance metrics from per-person
// workloads.
func ComputeMetrics(workloads map[string]*PersonWorkload) *ScheduleMetrics {
	m := &ScheduleMetrics{PerPerson: workloads}
	if len(workloads) == 0 {
		return m
	}

	var sum, sumSq float64
	minCalls, maxCalls := math.MaxInt, 0
	for _, w := range workloads {
		sum += w.TotalHours
		sumSq += w.TotalHours * w.TotalHours
		if w.CallCount < minCalls {
			minCalls = w.CallCount
		}
		if w.CallCount > maxCalls {
			maxCalls = w.CallCount
		}
	}

	n := float64(len(workloads))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	if mean > 0 {
		m.HoursCV = math.Sqrt(variance) / mean
	}
	m.CallGap = maxCalls - minCalls
	return m
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
