// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package structs

import (
	"fmt"
	"time"
)

// Algorithm names a candidate generation strategy. The set is closed; the
// generator dispatches through a table keyed by these values and rejects
// anything else at construction time.
type Algorithm string

const (
	AlgorithmGreedy Algorithm = "greedy"
	AlgorithmCP     Algorithm = "cp"
	AlgorithmMILP   Algorithm = "milp"
	AlgorithmHybrid Algorithm = "hybrid"
)

// Algorithms is the default preference order.
var Algorithms = []Algorithm{AlgorithmCP, AlgorithmMILP, AlgorithmHybrid, AlgorithmGreedy}

// Valid reports whether the algorithm is a member of the closed set.
func (a Algorithm) Valid() bool {
	switch a {
	case AlgorithmGreedy, AlgorithmCP, AlgorithmMILP, AlgorithmHybrid:
		return true
	default:
		return false
	}
}

// ConstraintWeights tune the soft-constraint pressure individual strategies
// apply while searching. Hard constraints are always enforced by the
// evaluator regardless of these weights.
type ConstraintWeights struct {
	Equity      float64 `json:"equity"`
	Continuity  float64 `json:"continuity"`
	Preference  float64 `json:"preference"`
	WeekendLoad float64 `json:"weekend_load"`
}

// DefaultConstraintWeights returns the standard weight set.
func DefaultConstraintWeights() ConstraintWeights {
	return ConstraintWeights{
		Equity:      1.0,
		Continuity:  0.5,
		Preference:  0.3,
		WeekendLoad: 0.7,
	}
}

// GeneratorParams is the full parameterization of one generation attempt.
type GeneratorParams struct {
	Algorithm      Algorithm         `json:"algorithm"`
	TimeoutSeconds float64           `json:"timeout_seconds"`
	Seed           int64             `json:"seed"`
	Weights        ConstraintWeights `json:"weights"`

	// GreedyRandomness widens the greedy candidate pool; 0 is fully
	// deterministic, 1 picks uniformly among all eligible persons.
	GreedyRandomness float64 `json:"greedy_randomness,omitempty"`

	// CPMaxBacktracks bounds the constraint-programming search.
	CPMaxBacktracks int `json:"cp_max_backtracks,omitempty"`

	// MILPImprovementPasses bounds the local-improvement phase of the MILP
	// strategy.
	MILPImprovementPasses int `json:"milp_improvement_passes,omitempty"`
}

// DefaultGeneratorParams returns the first-iteration parameter set.
func DefaultGeneratorParams() *GeneratorParams {
	return &GeneratorParams{
		Algorithm:             Algorithms[0],
		TimeoutSeconds:        30,
		Seed:                  1,
		Weights:               DefaultConstraintWeights(),
		GreedyRandomness:      0.2,
		CPMaxBacktracks:       50000,
		MILPImprovementPasses: 200,
	}
}

// Copy returns a deep copy of the params.
func (p *GeneratorParams) Copy() *GeneratorParams {
	if p == nil {
		return nil
	}
	np := *p
	return &np
}

// Timeout returns the per-attempt timeout as a duration.
func (p *GeneratorParams) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds * float64(time.Second))
}

// SolverStats carries per-attempt search statistics.
type SolverStats struct {
	Branches     int           `json:"branches,omitempty"`
	Backtracks   int           `json:"backtracks,omitempty"`
	Improvements int           `json:"improvements,omitempty"`
	Restarts     int           `json:"restarts,omitempty"`
	Runtime      time.Duration `json:"runtime"`
}

// Candidate is one generated schedule attempt. It is ephemeral until the
// controller promotes it to schedule.json.
type Candidate struct {
	ID         string           `json:"id"`
	Algorithm  Algorithm        `json:"algorithm"`
	Params     *GeneratorParams `json:"params"`
	Assignments []*Assignment   `json:"assignments"`
	Stats      SolverStats      `json:"stats"`

	// Feasible means construction completed; it does not mean the result is
	// constraint-clean.
	Feasible bool `json:"feasible"`

	Objective float64 `json:"objective"`
}

// Copy returns a deep copy of the candidate.
func (c *Candidate) Copy() *Candidate {
	if c == nil {
		return nil
	}
	nc := *c
	nc.Params = c.Params.Copy()
	nc.Assignments = CopyAssignments(c.Assignments)
	return &nc
}

// RunStatus is the state machine of an autonomous run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusExhausted RunStatus = "exhausted"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status admits no further iterations.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusExhausted, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// Stop reasons reported by ShouldStop.
const (
	StopReasonTarget     = "target_reached"
	StopReasonStagnation = "stagnation_limit"
	StopReasonMaxIter    = "max_iterations"
)

// RunState is the persisted state of one autonomous run. The run exclusively
// owns its state, history and artifacts.
type RunState struct {
	ID       string `json:"id"`
	Scenario string `json:"scenario"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CurrentIteration int       `json:"current_iteration"`
	MaxIterations    int       `json:"max_iterations"`
	Status           RunStatus `json:"status"`

	BestScore     float64          `json:"best_score"`
	BestIteration int              `json:"best_iteration"`
	BestParams    *GeneratorParams `json:"best_params,omitempty"`

	TargetScore                float64 `json:"target_score"`
	StagnationLimit            int     `json:"stagnation_limit"`
	IterationsSinceImprovement int     `json:"iterations_since_improvement"`

	Seed          int64            `json:"seed"`
	CurrentParams *GeneratorParams `json:"current_params,omitempty"`

	// ConsecutiveErrors counts back-to-back iteration exceptions; three in
	// a row fail the run.
	ConsecutiveErrors int `json:"consecutive_errors"`
}

// NewRunState constructs a fresh running state.
func NewRunState(id, scenario string, start, end time.Time, target float64, maxIter, stagnation int, seed int64) *RunState {
	now := time.Now().UTC()
	return &RunState{
		ID:              id,
		Scenario:        scenario,
		Start:           start,
		End:             end,
		CreatedAt:       now,
		UpdatedAt:       now,
		MaxIterations:   maxIter,
		Status:          RunStatusRunning,
		TargetScore:     target,
		StagnationLimit: stagnation,
		Seed:            seed,
	}
}

// Copy returns a deep copy of the run state.
func (r *RunState) Copy() *RunState {
	if r == nil {
		return nil
	}
	nr := *r
	nr.BestParams = r.BestParams.Copy()
	nr.CurrentParams = r.CurrentParams.Copy()
	return &nr
}

// UpdateWithResult folds one evaluated iteration into the run state and
// reports whether it improved on the best score. Best score is monotonically
// non-decreasing.
func (r *RunState) UpdateWithResult(iteration int, score float64, params *GeneratorParams) bool {
	r.CurrentIteration = iteration
	r.UpdatedAt = time.Now().UTC()
	r.CurrentParams = params.Copy()

	if score > r.BestScore {
		r.BestScore = score
		r.BestIteration = iteration
		r.BestParams = params.Copy()
		r.IterationsSinceImprovement = 0
		return true
	}
	r.IterationsSinceImprovement++
	return false
}

// ShouldStop applies the stopping rules in priority order. Reaching the
// target always wins, regardless of stagnation or iteration counters.
func (r *RunState) ShouldStop() (bool, string) {
	if r.BestScore >= r.TargetScore {
		return true, StopReasonTarget
	}
	if r.StagnationLimit > 0 && r.IterationsSinceImprovement >= r.StagnationLimit {
		return true, StopReasonStagnation
	}
	if r.MaxIterations > 0 && r.CurrentIteration >= r.MaxIterations {
		return true, StopReasonMaxIter
	}
	return false, ""
}

// Finalize transitions the run to its terminal status for the given stop
// reason.
func (r *RunState) Finalize(reason string) {
	switch reason {
	case StopReasonTarget:
		r.Status = RunStatusCompleted
	case StopReasonStagnation, StopReasonMaxIter:
		r.Status = RunStatusExhausted
	default:
		r.Status = RunStatusFailed
	}
	r.UpdatedAt = time.Now().UTC()
}

// IterationRecord is one line of a run's append-only history.
type IterationRecord struct {
	Iteration          int              `json:"iteration"`
	Timestamp          time.Time        `json:"timestamp"`
	Params             *GeneratorParams `json:"params,omitempty"`
	Score              float64          `json:"score"`
	Valid              bool             `json:"valid"`
	CriticalViolations int              `json:"critical_violations"`
	TotalViolations    int              `json:"total_violations"`
	ViolationTypes     map[RuleType]int `json:"violation_types,omitempty"`
	DurationMS         int64            `json:"duration_ms"`
	Notes              string           `json:"notes,omitempty"`
}

// Validate sanity checks a record before it is appended.
func (rec *IterationRecord) Validate() error {
	if rec.Iteration < 1 {
		return fmt.Errorf("iteration records are 1-based, got %d", rec.Iteration)
	}
	return nil
}
