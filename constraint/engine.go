// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package constraint

import (
	"time"

	log "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/schedcu/autosched/structs"
)

// Validator is one pure, stateless check over a scored period.
type Validator interface {
	Name() string
	Check(vctx *ValidationContext) ([]*structs.Violation, []*structs.Warning)
}

// Engine composes the validators in a fixed, declared order and merges their
// findings. The engine holds no mutable state and is safe for concurrent use
// across candidates.
type Engine struct {
	logger     log.Logger
	validators []Validator
}

// NewEngine constructs the engine with the standard validator order:
// structural integrity, leave blocks, duty hours, supervision.
func NewEngine(logger log.Logger) *Engine {
	return &Engine{
		logger: logger.Named("constraint"),
		validators: []Validator{
			&StructuralValidator{},
			&LeaveValidator{},
			&DutyHourValidator{},
			&SupervisionValidator{},
		},
	}
}

// Check runs every validator and returns the merged violations and warnings.
func (e *Engine) Check(vctx *ValidationContext) ([]*structs.Violation, []*structs.Warning) {
	defer metrics.MeasureSince([]string{"autosched", "constraint", "check"}, time.Now())

	var violations []*structs.Violation
	var warnings []*structs.Warning
	for _, v := range e.validators {
		vs, ws := v.Check(vctx)
		if len(vs) > 0 {
			e.logger.Trace("validator found violations", "validator", v.Name(), "count", len(vs))
		}
		violations = append(violations, vs...)
		warnings = append(warnings, ws...)
	}
	return violations, warnings
}

// Validate runs the pipeline and folds the findings into a scored
// EvaluationResult, including workload-balance metrics.
func (e *Engine) Validate(vctx *ValidationContext) *structs.EvaluationResult {
	violations, warnings := e.Check(vctx)
	result := structs.NewEvaluationResult(violations, warnings, vctx.Expected())
	result.Metrics = structs.ComputeMetrics(Workloads(vctx))
	return result
}
