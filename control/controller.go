// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package control

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/schedcu/autosched/resilience"
	"github.com/schedcu/autosched/scheduler"
	"github.com/schedcu/autosched/structs"
)

const (
	// diversifyEvery restarts with a new seed whenever the stagnation
	// counter hits a multiple of this.
	diversifyEvery = 5

	// seedJump separates diversified seed lines far enough that consecutive
	// increments never collide.
	seedJump = 9973

	// defaultConsultEvery is how often the metastability detector is asked
	// for advice.
	defaultConsultEvery = 50

	// maxConsecutiveErrors fails the run when reached.
	maxConsecutiveErrors = 3
)

// Config parameterizes one autonomous run.
type Config struct {
	Scenario string
	Start    time.Time
	End      time.Time

	TargetScore     float64
	MaxIterations   int
	StagnationLimit int
	Seed            int64

	// ConsultEvery overrides the metastability consultation interval.
	ConsultEvery int
}

// Controller owns the iteration loop of autonomous runs. One controller may
// drive many runs; each Run call is a single-goroutine cooperative loop over
// its own run directory.
type Controller struct {
	logger    hclog.Logger
	generator *scheduler.Generator
	store     *Store
	detector  *resilience.Detector
	notifier  Notifier
}

// NewController wires the loop to its collaborators.
func NewController(logger hclog.Logger, gen *scheduler.Generator, store *Store, detector *resilience.Detector) *Controller {
	return &Controller{
		logger:    logger.Named("controller"),
		generator: gen,
		store:     store,
		detector:  detector,
	}
}

// WithNotifier registers a lifecycle event receiver and returns the
// controller for chaining.
func (c *Controller) WithNotifier(n Notifier) *Controller {
	c.notifier = n
	return c
}

// Run creates a fresh run for the config and drives it to a terminal status.
func (c *Controller) Run(ctx context.Context, config *Config, problem *scheduler.Problem) (*structs.RunState, error) {
	state := structs.NewRunState("", config.Scenario, config.Start, config.End,
		config.TargetScore, config.MaxIterations, config.StagnationLimit, config.Seed)

	run, err := c.store.Create(state)
	if err != nil {
		return nil, err
	}
	defer run.Close()

	return c.loop(ctx, run, problem, config.consultEvery())
}

// Resume reopens an interrupted run and continues its loop.
func (c *Controller) Resume(ctx context.Context, runID string, problem *scheduler.Problem) (*structs.RunState, error) {
	run, err := c.store.Resume(runID)
	if err != nil {
		return nil, err
	}
	defer run.Close()

	return c.loop(ctx, run, problem, defaultConsultEvery)
}

func (config *Config) consultEvery() int {
	if config.ConsultEvery > 0 {
		return config.ConsultEvery
	}
	return defaultConsultEvery
}

// loop is the iteration driver: select params, generate, evaluate, persist,
// decide. It is sequential within an iteration.
func (c *Controller) loop(ctx context.Context, run *Run, problem *scheduler.Problem, consultEvery int) (*structs.RunState, error) {
	state := run.State()
	logger := c.logger.With("run_id", state.ID)
	runLog := run.Logger()

	var trajectory []*resilience.TrajectoryPoint
	var advice *resilience.Advice

	for {
		if ctx.Err() != nil {
			state.Status = structs.RunStatusCancelled
			state.UpdatedAt = time.Now().UTC()
			if err := run.SaveState(state); err != nil {
				return state, err
			}
			logger.Info("run cancelled", "iteration", state.CurrentIteration)
			runLog.Info("run cancelled")
			return state, nil
		}

		iteration := state.CurrentIteration + 1
		params := c.nextParams(state, advice)
		advice = nil

		begin := time.Now()
		scored, genErr := c.generator.GenerateSingle(ctx, problem, params)
		elapsed := time.Since(begin)

		rec := &structs.IterationRecord{
			Iteration:  iteration,
			Timestamp:  time.Now().UTC(),
			Params:     params,
			DurationMS: elapsed.Milliseconds(),
		}

		if genErr != nil {
			// A null generation is recorded, not raised; the loop picks new
			// params next time around. Three in a row give up.
			rec.Score = 0
			rec.Valid = false
			rec.Notes = "generator_null"
			state.ConsecutiveErrors++
			logger.Warn("iteration produced no candidate", "iteration", iteration,
				"error", genErr, "consecutive", state.ConsecutiveErrors)
			runLog.Warn("generator returned nothing", "iteration", iteration, "error", genErr)
			metrics.IncrCounter([]string{"autosched", "controller", "null_iteration"}, 1)
		} else {
			state.ConsecutiveErrors = 0
			rec.Score = scored.Result.Score
			rec.Valid = scored.Result.Valid
			rec.CriticalViolations = scored.Result.CriticalViolations
			rec.TotalViolations = scored.Result.TotalViolations
			rec.ViolationTypes = scored.Result.ViolationCounts
		}

		if err := run.AppendHistory(rec); err != nil {
			return c.fail(run, state, err)
		}

		improved := state.UpdateWithResult(iteration, rec.Score, params)
		if improved && genErr == nil {
			if err := run.SaveSchedule(scored.Candidate); err != nil {
				return c.fail(run, state, err)
			}
			if err := run.SaveReport(scored.Result); err != nil {
				return c.fail(run, state, err)
			}
			logger.Info("new best schedule", "iteration", iteration,
				"score", rec.Score, "valid", rec.Valid)
			runLog.Info("new best", "iteration", iteration, "score", rec.Score)
			c.emit(&Event{Type: EventNewBest, RunID: state.ID, Scenario: state.Scenario,
				Iteration: iteration, Score: rec.Score})
		}

		trajectory = append(trajectory, &resilience.TrajectoryPoint{
			Iteration:  iteration,
			Objective:  rec.Score,
			Violations: rec.TotalViolations,
		})
		if c.detector != nil && iteration%consultEvery == 0 {
			advice = c.detector.Detect(trajectory, state.IterationsSinceImprovement)
			runLog.Debug("metastability consulted", "strategy", advice.Strategy,
				"confidence", advice.Confidence)
		}

		if state.ConsecutiveErrors >= maxConsecutiveErrors {
			state.Status = structs.RunStatusFailed
			state.UpdatedAt = time.Now().UTC()
			if err := run.SaveState(state); err != nil {
				return state, err
			}
			logger.Error("run failed after consecutive errors",
				"iteration", iteration, "errors", state.ConsecutiveErrors)
			runLog.Error("run failed", "consecutive_errors", state.ConsecutiveErrors)
			c.emit(&Event{Type: EventRunFailed, RunID: state.ID, Scenario: state.Scenario,
				Iteration: iteration, Status: state.Status})
			return state, nil
		}

		if err := run.SaveState(state); err != nil {
			return c.fail(run, state, err)
		}

		if stop, reason := state.ShouldStop(); stop {
			state.Finalize(reason)
			if err := run.SaveState(state); err != nil {
				return state, err
			}
			logger.Info("run finished", "status", state.Status, "reason", reason,
				"best_score", state.BestScore, "best_iteration", state.BestIteration,
				"iterations", state.CurrentIteration)
			runLog.Info("run finished", "status", state.Status, "reason", reason)
			c.emit(&Event{Type: EventRunFinished, RunID: state.ID, Scenario: state.Scenario,
				Iteration: state.CurrentIteration, Score: state.BestScore, Status: state.Status})
			return state, nil
		}
	}
}

// fail persists a failed terminal state and surfaces the causing error.
func (c *Controller) fail(run *Run, state *structs.RunState, err error) (*structs.RunState, error) {
	state.Status = structs.RunStatusFailed
	state.UpdatedAt = time.Now().UTC()
	if serr := run.SaveState(state); serr != nil {
		c.logger.Error("failed to persist failed run state", "error", serr)
	}
	return state, err
}

// nextParams applies the parameter-selection policy: defaults first, then
// incremented seeds, a fresh seed line every fifth stagnant iteration, and
// resilience advice folded in when present.
func (c *Controller) nextParams(state *structs.RunState, advice *resilience.Advice) *structs.GeneratorParams {
	if state.CurrentParams == nil {
		params := structs.DefaultGeneratorParams()
		params.Seed = state.Seed
		return params
	}

	params := state.CurrentParams.Copy()
	params.Seed++

	if state.IterationsSinceImprovement > 0 &&
		state.IterationsSinceImprovement%diversifyEvery == 0 {
		params.Seed += seedJump
	}

	if advice != nil {
		switch advice.Strategy {
		case resilience.IncreaseTemperature:
			params.GreedyRandomness = minFloat(1, params.GreedyRandomness+0.2)
		case resilience.RestartNewSeed:
			params.Seed += seedJump * int64(state.CurrentIteration+1)
		case resilience.BasinHopping:
			params.Seed += seedJump * int64(state.CurrentIteration+1)
			params.GreedyRandomness = minFloat(1, params.GreedyRandomness+0.4)
		}
	}
	return params
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
