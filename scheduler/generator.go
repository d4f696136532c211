// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package scheduler

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/schedcu/autosched/constraint"
	"github.com/schedcu/autosched/helper/uuid"
	"github.com/schedcu/autosched/structs"
)

// strategyFn is one generation algorithm. Strategies draw randomness only
// from the supplied source, never from the global one.
type strategyFn func(ctx context.Context, p *Problem, params *structs.GeneratorParams, rng *rand.Rand) (*structs.Candidate, error)

// Generator produces candidate schedules through a fixed dispatch table over
// the closed algorithm set. A Generator is safe for concurrent use.
type Generator struct {
	logger     hclog.Logger
	engine     *constraint.Engine
	strategies map[structs.Algorithm]strategyFn
}

// Scored pairs a candidate with its evaluation.
type Scored struct {
	Candidate *structs.Candidate
	Result    *structs.EvaluationResult
}

// NewGenerator builds a generator wired to a constraint engine for scoring.
func NewGenerator(logger hclog.Logger, engine *constraint.Engine) *Generator {
	g := &Generator{
		logger: logger.Named("generator"),
		engine: engine,
	}
	g.strategies = map[structs.Algorithm]strategyFn{
		structs.AlgorithmGreedy: g.greedy,
		structs.AlgorithmCP:     g.constraintSearch,
		structs.AlgorithmMILP:   g.improvementSearch,
		structs.AlgorithmHybrid: g.hybrid,
	}
	return g
}

// GenerateSingle runs one attempt with the given params, evaluates it, and
// returns both. When the chosen strategy fails or times out, the greedy
// strategy is retried within the remaining budget before giving up.
func (g *Generator) GenerateSingle(ctx context.Context, p *Problem, params *structs.GeneratorParams) (*Scored, error) {
	defer metrics.MeasureSince([]string{"autosched", "generator", "single"}, time.Now())

	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !params.Algorithm.Valid() {
		return nil, fmt.Errorf("unknown algorithm %q", params.Algorithm)
	}

	deadline := time.Now().Add(params.Timeout())
	attempt, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	cand, err := g.run(attempt, p, params)
	if err != nil && params.Algorithm != structs.AlgorithmGreedy && ctx.Err() == nil {
		remaining := time.Until(deadline)
		if remaining > 0 {
			g.logger.Warn("strategy failed, falling back to greedy",
				"algorithm", params.Algorithm, "error", err, "remaining", remaining)
			metrics.IncrCounter([]string{"autosched", "generator", "fallback"}, 1)

			fb := params.Copy()
			fb.Algorithm = structs.AlgorithmGreedy
			fb.TimeoutSeconds = remaining.Seconds()
			cand, err = g.run(attempt, p, fb)
		}
	}
	if err != nil {
		return nil, err
	}

	result := g.engine.Validate(p.Context(cand.Assignments))
	g.logger.Debug("candidate evaluated", "algorithm", cand.Algorithm,
		"score", result.Score, "valid", result.Valid, "assignments", len(cand.Assignments))
	return &Scored{Candidate: cand, Result: result}, nil
}

func (g *Generator) run(ctx context.Context, p *Problem, params *structs.GeneratorParams) (*structs.Candidate, error) {
	strategy := g.strategies[params.Algorithm]
	rng := rand.New(rand.NewSource(params.Seed))

	begin := time.Now()
	cand, err := strategy(ctx, p, params, rng)
	if err != nil {
		return nil, fmt.Errorf("%s generation failed: %w", params.Algorithm, err)
	}
	cand.ID = uuid.Generate()
	cand.Algorithm = params.Algorithm
	cand.Params = params.Copy()
	cand.Stats.Runtime = time.Since(begin)
	return cand, nil
}

// GenerateK produces k candidates and evaluates them on a bounded worker
// pool. For k > 1, attempts cycle through the algorithm preference list and
// bump the seed on each full cycle; k = 1 is a single attempt at the
// requested algorithm. Failed attempts are collected; the call errors only
// when every attempt failed.
func (g *Generator) GenerateK(ctx context.Context, p *Problem, params *structs.GeneratorParams, k int) ([]*Scored, error) {
	defer metrics.MeasureSince([]string{"autosched", "generator", "batch"}, time.Now())

	if k < 1 {
		return nil, fmt.Errorf("candidate count must be positive, got %d", k)
	}

	workers := k
	if max := runtime.GOMAXPROCS(0); workers > max {
		workers = max
	}

	type slot struct {
		idx    int
		scored *Scored
		err    error
	}

	jobs := make(chan int)
	results := make(chan slot, k)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				sp := params.Copy()
				if k > 1 {
					prefs := structs.Algorithms
					sp.Algorithm = prefs[i%len(prefs)]
					sp.Seed = params.Seed + int64(i/len(prefs))
				}
				scored, err := g.GenerateSingle(ctx, p, sp)
				results <- slot{idx: i, scored: scored, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < k; i++ {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() { wg.Wait(); close(results) }()

	out := make([]*Scored, 0, k)
	var mErr *multierror.Error
	for s := range results {
		if s.err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("candidate %d: %w", s.idx, s.err))
			continue
		}
		out = append(out, s.scored)
	}
	if len(out) == 0 {
		return nil, mErr.ErrorOrNil()
	}
	if mErr != nil {
		g.logger.Warn("partial candidate batch", "requested", k, "produced", len(out),
			"errors", mErr.Len())
	}
	return out, nil
}

// GenerateWithRestart splits the budget across n independent attempts with
// seeds seed, seed+1, ..., seed+n-1 and keeps the best-scoring candidate.
func (g *Generator) GenerateWithRestart(ctx context.Context, p *Problem, params *structs.GeneratorParams, n int) (*Scored, error) {
	if n < 1 {
		return nil, fmt.Errorf("restart count must be positive, got %d", n)
	}

	perAttempt := params.TimeoutSeconds / float64(n)

	var best *Scored
	var mErr *multierror.Error
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		sp := params.Copy()
		sp.Seed = params.Seed + int64(i)
		sp.TimeoutSeconds = perAttempt

		scored, err := g.GenerateSingle(ctx, p, sp)
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("restart %d: %w", i, err))
			continue
		}
		scored.Candidate.Stats.Restarts = i
		if best == nil || scored.Result.Score > best.Result.Score {
			best = scored
		}
	}
	if best == nil {
		if err := mErr.ErrorOrNil(); err != nil {
			return nil, err
		}
		return nil, ctx.Err()
	}
	return best, nil
}

// GenerateWithPerturbation takes a base schedule and produces a neighbor by
// applying ceil(rate * len(assignments)) random primary moves, each either a
// person substitution or a block substitution, then re-evaluating. Hard
// construction rules are respected per move; moves with no legal alternative
// are skipped.
func (g *Generator) GenerateWithPerturbation(ctx context.Context, p *Problem, base []*structs.Assignment, params *structs.GeneratorParams, rate float64) (*Scored, error) {
	if rate <= 0 || rate > 1 {
		return nil, fmt.Errorf("perturbation rate must be in (0, 1], got %f", rate)
	}
	if len(base) == 0 {
		return nil, fmt.Errorf("perturbation requires a base schedule")
	}

	rng := rand.New(rand.NewSource(params.Seed))
	assignments := structs.CopyAssignments(base)

	primaries := make([]int, 0, len(assignments))
	for i, a := range assignments {
		if a.Role == structs.RolePrimary {
			primaries = append(primaries, i)
		}
	}
	moves := int(math.Ceil(rate * float64(len(assignments))))
	if moves > len(primaries) {
		moves = len(primaries)
	}

	residents := p.residents()
	blockIDs := make([]string, 0, len(p.Blocks))
	for id := range p.Blocks {
		blockIDs = append(blockIDs, id)
	}
	sort.Strings(blockIDs)

	applied := 0
	for _, idx := range rng.Perm(len(primaries)) {
		if applied >= moves {
			break
		}
		a := assignments[primaries[idx]]
		if rng.Float64() < 0.5 {
			if g.movePerson(p, assignments, a, residents, rng) {
				applied++
			}
		} else {
			if g.moveBlock(p, assignments, a, blockIDs, rng) {
				applied++
			}
		}
	}

	cand := &structs.Candidate{
		ID:          uuid.Generate(),
		Algorithm:   params.Algorithm,
		Params:      params.Copy(),
		Assignments: assignments,
		Feasible:    true,
	}
	result := g.engine.Validate(p.Context(assignments))
	g.logger.Debug("perturbed candidate", "moves", applied, "score", result.Score)
	return &Scored{Candidate: cand, Result: result}, nil
}

// movePerson reassigns a primary slot to a different eligible resident.
func (g *Generator) movePerson(p *Problem, assignments []*structs.Assignment, a *structs.Assignment, residents []string, rng *rand.Rand) bool {
	block := p.Blocks[a.BlockID]
	if block == nil {
		return false
	}
	for _, off := range rng.Perm(len(residents)) {
		pid := residents[off]
		if pid == a.PersonID || p.unavailable(pid, block.Date) {
			continue
		}
		if hasPrimary(assignments, a.BlockID, pid) {
			continue
		}
		a.PersonID = pid
		return true
	}
	return false
}

// moveBlock moves a primary slot to a different block on the same template.
func (g *Generator) moveBlock(p *Problem, assignments []*structs.Assignment, a *structs.Assignment, blockIDs []string, rng *rand.Rand) bool {
	for _, off := range rng.Perm(len(blockIDs)) {
		bid := blockIDs[off]
		if bid == a.BlockID {
			continue
		}
		block := p.Blocks[bid]
		if p.unavailable(a.PersonID, block.Date) {
			continue
		}
		if hasPrimary(assignments, bid, a.PersonID) {
			continue
		}
		a.BlockID = bid
		a.Date = structs.Midnight(block.Date)
		return true
	}
	return false
}

func hasPrimary(assignments []*structs.Assignment, blockID, personID string) bool {
	for _, a := range assignments {
		if a.BlockID == blockID && a.PersonID == personID && a.Role == structs.RolePrimary {
			return true
		}
	}
	return false
}
