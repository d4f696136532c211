// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package scheduler

import (
	"context"
	"math/rand"
	"sort"

	"github.com/schedcu/autosched/structs"
)

// constraintSearch is a bounded depth-first search with chronological
// ordering and penalty-guided value selection. Each demand slot is a decision
// variable; domains are the eligible residents at decision time. The search
// backtracks when a slot's domain is empty and gives up on a subtree after
// CPMaxBacktracks, keeping the deepest assignment found so far.
func (g *Generator) constraintSearch(ctx context.Context, p *Problem, params *structs.GeneratorParams, rng *rand.Rand) (*structs.Candidate, error) {
	state := newBuildState(p)
	search := &cpSearch{
		gen:       g,
		state:     state,
		residents: p.residents(),
		params:    params,
		rng:       rng,
		maxBacktracks: params.CPMaxBacktracks,
	}

	slots := expandSlots(p.sortedDemands())
	complete := search.solve(ctx, slots, 0)
	if err := ctx.Err(); err != nil && len(state.assignments) == 0 {
		return nil, err
	}

	state.supervise()
	return &structs.Candidate{
		Assignments: state.assignments,
		Feasible:    complete,
		Stats: structs.SolverStats{
			Branches:   search.branches,
			Backtracks: search.backtracks,
		},
	}, nil
}

// expandSlots flattens demands into one entry per required seat.
func expandSlots(demands []*Demand) []*Demand {
	out := make([]*Demand, 0, len(demands))
	for _, d := range demands {
		for n := 0; n < d.Required; n++ {
			out = append(out, d)
		}
	}
	return out
}

type cpSearch struct {
	gen       *Generator
	state     *buildState
	residents []string
	params    *structs.GeneratorParams
	rng       *rand.Rand

	branches      int
	backtracks    int
	maxBacktracks int
}

// solve returns true when every slot from depth onward was filled. Budget
// exhaustion stops backtracking but keeps what has been placed: a partial
// schedule scores better than none.
func (s *cpSearch) solve(ctx context.Context, slots []*Demand, depth int) bool {
	if depth == len(slots) {
		return true
	}
	if ctx.Err() != nil || s.backtracks >= s.maxBacktracks {
		return false
	}

	demand := slots[depth]
	for _, pid := range s.orderedDomain(demand) {
		s.branches++
		s.state.place(demand, pid, structs.RolePrimary)
		if s.solve(ctx, slots, depth+1) {
			return true
		}
		if ctx.Err() != nil || s.backtracks >= s.maxBacktracks {
			// Out of budget below: keep the placement rather than unwind.
			return false
		}
		s.state.unplace(demand, pid)
		s.backtracks++
	}

	// Empty or exhausted domain: skip the slot so that deeper slots still
	// get a chance within budget.
	return s.solve(ctx, slots, depth+1)
}

// orderedDomain returns eligible residents cheapest-first, with a small
// random tie shuffle so that different seeds explore different subtrees.
func (s *cpSearch) orderedDomain(demand *Demand) []string {
	type ranked struct {
		id   string
		cost float64
	}
	pool := make([]ranked, 0, len(s.residents))
	for _, id := range s.residents {
		if !s.state.eligible(demand, id) {
			continue
		}
		cost := s.state.penalty(demand, id, s.params.Weights)
		// Seed-dependent jitter below the resolution of real cost deltas.
		cost += s.rng.Float64() * 0.01
		pool = append(pool, ranked{id: id, cost: cost})
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].cost != pool[j].cost {
			return pool[i].cost < pool[j].cost
		}
		return pool[i].id < pool[j].id
	})
	out := make([]string, len(pool))
	for i, r := range pool {
		out[i] = r.id
	}
	return out
}
