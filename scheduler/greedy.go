// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package scheduler

import (
	"context"
	"math/rand"
	"sort"

	"github.com/schedcu/autosched/structs"
)

// greedy fills demands in chronological order, always choosing from the
// lowest-penalty eligible residents. GreedyRandomness widens the pool the
// pick is drawn from: 0 always takes the single best, 1 draws uniformly from
// all eligible candidates.
func (g *Generator) greedy(ctx context.Context, p *Problem, params *structs.GeneratorParams, rng *rand.Rand) (*structs.Candidate, error) {
	state := newBuildState(p)
	residents := p.residents()

	for _, demand := range p.sortedDemands() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for n := 0; n < demand.Required; n++ {
			pick := g.greedyPick(state, demand, residents, params, rng)
			if pick == "" {
				// Leave the slot unfilled; the evaluator prices the shortage.
				continue
			}
			state.place(demand, pick, structs.RolePrimary)
		}
	}

	state.supervise()
	return &structs.Candidate{
		Assignments: state.assignments,
		Feasible:    true,
	}, nil
}

// greedyPick ranks eligible residents by penalty and draws from the top of
// the ranking. Ties and pool width are resolved through the local rng only.
func (g *Generator) greedyPick(state *buildState, demand *Demand, residents []string, params *structs.GeneratorParams, rng *rand.Rand) string {
	type ranked struct {
		id   string
		cost float64
	}
	pool := make([]ranked, 0, len(residents))
	for _, id := range residents {
		if !state.eligible(demand, id) {
			continue
		}
		pool = append(pool, ranked{id: id, cost: state.penalty(demand, id, params.Weights)})
	}
	if len(pool) == 0 {
		return ""
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].cost != pool[j].cost {
			return pool[i].cost < pool[j].cost
		}
		return pool[i].id < pool[j].id
	})

	width := 1 + int(params.GreedyRandomness*float64(len(pool)-1))
	return pool[rng.Intn(width)].id
}
