// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package scheduler

import (
	"context"
	"math/rand"

	"github.com/schedcu/autosched/structs"
)

// improvementSearch seeds a greedy solution and then runs bounded
// local-improvement passes: each pass tries to reassign one primary slot to
// the resident that lowers the full evaluation penalty, accepting only strict
// improvements. The pass budget comes from MILPImprovementPasses.
func (g *Generator) improvementSearch(ctx context.Context, p *Problem, params *structs.GeneratorParams, rng *rand.Rand) (*structs.Candidate, error) {
	seedParams := params.Copy()
	seedParams.GreedyRandomness = 0
	cand, err := g.greedy(ctx, p, seedParams, rng)
	if err != nil {
		return nil, err
	}

	best := g.engine.Validate(p.Context(cand.Assignments)).Score
	residents := p.residents()
	improvements := 0

	primaries := make([]int, 0, len(cand.Assignments))
	for i, a := range cand.Assignments {
		if a.Role == structs.RolePrimary {
			primaries = append(primaries, i)
		}
	}

	for pass := 0; pass < params.MILPImprovementPasses; pass++ {
		if ctx.Err() != nil || len(primaries) == 0 {
			break
		}

		idx := primaries[rng.Intn(len(primaries))]
		a := cand.Assignments[idx]
		block := p.Blocks[a.BlockID]
		if block == nil {
			continue
		}

		original := a.PersonID
		improved := false
		for _, off := range rng.Perm(len(residents)) {
			pid := residents[off]
			if pid == original || p.unavailable(pid, block.Date) {
				continue
			}
			if hasPrimary(cand.Assignments, a.BlockID, pid) {
				continue
			}
			a.PersonID = pid
			if score := g.engine.Validate(p.Context(cand.Assignments)).Score; score > best {
				best = score
				improvements++
				improved = true
				break
			}
			a.PersonID = original
		}
		if !improved {
			a.PersonID = original
		}
	}

	cand.Stats.Improvements = improvements
	cand.Objective = best
	return cand, nil
}
