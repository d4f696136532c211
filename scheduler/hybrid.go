// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package scheduler

import (
	"context"
	"math/rand"

	"github.com/schedcu/autosched/structs"
)

// hybrid runs the constraint search for a structurally sound base and then
// polishes it with improvement passes. The backtrack and pass budgets are
// halved so the combined attempt stays inside one timeout.
func (g *Generator) hybrid(ctx context.Context, p *Problem, params *structs.GeneratorParams, rng *rand.Rand) (*structs.Candidate, error) {
	cpParams := params.Copy()
	cpParams.CPMaxBacktracks = params.CPMaxBacktracks / 2

	base, err := g.constraintSearch(ctx, p, cpParams, rng)
	if err != nil {
		return nil, err
	}

	best := g.engine.Validate(p.Context(base.Assignments)).Score
	residents := p.residents()
	passes := params.MILPImprovementPasses / 2
	improvements := 0

	primaries := make([]int, 0, len(base.Assignments))
	for i, a := range base.Assignments {
		if a.Role == structs.RolePrimary {
			primaries = append(primaries, i)
		}
	}

	for pass := 0; pass < passes && len(primaries) > 0; pass++ {
		if ctx.Err() != nil {
			break
		}
		idx := primaries[rng.Intn(len(primaries))]
		a := base.Assignments[idx]
		block := p.Blocks[a.BlockID]
		if block == nil {
			continue
		}

		original := a.PersonID
		for _, off := range rng.Perm(len(residents)) {
			pid := residents[off]
			if pid == original || p.unavailable(pid, block.Date) {
				continue
			}
			if hasPrimary(base.Assignments, a.BlockID, pid) {
				continue
			}
			a.PersonID = pid
			if score := g.engine.Validate(p.Context(base.Assignments)).Score; score > best {
				best = score
				improvements++
				original = ""
				break
			}
			a.PersonID = original
		}
		if original != "" {
			a.PersonID = original
		}
	}

	base.Stats.Improvements = improvements
	base.Objective = best
	return base, nil
}
