// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package resilience

import (
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/hashicorp/go-set/v3"

	"github.com/schedcu/autosched/structs"
)

// criticalOnlyThreshold is the population size above which the N-2 pair scan
// is restricted to critical faculty, keeping the pair count tractable.
const criticalOnlyThreshold = 40

// LossImpact describes the effect of losing one person.
type LossImpact struct {
	PersonID        string   `json:"person_id"`
	UncoveredBlocks []string `json:"uncovered_blocks,omitempty"`
	CoverageRate    float64  `json:"coverage_rate"`
}

// Covered reports whether the loss leaves every block covered.
func (l *LossImpact) Covered() bool {
	return len(l.UncoveredBlocks) == 0
}

// FatalPair is a pair of persons whose joint loss leaves blocks uncoverable.
type FatalPair struct {
	PersonA         string   `json:"person_a"`
	PersonB         string   `json:"person_b"`
	UncoveredBlocks []string `json:"uncovered_blocks"`
}

// CascadeStep records one propagation round of a cascade simulation.
type CascadeStep struct {
	Depth           int      `json:"depth"`
	FailedPersons   []string `json:"failed_persons"`
	OverloadedNext  []string `json:"overloaded_next,omitempty"`
	CascadeLikely   bool     `json:"cascade_likely"`
	PeakUtilization float64  `json:"peak_utilization"`
}

// Analyzer runs contingency analysis over a published assignment set.
type Analyzer struct {
	logger hclog.Logger
}

// NewAnalyzer constructs a contingency analyzer.
func NewAnalyzer(logger hclog.Logger) *Analyzer {
	return &Analyzer{logger: logger.Named("contingency")}
}

// coverage maps block ID to the set of primary persons covering it.
func coverage(assignments []*structs.Assignment) map[string]*set.Set[string] {
	cov := make(map[string]*set.Set[string])
	for _, a := range assignments {
		if a.Role != structs.RolePrimary {
			continue
		}
		s := cov[a.BlockID]
		if s == nil {
			s = set.New[string](4)
			cov[a.BlockID] = s
		}
		s.Insert(a.PersonID)
	}
	return cov
}

// uncoveredAfterLoss returns the sorted block IDs left with no primary after
// removing the given persons.
func uncoveredAfterLoss(cov map[string]*set.Set[string], lost *set.Set[string]) []string {
	var out []string
	for blockID, persons := range cov {
		remaining := persons.Difference(lost)
		if remaining.Empty() {
			out = append(out, blockID)
		}
	}
	sort.Strings(out)
	return out
}

// AnalyzeN1 simulates the loss of each person independently and reports the
// impact, worst first.
func (a *Analyzer) AnalyzeN1(persons map[string]*structs.Person, assignments []*structs.Assignment) []*LossImpact {
	defer metrics.MeasureSince([]string{"autosched", "contingency", "n1"}, time.Now())

	cov := coverage(assignments)
	total := len(cov)

	ids := make([]string, 0, len(persons))
	for id := range persons {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*LossImpact, 0, len(ids))
	for _, id := range ids {
		lost := set.From([]string{id})
		uncovered := uncoveredAfterLoss(cov, lost)
		impact := &LossImpact{
			PersonID:        id,
			UncoveredBlocks: uncovered,
			CoverageRate:    1,
		}
		if total > 0 {
			impact.CoverageRate = float64(total-len(uncovered)) / float64(total)
		}
		out = append(out, impact)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].UncoveredBlocks) != len(out[j].UncoveredBlocks) {
			return len(out[i].UncoveredBlocks) > len(out[j].UncoveredBlocks)
		}
		return out[i].PersonID < out[j].PersonID
	})
	return out
}

// AnalyzeN2 scans ordered person pairs and returns the fatal ones: pairs
// whose joint loss uncovers blocks that neither single loss uncovers. Above
// criticalOnlyThreshold persons the scan is restricted to persons marked
// critical.
func (a *Analyzer) AnalyzeN2(persons map[string]*structs.Person, assignments []*structs.Assignment) []*FatalPair {
	defer metrics.MeasureSince([]string{"autosched", "contingency", "n2"}, time.Now())

	cov := coverage(assignments)

	ids := make([]string, 0, len(persons))
	restricted := len(persons) > criticalOnlyThreshold
	for id, p := range persons {
		if restricted && !p.Critical {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if restricted {
		a.logger.Debug("restricting pair scan to critical persons",
			"population", len(persons), "scanned", len(ids))
	}

	singleLoss := make(map[string]*set.Set[string], len(ids))
	for _, id := range ids {
		singleLoss[id] = set.From(uncoveredAfterLoss(cov, set.From([]string{id})))
	}

	var fatal []*FatalPair
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			p, q := ids[i], ids[j]
			joint := uncoveredAfterLoss(cov, set.From([]string{p, q}))
			if len(joint) == 0 {
				continue
			}
			// Only blocks attributable to the combination count as fatal.
			fresh := set.From(joint).Difference(singleLoss[p]).Difference(singleLoss[q])
			if fresh.Empty() {
				continue
			}
			blocks := fresh.Slice()
			sort.Strings(blocks)
			fatal = append(fatal, &FatalPair{PersonA: p, PersonB: q, UncoveredBlocks: blocks})
		}
	}
	return fatal
}

// SimulateCascade propagates a seed failure: the failed persons' hours are
// redistributed evenly onto the remaining persons sharing their blocks, and
// any receiver pushed past the black band is considered likely to fail next.
// Propagation stops at maxDepth or when no new failures become likely.
func (a *Analyzer) SimulateCascade(seedPersonID string, hours map[string]float64, safeMaxHours float64, maxDepth int) []*CascadeStep {
	if safeMaxHours <= 0 || maxDepth < 1 {
		return nil
	}

	load := make(map[string]float64, len(hours))
	for id, h := range hours {
		load[id] = h
	}
	failed := set.From([]string{seedPersonID})
	redistribute := load[seedPersonID]
	delete(load, seedPersonID)

	var steps []*CascadeStep
	for depth := 1; depth <= maxDepth; depth++ {
		if len(load) == 0 || redistribute <= 0 {
			break
		}
		share := redistribute / float64(len(load))

		var overloaded []string
		peak := 0.0
		for id := range load {
			load[id] += share
			util := 100 * load[id] / safeMaxHours
			if util > peak {
				peak = util
			}
			if util >= thresholdBlack {
				overloaded = append(overloaded, id)
			}
		}
		sort.Strings(overloaded)

		step := &CascadeStep{
			Depth:           depth,
			FailedPersons:   sortedSlice(failed),
			OverloadedNext:  overloaded,
			CascadeLikely:   len(overloaded) > 0,
			PeakUtilization: peak,
		}
		steps = append(steps, step)

		if !step.CascadeLikely {
			break
		}
		redistribute = 0
		for _, id := range overloaded {
			failed.Insert(id)
			redistribute += load[id]
			delete(load, id)
		}
	}
	return steps
}

func sortedSlice(s *set.Set[string]) []string {
	out := s.Slice()
	sort.Strings(out)
	return out
}
