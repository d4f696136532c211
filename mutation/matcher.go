// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package mutation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/schedcu/autosched/constraint"
	"github.com/schedcu/autosched/state"
	"github.com/schedcu/autosched/structs"
)

const (
	// matchHorizonDays bounds how far from the source date a counterpart
	// date may lie.
	matchHorizonDays = 14

	// Compatibility score weights. Symmetric coverage dominates because a
	// one-sided swap just moves the shortage around.
	weightCoverage  = 0.40
	weightProximity = 0.25
	weightYear      = 0.20
	weightEquity    = 0.15

	// matchScoreThreshold drops suggestions that combine a distant date, a
	// far training year and a worse call balance; below this they are noise.
	matchScoreThreshold = 0.65

	// highPriorityWindowDays flags unmatched swaps whose source date is close
	// enough to need a coordinator's attention.
	highPriorityWindowDays = 7
)

// Match is one ranked counterpart suggestion for a swap.
type Match struct {
	PersonID string    `json:"person_id"`
	Date     time.Time `json:"date"`
	Score    float64   `json:"score"`
	Reasons  []string  `json:"reasons,omitempty"`
}

// Matcher scores swap counterparts by compatibility: symmetric coverage,
// date proximity, training-year closeness and call-load equity.
type Matcher struct {
	logger hclog.Logger
	state  *state.StateStore
	now    func() time.Time
}

// NewMatcher builds a matcher over the record store.
func NewMatcher(logger hclog.Logger, store *state.StateStore) *Matcher {
	return &Matcher{
		logger: logger.Named("matcher"),
		state:  store,
		now:    time.Now,
	}
}

// SuggestOptimalMatches returns the top k counterpart suggestions for a
// swap, best first. Only feasible counterparts appear: the candidate must be
// free on the source date, hold an assignment on the suggested date, and the
// source must be free there.
func (m *Matcher) SuggestOptimalMatches(ctx context.Context, swap *structs.Swap, k int) ([]*Match, error) {
	defer metrics.MeasureSince([]string{"autosched", "mutation", "suggest"}, time.Now())

	if k <= 0 {
		k = 5
	}

	vctx, err := m.loadWindow(swap)
	if err != nil {
		return nil, err
	}
	source := vctx.Persons[swap.SourcePersonID]
	if source == nil {
		return nil, &structs.ValidationError{
			Code:    structs.ErrCodeNotFound,
			Message: fmt.Sprintf("person %s not found", swap.SourcePersonID),
			Field:   "swap.source_person_id",
		}
	}

	sourceDay := structs.Midnight(swap.SourceDate)
	primaries := vctx.PrimariesByPerson()
	workloads := constraint.Workloads(vctx)

	var out []*Match
	for _, id := range sortedPersonIDs(vctx.Persons) {
		candidate := vctx.Persons[id]
		if id == swap.SourcePersonID || candidate.IsResident() != source.IsResident() {
			continue
		}
		if assignedOn(vctx, primaries[id], sourceDay) {
			continue
		}
		if blocked(vctx, id, sourceDay) {
			continue
		}

		for _, day := range candidateDates(vctx, primaries[id], sourceDay) {
			if assignedOn(vctx, primaries[swap.SourcePersonID], day) || blocked(vctx, swap.SourcePersonID, day) {
				continue
			}
			match := m.score(source, candidate, sourceDay, day, workloads)
			if match.Score < matchScoreThreshold {
				continue
			}
			match.PersonID = id
			match.Date = day
			out = append(out, match)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].PersonID != out[j].PersonID {
			return out[i].PersonID < out[j].PersonID
		}
		return out[i].Date.Before(out[j].Date)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// score computes the weighted compatibility of one (person, date) pair.
func (m *Matcher) score(source, candidate *structs.Person, sourceDay, day time.Time, workloads map[string]*structs.PersonWorkload) *Match {
	match := &Match{}

	// Symmetric coverage is already established by the feasibility checks;
	// it contributes its full weight here.
	score := weightCoverage
	match.Reasons = append(match.Reasons, "covers both dates")

	gap := int(day.Sub(sourceDay).Hours() / 24)
	if gap < 0 {
		gap = -gap
	}
	proximity := 1.0 / (1.0 + float64(gap)/7.0)
	score += weightProximity * proximity
	match.Reasons = append(match.Reasons, fmt.Sprintf("%d days apart", gap))

	year := 0.4
	if source.IsResident() && candidate.IsResident() {
		diff := source.PGY - candidate.PGY
		if diff < 0 {
			diff = -diff
		}
		switch diff {
		case 0:
			year = 1.0
			match.Reasons = append(match.Reasons, "same training year")
		case 1:
			year = 0.7
		}
	} else {
		year = 1.0
	}
	score += weightYear * year

	// Favor counterparts carrying a lighter call burden than the source.
	// Sunday call dominates; weekday call breaks ties.
	equity := 0.5
	sw, cw := workloadFor(workloads, source.ID), workloadFor(workloads, candidate.ID)
	sundayDiff := cw.SundayCalls - sw.SundayCalls
	weekdayDiff := cw.WeekdayCalls - sw.WeekdayCalls
	switch {
	case sundayDiff < 0 || (sundayDiff == 0 && weekdayDiff < 0):
		equity = 1.0
		match.Reasons = append(match.Reasons, "evens out call load")
	case sundayDiff > 0 || weekdayDiff > 0:
		equity = 0.2
	}
	score += weightEquity * equity

	match.Score = score
	return match
}

// AutoMatchResult buckets one auto-match pass: swaps that got a counterpart,
// swaps with none available, and the subset of unmatched swaps whose source
// date is near enough to need a coordinator's attention.
type AutoMatchResult struct {
	Matched      []string `json:"matched"`
	NoMatch      []string `json:"no_match"`
	HighPriority []string `json:"high_priority"`
}

// AutoMatchPending fills in counterparts for pending one-to-one swaps that
// have none, picking each swap's best suggestion.
func (m *Matcher) AutoMatchPending(ctx context.Context, ex *Executor) (*AutoMatchResult, error) {
	pending, err := m.state.SwapsByStatus(structs.SwapStatusPending)
	if err != nil {
		return nil, err
	}

	res := &AutoMatchResult{}
	for _, swap := range pending {
		if swap.Kind != structs.SwapKindOneToOne || swap.TargetPersonID != "" {
			continue
		}
		suggestions, err := m.SuggestOptimalMatches(ctx, swap, 1)
		if err != nil {
			return res, err
		}
		if len(suggestions) == 0 {
			res.NoMatch = append(res.NoMatch, swap.ID)
			until := structs.Midnight(swap.SourceDate).Sub(structs.Midnight(m.now()))
			if until <= highPriorityWindowDays*24*time.Hour {
				res.HighPriority = append(res.HighPriority, swap.ID)
				m.logger.Warn("unmatched swap nearing its source date",
					"swap_id", swap.ID, "source_date", structs.DateKey(swap.SourceDate))
			} else {
				m.logger.Debug("no counterpart found", "swap_id", swap.ID)
			}
			continue
		}

		best := suggestions[0]
		updated := swap.Copy()
		updated.TargetPersonID = best.PersonID
		date := best.Date
		updated.TargetDate = &date
		if err := m.state.UpsertSwapCAS(ex.nextIndex(), updated.ModifyIndex, updated); err != nil {
			return res, err
		}
		res.Matched = append(res.Matched, swap.ID)
		m.logger.Info("swap auto-matched", "swap_id", swap.ID,
			"target", best.PersonID, "date", structs.DateKey(best.Date), "score", best.Score)
	}
	return res, nil
}

// loadWindow builds the matching context around the source date.
func (m *Matcher) loadWindow(swap *structs.Swap) (*constraint.ValidationContext, error) {
	start := structs.Midnight(swap.SourceDate).AddDate(0, 0, -matchHorizonDays)
	end := structs.Midnight(swap.SourceDate).AddDate(0, 0, matchHorizonDays)

	persons, err := m.state.Persons()
	if err != nil {
		return nil, err
	}
	templates, err := m.state.RotationTemplates(true)
	if err != nil {
		return nil, err
	}
	blocks, err := m.state.BlocksByDateRange(start, end)
	if err != nil {
		return nil, err
	}
	blockByID := make(map[string]*structs.Block, len(blocks))
	for _, b := range blocks {
		blockByID[b.ID] = b
	}
	assignments, err := m.state.AssignmentsByDateRange(start, end)
	if err != nil {
		return nil, err
	}
	absences, err := m.state.Absences()
	if err != nil {
		return nil, err
	}

	return &constraint.ValidationContext{
		Start:       start,
		End:         end,
		Assignments: assignments,
		Persons:     persons,
		Blocks:      blockByID,
		Templates:   templates,
		Absences:    absences,
	}, nil
}

// candidateDates returns the distinct in-horizon dates a person holds
// primary assignments on, excluding the source date itself.
func candidateDates(vctx *constraint.ValidationContext, primaries []*structs.Assignment, sourceDay time.Time) []time.Time {
	seen := make(map[string]time.Time)
	for _, a := range primaries {
		day := structs.Midnight(vctx.AssignmentDate(a))
		if day.Equal(sourceDay) {
			continue
		}
		seen[structs.DateKey(day)] = day
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]time.Time, 0, len(keys))
	for _, k := range keys {
		out = append(out, seen[k])
	}
	return out
}

func assignedOn(vctx *constraint.ValidationContext, primaries []*structs.Assignment, day time.Time) bool {
	for _, a := range primaries {
		if structs.Midnight(vctx.AssignmentDate(a)).Equal(day) {
			return true
		}
	}
	return false
}

func blocked(vctx *constraint.ValidationContext, personID string, day time.Time) bool {
	for _, ab := range vctx.Absences {
		if ab.PersonID == personID && ab.Blocks() && ab.Covers(day) {
			return true
		}
	}
	return false
}

// workloadFor returns the person's workload summary, or an empty one for
// persons with no assignments in the window.
func workloadFor(workloads map[string]*structs.PersonWorkload, id string) *structs.PersonWorkload {
	if w := workloads[id]; w != nil {
		return w
	}
	return &structs.PersonWorkload{PersonID: id}
}

func sortedPersonIDs(persons map[string]*structs.Person) []string {
	ids := make([]string, 0, len(persons))
	for id := range persons {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
