// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package scheduler generates candidate schedules. A Generator dispatches
// over a closed set of strategies (greedy, cp, milp, hybrid) that all consume
// the same Problem and produce Candidates; the constraint engine scores them.
// Strategies are deterministic for a fixed seed.
package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/schedcu/autosched/constraint"
	"github.com/schedcu/autosched/structs"
)

// Demand is one slot to fill: a number of primary assignments on a rotation
// template within a block.
type Demand struct {
	BlockID    string
	TemplateID string
	Required   int
}

// Problem is the full input of one generation attempt. It is read-only to
// strategies; they may be run concurrently against the same Problem.
type Problem struct {
	Start time.Time
	End   time.Time

	Persons   map[string]*structs.Person
	Blocks    map[string]*structs.Block
	Templates map[string]*structs.RotationTemplate
	Absences  []*structs.Absence
	Demands   []*Demand

	// Moonlighting maps person ID to date key to external hours, passed
	// through to the evaluation context.
	Moonlighting map[string]map[string]float64
}

// Validate rejects structurally broken problems before any search runs.
func (p *Problem) Validate() error {
	if p.End.Before(p.Start) {
		return fmt.Errorf("problem end %s precedes start %s",
			p.End.Format("2006-01-02"), p.Start.Format("2006-01-02"))
	}
	if len(p.Demands) == 0 {
		return fmt.Errorf("problem has no demands")
	}
	for _, d := range p.Demands {
		if _, ok := p.Blocks[d.BlockID]; !ok {
			return fmt.Errorf("demand references unknown block %q", d.BlockID)
		}
		if tmpl, ok := p.Templates[d.TemplateID]; !ok {
			return fmt.Errorf("demand references unknown template %q", d.TemplateID)
		} else if tmpl.Archived() {
			return fmt.Errorf("demand references archived template %q", d.TemplateID)
		}
	}
	return nil
}

// ExpectedAssignments is the scoring denominator: the total required slots.
func (p *Problem) ExpectedAssignments() int {
	total := 0
	for _, d := range p.Demands {
		total += d.Required
	}
	return total
}

// Context builds the evaluation context for a set of assignments against this
// problem.
func (p *Problem) Context(assignments []*structs.Assignment) *constraint.ValidationContext {
	return &constraint.ValidationContext{
		Start:               p.Start,
		End:                 p.End,
		Assignments:         assignments,
		Persons:             p.Persons,
		Blocks:              p.Blocks,
		Templates:           p.Templates,
		Absences:            p.Absences,
		Moonlighting:        p.Moonlighting,
		ExpectedAssignments: p.ExpectedAssignments(),
	}
}

// residents returns the resident IDs in sorted order. Sorting matters: every
// strategy iterates people in this order so that a fixed seed yields a fixed
// schedule.
func (p *Problem) residents() []string {
	ids := make([]string, 0, len(p.Persons))
	for id, person := range p.Persons {
		if person.IsResident() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// faculty returns the faculty IDs in sorted order.
func (p *Problem) faculty() []string {
	ids := make([]string, 0, len(p.Persons))
	for id, person := range p.Persons {
		if person.IsFaculty() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// sortedDemands returns demands ordered by block start, then template, then
// block ID. The order is the strategies' slot-filling sequence.
func (p *Problem) sortedDemands() []*Demand {
	out := make([]*Demand, len(p.Demands))
	copy(out, p.Demands)
	sort.SliceStable(out, func(i, j int) bool {
		bi, bj := p.Blocks[out[i].BlockID], p.Blocks[out[j].BlockID]
		if !bi.Start().Equal(bj.Start()) {
			return bi.Start().Before(bj.Start())
		}
		if out[i].TemplateID != out[j].TemplateID {
			return out[i].TemplateID < out[j].TemplateID
		}
		return out[i].BlockID < out[j].BlockID
	})
	return out
}

// unavailable reports whether a person cannot take a primary assignment on a
// date, because a blocking absence covers it or because it falls inside a
// post-absence recovery window.
func (p *Problem) unavailable(personID string, date time.Time) bool {
	day := structs.Midnight(date)
	for _, ab := range p.Absences {
		if ab.PersonID != personID {
			continue
		}
		if ab.Blocks() && ab.Covers(day) {
			return true
		}
		if rec := ab.RecoveryDays(); rec > 0 {
			end := structs.Midnight(ab.End)
			if day.After(end) && !day.After(end.AddDate(0, 0, rec)) {
				return true
			}
		}
	}
	return false
}

// buildState tracks incremental construction so that strategies never place a
// duplicate primary and can reason about load without rescanning.
type buildState struct {
	problem *Problem

	assignments []*structs.Assignment

	// primaryInBlock marks (blockID, personID) primary occupancy.
	primaryInBlock map[string]map[string]bool

	// primaryOnDate marks (dateKey, personID) primary occupancy; one primary
	// slot per person per block means at most two per day, but strategies
	// confine people to one service per session.
	hours map[string]float64 // total hours per person

	dailyBlocks map[string]map[string]int // personID -> dateKey -> blocks

	weekendBlocks map[string]int // personID -> weekend block count

	templateCount map[string]int // blockID|templateID -> residents placed
}

func newBuildState(p *Problem) *buildState {
	return &buildState{
		problem:        p,
		primaryInBlock: make(map[string]map[string]bool),
		hours:          make(map[string]float64),
		dailyBlocks:    make(map[string]map[string]int),
		weekendBlocks:  make(map[string]int),
		templateCount:  make(map[string]int),
	}
}

func (s *buildState) occupied(blockID, personID string) bool {
	return s.primaryInBlock[blockID][personID]
}

func (s *buildState) place(d *Demand, personID string, role structs.AssignmentRole) {
	block := s.problem.Blocks[d.BlockID]
	a := &structs.Assignment{
		BlockID:            d.BlockID,
		PersonID:           personID,
		RotationTemplateID: d.TemplateID,
		Role:               role,
		Source:             structs.SourceGenerated,
		Date:               structs.Midnight(block.Date),
	}
	s.assignments = append(s.assignments, a)

	if role != structs.RolePrimary {
		return
	}
	if s.primaryInBlock[d.BlockID] == nil {
		s.primaryInBlock[d.BlockID] = make(map[string]bool)
	}
	s.primaryInBlock[d.BlockID][personID] = true

	s.hours[personID] += s.problem.Templates[d.TemplateID].BlockHours()

	key := block.DateKey()
	if s.dailyBlocks[personID] == nil {
		s.dailyBlocks[personID] = make(map[string]int)
	}
	s.dailyBlocks[personID][key]++

	if block.Weekend {
		s.weekendBlocks[personID]++
	}
	s.templateCount[d.BlockID+"|"+d.TemplateID]++
}

// unplace reverses the most recent place of this demand/person pair; cp uses
// it while backtracking.
func (s *buildState) unplace(d *Demand, personID string) {
	for i := len(s.assignments) - 1; i >= 0; i-- {
		a := s.assignments[i]
		if a.BlockID == d.BlockID && a.PersonID == personID && a.RotationTemplateID == d.TemplateID {
			s.assignments = append(s.assignments[:i], s.assignments[i+1:]...)
			break
		}
	}
	delete(s.primaryInBlock[d.BlockID], personID)
	block := s.problem.Blocks[d.BlockID]
	s.hours[personID] -= s.problem.Templates[d.TemplateID].BlockHours()
	s.dailyBlocks[personID][block.DateKey()]--
	if block.Weekend {
		s.weekendBlocks[personID]--
	}
	s.templateCount[d.BlockID+"|"+d.TemplateID]--
}

// eligible reports whether a resident may be placed as primary on this
// demand without breaking a hard construction rule.
func (s *buildState) eligible(d *Demand, personID string) bool {
	block := s.problem.Blocks[d.BlockID]
	if s.occupied(d.BlockID, personID) {
		return false
	}
	if s.problem.unavailable(personID, block.Date) {
		return false
	}
	tmpl := s.problem.Templates[d.TemplateID]
	if tmpl.MaxResidents > 0 && s.templateCount[d.BlockID+"|"+d.TemplateID] >= tmpl.MaxResidents {
		return false
	}
	return true
}

// consecutiveDays counts the run of assigned days ending the day before date.
func (s *buildState) consecutiveDays(personID string, date time.Time) int {
	day := structs.Midnight(date)
	streak := 0
	for {
		day = day.AddDate(0, 0, -1)
		if s.dailyBlocks[personID][structs.DateKey(day)] == 0 {
			return streak
		}
		streak++
	}
}

// supervise adds supervising faculty to every block that ended up with
// resident primaries on a supervision-required template. Faculty rotate in
// sorted order for even coverage.
func (s *buildState) supervise() {
	fac := s.problem.faculty()
	if len(fac) == 0 {
		return
	}
	next := 0

	perBlock := make(map[string]map[string][]string) // blockID -> templateID -> residents
	for _, a := range s.assignments {
		if a.Role != structs.RolePrimary {
			continue
		}
		person := s.problem.Persons[a.PersonID]
		if person == nil || !person.IsResident() {
			continue
		}
		if m := perBlock[a.BlockID]; m == nil {
			perBlock[a.BlockID] = make(map[string][]string)
		}
		perBlock[a.BlockID][a.RotationTemplateID] = append(perBlock[a.BlockID][a.RotationTemplateID], a.PersonID)
	}

	blockIDs := make([]string, 0, len(perBlock))
	for id := range perBlock {
		blockIDs = append(blockIDs, id)
	}
	sort.Strings(blockIDs)

	for _, blockID := range blockIDs {
		pgy1, pgy23 := 0, 0
		supervised := false
		var tmplID string
		for tid, residents := range perBlock[blockID] {
			tmpl := s.problem.Templates[tid]
			if tmpl == nil || !tmpl.SupervisionRequired {
				continue
			}
			supervised = true
			tmplID = tid
			for _, pid := range residents {
				if s.problem.Persons[pid].PGY <= 1 {
					pgy1++
				} else {
					pgy23++
				}
			}
		}
		if !supervised {
			continue
		}
		needed := constraint.RequiredSupervisors(pgy1, pgy23)
		block := s.problem.Blocks[blockID]
		for i := 0; i < needed && len(fac) > 0; i++ {
			fid := fac[next%len(fac)]
			next++
			s.assignments = append(s.assignments, &structs.Assignment{
				BlockID:            blockID,
				PersonID:           fid,
				RotationTemplateID: tmplID,
				Role:               structs.RoleSupervising,
				Source:             structs.SourceGenerated,
				Date:               structs.Midnight(block.Date),
			})
		}
	}
}

// penalty is the soft objective strategies minimize: projected weekly-hour
// overage, streak length, and weekend imbalance, weighted by the params.
func (s *buildState) penalty(d *Demand, personID string, w structs.ConstraintWeights) float64 {
	block := s.problem.Blocks[d.BlockID]
	tmpl := s.problem.Templates[d.TemplateID]

	cost := 0.0

	// Equity: prefer the least loaded person.
	cost += w.Equity * s.hours[personID] / structs.IntensiveIntensityHours

	// Weekly pressure: steep penalty once the rolling projection crosses the
	// warning band.
	weekly := s.weeklyHours(personID, block.Date) + tmpl.BlockHours()
	if weekly > 72 {
		cost += w.Equity * (weekly - 72)
	}

	// Continuity: mild preference for extending an existing short run on the
	// same template, strong aversion to runs at six days or more.
	streak := s.consecutiveDays(personID, block.Date)
	switch {
	case streak >= 6:
		cost += w.Continuity * 50
	case streak >= 1 && streak <= 3:
		cost -= w.Continuity
	}

	// Weekend load balance.
	if block.Weekend {
		cost += w.WeekendLoad * float64(s.weekendBlocks[personID])
	}
	return cost
}

// weeklyHours sums placed hours in the 7 days ending at date.
func (s *buildState) weeklyHours(personID string, date time.Time) float64 {
	day := structs.Midnight(date)
	total := 0.0
	daily := s.dailyBlocks[personID]
	for d := 0; d < 7; d++ {
		key := structs.DateKey(day.AddDate(0, 0, -d))
		// dailyBlocks counts blocks; approximate with standard hours when the
		// exact mix is unknown. Exact totals only matter relative to peers.
		total += float64(daily[key]) * structs.StandardIntensityHours
	}
	return total
}
