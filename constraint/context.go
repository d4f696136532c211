// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package constraint implements the composable validator pipeline that scores
// candidate schedules: duty-hour rules, supervision ratios, leave blocks and
// swap checks. Validators are pure and stateless; the engine may be invoked
// concurrently across candidates.
package constraint

import (
	"sort"
	"time"

	"github.com/schedcu/autosched/structs"
)

// ValidationContext carries everything a validator may inspect for one
// scored period. It is built once per candidate and never mutated by
// validators.
type ValidationContext struct {
	Start time.Time
	End   time.Time

	Assignments []*structs.Assignment
	Persons     map[string]*structs.Person
	Blocks      map[string]*structs.Block
	Templates   map[string]*structs.RotationTemplate
	Absences    []*structs.Absence
	Swaps       []*structs.Swap

	// Moonlighting maps person ID to date key to externally worked hours.
	// These are merged into internal hours before any window computation.
	Moonlighting map[string]map[string]float64

	// ExpectedAssignments is the scoring denominator; when zero the
	// assignment count is used.
	ExpectedAssignments int
}

// Expected returns the scoring denominator.
func (v *ValidationContext) Expected() int {
	if v.ExpectedAssignments > 0 {
		return v.ExpectedAssignments
	}
	return len(v.Assignments)
}

// Block resolves the block of an assignment, or nil when unknown.
func (v *ValidationContext) Block(a *structs.Assignment) *structs.Block {
	return v.Blocks[a.BlockID]
}

// Template resolves the rotation template of an assignment, or nil.
func (v *ValidationContext) Template(a *structs.Assignment) *structs.RotationTemplate {
	return v.Templates[a.RotationTemplateID]
}

// AssignmentDate returns the assignment date, preferring the resolved block.
func (v *ValidationContext) AssignmentDate(a *structs.Assignment) time.Time {
	if b := v.Block(a); b != nil {
		return structs.Midnight(b.Date)
	}
	return structs.Midnight(a.Date)
}

// Hours returns the duty-hour value of an assignment, derived from its
// rotation intensity.
func (v *ValidationContext) Hours(a *structs.Assignment) float64 {
	if tmpl := v.Template(a); tmpl != nil {
		return tmpl.BlockHours()
	}
	return structs.StandardIntensityHours
}

// PrimariesByPerson groups primary assignments per person, sorted by block
// start time for deterministic iteration.
func (v *ValidationContext) PrimariesByPerson() map[string][]*structs.Assignment {
	out := make(map[string][]*structs.Assignment)
	for _, a := range v.Assignments {
		if a.Role != structs.RolePrimary {
			continue
		}
		out[a.PersonID] = append(out[a.PersonID], a)
	}
	for _, as := range out {
		sort.Slice(as, func(i, j int) bool {
			bi, bj := v.Block(as[i]), v.Block(as[j])
			if bi != nil && bj != nil && !bi.Start().Equal(bj.Start()) {
				return bi.Start().Before(bj.Start())
			}
			return as[i].Date.Before(as[j].Date)
		})
	}
	return out
}

// ByBlock groups all assignments per block ID.
func (v *ValidationContext) ByBlock() map[string][]*structs.Assignment {
	out := make(map[string][]*structs.Assignment)
	for _, a := range v.Assignments {
		out[a.BlockID] = append(out[a.BlockID], a)
	}
	return out
}

// PersonIDs returns the sorted set of person IDs with any assignment.
func (v *ValidationContext) PersonIDs() []string {
	seen := make(map[string]struct{})
	for _, a := range v.Assignments {
		seen[a.PersonID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DailyHours computes per-date duty hours for one person, moonlighting
// included.
func (v *ValidationContext) DailyHours(personID string) map[string]float64 {
	hours := make(map[string]float64)
	for _, a := range v.Assignments {
		if a.PersonID != personID || a.Role != structs.RolePrimary {
			continue
		}
		hours[structs.DateKey(v.AssignmentDate(a))] += v.Hours(a)
	}
	for key, h := range v.Moonlighting[personID] {
		hours[key] += h
	}
	return hours
}
