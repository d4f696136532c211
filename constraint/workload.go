// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package constraint

import (
	"time"

	"github.com/schedcu/autosched/structs"
)

// Workloads summarizes per-person load over the scored period: total hours,
// call counts and weekend burden. The swap matcher reuses these for its
// equity components.
func Workloads(vctx *ValidationContext) map[string]*structs.PersonWorkload {
	out := make(map[string]*structs.PersonWorkload)

	get := func(id string) *structs.PersonWorkload {
		w := out[id]
		if w == nil {
			w = &structs.PersonWorkload{PersonID: id}
			out[id] = w
		}
		return w
	}

	for _, a := range vctx.Assignments {
		if a.Role != structs.RolePrimary {
			continue
		}
		w := get(a.PersonID)
		w.TotalHours += vctx.Hours(a)

		date := vctx.AssignmentDate(a)
		weekend := isWeekend(date)
		if b := vctx.Block(a); b != nil && b.Weekend {
			weekend = true
		}
		if weekend {
			w.WeekendCount++
		}

		if tmpl := vctx.Template(a); tmpl != nil && tmpl.Type == structs.RotationTypeCall {
			w.CallCount++
			if date.Weekday() == time.Sunday {
				w.SundayCalls++
			} else if !weekend {
				w.WeekdayCalls++
			}
		}
	}

	// Merge moonlighting hours so equity metrics see true load.
	for personID, days := range vctx.Moonlighting {
		w := get(personID)
		for _, h := range days {
			w.TotalHours += h
		}
	}

	return out
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
