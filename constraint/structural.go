// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package constraint

import (
	"fmt"
	"sort"

	"github.com/schedcu/autosched/structs"
)

// StructuralValidator enforces assignment-set integrity: at most one primary
// assignment per (block, person) pair and rotation capacity caps.
type StructuralValidator struct{}

func (s *StructuralValidator) Name() string { return "structural" }

func (s *StructuralValidator) Check(vctx *ValidationContext) ([]*structs.Violation, []*structs.Warning) {
	var violations []*structs.Violation

	// Duplicate primary (block, person) pairs.
	seen := make(map[string]bool)
	for _, a := range vctx.Assignments {
		if a.Role != structs.RolePrimary {
			continue
		}
		key := a.BlockID + "\x00" + a.PersonID
		if seen[key] {
			violations = append(violations, &structs.Violation{
				Rule:     structs.RuleDuplicatePrimary,
				Severity: structs.SeverityCritical,
				PersonID: a.PersonID,
				BlockID:  a.BlockID,
				Message:  fmt.Sprintf("duplicate primary assignment for person %s on block %s", a.PersonID, a.BlockID),
			})
			continue
		}
		seen[key] = true
	}

	// Rotation capacity: primary residents per (block, template) must not
	// exceed the template cap.
	type slot struct{ blockID, templateID string }
	counts := make(map[slot]int)
	for _, a := range vctx.Assignments {
		if a.Role != structs.RolePrimary || a.RotationTemplateID == "" {
			continue
		}
		if p := vctx.Persons[a.PersonID]; p != nil && !p.IsResident() {
			continue
		}
		counts[slot{a.BlockID, a.RotationTemplateID}]++
	}

	slots := make([]slot, 0, len(counts))
	for sl := range counts {
		slots = append(slots, sl)
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].blockID != slots[j].blockID {
			return slots[i].blockID < slots[j].blockID
		}
		return slots[i].templateID < slots[j].templateID
	})

	for _, sl := range slots {
		tmpl := vctx.Templates[sl.templateID]
		if tmpl == nil || tmpl.MaxResidents <= 0 {
			continue
		}
		if n := counts[sl]; n > tmpl.MaxResidents {
			violations = append(violations, &structs.Violation{
				Rule:     structs.RuleTemplateCapacity,
				Severity: structs.SeverityMedium,
				BlockID:  sl.blockID,
				Message: fmt.Sprintf("rotation %s has %d residents on block %s, cap is %d",
					tmpl.Name, n, sl.blockID, tmpl.MaxResidents),
			})
		}
	}

	return violations, nil
}
