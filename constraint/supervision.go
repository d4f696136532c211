// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package constraint

import (
	"fmt"

	"github.com/schedcu/autosched/structs"
)

// SupervisionValidator enforces the supervision ratio per block: PGY-1
// residents require one supervisor per two, PGY-2 and above one per four,
// with the larger requirement winning.
type SupervisionValidator struct{}

func (s *SupervisionValidator) Name() string { return "supervision" }

func (s *SupervisionValidator) Check(vctx *ValidationContext) ([]*structs.Violation, []*structs.Warning) {
	var violations []*structs.Violation

	byBlock := vctx.ByBlock()
	for _, blockID := range sortedKeys(byBlock) {
		var pgy1, pgy23, supervisors int
		for _, a := range byBlock[blockID] {
			p := vctx.Persons[a.PersonID]
			if p == nil {
				continue
			}
			switch {
			case a.Role == structs.RolePrimary && p.IsResident():
				if p.PGY <= 1 {
					pgy1++
				} else {
					pgy23++
				}
			case a.Role == structs.RoleSupervising && p.IsFaculty():
				supervisors++
			}
		}

		required := RequiredSupervisors(pgy1, pgy23)
		if supervisors < required {
			violations = append(violations, &structs.Violation{
				Rule:     structs.RuleSupervision,
				Severity: structs.SeverityHigh,
				BlockID:  blockID,
				Message: fmt.Sprintf("block %s has %d supervising faculty, %d required for %d PGY-1 and %d senior residents",
					blockID, supervisors, required, pgy1, pgy23),
			})
		}
	}

	return violations, nil
}

// RequiredSupervisors computes the supervisor requirement for a block:
// max(ceil(pgy1/2), ceil(pgy23/4)).
func RequiredSupervisors(pgy1, pgy23 int) int {
	req1 := (pgy1 + 1) / 2
	req23 := (pgy23 + 3) / 4
	if req1 > req23 {
		return req1
	}
	return req23
}
