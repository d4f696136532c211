// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package constraint

import (
	"testing"

	"github.com/schedcu/autosched/ci"
	"github.com/schedcu/autosched/structs"
	"github.com/shoenig/test/must"
)

func TestRequiredSupervisors(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		pgy1, pgy23, want int
	}{
		{0, 0, 0},
		{1, 0, 1},
		{2, 0, 1},
		{3, 0, 2},
		{0, 4, 1},
		{0, 5, 2},
		{2, 4, 1},
		{4, 4, 2},
		{1, 8, 2},
	}
	for _, c := range cases {
		must.Eq(t, c.want, RequiredSupervisors(c.pgy1, c.pgy23),
			must.Sprintf("pgy1=%d pgy23=%d", c.pgy1, c.pgy23))
	}
}

func TestSupervisionValidator_Shortfall(t *testing.T) {
	ci.Parallel(t)

	start := date(2026, 4, 6)
	tc := newTestContext(start, 1)
	tc.addResident("int-1", 1)
	tc.addResident("int-2", 1)
	tc.addResident("int-3", 1)
	tc.addFaculty("fac-1")

	// Three PGY-1 residents need two supervisors; only one is assigned.
	tc.assign("int-1", start, structs.SessionAM, "wards", structs.RolePrimary)
	tc.assign("int-2", start, structs.SessionAM, "wards", structs.RolePrimary)
	tc.assign("int-3", start, structs.SessionAM, "wards", structs.RolePrimary)
	tc.assign("fac-1", start, structs.SessionAM, "wards", structs.RoleSupervising)

	v := &SupervisionValidator{}
	violations, _ := v.Check(tc.vctx)
	must.Len(t, 1, violations)
	must.Eq(t, structs.RuleSupervision, violations[0].Rule)
	must.Eq(t, blockID(start, structs.SessionAM), violations[0].BlockID)

	// Adding a second supervisor clears the block.
	tc.addFaculty("fac-2")
	tc.assign("fac-2", start, structs.SessionAM, "wards", structs.RoleSupervising)
	violations, _ = v.Check(tc.vctx)
	must.Len(t, 0, violations)
}

func TestSupervisionValidator_SeniorRatio(t *testing.T) {
	ci.Parallel(t)

	start := date(2026, 4, 6)
	tc := newTestContext(start, 1)
	for i := 0; i < 4; i++ {
		id := string(rune('a' + i))
		tc.addResident("res-"+id, 2+i%2)
		tc.assign("res-"+id, start, structs.SessionPM, "wards", structs.RolePrimary)
	}
	tc.addFaculty("fac-1")
	tc.assign("fac-1", start, structs.SessionPM, "wards", structs.RoleSupervising)

	// Four seniors need exactly one supervisor.
	v := &SupervisionValidator{}
	violations, _ := v.Check(tc.vctx)
	must.Len(t, 0, violations)

	// A fifth senior pushes the requirement to two.
	tc.addResident("res-e", 3)
	tc.assign("res-e", start, structs.SessionPM, "wards", structs.RolePrimary)
	violations, _ = v.Check(tc.vctx)
	must.Len(t, 1, violations)
}

func TestSupervisionValidator_ResidentCannotSupervise(t *testing.T) {
	ci.Parallel(t)

	start := date(2026, 4, 6)
	tc := newTestContext(start, 1)
	tc.addResident("int-1", 1)
	tc.addResident("res-3", 3)

	tc.assign("int-1", start, structs.SessionAM, "wards", structs.RolePrimary)
	// A senior resident marked supervising does not count toward the ratio.
	tc.assign("res-3", start, structs.SessionAM, "wards", structs.RoleSupervising)

	v := &SupervisionValidator{}
	violations, _ := v.Check(tc.vctx)
	must.Len(t, 1, violations)
}
