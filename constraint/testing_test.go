// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package constraint

import (
	"fmt"
	"time"

	"github.com/schedcu/autosched/structs"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// testContext builds a ValidationContext over a date range with two blocks
// per day and a small person roster.
type testContext struct {
	vctx *ValidationContext
}

func newTestContext(start time.Time, days int) *testContext {
	vctx := &ValidationContext{
		Start:     start,
		End:       start.AddDate(0, 0, days-1),
		Persons:   make(map[string]*structs.Person),
		Blocks:    make(map[string]*structs.Block),
		Templates: make(map[string]*structs.RotationTemplate),
	}

	num := 0
	for d := 0; d < days; d++ {
		day := start.AddDate(0, 0, d)
		for _, sess := range []structs.Session{structs.SessionAM, structs.SessionPM} {
			num++
			b := &structs.Block{
				ID:      blockID(day, sess),
				Date:    day,
				Session: sess,
				Number:  num,
				Weekend: day.Weekday() == time.Saturday || day.Weekday() == time.Sunday,
			}
			vctx.Blocks[b.ID] = b
		}
	}

	vctx.Templates["wards"] = &structs.RotationTemplate{
		ID: "wards", Name: "Inpatient Wards", Type: structs.RotationTypeInpatient,
		SupervisionRequired: true, MaxResidents: 4, Intensity: structs.IntensityStandard,
	}
	vctx.Templates["icu"] = &structs.RotationTemplate{
		ID: "icu", Name: "ICU", Type: structs.RotationTypeInpatient,
		SupervisionRequired: true, MaxResidents: 2, Intensity: structs.IntensityIntensive,
	}
	vctx.Templates["call"] = &structs.RotationTemplate{
		ID: "call", Name: "Night Call", Type: structs.RotationTypeCall,
		SupervisionRequired: true, MaxResidents: 1, Intensity: structs.IntensityIntensive,
	}

	return &testContext{vctx: vctx}
}

func blockID(day time.Time, sess structs.Session) string {
	return fmt.Sprintf("b-%s-%s", structs.DateKey(day), sess)
}

func (tc *testContext) addResident(id string, pgy int) *structs.Person {
	p := &structs.Person{ID: id, Name: id, Kind: structs.PersonKindResident, PGY: pgy}
	tc.vctx.Persons[id] = p
	return p
}

func (tc *testContext) addFaculty(id string) *structs.Person {
	p := &structs.Person{ID: id, Name: id, Kind: structs.PersonKindFaculty}
	tc.vctx.Persons[id] = p
	return p
}

func (tc *testContext) assign(personID string, day time.Time, sess structs.Session, templateID string, role structs.AssignmentRole) *structs.Assignment {
	a := &structs.Assignment{
		ID:                 fmt.Sprintf("a-%s-%s-%s", personID, structs.DateKey(day), sess),
		BlockID:            blockID(day, sess),
		PersonID:           personID,
		RotationTemplateID: templateID,
		Role:               role,
		Source:             structs.SourceGenerated,
		Date:               day,
	}
	tc.vctx.Assignments = append(tc.vctx.Assignments, a)
	return a
}

// assignDay adds AM and PM primary assignments for one person.
func (tc *testContext) assignDay(personID string, day time.Time, templateID string) {
	tc.assign(personID, day, structs.SessionAM, templateID, structs.RolePrimary)
	tc.assign(personID, day, structs.SessionPM, templateID, structs.RolePrimary)
}

func violationsOf(vs []*structs.Violation, rule structs.RuleType) []*structs.Violation {
	var out []*structs.Violation
	for _, v := range vs {
		if v.Rule == rule {
			out = append(out, v)
		}
	}
	return out
}
