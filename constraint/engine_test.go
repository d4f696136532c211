// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package constraint

import (
	"sync"
	"testing"
	"time"

	"github.com/schedcu/autosched/ci"
	"github.com/schedcu/autosched/helper/testlog"
	"github.com/schedcu/autosched/structs"
	"github.com/shoenig/test/must"
)

func TestEngine_Validate(t *testing.T) {
	ci.Parallel(t)

	start := date(2026, 8, 3)
	tc := newTestContext(start, 7)
	tc.addResident("res-1", 1)
	tc.addFaculty("fac-1")

	for d := 0; d < 5; d++ {
		day := start.AddDate(0, 0, d)
		tc.assign("res-1", day, structs.SessionAM, "wards", structs.RolePrimary)
		tc.assign("fac-1", day, structs.SessionAM, "wards", structs.RoleSupervising)
	}

	engine := NewEngine(testlog.HCLogger(t))
	result := engine.Validate(tc.vctx)

	must.True(t, result.Valid)
	must.Eq(t, 1.0, result.Score)
	must.Eq(t, 0, result.TotalViolations)
	must.NotNil(t, result.Metrics)
	must.Eq(t, 30.0, result.Metrics.PerPerson["res-1"].TotalHours)
}

func TestEngine_ValidIffNoCriticalOrHigh(t *testing.T) {
	ci.Parallel(t)

	start := date(2026, 8, 3)
	tc := newTestContext(start, 7)
	tc.addResident("res-1", 1)

	// One uncovered PGY-1 block: a HIGH supervision violation.
	tc.assign("res-1", start, structs.SessionAM, "wards", structs.RolePrimary)

	engine := NewEngine(testlog.HCLogger(t))
	result := engine.Validate(tc.vctx)
	must.False(t, result.Valid)
	must.Eq(t, 1, result.HighViolations)
	must.Eq(t, 1, result.ViolationCounts[structs.RuleSupervision])
}

func TestEngine_DuplicatePrimaryCritical(t *testing.T) {
	ci.Parallel(t)

	start := date(2026, 8, 3)
	tc := newTestContext(start, 1)
	tc.addResident("res-1", 2)

	tc.assign("res-1", start, structs.SessionAM, "wards", structs.RolePrimary)
	tc.assign("res-1", start, structs.SessionAM, "wards", structs.RolePrimary)

	engine := NewEngine(testlog.HCLogger(t))
	violations, _ := engine.Check(tc.vctx)
	dups := violationsOf(violations, structs.RuleDuplicatePrimary)
	must.Len(t, 1, dups)
	must.Eq(t, structs.SeverityCritical, dups[0].Severity)
}

// TestEngine_ConcurrentUse exercises the concurrency-safety contract: one
// engine, many candidates validated in parallel.
func TestEngine_ConcurrentUse(t *testing.T) {
	ci.Parallel(t)

	engine := NewEngine(testlog.HCLogger(t))
	start := date(2026, 8, 3)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tc := newTestContext(start, 14)
			tc.addResident("res-1", 1)
			for d := 0; d <= n; d++ {
				tc.assign("res-1", start.AddDate(0, 0, d), structs.SessionAM, "wards", structs.RolePrimary)
			}
			result := engine.Validate(tc.vctx)
			must.NotNil(t, result)
		}(i)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent validation did not finish")
	}
}

func TestWorkloads(t *testing.T) {
	ci.Parallel(t)

	start := date(2026, 8, 3) // a Monday
	tc := newTestContext(start, 7)
	tc.addResident("res-1", 2)
	tc.addResident("res-2", 2)

	// res-1: two standard days plus Sunday call.
	tc.assign("res-1", start, structs.SessionAM, "wards", structs.RolePrimary)
	tc.assign("res-1", start.AddDate(0, 0, 1), structs.SessionAM, "wards", structs.RolePrimary)
	tc.assign("res-1", start.AddDate(0, 0, 6), structs.SessionPM, "call", structs.RolePrimary)

	// res-2: one weekday call.
	tc.assign("res-2", start.AddDate(0, 0, 2), structs.SessionPM, "call", structs.RolePrimary)

	w := Workloads(tc.vctx)
	must.Eq(t, 24.0, w["res-1"].TotalHours) // 6+6+12
	must.Eq(t, 1, w["res-1"].CallCount)
	must.Eq(t, 1, w["res-1"].SundayCalls)
	must.Eq(t, 1, w["res-1"].WeekendCount)

	must.Eq(t, 1, w["res-2"].CallCount)
	must.Eq(t, 1, w["res-2"].WeekdayCalls)
	must.Eq(t, 0, w["res-2"].SundayCalls)
}
