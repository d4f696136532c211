// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package constraint

import (
	"testing"
	"time"

	"github.com/schedcu/autosched/ci"
	"github.com/schedcu/autosched/structs"
	"github.com/shoenig/test/must"
)

func swapFixture(t *testing.T) (*testContext, time.Time) {
	t.Helper()
	start := date(2026, 7, 6)
	tc := newTestContext(start, 14)
	tc.addResident("res-a", 2)
	tc.addResident("res-b", 2)
	tc.assignDay("res-a", start.AddDate(0, 0, 2), "wards")
	tc.assignDay("res-b", start.AddDate(0, 0, 9), "wards")
	return tc, start
}

func TestCheckSwapCreate_OK(t *testing.T) {
	ci.Parallel(t)

	tc, start := swapFixture(t)
	now := start.AddDate(0, 0, 1)
	td := start.AddDate(0, 0, 9)

	swap := &structs.Swap{
		ID:             "swap-1",
		RequesterID:    "res-a",
		SourcePersonID: "res-a",
		SourceDate:     start.AddDate(0, 0, 2),
		TargetPersonID: "res-b",
		TargetDate:     &td,
		Kind:           structs.SwapKindOneToOne,
		Status:         structs.SwapStatusPending,
	}
	errs := CheckSwapCreate(tc.vctx, swap, now)
	must.Len(t, 0, errs)
}

func TestCheckSwapCreate_Rejections(t *testing.T) {
	ci.Parallel(t)

	tc, start := swapFixture(t)
	now := start.AddDate(0, 0, 5)

	// No assignment on the source date.
	swap := &structs.Swap{
		RequesterID:    "res-a",
		SourcePersonID: "res-a",
		SourceDate:     start.AddDate(0, 0, 6),
		Kind:           structs.SwapKindAbsorb,
	}
	errs := CheckSwapCreate(tc.vctx, swap, now)
	must.SliceContainsFunc(t, errs, structs.ErrCodeForbidden,
		func(e *structs.ValidationError, code string) bool { return e.Code == code })

	// Source date in the past.
	swap = &structs.Swap{
		RequesterID:    "res-a",
		SourcePersonID: "res-a",
		SourceDate:     start.AddDate(0, 0, 2),
		Kind:           structs.SwapKindAbsorb,
	}
	errs = CheckSwapCreate(tc.vctx, swap, now)
	must.SliceContainsFunc(t, errs, structs.ErrCodeBadDateRange,
		func(e *structs.ValidationError, code string) bool { return e.Code == code })

	// Beyond the 180-day horizon.
	far := &structs.Swap{
		RequesterID:    "res-a",
		SourcePersonID: "res-a",
		SourceDate:     now.AddDate(0, 0, 200),
		Kind:           structs.SwapKindAbsorb,
	}
	errs = CheckSwapCreate(tc.vctx, far, now)
	must.SliceContainsFunc(t, errs, structs.ErrCodeBadDateRange,
		func(e *structs.ValidationError, code string) bool { return e.Code == code })
}

func TestCheckSwapCreate_PendingLimit(t *testing.T) {
	ci.Parallel(t)

	tc, start := swapFixture(t)
	now := start.AddDate(0, 0, 1)

	for i := 0; i < structs.SwapMaxPending; i++ {
		tc.vctx.Swaps = append(tc.vctx.Swaps, &structs.Swap{
			RequesterID:    "res-a",
			SourcePersonID: "res-a",
			Status:         structs.SwapStatusPending,
		})
	}

	swap := &structs.Swap{
		RequesterID:    "res-a",
		SourcePersonID: "res-a",
		SourceDate:     start.AddDate(0, 0, 2),
		Kind:           structs.SwapKindAbsorb,
	}
	errs := CheckSwapCreate(tc.vctx, swap, now)
	must.SliceContainsFunc(t, errs, structs.ErrCodeSwapLimit,
		func(e *structs.ValidationError, code string) bool { return e.Code == code })
}

func TestCheckSwapCreate_OneToOneTarget(t *testing.T) {
	ci.Parallel(t)

	tc, start := swapFixture(t)
	now := start.AddDate(0, 0, 1)

	// Target missing entirely.
	swap := &structs.Swap{
		RequesterID:    "res-a",
		SourcePersonID: "res-a",
		SourceDate:     start.AddDate(0, 0, 2),
		Kind:           structs.SwapKindOneToOne,
	}
	errs := CheckSwapCreate(tc.vctx, swap, now)
	must.SliceContainsFunc(t, errs, structs.ErrCodeBadValue,
		func(e *structs.ValidationError, code string) bool { return e.Code == code })

	// Target already assigned on the source date would double-book.
	tc.assignDay("res-b", start.AddDate(0, 0, 2), "wards")
	swap.TargetPersonID = "res-b"
	errs = CheckSwapCreate(tc.vctx, swap, now)
	must.SliceContainsFunc(t, errs, structs.ErrCodeConflict,
		func(e *structs.ValidationError, code string) bool { return e.Code == code })
}

func TestApplySwap_OneToOne(t *testing.T) {
	ci.Parallel(t)

	tc, start := swapFixture(t)
	td := start.AddDate(0, 0, 9)
	swap := &structs.Swap{
		SourcePersonID: "res-a",
		SourceDate:     start.AddDate(0, 0, 2),
		TargetPersonID: "res-b",
		TargetDate:     &td,
		Kind:           structs.SwapKindOneToOne,
	}

	post := ApplySwap(tc.vctx, swap)
	for _, a := range post {
		day := structs.Midnight(a.Date)
		switch {
		case day.Equal(start.AddDate(0, 0, 2)):
			must.Eq(t, "res-b", a.PersonID)
			must.Eq(t, structs.SourceSwap, a.Source)
		case day.Equal(td):
			must.Eq(t, "res-a", a.PersonID)
		}
	}

	// The original context is untouched.
	for _, a := range tc.vctx.Assignments {
		must.Eq(t, structs.SourceGenerated, a.Source)
	}
}

func TestCheckSwapExecute_IntroducedViolations(t *testing.T) {
	ci.Parallel(t)

	start := date(2026, 7, 6)
	tc := newTestContext(start, 14)
	tc.addResident("res-a", 2)
	tc.addResident("res-b", 2)

	// res-b already carries six consecutive assigned days; absorbing one
	// more contiguous day creates a 1-in-7 violation that did not exist.
	for d := 1; d <= 6; d++ {
		tc.assign("res-b", start.AddDate(0, 0, d), structs.SessionAM, "wards", structs.RolePrimary)
	}
	tc.assign("res-a", start.AddDate(0, 0, 7), structs.SessionAM, "wards", structs.RolePrimary)

	swap := &structs.Swap{
		SourcePersonID: "res-a",
		SourceDate:     start.AddDate(0, 0, 7),
		TargetPersonID: "res-b",
		Kind:           structs.SwapKindAbsorb,
	}

	introduced := CheckSwapExecute(tc.vctx, swap)
	must.SliceContainsFunc(t, introduced, structs.RuleOneInSeven,
		func(v *structs.Violation, rule structs.RuleType) bool { return v.Rule == rule })
}

func TestCheckSwapExecute_MultiWayRejected(t *testing.T) {
	ci.Parallel(t)

	tc, start := swapFixture(t)
	swap := &structs.Swap{
		SourcePersonID: "res-a",
		SourceDate:     start.AddDate(0, 0, 2),
		Kind:           structs.SwapKindMultiWay,
	}
	introduced := CheckSwapExecute(tc.vctx, swap)
	must.Len(t, 1, introduced)
	must.Eq(t, structs.RuleSwapEligibility, introduced[0].Rule)
	must.Eq(t, structs.SeverityCritical, introduced[0].Severity)
}
