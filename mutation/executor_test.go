// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package mutation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/schedcu/autosched/ci"
	"github.com/schedcu/autosched/helper/pointer"
	"github.com/schedcu/autosched/helper/testlog"
	"github.com/schedcu/autosched/state"
	"github.com/schedcu/autosched/structs"
)

func date(day int) time.Time {
	return time.Date(2026, 6, day, 0, 0, 0, 0, time.UTC)
}

func blockID(day int) string {
	return fmt.Sprintf("b-2026-06-%02d-AM", day)
}

func assignmentID(personID string, day int) string {
	return fmt.Sprintf("a-%s-%02d", personID, day)
}

// testSetup seeds a published June 2026 schedule: three residents and one
// faculty member, AM wards blocks for three weeks.
func testSetup(t *testing.T) (*state.StateStore, *Executor) {
	t.Helper()

	store, err := state.NewStateStore(testlog.HCLogger(t))
	must.NoError(t, err)

	persons := []*structs.Person{
		{ID: "res-a", Name: "Adams", Kind: structs.PersonKindResident, PGY: 2},
		{ID: "res-b", Name: "Brooks", Kind: structs.PersonKindResident, PGY: 2},
		{ID: "res-c", Name: "Chen", Kind: structs.PersonKindResident, PGY: 1},
		{ID: "fac-1", Name: "Flores", Kind: structs.PersonKindFaculty},
	}
	for _, p := range persons {
		must.NoError(t, store.UpsertPerson(1, p))
	}

	must.NoError(t, store.UpsertRotationTemplate(1, &structs.RotationTemplate{
		ID:        "wards",
		Name:      "Wards",
		Type:      structs.RotationTypeInpatient,
		Intensity: structs.IntensityStandard,
	}))

	var blocks []*structs.Block
	for day := 1; day <= 21; day++ {
		blocks = append(blocks, &structs.Block{
			ID:      blockID(day),
			Date:    date(day),
			Session: structs.SessionAM,
			Number:  day,
		})
	}
	must.NoError(t, store.UpsertBlocks(1, blocks))

	ex := NewExecutor(testlog.HCLogger(t), store, nil, 10)
	ex.now = func() time.Time { return time.Date(2026, 6, 5, 9, 0, 0, 0, time.UTC) }
	return store, ex
}

func assign(t *testing.T, store *state.StateStore, personID string, day int) {
	t.Helper()
	must.NoError(t, store.UpsertAssignments(2, []*structs.Assignment{{
		ID:                 assignmentID(personID, day),
		BlockID:            blockID(day),
		PersonID:           personID,
		RotationTemplateID: "wards",
		Role:               structs.RolePrimary,
		Source:             structs.SourceGenerated,
		Date:               date(day),
	}}))
}

func requestAndApprove(t *testing.T, ex *Executor, swap *structs.Swap) {
	t.Helper()
	ctx := context.Background()
	res, err := ex.Request(ctx, swap)
	must.NoError(t, err)
	must.True(t, res.Success)
	res, err = ex.Approve(ctx, swap.ID, "fac-1")
	must.NoError(t, err)
	must.True(t, res.Success)
}

func TestExecutor_RequestLifecycle(t *testing.T) {
	ci.Parallel(t)

	store, ex := testSetup(t)
	assign(t, store, "res-a", 10)
	ctx := context.Background()

	swap := &structs.Swap{
		SourcePersonID: "res-a",
		SourceDate:     date(10),
		TargetPersonID: "res-b",
		Kind:           structs.SwapKindOneToOne,
	}
	res, err := ex.Request(ctx, swap)
	must.NoError(t, err)
	must.True(t, res.Success)
	must.NotEq(t, "", swap.ID)

	stored, err := store.SwapByID(swap.ID)
	must.NoError(t, err)
	must.Eq(t, structs.SwapStatusPending, stored.Status)

	// No assignment on the source date: rejected up front.
	res, err = ex.Request(ctx, &structs.Swap{
		SourcePersonID: "res-b",
		SourceDate:     date(11),
		TargetPersonID: "res-a",
		Kind:           structs.SwapKindOneToOne,
	})
	must.NoError(t, err)
	must.False(t, res.Success)
	must.Eq(t, structs.ErrCodeForbidden, res.Errors[0].Code)
}

func TestExecutor_ApproveRoleChecks(t *testing.T) {
	ci.Parallel(t)

	store, ex := testSetup(t)
	assign(t, store, "res-a", 10)
	ctx := context.Background()

	swap := &structs.Swap{
		SourcePersonID: "res-a",
		SourceDate:     date(10),
		TargetPersonID: "res-b",
		Kind:           structs.SwapKindOneToOne,
	}
	res, err := ex.Request(ctx, swap)
	must.NoError(t, err)
	must.True(t, res.Success)

	// Residents cannot approve.
	res, err = ex.Approve(ctx, swap.ID, "res-b")
	must.NoError(t, err)
	must.False(t, res.Success)
	must.Eq(t, structs.ErrCodeForbidden, res.Errors[0].Code)

	res, err = ex.Approve(ctx, swap.ID, "fac-1")
	must.NoError(t, err)
	must.True(t, res.Success)

	stored, err := store.SwapByID(swap.ID)
	must.NoError(t, err)
	must.Eq(t, structs.SwapStatusApproved, stored.Status)
	must.NotNil(t, stored.ApprovedAt)

	// Approving twice is a state error, not a role error.
	res, err = ex.Approve(ctx, swap.ID, "fac-1")
	must.NoError(t, err)
	must.False(t, res.Success)
	must.Eq(t, structs.ErrCodeSwapState, res.Errors[0].Code)
}

func TestExecutor_CancelOnlyRequester(t *testing.T) {
	ci.Parallel(t)

	store, ex := testSetup(t)
	assign(t, store, "res-a", 10)
	ctx := context.Background()

	swap := &structs.Swap{
		SourcePersonID: "res-a",
		SourceDate:     date(10),
		TargetPersonID: "res-b",
		Kind:           structs.SwapKindOneToOne,
	}
	res, err := ex.Request(ctx, swap)
	must.NoError(t, err)
	must.True(t, res.Success)

	res, err = ex.Cancel(ctx, swap.ID, "res-b")
	must.NoError(t, err)
	must.False(t, res.Success)
	must.Eq(t, structs.ErrCodeForbidden, res.Errors[0].Code)

	res, err = ex.Cancel(ctx, swap.ID, "res-a")
	must.NoError(t, err)
	must.True(t, res.Success)

	stored, err := store.SwapByID(swap.ID)
	must.NoError(t, err)
	must.Eq(t, structs.SwapStatusCancelled, stored.Status)
	must.NotNil(t, stored.ResolvedAt)
}

func TestExecutor_ExecuteOneToOne(t *testing.T) {
	ci.Parallel(t)

	store, ex := testSetup(t)
	assign(t, store, "res-a", 10)
	assign(t, store, "res-b", 12)
	ctx := context.Background()

	swap := &structs.Swap{
		SourcePersonID: "res-a",
		SourceDate:     date(10),
		TargetPersonID: "res-b",
		TargetDate:     pointer.Of(date(12)),
		Kind:           structs.SwapKindOneToOne,
	}
	requestAndApprove(t, ex, swap)

	res, err := ex.Execute(ctx, swap.ID)
	must.NoError(t, err)
	must.True(t, res.Success)

	// Both sides changed hands and are audit-marked.
	a1, err := store.AssignmentByID(assignmentID("res-a", 10))
	must.NoError(t, err)
	must.Eq(t, "res-b", a1.PersonID)
	must.Eq(t, structs.SourceSwap, a1.Source)

	a2, err := store.AssignmentByID(assignmentID("res-b", 12))
	must.NoError(t, err)
	must.Eq(t, "res-a", a2.PersonID)
	must.Eq(t, structs.SourceSwap, a2.Source)

	stored, err := store.SwapByID(swap.ID)
	must.NoError(t, err)
	must.Eq(t, structs.SwapStatusExecuted, stored.Status)
	must.Len(t, 2, stored.PriorAssignments)
	must.NotNil(t, stored.RollbackDeadline)
	must.Eq(t, stored.ExecutedAt.Add(structs.SwapRollbackWindow), *stored.RollbackDeadline)
}

func TestExecutor_ExecuteBlockedByIntroducedViolation(t *testing.T) {
	ci.Parallel(t)

	store, ex := testSetup(t)
	ctx := context.Background()

	// res-b already works six consecutive days; taking over a seventh would
	// break the one-in-seven rule.
	for day := 8; day <= 13; day++ {
		assign(t, store, "res-b", day)
	}
	assign(t, store, "res-a", 14)

	swap := &structs.Swap{
		SourcePersonID: "res-a",
		SourceDate:     date(14),
		TargetPersonID: "res-b",
		Kind:           structs.SwapKindAbsorb,
	}
	requestAndApprove(t, ex, swap)

	res, err := ex.Execute(ctx, swap.ID)
	must.NoError(t, err)
	must.False(t, res.Success)
	must.StrContains(t, res.Errors[0].Message, "violation")

	// The published schedule is untouched.
	a, err := store.AssignmentByID(assignmentID("res-a", 14))
	must.NoError(t, err)
	must.Eq(t, "res-a", a.PersonID)
	must.Eq(t, structs.SourceGenerated, a.Source)
}

func TestExecutor_ExecuteMultiWayUnsupported(t *testing.T) {
	ci.Parallel(t)

	store, ex := testSetup(t)
	assign(t, store, "res-a", 10)
	ctx := context.Background()

	swap := &structs.Swap{
		ID:             "swap-mw",
		RequesterID:    "res-a",
		SourcePersonID: "res-a",
		SourceDate:     date(10),
		Kind:           structs.SwapKindMultiWay,
		Status:         structs.SwapStatusApproved,
		CreatedAt:      date(5),
	}
	must.NoError(t, store.UpsertSwapCAS(3, 0, swap))

	_, err := ex.Execute(ctx, "swap-mw")
	must.ErrorIs(t, err, structs.ErrUnsupportedSwapKind)
}

func TestExecutor_Rollback(t *testing.T) {
	ci.Parallel(t)

	store, ex := testSetup(t)
	assign(t, store, "res-a", 10)
	assign(t, store, "res-b", 12)
	ctx := context.Background()

	swap := &structs.Swap{
		SourcePersonID: "res-a",
		SourceDate:     date(10),
		TargetPersonID: "res-b",
		TargetDate:     pointer.Of(date(12)),
		Kind:           structs.SwapKindOneToOne,
	}
	requestAndApprove(t, ex, swap)

	res, err := ex.Execute(ctx, swap.ID)
	must.NoError(t, err)
	must.True(t, res.Success)

	res, err = ex.Rollback(ctx, swap.ID)
	must.NoError(t, err)
	must.True(t, res.Success)

	// The exact pre-swap assignments are back.
	a1, err := store.AssignmentByID(assignmentID("res-a", 10))
	must.NoError(t, err)
	must.Eq(t, "res-a", a1.PersonID)
	must.Eq(t, structs.SourceGenerated, a1.Source)

	a2, err := store.AssignmentByID(assignmentID("res-b", 12))
	must.NoError(t, err)
	must.Eq(t, "res-b", a2.PersonID)

	stored, err := store.SwapByID(swap.ID)
	must.NoError(t, err)
	must.Eq(t, structs.SwapStatusRolledBack, stored.Status)

	// Terminal: a second rollback is refused.
	res, err = ex.Rollback(ctx, swap.ID)
	must.NoError(t, err)
	must.False(t, res.Success)
	must.Eq(t, structs.ErrCodeSwapState, res.Errors[0].Code)
}

func TestExecutor_RollbackWindowExpired(t *testing.T) {
	ci.Parallel(t)

	store, ex := testSetup(t)
	assign(t, store, "res-a", 10)
	assign(t, store, "res-b", 12)
	ctx := context.Background()

	clock := time.Date(2026, 6, 5, 9, 0, 0, 0, time.UTC)
	ex.now = func() time.Time { return clock }

	swap := &structs.Swap{
		SourcePersonID: "res-a",
		SourceDate:     date(10),
		TargetPersonID: "res-b",
		TargetDate:     pointer.Of(date(12)),
		Kind:           structs.SwapKindOneToOne,
	}
	requestAndApprove(t, ex, swap)

	res, err := ex.Execute(ctx, swap.ID)
	must.NoError(t, err)
	must.True(t, res.Success)

	// One minute past the 24h window.
	clock = clock.Add(structs.SwapRollbackWindow + time.Minute)

	res, err = ex.Rollback(ctx, swap.ID)
	must.NoError(t, err)
	must.False(t, res.Success)
	must.Eq(t, structs.ErrCodeSwapWindow, res.Errors[0].Code)
	must.StrContains(t, res.Errors[0].Message, "rollback window expired")

	// The executed swap stays executed.
	a1, err := store.AssignmentByID(assignmentID("res-a", 10))
	must.NoError(t, err)
	must.Eq(t, "res-b", a1.PersonID)
}

func TestExecutor_RollbackForeclosedByLaterSwap(t *testing.T) {
	ci.Parallel(t)

	store, ex := testSetup(t)
	assign(t, store, "res-a", 10)
	assign(t, store, "res-b", 12)
	assign(t, store, "res-c", 16)
	ctx := context.Background()

	first := &structs.Swap{
		SourcePersonID: "res-a",
		SourceDate:     date(10),
		TargetPersonID: "res-b",
		TargetDate:     pointer.Of(date(12)),
		Kind:           structs.SwapKindOneToOne,
	}
	requestAndApprove(t, ex, first)
	res, err := ex.Execute(ctx, first.ID)
	must.NoError(t, err)
	must.True(t, res.Success)

	// A second swap touching res-b executes afterwards.
	second := &structs.Swap{
		SourcePersonID: "res-c",
		SourceDate:     date(16),
		TargetPersonID: "res-b",
		Kind:           structs.SwapKindAbsorb,
	}
	requestAndApprove(t, ex, second)
	res, err = ex.Execute(ctx, second.ID)
	must.NoError(t, err)
	must.True(t, res.Success)

	stored, err := store.SwapByID(first.ID)
	must.NoError(t, err)
	must.True(t, stored.ModifiedSinceExecution)

	res, err = ex.Rollback(ctx, first.ID)
	must.NoError(t, err)
	must.False(t, res.Success)
	must.StrContains(t, res.Errors[0].Message, "modified")
}
