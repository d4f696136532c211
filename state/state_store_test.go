// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package state

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/schedcu/autosched/ci"
	"github.com/schedcu/autosched/helper/testlog"
	"github.com/schedcu/autosched/structs"
	"github.com/shoenig/test/must"
)

func testStateStore(t *testing.T) *StateStore {
	t.Helper()
	store, err := NewStateStore(testlog.HCLogger(t))
	must.NoError(t, err)
	return store
}

func TestStateStore_Persons(t *testing.T) {
	ci.Parallel(t)

	store := testStateStore(t)

	p := &structs.Person{ID: "res-1", Kind: structs.PersonKindResident, PGY: 2}
	must.NoError(t, store.UpsertPerson(10, p))

	got, err := store.PersonByID("res-1")
	must.NoError(t, err)
	must.Eq(t, uint64(10), got.CreateIndex)
	must.Eq(t, uint64(10), got.ModifyIndex)

	// Re-upsert keeps the create index, advances modify.
	p.PGY = 3
	must.NoError(t, store.UpsertPerson(11, p))
	got, err = store.PersonByID("res-1")
	must.NoError(t, err)
	must.Eq(t, 3, got.PGY)
	must.Eq(t, uint64(10), got.CreateIndex)
	must.Eq(t, uint64(11), got.ModifyIndex)

	// Mutating the caller's copy does not leak into the store.
	p.PGY = 9
	got, err = store.PersonByID("res-1")
	must.NoError(t, err)
	must.Eq(t, 3, got.PGY)

	// Invalid persons never land.
	must.Error(t, store.UpsertPerson(12, &structs.Person{ID: "bad id!", Kind: structs.PersonKindResident, PGY: 1}))

	missing, err := store.PersonByID("nope")
	must.NoError(t, err)
	must.Nil(t, missing)
}

func TestStateStore_BlocksByDateRange(t *testing.T) {
	ci.Parallel(t)

	store := testStateStore(t)
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	var blocks []*structs.Block
	for d := 0; d < 10; d++ {
		day := start.AddDate(0, 0, d)
		for _, sess := range []structs.Session{structs.SessionAM, structs.SessionPM} {
			blocks = append(blocks, &structs.Block{
				ID:      fmt.Sprintf("b-%s-%s", structs.DateKey(day), sess),
				Date:    day,
				Session: sess,
			})
		}
	}
	must.NoError(t, store.UpsertBlocks(1, blocks))

	got, err := store.BlocksByDateRange(start.AddDate(0, 0, 2), start.AddDate(0, 0, 4))
	must.NoError(t, err)
	must.Len(t, 6, got)
	for i := 1; i < len(got); i++ {
		must.False(t, got[i].Date.Before(got[i-1].Date))
	}
}

func TestStateStore_TemplateArchive(t *testing.T) {
	ci.Parallel(t)

	store := testStateStore(t)
	tmpl := &structs.RotationTemplate{
		ID: "wards", Name: "Wards", Type: structs.RotationTypeInpatient,
		Intensity: structs.IntensityStandard,
	}
	must.NoError(t, store.UpsertRotationTemplate(1, tmpl))

	at := time.Date(2026, 5, 15, 12, 0, 0, 0, time.UTC)
	must.NoError(t, store.ArchiveRotationTemplate(2, "wards", at))

	// Archived templates still resolve by ID.
	got, err := store.RotationTemplateByID("wards")
	must.NoError(t, err)
	must.True(t, got.Archived())

	// But disappear from the active listing.
	active, err := store.RotationTemplates(false)
	must.NoError(t, err)
	must.MapNotContainsKey(t, active, "wards")

	all, err := store.RotationTemplates(true)
	must.NoError(t, err)
	must.MapContainsKey(t, all, "wards")

	// Archiving a missing template is a not-found error.
	err = store.ArchiveRotationTemplate(3, "nope", at)
	var verr *structs.ValidationError
	must.True(t, errors.As(err, &verr))
	must.Eq(t, structs.ErrCodeNotFound, verr.Code)
}

func TestStateStore_Assignments(t *testing.T) {
	ci.Parallel(t)

	store := testStateStore(t)
	start := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

	mk := func(id, person string, day int) *structs.Assignment {
		return &structs.Assignment{
			ID:       id,
			BlockID:  fmt.Sprintf("b-%d", day),
			PersonID: person,
			Role:     structs.RolePrimary,
			Date:     start.AddDate(0, 0, day),
		}
	}
	must.NoError(t, store.UpsertAssignments(5, []*structs.Assignment{
		mk("a-1", "res-1", 0),
		mk("a-2", "res-1", 3),
		mk("a-3", "res-2", 5),
	}))

	byPerson, err := store.AssignmentsByPerson("res-1")
	must.NoError(t, err)
	must.Len(t, 2, byPerson)

	byRange, err := store.AssignmentsByDateRange(start.AddDate(0, 0, 1), start.AddDate(0, 0, 5))
	must.NoError(t, err)
	must.Len(t, 2, byRange)

	// Blank IDs are rejected before anything is written.
	err = store.UpsertAssignments(6, []*structs.Assignment{{PersonID: "res-3"}})
	must.Error(t, err)

	must.NoError(t, store.DeleteAssignment("a-2"))
	byPerson, err = store.AssignmentsByPerson("res-1")
	must.NoError(t, err)
	must.Len(t, 1, byPerson)

	must.Error(t, store.DeleteAssignment("a-2"))
}

func TestStateStore_AssignmentsCAS(t *testing.T) {
	ci.Parallel(t)

	store := testStateStore(t)
	a := &structs.Assignment{
		ID: "a-1", BlockID: "b-1", PersonID: "res-1",
		Role: structs.RolePrimary,
		Date: time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC),
	}
	must.NoError(t, store.UpsertAssignments(5, []*structs.Assignment{a}))

	// A stale expectation conflicts.
	err := store.UpsertAssignmentsCAS(7, map[string]uint64{"a-1": 4}, []*structs.Assignment{a})
	must.ErrorIs(t, err, structs.ErrCASConflict)

	// The correct expectation wins and advances the index.
	must.NoError(t, store.UpsertAssignmentsCAS(7, map[string]uint64{"a-1": 5}, []*structs.Assignment{a}))
	got, err := store.AssignmentByID("a-1")
	must.NoError(t, err)
	must.Eq(t, uint64(7), got.ModifyIndex)

	// Expecting absence of a record that exists conflicts too.
	err = store.UpsertAssignmentsCAS(8, map[string]uint64{"a-1": 0}, []*structs.Assignment{a})
	must.ErrorIs(t, err, structs.ErrCASConflict)
}

func TestStateStore_Swaps(t *testing.T) {
	ci.Parallel(t)

	store := testStateStore(t)
	swap := &structs.Swap{
		ID:             "swap-1",
		RequesterID:    "res-1",
		SourcePersonID: "res-1",
		SourceDate:     time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC),
		Kind:           structs.SwapKindAbsorb,
		Status:         structs.SwapStatusPending,
	}

	// First write expects absence.
	must.NoError(t, store.UpsertSwapCAS(3, 0, swap))

	// Writing again with expectation zero conflicts.
	must.ErrorIs(t, store.UpsertSwapCAS(4, 0, swap), structs.ErrCASConflict)

	swap.Status = structs.SwapStatusApproved
	must.NoError(t, store.UpsertSwapCAS(4, 3, swap))

	got, err := store.SwapByID("swap-1")
	must.NoError(t, err)
	must.Eq(t, structs.SwapStatusApproved, got.Status)
	must.Eq(t, uint64(3), got.CreateIndex)
	must.Eq(t, uint64(4), got.ModifyIndex)

	byReq, err := store.SwapsByRequester("res-1")
	must.NoError(t, err)
	must.Len(t, 1, byReq)

	approved, err := store.SwapsByStatus(structs.SwapStatusApproved)
	must.NoError(t, err)
	must.Len(t, 1, approved)
	pending, err := store.SwapsByStatus(structs.SwapStatusPending)
	must.NoError(t, err)
	must.Len(t, 0, pending)
}

func TestStateStore_Absences(t *testing.T) {
	ci.Parallel(t)

	store := testStateStore(t)
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	must.NoError(t, store.UpsertAbsence(2, &structs.Absence{
		ID: "ab-1", PersonID: "res-1", Kind: structs.AbsenceVacation,
		Start: start, End: start.AddDate(0, 0, 6),
	}))

	// Inverted ranges are rejected.
	err := store.UpsertAbsence(3, &structs.Absence{
		ID: "ab-2", PersonID: "res-1", Kind: structs.AbsenceSick,
		Start: start, End: start.AddDate(0, 0, -1),
	})
	must.Error(t, err)

	byPerson, err := store.AbsencesByPerson("res-1")
	must.NoError(t, err)
	must.Len(t, 1, byPerson)

	all, err := store.Absences()
	must.NoError(t, err)
	must.Len(t, 1, all)
}
