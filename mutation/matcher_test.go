// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package mutation

import (
	"context"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/schedcu/autosched/ci"
	"github.com/schedcu/autosched/helper/testlog"
	"github.com/schedcu/autosched/structs"
)

func TestMatcher_SuggestOptimalMatches(t *testing.T) {
	ci.Parallel(t)

	store, _ := testSetup(t)
	must.NoError(t, store.UpsertPerson(2, &structs.Person{
		ID: "res-d", Name: "Diaz", Kind: structs.PersonKindResident, PGY: 2,
	}))

	// res-a wants off June 10. res-b (same year) holds June 12, res-c (one
	// year junior) holds June 11, res-d is busy on the source date itself.
	assign(t, store, "res-a", 10)
	assign(t, store, "res-b", 12)
	assign(t, store, "res-c", 11)
	assign(t, store, "res-d", 10)
	assign(t, store, "res-d", 13)

	m := NewMatcher(testlog.HCLogger(t), store)
	swap := &structs.Swap{
		SourcePersonID: "res-a",
		SourceDate:     date(10),
		Kind:           structs.SwapKindOneToOne,
	}

	matches, err := m.SuggestOptimalMatches(context.Background(), swap, 5)
	must.NoError(t, err)
	must.Len(t, 2, matches)

	// Same training year beats closer date proximity.
	must.Eq(t, "res-b", matches[0].PersonID)
	must.Eq(t, date(12), matches[0].Date)
	must.Eq(t, "res-c", matches[1].PersonID)
	must.Greater(t, matches[1].Score, matches[0].Score)

	for _, match := range matches {
		must.NotEq(t, "res-d", match.PersonID)
		must.NotEq(t, "fac-1", match.PersonID)
	}
}

func TestMatcher_ExcludesBlockedCounterparts(t *testing.T) {
	ci.Parallel(t)

	store, _ := testSetup(t)
	assign(t, store, "res-a", 10)
	assign(t, store, "res-b", 12)

	// res-b is deployed over the source date, so covering it is impossible.
	must.NoError(t, store.UpsertAbsence(2, &structs.Absence{
		ID:       "ab-1",
		PersonID: "res-b",
		Start:    date(9),
		End:      date(11),
		Kind:     structs.AbsenceDeployment,
	}))

	m := NewMatcher(testlog.HCLogger(t), store)
	matches, err := m.SuggestOptimalMatches(context.Background(), &structs.Swap{
		SourcePersonID: "res-a",
		SourceDate:     date(10),
	}, 5)
	must.NoError(t, err)
	must.Len(t, 0, matches)
}

func TestMatcher_EquityFavorsLighterCallLoad(t *testing.T) {
	ci.Parallel(t)

	store, ex := testSetup(t)
	must.NoError(t, store.UpsertRotationTemplate(2, &structs.RotationTemplate{
		ID:        "call",
		Name:      "Overnight call",
		Type:      structs.RotationTypeCall,
		Intensity: structs.IntensityIntensive,
	}))
	_ = ex

	// The source carries two weekday call blocks; res-b carries none and
	// res-c carries three.
	for _, a := range []*structs.Assignment{
		{ID: "c-a-1", BlockID: blockID(2), PersonID: "res-a", RotationTemplateID: "call", Role: structs.RolePrimary, Date: date(2)},
		{ID: "c-a-2", BlockID: blockID(4), PersonID: "res-a", RotationTemplateID: "call", Role: structs.RolePrimary, Date: date(4)},
		{ID: "c-c-1", BlockID: blockID(3), PersonID: "res-c", RotationTemplateID: "call", Role: structs.RolePrimary, Date: date(3)},
		{ID: "c-c-2", BlockID: blockID(5), PersonID: "res-c", RotationTemplateID: "call", Role: structs.RolePrimary, Date: date(5)},
		{ID: "c-c-3", BlockID: blockID(8), PersonID: "res-c", RotationTemplateID: "call", Role: structs.RolePrimary, Date: date(8)},
	} {
		must.NoError(t, store.UpsertAssignments(2, []*structs.Assignment{a}))
	}
	assign(t, store, "res-a", 10)
	assign(t, store, "res-b", 12)
	assign(t, store, "res-c", 12)

	m := NewMatcher(testlog.HCLogger(t), store)
	matches, err := m.SuggestOptimalMatches(context.Background(), &structs.Swap{
		SourcePersonID: "res-a",
		SourceDate:     date(10),
	}, 5)
	must.NoError(t, err)
	must.SliceNotEmpty(t, matches)
	must.Eq(t, "res-b", matches[0].PersonID)
	must.SliceContains(t, matches[0].Reasons, "evens out call load")

	// The heavier-loaded res-c ranks behind despite the same counterpart
	// date.
	for _, match := range matches[1:] {
		must.NotEq(t, "res-b", match.PersonID)
	}
}

func TestMatcher_SundayCallDominatesEquity(t *testing.T) {
	ci.Parallel(t)

	store, _ := testSetup(t)
	must.NoError(t, store.UpsertRotationTemplate(2, &structs.RotationTemplate{
		ID:        "call",
		Name:      "Overnight call",
		Type:      structs.RotationTypeCall,
		Intensity: structs.IntensityIntensive,
	}))

	// res-a holds two Sunday calls; res-b holds three weekday calls and so a
	// higher total. Trading toward res-b still evens the Sunday burden.
	for _, a := range []*structs.Assignment{
		{ID: "c-a-1", BlockID: blockID(7), PersonID: "res-a", RotationTemplateID: "call", Role: structs.RolePrimary, Date: date(7)},
		{ID: "c-a-2", BlockID: blockID(14), PersonID: "res-a", RotationTemplateID: "call", Role: structs.RolePrimary, Date: date(14)},
		{ID: "c-b-1", BlockID: blockID(2), PersonID: "res-b", RotationTemplateID: "call", Role: structs.RolePrimary, Date: date(2)},
		{ID: "c-b-2", BlockID: blockID(3), PersonID: "res-b", RotationTemplateID: "call", Role: structs.RolePrimary, Date: date(3)},
		{ID: "c-b-3", BlockID: blockID(4), PersonID: "res-b", RotationTemplateID: "call", Role: structs.RolePrimary, Date: date(4)},
	} {
		must.NoError(t, store.UpsertAssignments(2, []*structs.Assignment{a}))
	}
	assign(t, store, "res-a", 10)
	assign(t, store, "res-b", 12)

	m := NewMatcher(testlog.HCLogger(t), store)
	matches, err := m.SuggestOptimalMatches(context.Background(), &structs.Swap{
		SourcePersonID: "res-a",
		SourceDate:     date(10),
	}, 1)
	must.NoError(t, err)
	must.SliceNotEmpty(t, matches)
	must.Eq(t, "res-b", matches[0].PersonID)
	must.SliceContains(t, matches[0].Reasons, "evens out call load")
}

func TestMatcher_ThresholdFiltersWeakMatches(t *testing.T) {
	ci.Parallel(t)

	store, _ := testSetup(t)
	must.NoError(t, store.UpsertRotationTemplate(2, &structs.RotationTemplate{
		ID:        "call",
		Name:      "Overnight call",
		Type:      structs.RotationTypeCall,
		Intensity: structs.IntensityIntensive,
	}))
	must.NoError(t, store.UpsertPerson(2, &structs.Person{
		ID: "res-e", Name: "Evans", Kind: structs.PersonKindResident, PGY: 4,
	}))

	// res-e is two training years away, holds only distant dates, and
	// carries the heavier call load; every pairing scores below the floor.
	must.NoError(t, store.UpsertAssignments(2, []*structs.Assignment{{
		ID: "c-e-1", BlockID: blockID(2), PersonID: "res-e",
		RotationTemplateID: "call", Role: structs.RolePrimary, Date: date(2),
	}}))
	assign(t, store, "res-e", 21)
	assign(t, store, "res-a", 10)
	assign(t, store, "res-b", 12)

	m := NewMatcher(testlog.HCLogger(t), store)
	matches, err := m.SuggestOptimalMatches(context.Background(), &structs.Swap{
		SourcePersonID: "res-a",
		SourceDate:     date(10),
	}, 5)
	must.NoError(t, err)
	must.SliceNotEmpty(t, matches)
	for _, match := range matches {
		must.NotEq(t, "res-e", match.PersonID)
		must.GreaterEq(t, matchScoreThreshold, match.Score)
	}
}

func TestMatcher_AutoMatchPending(t *testing.T) {
	ci.Parallel(t)

	store, ex := testSetup(t)
	assign(t, store, "res-a", 10)
	assign(t, store, "res-b", 12)

	// A pending request without a counterpart yet.
	must.NoError(t, store.UpsertSwapCAS(3, 0, &structs.Swap{
		ID:             "swap-open",
		RequesterID:    "res-a",
		SourcePersonID: "res-a",
		SourceDate:     date(10),
		Kind:           structs.SwapKindOneToOne,
		Status:         structs.SwapStatusPending,
		CreatedAt:      date(5),
	}))

	m := NewMatcher(testlog.HCLogger(t), store)
	res, err := m.AutoMatchPending(context.Background(), ex)
	must.NoError(t, err)
	must.Eq(t, []string{"swap-open"}, res.Matched)
	must.SliceEmpty(t, res.NoMatch)
	must.SliceEmpty(t, res.HighPriority)

	stored, err := store.SwapByID("swap-open")
	must.NoError(t, err)
	must.Eq(t, "res-b", stored.TargetPersonID)
	must.NotNil(t, stored.TargetDate)
	must.Eq(t, date(12), *stored.TargetDate)
	must.Eq(t, structs.SwapStatusPending, stored.Status)

	// Nothing left to match on a second pass.
	res, err = m.AutoMatchPending(context.Background(), ex)
	must.NoError(t, err)
	must.SliceEmpty(t, res.Matched)
}

func TestMatcher_AutoMatchPendingBuckets(t *testing.T) {
	ci.Parallel(t)

	store, ex := testSetup(t)
	assign(t, store, "res-a", 10)

	// No other resident holds any date, so neither swap can be matched.
	for i, swap := range []*structs.Swap{
		{ID: "swap-near", RequesterID: "res-a", SourcePersonID: "res-a",
			SourceDate: date(10), Kind: structs.SwapKindOneToOne,
			Status: structs.SwapStatusPending, CreatedAt: date(5)},
		{ID: "swap-far", RequesterID: "res-a", SourcePersonID: "res-a",
			SourceDate: date(20), Kind: structs.SwapKindOneToOne,
			Status: structs.SwapStatusPending, CreatedAt: date(5)},
	} {
		must.NoError(t, store.UpsertSwapCAS(uint64(3+i), 0, swap))
	}

	m := NewMatcher(testlog.HCLogger(t), store)
	m.now = func() time.Time { return date(8) }

	res, err := m.AutoMatchPending(context.Background(), ex)
	must.NoError(t, err)
	must.SliceEmpty(t, res.Matched)
	must.Len(t, 2, res.NoMatch)
	must.SliceContains(t, res.NoMatch, "swap-near")
	must.SliceContains(t, res.NoMatch, "swap-far")

	// Only the swap inside the attention window is flagged.
	must.Eq(t, []string{"swap-near"}, res.HighPriority)
}
