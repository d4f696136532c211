// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package constraint

import (
	"fmt"
	"time"

	"github.com/schedcu/autosched/structs"
)

// CheckSwapCreate validates a swap request before creation. Errors are
// caller-fixable and surfaced verbatim; nothing here mutates state.
func CheckSwapCreate(vctx *ValidationContext, swap *structs.Swap, now time.Time) []*structs.ValidationError {
	var errs []*structs.ValidationError
	add := func(code, msg, field string) {
		errs = append(errs, &structs.ValidationError{Code: code, Message: msg, Field: field})
	}

	if verr := structs.ValidateIdentifier("swap.source_person_id", swap.SourcePersonID); verr != nil {
		errs = append(errs, verr)
	}

	// The requester must own an assignment on the source date.
	if !hasPrimaryOn(vctx, swap.SourcePersonID, swap.SourceDate) {
		add(structs.ErrCodeForbidden,
			fmt.Sprintf("person %s has no assignment on %s", swap.SourcePersonID, structs.DateKey(swap.SourceDate)),
			"swap.source_date")
	}

	// Source date must be in the future and within the horizon.
	source := structs.Midnight(swap.SourceDate)
	today := structs.Midnight(now)
	if source.Before(today) {
		add(structs.ErrCodeBadDateRange, "swap source date is in the past", "swap.source_date")
	}
	if source.After(today.AddDate(0, 0, structs.SwapMaxFutureDays)) {
		add(structs.ErrCodeBadDateRange,
			fmt.Sprintf("swap source date is more than %d days in the future", structs.SwapMaxFutureDays),
			"swap.source_date")
	}

	// Pending swap cap per person.
	pending := 0
	for _, s := range vctx.Swaps {
		if s.Status == structs.SwapStatusPending &&
			(s.RequesterID == swap.RequesterID || s.SourcePersonID == swap.SourcePersonID) {
			pending++
		}
	}
	if pending >= structs.SwapMaxPending {
		add(structs.ErrCodeSwapLimit,
			fmt.Sprintf("person already has %d pending swaps, limit is %d", pending, structs.SwapMaxPending),
			"swap")
	}

	if swap.Kind == structs.SwapKindOneToOne {
		if swap.TargetPersonID == "" {
			add(structs.ErrCodeBadValue, "one-to-one swap requires a target person", "swap.target_person_id")
		} else if vctx.Persons[swap.TargetPersonID] == nil {
			add(structs.ErrCodeNotFound,
				fmt.Sprintf("target person %s not found", swap.TargetPersonID), "swap.target_person_id")
		} else if hasPrimaryOn(vctx, swap.TargetPersonID, swap.SourceDate) {
			add(structs.ErrCodeConflict,
				fmt.Sprintf("target person %s is already assigned on %s",
					swap.TargetPersonID, structs.DateKey(swap.SourceDate)),
				"swap.source_date")
		}
	}

	return errs
}

// CheckSwapExecute simulates the post-swap assignment set and re-runs the
// duty-hour and supervision validators, returning only violations the swap
// introduces.
func CheckSwapExecute(vctx *ValidationContext, swap *structs.Swap) []*structs.Violation {
	if swap.Kind == structs.SwapKindMultiWay {
		return []*structs.Violation{{
			Rule:     structs.RuleSwapEligibility,
			Severity: structs.SeverityCritical,
			PersonID: swap.SourcePersonID,
			Message:  "multi-way swaps have no executor",
		}}
	}

	post := *vctx
	post.Assignments = ApplySwap(vctx, swap)

	pre := swapRelevantViolations(vctx)
	after := swapRelevantViolations(&post)

	preKeys := make(map[string]bool, len(pre))
	for _, v := range pre {
		preKeys[violationKey(v)] = true
	}

	var introduced []*structs.Violation
	for _, v := range after {
		if !preKeys[violationKey(v)] {
			introduced = append(introduced, v)
		}
	}
	return introduced
}

// ApplySwap returns a copy of the context's assignments with the swap
// applied: the source person's primary assignments on the source date move to
// the target, and for one-to-one swaps the target's assignments on the
// target date move back.
func ApplySwap(vctx *ValidationContext, swap *structs.Swap) []*structs.Assignment {
	out := structs.CopyAssignments(vctx.Assignments)
	for _, a := range out {
		if a.Role != structs.RolePrimary {
			continue
		}
		date := structs.Midnight(a.Date)
		switch {
		case a.PersonID == swap.SourcePersonID && date.Equal(structs.Midnight(swap.SourceDate)):
			if swap.TargetPersonID != "" {
				a.PersonID = swap.TargetPersonID
				a.Source = structs.SourceSwap
			}
		case swap.Kind == structs.SwapKindOneToOne && swap.TargetDate != nil &&
			a.PersonID == swap.TargetPersonID && date.Equal(structs.Midnight(*swap.TargetDate)):
			a.PersonID = swap.SourcePersonID
			a.Source = structs.SourceSwap
		}
	}
	return out
}

// swapRelevantViolations runs only the validators a swap can disturb.
func swapRelevantViolations(vctx *ValidationContext) []*structs.Violation {
	var out []*structs.Violation
	for _, v := range []Validator{&DutyHourValidator{}, &SupervisionValidator{}} {
		vs, _ := v.Check(vctx)
		out = append(out, vs...)
	}
	return out
}

func violationKey(v *structs.Violation) string {
	return fmt.Sprintf("%s|%s|%s|%s", v.Rule, v.PersonID, v.BlockID, structs.DateKey(v.Start))
}

func hasPrimaryOn(vctx *ValidationContext, personID string, date time.Time) bool {
	day := structs.Midnight(date)
	for _, a := range vctx.Assignments {
		if a.Role == structs.RolePrimary && a.PersonID == personID &&
			structs.Midnight(vctx.AssignmentDate(a)).Equal(day) {
			return true
		}
	}
	return false
}
