// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package constraint

import (
	"fmt"
	"time"

	"github.com/schedcu/autosched/structs"
)

// tentativeReturnWindow is how close a tentative return date must be to the
// absence end to downgrade to a warning.
const tentativeReturnWindow = 7 * 24 * time.Hour

// LeaveValidator enforces absence blocks: a primary assignment overlapping a
// blocking absence is never a legal state, and recovery windows after
// deployment or convalescent leave must stay clear.
type LeaveValidator struct{}

func (l *LeaveValidator) Name() string { return "leave" }

func (l *LeaveValidator) Check(vctx *ValidationContext) ([]*structs.Violation, []*structs.Warning) {
	var violations []*structs.Violation
	var warnings []*structs.Warning

	byPerson := vctx.PrimariesByPerson()
	for _, ab := range vctx.Absences {
		assignments := byPerson[ab.PersonID]

		if ab.Blocks() {
			violations = append(violations, l.blockedAssignments(vctx, ab, assignments)...)
		}

		if days := ab.RecoveryDays(); days > 0 {
			violations = append(violations, l.recoveryAssignments(vctx, ab, days, assignments)...)
		}

		if w := l.tentativeReturnWarning(ab); w != nil {
			warnings = append(warnings, w)
		}
	}

	return violations, warnings
}

// blockedAssignments emits one critical violation per assigned date inside
// the blocking range.
func (l *LeaveValidator) blockedAssignments(vctx *ValidationContext, ab *structs.Absence, assignments []*structs.Assignment) []*structs.Violation {
	var violations []*structs.Violation
	seen := make(map[string]bool)
	for _, a := range assignments {
		date := vctx.AssignmentDate(a)
		if !ab.Covers(date) {
			continue
		}
		key := structs.DateKey(date)
		if seen[key] {
			continue
		}
		seen[key] = true
		violations = append(violations, &structs.Violation{
			Rule:     structs.RuleAssignmentBlocked,
			Severity: structs.SeverityCritical,
			PersonID: ab.PersonID,
			Start:    date,
			End:      date,
			Message:  fmt.Sprintf("assignment on %s during blocking %s absence", key, ab.Kind),
		})
	}
	return violations
}

// recoveryAssignments emits one violation per assigned date inside the
// post-absence recovery window.
func (l *LeaveValidator) recoveryAssignments(vctx *ValidationContext, ab *structs.Absence, days int, assignments []*structs.Assignment) []*structs.Violation {
	recoveryStart := structs.Midnight(ab.End).AddDate(0, 0, 1)
	recoveryEnd := structs.Midnight(ab.End).AddDate(0, 0, days)

	var violations []*structs.Violation
	seen := make(map[string]bool)
	for _, a := range assignments {
		date := vctx.AssignmentDate(a)
		if date.Before(recoveryStart) || date.After(recoveryEnd) {
			continue
		}
		key := structs.DateKey(date)
		if seen[key] {
			continue
		}
		seen[key] = true
		violations = append(violations, &structs.Violation{
			Rule:     structs.RuleRecoveryPeriod,
			Severity: structs.SeverityHigh,
			PersonID: ab.PersonID,
			Start:    date,
			End:      date,
			Message:  fmt.Sprintf("assignment on %s during %d-day recovery after %s", key, days, ab.Kind),
		})
	}
	return violations
}

// tentativeReturnWarning flags a tentative return date close to the absence
// end; that uncertainty is advisory, not a violation.
func (l *LeaveValidator) tentativeReturnWarning(ab *structs.Absence) *structs.Warning {
	if ab.TentativeReturn == nil {
		return nil
	}
	delta := ab.TentativeReturn.Sub(ab.End)
	if delta < 0 {
		delta = -delta
	}
	if delta > tentativeReturnWindow {
		return nil
	}
	return &structs.Warning{
		Code:     "tentative_return",
		PersonID: ab.PersonID,
		Message: fmt.Sprintf("tentative return %s within 7 days of %s absence end %s",
			structs.DateKey(*ab.TentativeReturn), ab.Kind, structs.DateKey(ab.End)),
	}
}
