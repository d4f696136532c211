// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package constraint

import (
	"fmt"
	"sort"
	"time"

	"github.com/schedcu/autosched/structs"
)

const (
	// weeklyHourLimit is the rolling-average duty-hour ceiling.
	weeklyHourLimit = 80.0

	// rollingWindowDays is the span of the rolling-average window.
	rollingWindowDays = 28

	// maxShiftHours is the 24+4 ceiling; anything longer is critical.
	maxShiftHours = 28.0

	// longShiftWarnHours starts the HIGH warning band below the ceiling.
	longShiftWarnHours = 26.0

	// restRequiredAfterHours marks shifts that require post-shift rest.
	restRequiredAfterHours = 24.0

	// minRestHours is the minimum rest after a long shift.
	minRestHours = 10.0

	// Projected weekly-hour warning thresholds.
	warnYellowHours = 75.0
	warnOrangeHours = 78.0
	warnRedHours    = 80.0
)

// DutyHourValidator enforces the duty-hour rule set: the rolling 80-hour
// average, the 24+4 shift ceiling, the 10-hour rest rule and 1-in-7 off
// days. Hours derive from rotation intensity; externally supplied
// moonlighting hours are merged in before any window math.
type DutyHourValidator struct{}

func (d *DutyHourValidator) Name() string { return "duty_hours" }

func (d *DutyHourValidator) Check(vctx *ValidationContext) ([]*structs.Violation, []*structs.Warning) {
	var violations []*structs.Violation
	var warnings []*structs.Warning

	byPerson := vctx.PrimariesByPerson()
	for _, personID := range sortedKeys(byPerson) {
		if p := vctx.Persons[personID]; p != nil && !p.IsResident() {
			// Duty-hour rules bind residents; faculty hours are tracked but
			// not capped.
			continue
		}

		daily := vctx.DailyHours(personID)

		if v := d.checkRollingAverage(personID, daily); v != nil {
			violations = append(violations, v)
		}
		if w := d.projectWeeklyWarning(personID, daily); w != nil {
			warnings = append(warnings, w)
		}

		shifts := buildShifts(vctx, byPerson[personID])
		vs, ws := d.checkShifts(personID, shifts)
		violations = append(violations, vs...)
		warnings = append(warnings, ws...)

		violations = append(violations, d.checkOneInSeven(personID, daily)...)
	}

	return violations, warnings
}

// checkRollingAverage reports the single worst 28-day window over the limit,
// anchored at any date with recorded hours.
func (d *DutyHourValidator) checkRollingAverage(personID string, daily map[string]float64) *structs.Violation {
	dates := sortedDates(daily)
	if len(dates) == 0 {
		return nil
	}

	worst := 0.0
	var worstAnchor time.Time
	for _, anchor := range dates {
		start := anchor.AddDate(0, 0, -(rollingWindowDays - 1))
		total := 0.0
		for day := start; !day.After(anchor); day = day.AddDate(0, 0, 1) {
			total += daily[structs.DateKey(day)]
		}
		weekly := total / 4
		if weekly > worst {
			worst = weekly
			worstAnchor = anchor
		}
	}

	if worst <= weeklyHourLimit {
		return nil
	}

	pct := (worst - weeklyHourLimit) / weeklyHourLimit * 100
	severity := structs.SeverityMedium
	switch {
	case pct >= 10:
		severity = structs.SeverityCritical
	case pct >= 5:
		severity = structs.SeverityHigh
	}

	return &structs.Violation{
		Rule:         structs.RuleEightyHour,
		Severity:     severity,
		PersonID:     personID,
		Start:        worstAnchor.AddDate(0, 0, -(rollingWindowDays - 1)),
		End:          worstAnchor,
		OverLimitPct: pct,
		Message: fmt.Sprintf("%.1f average weekly hours over 28 days ending %s exceeds %.0f",
			worst, structs.DateKey(worstAnchor), weeklyHourLimit),
	}
}

// projectWeeklyWarning fires the yellow/orange/red advisory from the busiest
// 7-day span of recorded hours.
func (d *DutyHourValidator) projectWeeklyWarning(personID string, daily map[string]float64) *structs.Warning {
	dates := sortedDates(daily)
	if len(dates) == 0 {
		return nil
	}

	peak := 0.0
	for _, anchor := range dates {
		start := anchor.AddDate(0, 0, -6)
		total := 0.0
		for day := start; !day.After(anchor); day = day.AddDate(0, 0, 1) {
			total += daily[structs.DateKey(day)]
		}
		if total > peak {
			peak = total
		}
	}

	var level structs.WarningLevel
	switch {
	case peak >= warnRedHours:
		level = structs.WarnRed
	case peak >= warnOrangeHours:
		level = structs.WarnOrange
	case peak >= warnYellowHours:
		level = structs.WarnYellow
	default:
		return nil
	}

	return &structs.Warning{
		Code:     "projected_weekly_hours",
		Level:    level,
		PersonID: personID,
		Message:  fmt.Sprintf("projected weekly hours %.1f", peak),
	}
}

// shift is a maximal run of contiguous duty derived from block assignments.
type shift struct {
	start time.Time
	end   time.Time
}

func (s shift) hours() float64 {
	return s.end.Sub(s.start).Hours()
}

// buildShifts merges a person's primary assignments into contiguous shifts.
// Assignments must be sorted by block start.
func buildShifts(vctx *ValidationContext, assignments []*structs.Assignment) []shift {
	var shifts []shift
	for _, a := range assignments {
		b := vctx.Block(a)
		if b == nil {
			continue
		}
		start := b.Start()
		end := start.Add(time.Duration(vctx.Hours(a) * float64(time.Hour)))

		if n := len(shifts); n > 0 && !start.After(shifts[n-1].end) {
			if end.After(shifts[n-1].end) {
				shifts[n-1].end = end
			}
			continue
		}
		shifts = append(shifts, shift{start: start, end: end})
	}
	return shifts
}

// checkShifts enforces the 24+4 ceiling and the 10-hour rest rule.
func (d *DutyHourValidator) checkShifts(personID string, shifts []shift) ([]*structs.Violation, []*structs.Warning) {
	var violations []*structs.Violation
	var warnings []*structs.Warning

	for i, s := range shifts {
		h := s.hours()
		if h > maxShiftHours {
			violations = append(violations, &structs.Violation{
				Rule:     structs.RuleTwentyFourPlusFour,
				Severity: structs.SeverityCritical,
				PersonID: personID,
				Start:    s.start,
				End:      s.end,
				OverLimitPct: (h - maxShiftHours) / maxShiftHours * 100,
				Message:  fmt.Sprintf("%.0f hour shift exceeds the 24+4 ceiling", h),
			})
		} else if h >= longShiftWarnHours {
			warnings = append(warnings, &structs.Warning{
				Code:     "long_shift",
				Level:    structs.WarnOrange,
				PersonID: personID,
				Message:  fmt.Sprintf("%.0f hour shift approaches the 24+4 ceiling", h),
			})
		}

		if h >= restRequiredAfterHours && i+1 < len(shifts) {
			rest := shifts[i+1].start.Sub(s.end).Hours()
			if rest < minRestHours {
				violations = append(violations, &structs.Violation{
					Rule:     structs.RuleTenHourRest,
					Severity: structs.SeverityHigh,
					PersonID: personID,
					Start:    s.end,
					End:      shifts[i+1].start,
					Message:  fmt.Sprintf("%.1f hours rest after a %.0f hour shift, minimum is %.0f", rest, h, minRestHours),
				})
			}
		}
	}

	return violations, warnings
}

// checkOneInSeven reports every maximal streak of 7 or more consecutive
// assigned days as one violation.
func (d *DutyHourValidator) checkOneInSeven(personID string, daily map[string]float64) []*structs.Violation {
	dates := sortedDates(daily)
	if len(dates) == 0 {
		return nil
	}

	var violations []*structs.Violation
	streakStart := dates[0]
	prev := dates[0]
	flush := func(end time.Time) {
		days := int(end.Sub(streakStart).Hours()/24) + 1
		if days >= 7 {
			violations = append(violations, &structs.Violation{
				Rule:     structs.RuleOneInSeven,
				Severity: structs.SeverityHigh,
				PersonID: personID,
				Start:    streakStart,
				End:      end,
				Message:  fmt.Sprintf("%d consecutive assigned days without a day off", days),
			})
		}
	}

	for _, day := range dates[1:] {
		if day.Sub(prev) > 24*time.Hour {
			flush(prev)
			streakStart = day
		}
		prev = day
	}
	flush(prev)

	return violations
}

func sortedDates(daily map[string]float64) []time.Time {
	keys := make([]string, 0, len(daily))
	for k, h := range daily {
		if h > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	dates := make([]time.Time, 0, len(keys))
	for _, k := range keys {
		t, err := time.Parse("2006-01-02", k)
		if err != nil {
			continue
		}
		dates = append(dates, t)
	}
	return dates
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
