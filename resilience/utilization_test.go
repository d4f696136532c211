// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package resilience

import (
	"testing"

	"github.com/schedcu/autosched/ci"
	"github.com/shoenig/test/must"
)

func TestLevelFor(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		pct  float64
		want UtilizationLevel
	}{
		{0, LevelGreen},
		{69.9, LevelGreen},
		{70, LevelYellow},
		{79.9, LevelYellow},
		{80, LevelOrange},
		{89.9, LevelOrange},
		{90, LevelRed},
		{94.9, LevelRed},
		{95, LevelBlack},
		{120, LevelBlack},
	}
	for _, c := range cases {
		must.Eq(t, c.want, LevelFor(c.pct), must.Sprintf("pct=%v", c.pct))
	}
}

func TestMeasureUtilization(t *testing.T) {
	ci.Parallel(t)

	r := MeasureUtilization(85, 100)
	must.Eq(t, LevelOrange, r.Level)
	must.Eq(t, 2.0, r.WaitTimeMultiplier)
	must.SliceNotEmpty(t, r.Recommendations)

	// Degenerate capacity pins to black.
	r = MeasureUtilization(1, 0)
	must.Eq(t, LevelBlack, r.Level)
	must.Eq(t, 5.0, r.WaitTimeMultiplier)

	r = MeasureUtilization(10, 100)
	must.Eq(t, LevelGreen, r.Level)
	must.Len(t, 0, r.Recommendations)
}

func TestUtilizationLevel_AtLeast(t *testing.T) {
	ci.Parallel(t)

	must.True(t, LevelBlack.AtLeast(LevelRed))
	must.True(t, LevelOrange.AtLeast(LevelOrange))
	must.False(t, LevelYellow.AtLeast(LevelOrange))
}

func TestAssessDefenseFromUtilization(t *testing.T) {
	ci.Parallel(t)

	a := AssessDefense(DefensePrevention, LevelGreen, 0)
	must.Eq(t, DefensePrevention, a.Recommended)
	must.False(t, a.EscalationNeeded)

	a = AssessDefense(DefensePrevention, LevelOrange, 0)
	must.Eq(t, DefenseSafetySystems, a.Recommended)
	must.True(t, a.EscalationNeeded)

	// Critical violations force at least containment even on low load.
	a = AssessDefense(DefenseControl, LevelGreen, 2)
	must.Eq(t, DefenseContainment, a.Recommended)
	must.True(t, a.EscalationNeeded)

	// But never de-escalate emergency below what utilization demands.
	a = AssessDefense(DefenseEmergency, LevelBlack, 1)
	must.Eq(t, DefenseEmergency, a.Recommended)
	must.False(t, a.EscalationNeeded)
}
