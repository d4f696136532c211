// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package resilience

import (
	"fmt"

	"github.com/hashicorp/go-set/v3"

	"github.com/schedcu/autosched/structs"
)

// DefenseLevel is an ordered posture ladder from routine prevention to full
// emergency operation.
type DefenseLevel string

const (
	DefensePrevention    DefenseLevel = "prevention"
	DefenseControl       DefenseLevel = "control"
	DefenseSafetySystems DefenseLevel = "safety_systems"
	DefenseContainment   DefenseLevel = "containment"
	DefenseEmergency     DefenseLevel = "emergency"
)

// DefenseLevels is the escalation order.
var DefenseLevels = []DefenseLevel{
	DefensePrevention,
	DefenseControl,
	DefenseSafetySystems,
	DefenseContainment,
	DefenseEmergency,
}

func (d DefenseLevel) rank() int {
	for i, l := range DefenseLevels {
		if l == d {
			return i
		}
	}
	return 0
}

// DefenseAssessment is the result of evaluating the current posture against
// observed load and violations.
type DefenseAssessment struct {
	Current          DefenseLevel `json:"current"`
	Recommended      DefenseLevel `json:"recommended"`
	EscalationNeeded bool         `json:"escalation_needed"`
	Reason           string       `json:"reason,omitempty"`
}

// AssessDefense recommends a posture from the utilization band and the count
// of active critical violations. Critical violations dominate: any at all
// demands at least containment.
func AssessDefense(current DefenseLevel, util UtilizationLevel, criticalViolations int) *DefenseAssessment {
	recommended := DefensePrevention
	reason := "load within normal bounds"

	switch util {
	case LevelYellow:
		recommended = DefenseControl
		reason = "utilization in yellow band"
	case LevelOrange:
		recommended = DefenseSafetySystems
		reason = "utilization in orange band"
	case LevelRed:
		recommended = DefenseContainment
		reason = "utilization in red band"
	case LevelBlack:
		recommended = DefenseEmergency
		reason = "utilization in black band"
	}

	if criticalViolations > 0 && recommended.rank() < DefenseContainment.rank() {
		recommended = DefenseContainment
		reason = "active critical violations"
	}

	return &DefenseAssessment{
		Current:          current,
		Recommended:      recommended,
		EscalationNeeded: recommended.rank() > current.rank(),
		Reason:           reason,
	}
}

// ZoneStatus reports whether one zone retains its minimum coverage given the
// currently available population.
type ZoneStatus struct {
	Zone        string `json:"zone"`
	Available   int    `json:"available"`
	BackupsUsed int    `json:"backups_used"`
	Required    int    `json:"required"`
	Met         bool   `json:"met"`
}

// CheckZones counts each zone's available dedicated persons, drawing on
// backups only to make up a shortfall. A zone with MinimumCoverage of zero is
// always met.
func CheckZones(zones []*structs.Zone, available *set.Set[string]) []*ZoneStatus {
	out := make([]*ZoneStatus, 0, len(zones))
	for _, z := range zones {
		dedicated := 0
		for _, id := range z.DedicatedPersons {
			if available.Contains(id) {
				dedicated++
			}
		}
		backups := 0
		if dedicated < z.MinimumCoverage {
			for _, id := range z.BackupPersons {
				if dedicated+backups >= z.MinimumCoverage {
					break
				}
				if available.Contains(id) {
					backups++
				}
			}
		}
		out = append(out, &ZoneStatus{
			Zone:        z.Name,
			Available:   dedicated + backups,
			BackupsUsed: backups,
			Required:    z.MinimumCoverage,
			Met:         dedicated+backups >= z.MinimumCoverage,
		})
	}
	return out
}

// AssessDefenseWithZones folds zone coverage into the posture: any zone
// below minimum demands at least the safety-systems posture, even under
// green load.
func AssessDefenseWithZones(current DefenseLevel, util UtilizationLevel, criticalViolations int, zones []*ZoneStatus) *DefenseAssessment {
	a := AssessDefense(current, util, criticalViolations)
	for _, z := range zones {
		if !z.Met && a.Recommended.rank() < DefenseSafetySystems.rank() {
			a.Recommended = DefenseSafetySystems
			a.Reason = fmt.Sprintf("zone %q below minimum coverage", z.Zone)
			a.EscalationNeeded = a.Recommended.rank() > current.rank()
			break
		}
	}
	return a
}
