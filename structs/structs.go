// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package structs holds the core entities of the autonomous scheduling core:
// people, blocks, rotation templates, assignments, absences, swaps, runs and
// their evaluation results. Entities are plain values; back-references are
// identifiers, never pointers.
package structs

import (
	"fmt"
	"regexp"
	"time"
)

const (
	// StandardIntensityHours is the duty-hour value of one standard block.
	StandardIntensityHours = 6.0

	// IntensiveIntensityHours is the duty-hour value of one intensive block.
	IntensiveIntensityHours = 12.0
)

// validIdentifier constrains every externally supplied identifier.
var validIdentifier = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateIdentifier checks that an externally supplied identifier conforms
// to the allowed shape. It returns a ValidationError naming the field on
// failure.
func ValidateIdentifier(field, id string) *ValidationError {
	if !validIdentifier.MatchString(id) {
		return &ValidationError{
			Code:    ErrCodeBadIdentifier,
			Message: fmt.Sprintf("identifier %q must match [A-Za-z0-9_-]{1,64}", id),
			Field:   field,
		}
	}
	return nil
}

// PersonKind describes whether a person is a resident or faculty member.
type PersonKind string

const (
	PersonKindResident PersonKind = "resident"
	PersonKindFaculty  PersonKind = "faculty"
)

// Person is a schedulable individual. A Person is immutable within a run and
// recreated across runs.
type Person struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind PersonKind `json:"kind"`

	// PGY is the training year and is only meaningful for residents.
	PGY int `json:"pgy,omitempty"`

	// Roles are free-form role tags such as "chief" or "clinic-lead".
	Roles []string `json:"roles,omitempty"`

	// PerformsProcedures marks capability for procedure services.
	PerformsProcedures bool `json:"performs_procedures,omitempty"`

	// Critical marks persons whose loss is analyzed first during
	// contingency analysis.
	Critical bool `json:"critical,omitempty"`

	CreateIndex uint64 `json:"-"`
	ModifyIndex uint64 `json:"-"`
}

// IsResident is a convenience check used throughout the constraint engine.
func (p *Person) IsResident() bool {
	return p.Kind == PersonKindResident
}

// IsFaculty returns true for supervising faculty.
func (p *Person) IsFaculty() bool {
	return p.Kind == PersonKindFaculty
}

// Copy returns a deep copy of the person.
func (p *Person) Copy() *Person {
	if p == nil {
		return nil
	}
	np := *p
	np.Roles = append([]string(nil), p.Roles...)
	return &np
}

// Validate checks boundary-crossing person data.
func (p *Person) Validate() error {
	if verr := ValidateIdentifier("person.id", p.ID); verr != nil {
		return verr
	}
	switch p.Kind {
	case PersonKindResident, PersonKindFaculty:
	default:
		return &ValidationError{
			Code:    ErrCodeBadEnum,
			Message: fmt.Sprintf("unknown person kind %q", p.Kind),
			Field:   "person.kind",
		}
	}
	if p.Kind == PersonKindResident && p.PGY < 1 {
		return &ValidationError{
			Code:    ErrCodeBadValue,
			Message: "resident requires a training year >= 1",
			Field:   "person.pgy",
		}
	}
	return nil
}

// Session identifies the half-day of a block.
type Session string

const (
	SessionAM Session = "AM"
	SessionPM Session = "PM"
)

// Block is a half-day scheduling unit, the atomic unit of assignment.
type Block struct {
	ID      string  `json:"id"`
	Date    time.Time `json:"date"`
	Session Session `json:"session"`
	Number  int     `json:"number"`
	Weekend bool    `json:"weekend,omitempty"`
	Holiday bool    `json:"holiday,omitempty"`

	CreateIndex uint64 `json:"-"`
	ModifyIndex uint64 `json:"-"`
}

// Start returns the nominal wall-clock start of the block. AM blocks start at
// 07:00, PM blocks at 13:00. The constraint engine derives shift boundaries
// from these.
func (b *Block) Start() time.Time {
	hour := 7
	if b.Session == SessionPM {
		hour = 13
	}
	d := b.Date
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, time.UTC)
}

// Copy returns a copy of the block.
func (b *Block) Copy() *Block {
	if b == nil {
		return nil
	}
	nb := *b
	return &nb
}

// DateKey returns the canonical YYYY-MM-DD form of the block date.
func (b *Block) DateKey() string {
	return DateKey(b.Date)
}

// RotationType classifies the service a rotation template describes.
type RotationType string

const (
	RotationTypeClinic    RotationType = "clinic"
	RotationTypeInpatient RotationType = "inpatient"
	RotationTypeElective  RotationType = "elective"
	RotationTypeCall      RotationType = "call"
)

// Intensity determines the duty-hour value of a block on this rotation.
type Intensity string

const (
	IntensityStandard  Intensity = "standard"
	IntensityIntensive Intensity = "intensive"
)

// Hours returns the duty-hour value of one block at this intensity. Unknown
// intensities count as standard.
func (i Intensity) Hours() float64 {
	if i == IntensityIntensive {
		return IntensiveIntensityHours
	}
	return StandardIntensityHours
}

// RotationTemplate is a named service or activity that assignments draw on.
// Templates are soft-archived rather than deleted so that historical
// schedules keep resolving.
type RotationTemplate struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Type RotationType `json:"type"`

	// SupervisionRequired marks services whose resident assignments must be
	// covered by supervising faculty.
	SupervisionRequired bool `json:"supervision_required"`

	// MaxResidents caps concurrent primary residents per block; zero means
	// no cap.
	MaxResidents int `json:"max_residents,omitempty"`

	Intensity Intensity `json:"intensity"`

	ArchivedAt *time.Time `json:"archived_at,omitempty"`

	CreateIndex uint64 `json:"-"`
	ModifyIndex uint64 `json:"-"`
}

// Archived returns true once the template has been soft-archived.
func (r *RotationTemplate) Archived() bool {
	return r.ArchivedAt != nil
}

// Copy returns a deep copy of the template.
func (r *RotationTemplate) Copy() *RotationTemplate {
	if r == nil {
		return nil
	}
	nr := *r
	if r.ArchivedAt != nil {
		t := *r.ArchivedAt
		nr.ArchivedAt = &t
	}
	return &nr
}

// BlockHours returns the duty-hour value of one block on this rotation.
func (r *RotationTemplate) BlockHours() float64 {
	if r == nil {
		return StandardIntensityHours
	}
	return r.Intensity.Hours()
}

// AssignmentRole describes the capacity in which a person fills a block.
type AssignmentRole string

const (
	RolePrimary     AssignmentRole = "primary"
	RoleBackup      AssignmentRole = "backup"
	RoleSupervising AssignmentRole = "supervising"
)

// AssignmentSource tracks where an assignment came from, for audit.
type AssignmentSource string

const (
	SourceGenerated AssignmentSource = "generated"
	SourceManual    AssignmentSource = "manual"
	SourceSwap      AssignmentSource = "swap"
)

// Assignment binds a person to a block, optionally on a rotation template.
// At most one primary assignment may exist per (block, person) pair.
type Assignment struct {
	ID                 string           `json:"id,omitempty"`
	BlockID            string           `json:"block_id"`
	PersonID           string           `json:"person_id"`
	RotationTemplateID string           `json:"rotation_template_id,omitempty"`
	Role               AssignmentRole   `json:"role"`
	Source             AssignmentSource `json:"source,omitempty"`

	// Date denormalizes the block date so that assignments can be range
	// queried without a block join.
	Date time.Time `json:"date"`

	CreateIndex uint64 `json:"-"`
	ModifyIndex uint64 `json:"-"`
}

// Copy returns a copy of the assignment.
func (a *Assignment) Copy() *Assignment {
	if a == nil {
		return nil
	}
	na := *a
	return &na
}

// CopyAssignments deep copies an assignment slice.
func CopyAssignments(as []*Assignment) []*Assignment {
	if as == nil {
		return nil
	}
	out := make([]*Assignment, len(as))
	for i, a := range as {
		out[i] = a.Copy()
	}
	return out
}

// AbsenceKind enumerates the absence taxonomy.
type AbsenceKind string

const (
	AbsenceDeployment   AbsenceKind = "deployment"
	AbsenceTDY          AbsenceKind = "tdy"
	AbsenceVacation     AbsenceKind = "vacation"
	AbsenceSick         AbsenceKind = "sick"
	AbsenceMedical      AbsenceKind = "medical"
	AbsenceBereavement  AbsenceKind = "bereavement"
	AbsenceMaternity    AbsenceKind = "maternity"
	AbsenceConvalescent AbsenceKind = "convalescent"
	AbsenceConference   AbsenceKind = "conference"
	AbsenceEmergency    AbsenceKind = "emergency"
)

// Absence is a dated range during which a person may be unavailable. Whether
// the absence blocks assignment is either explicitly set or derived from the
// kind and duration; the absence owns that derivation.
type Absence struct {
	ID       string      `json:"id"`
	PersonID string      `json:"person_id"`
	Start    time.Time   `json:"start"`
	End      time.Time   `json:"end"`
	Kind     AbsenceKind `json:"kind"`

	// Blocking overrides the derived blocking behavior when set.
	Blocking *bool `json:"blocking,omitempty"`

	// TentativeReturn is an expected but unconfirmed return date.
	TentativeReturn *time.Time `json:"tentative_return,omitempty"`

	CreateIndex uint64 `json:"-"`
	ModifyIndex uint64 `json:"-"`
}

// Days returns the inclusive calendar length of the absence.
func (a *Absence) Days() int {
	return int(a.End.Sub(a.Start).Hours()/24) + 1
}

// Blocks reports whether the absence forbids primary assignments in its
// range. Explicit flags win; otherwise the kind rules apply: vacation and
// conference never block, sick blocks beyond 3 days, medical beyond 7 days,
// everything else (including unknown kinds) blocks.
func (a *Absence) Blocks() bool {
	if a.Blocking != nil {
		return *a.Blocking
	}
	switch a.Kind {
	case AbsenceVacation, AbsenceConference:
		return false
	case AbsenceSick:
		return a.Days() > 3
	case AbsenceMedical:
		return a.Days() > 7
	default:
		return true
	}
}

// RecoveryDays returns the number of assignment-free days required after the
// absence ends. Deployments require 7, convalescent leave 3, everything else
// none.
func (a *Absence) RecoveryDays() int {
	switch a.Kind {
	case AbsenceDeployment:
		return 7
	case AbsenceConvalescent:
		return 3
	default:
		return 0
	}
}

// Covers reports whether date falls inside the absence range.
func (a *Absence) Covers(date time.Time) bool {
	d := Midnight(date)
	return !d.Before(Midnight(a.Start)) && !d.After(Midnight(a.End))
}

// Copy returns a deep copy of the absence.
func (a *Absence) Copy() *Absence {
	if a == nil {
		return nil
	}
	na := *a
	if a.Blocking != nil {
		b := *a.Blocking
		na.Blocking = &b
	}
	if a.TentativeReturn != nil {
		t := *a.TentativeReturn
		na.TentativeReturn = &t
	}
	return &na
}

// Zone is a blast-radius partition of services and people used by the
// resilience subsystem.
type Zone struct {
	Name             string   `json:"name"`
	Services         []string `json:"services"`
	DedicatedPersons []string `json:"dedicated_persons"`
	BackupPersons    []string `json:"backup_persons"`
	MinimumCoverage  int      `json:"minimum_coverage"`
}

// Copy returns a deep copy of the zone.
func (z *Zone) Copy() *Zone {
	if z == nil {
		return nil
	}
	nz := *z
	nz.Services = append([]string(nil), z.Services...)
	nz.DedicatedPersons = append([]string(nil), z.DedicatedPersons...)
	nz.BackupPersons = append([]string(nil), z.BackupPersons...)
	return &nz
}

// DateKey formats a time as the canonical ISO-8601 date.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Midnight truncates a time to UTC midnight.
func Midnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDate reports whether two times fall on the same UTC calendar date.
func SameDate(a, b time.Time) bool {
	return Midnight(a).Equal(Midnight(b))
}
