// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package structs

import (
	"time"
)

const (
	// SwapRollbackWindow is the exact window after execution during which a
	// swap may be rolled back.
	SwapRollbackWindow = 24 * time.Hour

	// SwapMaxFutureDays bounds how far ahead a swap source date may lie.
	SwapMaxFutureDays = 180

	// SwapMaxPending caps pending swap requests per person.
	SwapMaxPending = 5
)

// SwapKind enumerates swap shapes. Multi-way swaps are representable but
// have no executor.
type SwapKind string

const (
	SwapKindOneToOne SwapKind = "one_to_one"
	SwapKindAbsorb   SwapKind = "absorb"
	SwapKindMultiWay SwapKind = "multi_way"
)

// SwapStatus is the lifecycle state of a swap request.
type SwapStatus string

const (
	SwapStatusPending    SwapStatus = "pending"
	SwapStatusApproved   SwapStatus = "approved"
	SwapStatusExecuted   SwapStatus = "executed"
	SwapStatusRejected   SwapStatus = "rejected"
	SwapStatusCancelled  SwapStatus = "cancelled"
	SwapStatusRolledBack SwapStatus = "rolled_back"
)

// Terminal reports whether the status admits no further transitions. An
// executed swap is only terminal once its rollback window has elapsed, which
// callers must check separately via CanRollback.
func (s SwapStatus) Terminal() bool {
	switch s {
	case SwapStatusRejected, SwapStatusCancelled, SwapStatusRolledBack:
		return true
	default:
		return false
	}
}

// Swap is a post-publication schedule mutation request.
type Swap struct {
	ID          string `json:"id"`
	RequesterID string `json:"requester_id"`

	SourcePersonID string    `json:"source_person_id"`
	SourceDate     time.Time `json:"source_date"`

	TargetPersonID string     `json:"target_person_id,omitempty"`
	TargetDate     *time.Time `json:"target_date,omitempty"`

	Kind   SwapKind   `json:"kind"`
	Status SwapStatus `json:"status"`

	CreatedAt  time.Time  `json:"created_at"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	// RollbackDeadline is ExecutedAt + SwapRollbackWindow, stamped at
	// execution.
	RollbackDeadline *time.Time `json:"rollback_deadline,omitempty"`

	// PriorAssignments snapshots the exact assignments replaced by
	// execution so that rollback restores them bit for bit.
	PriorAssignments []*Assignment `json:"prior_assignments,omitempty"`

	// ModifiedSinceExecution is set when any later mutation touches either
	// side of the swap; it forecloses rollback.
	ModifiedSinceExecution bool `json:"modified_since_execution,omitempty"`

	CreateIndex uint64 `json:"-"`
	ModifyIndex uint64 `json:"-"`
}

// Copy returns a deep copy of the swap.
func (s *Swap) Copy() *Swap {
	if s == nil {
		return nil
	}
	ns := *s
	ns.TargetDate = copyTime(s.TargetDate)
	ns.ApprovedAt = copyTime(s.ApprovedAt)
	ns.ExecutedAt = copyTime(s.ExecutedAt)
	ns.ResolvedAt = copyTime(s.ResolvedAt)
	ns.RollbackDeadline = copyTime(s.RollbackDeadline)
	ns.PriorAssignments = CopyAssignments(s.PriorAssignments)
	return &ns
}

// MarkExecuted stamps execution time and the rollback deadline.
func (s *Swap) MarkExecuted(now time.Time, prior []*Assignment) {
	t := now.UTC()
	deadline := t.Add(SwapRollbackWindow)
	s.Status = SwapStatusExecuted
	s.ExecutedAt = &t
	s.RollbackDeadline = &deadline
	s.PriorAssignments = CopyAssignments(prior)
}

// CanRollback reports whether the swap may still be rolled back at now,
// returning the remaining window hours. A swap is rollback-eligible iff it
// is executed, inside its 24h window, and untouched since execution.
func (s *Swap) CanRollback(now time.Time) (bool, float64) {
	if s.Status != SwapStatusExecuted || s.ExecutedAt == nil {
		return false, 0
	}
	elapsed := now.UTC().Sub(*s.ExecutedAt)
	if elapsed >= SwapRollbackWindow {
		return false, 0
	}
	if s.ModifiedSinceExecution {
		return false, 0
	}
	remaining := (SwapRollbackWindow - elapsed).Hours()
	return true, remaining
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	nt := *t
	return &nt
}
