// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package mutation implements post-publication schedule changes: the swap
// request lifecycle, atomic execution with rollback, compatibility matching
// and the read-only coverage view. Published schedules are only ever changed
// through this package.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/schedcu/autosched/cache"
	"github.com/schedcu/autosched/constraint"
	"github.com/schedcu/autosched/helper/uuid"
	"github.com/schedcu/autosched/state"
	"github.com/schedcu/autosched/structs"
)

// contextPadDays is how far around a swap the validation context extends, so
// that rolling duty-hour windows see enough history on both sides.
const contextPadDays = 28

// Executor drives the swap lifecycle against the record store. Execution and
// rollback serialize per person through ordered locks; everything else relies
// on compare-and-swap.
type Executor struct {
	logger hclog.Logger
	state  *state.StateStore
	cache  *cache.Cache

	// index feeds the record store's modify indexes.
	indexMu sync.Mutex
	index   uint64

	// locks serializes mutations per person ID.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// now is swappable for tests.
	now func() time.Time
}

// NewExecutor builds an executor. c may be nil when no cache invalidation is
// wanted.
func NewExecutor(logger hclog.Logger, store *state.StateStore, c *cache.Cache, startIndex uint64) *Executor {
	return &Executor{
		logger: logger.Named("mutation"),
		state:  store,
		cache:  c,
		index:  startIndex,
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

func (e *Executor) nextIndex() uint64 {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()
	e.index++
	return e.index
}

// lockPersons acquires the per-person locks for the given IDs in sorted
// order, so two concurrent swaps over overlapping people cannot deadlock.
func (e *Executor) lockPersons(ids ...string) func() {
	uniq := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			uniq[id] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(uniq))
	for id := range uniq {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, id := range sorted {
		e.locksMu.Lock()
		mu, ok := e.locks[id]
		if !ok {
			mu = &sync.Mutex{}
			e.locks[id] = mu
		}
		e.locksMu.Unlock()
		mu.Lock()
		held = append(held, mu)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// Request validates and stores a new swap request in pending state.
func (e *Executor) Request(ctx context.Context, swap *structs.Swap) (*structs.MutationResult, error) {
	defer metrics.MeasureSince([]string{"autosched", "mutation", "request"}, time.Now())

	if swap.Kind == "" {
		swap.Kind = structs.SwapKindOneToOne
	}
	if swap.RequesterID == "" {
		swap.RequesterID = swap.SourcePersonID
	}

	vctx, err := e.loadContext(swap)
	if err != nil {
		return nil, err
	}
	if errs := constraint.CheckSwapCreate(vctx, swap, e.now()); len(errs) > 0 {
		return structs.MutationFailed(errs...), nil
	}

	if swap.ID == "" {
		swap.ID = uuid.Generate()
	}
	swap.Status = structs.SwapStatusPending
	swap.CreatedAt = e.now().UTC()

	if err := e.state.UpsertSwapCAS(e.nextIndex(), 0, swap); err != nil {
		return nil, err
	}
	e.logger.Info("swap requested", "swap_id", swap.ID,
		"source", swap.SourcePersonID, "target", swap.TargetPersonID, "kind", swap.Kind)
	return structs.MutationOK(), nil
}

// Approve moves a pending swap to approved. Only faculty may approve, and
// never their own request.
func (e *Executor) Approve(ctx context.Context, swapID, approverID string) (*structs.MutationResult, error) {
	return e.resolve(swapID, approverID, structs.SwapStatusApproved)
}

// Reject moves a pending swap to rejected. Only faculty may reject.
func (e *Executor) Reject(ctx context.Context, swapID, approverID string) (*structs.MutationResult, error) {
	return e.resolve(swapID, approverID, structs.SwapStatusRejected)
}

func (e *Executor) resolve(swapID, approverID string, to structs.SwapStatus) (*structs.MutationResult, error) {
	swap, err := e.state.SwapByID(swapID)
	if err != nil {
		return nil, err
	}
	if swap == nil {
		return notFound(swapID), nil
	}
	if swap.Status != structs.SwapStatusPending {
		return badState(swap.Status, to), nil
	}

	approver, err := e.state.PersonByID(approverID)
	if err != nil {
		return nil, err
	}
	if approver == nil || !approver.IsFaculty() {
		return structs.MutationFailed(&structs.ValidationError{
			Code:    structs.ErrCodeForbidden,
			Message: "swap approval requires a faculty member",
			Field:   "approver_id",
		}), nil
	}
	if approverID == swap.RequesterID {
		return structs.MutationFailed(&structs.ValidationError{
			Code:    structs.ErrCodeForbidden,
			Message: "requesters cannot approve their own swap",
			Field:   "approver_id",
		}), nil
	}

	now := e.now().UTC()
	swap = swap.Copy()
	swap.Status = to
	if to == structs.SwapStatusApproved {
		swap.ApprovedAt = &now
	} else {
		swap.ResolvedAt = &now
	}
	if err := e.state.UpsertSwapCAS(e.nextIndex(), swap.ModifyIndex, swap); err != nil {
		return nil, err
	}
	e.logger.Info("swap resolved", "swap_id", swapID, "status", to, "approver", approverID)
	return structs.MutationOK(), nil
}

// Cancel withdraws a pending or approved swap. Only the requester may
// cancel.
func (e *Executor) Cancel(ctx context.Context, swapID, callerID string) (*structs.MutationResult, error) {
	swap, err := e.state.SwapByID(swapID)
	if err != nil {
		return nil, err
	}
	if swap == nil {
		return notFound(swapID), nil
	}
	if callerID != swap.RequesterID {
		return structs.MutationFailed(&structs.ValidationError{
			Code:    structs.ErrCodeForbidden,
			Message: "only the requester may cancel a swap",
			Field:   "caller_id",
		}), nil
	}
	if swap.Status != structs.SwapStatusPending && swap.Status != structs.SwapStatusApproved {
		return badState(swap.Status, structs.SwapStatusCancelled), nil
	}

	now := e.now().UTC()
	swap = swap.Copy()
	swap.Status = structs.SwapStatusCancelled
	swap.ResolvedAt = &now
	if err := e.state.UpsertSwapCAS(e.nextIndex(), swap.ModifyIndex, swap); err != nil {
		return nil, err
	}
	e.logger.Info("swap cancelled", "swap_id", swapID)
	return structs.MutationOK(), nil
}

// Execute applies an approved swap to the published schedule. The post-swap
// schedule is revalidated first; any introduced critical or high violation
// aborts. The write is compare-and-swap with a single retry, and the prior
// assignments are snapshotted for rollback.
func (e *Executor) Execute(ctx context.Context, swapID string) (*structs.MutationResult, error) {
	defer metrics.MeasureSince([]string{"autosched", "mutation", "execute"}, time.Now())

	swap, err := e.state.SwapByID(swapID)
	if err != nil {
		return nil, err
	}
	if swap == nil {
		return notFound(swapID), nil
	}
	if swap.Kind == structs.SwapKindMultiWay {
		return nil, structs.ErrUnsupportedSwapKind
	}
	if swap.Status != structs.SwapStatusApproved {
		return badState(swap.Status, structs.SwapStatusExecuted), nil
	}

	unlock := e.lockPersons(swap.SourcePersonID, swap.TargetPersonID)
	defer unlock()

	result, err := e.executeLocked(swap)
	if errors.Is(err, structs.ErrCASConflict) {
		// Someone raced us between read and write; reload once and retry.
		e.logger.Warn("swap execution hit a write conflict, retrying", "swap_id", swapID)
		swap, err = e.state.SwapByID(swapID)
		if err != nil {
			return nil, err
		}
		if swap == nil || swap.Status != structs.SwapStatusApproved {
			return badState(structs.SwapStatusCancelled, structs.SwapStatusExecuted), nil
		}
		result, err = e.executeLocked(swap)
	}
	return result, err
}

func (e *Executor) executeLocked(swap *structs.Swap) (*structs.MutationResult, error) {
	vctx, err := e.loadContext(swap)
	if err != nil {
		return nil, err
	}

	introduced := constraint.CheckSwapExecute(vctx, swap)
	var blocking []*structs.ValidationError
	warnings := []string{}
	for _, v := range introduced {
		switch v.Severity {
		case structs.SeverityCritical, structs.SeverityHigh:
			blocking = append(blocking, &structs.ValidationError{
				Code:    structs.ErrCodeConflict,
				Message: fmt.Sprintf("swap would introduce %s violation: %s", v.Severity, v.Message),
				Field:   string(v.Rule),
			})
		default:
			warnings = append(warnings, v.Message)
		}
	}
	if len(blocking) > 0 {
		metrics.IncrCounter([]string{"autosched", "mutation", "execute_blocked"}, 1)
		return structs.MutationFailed(blocking...), nil
	}

	changed, prior := e.swapAssignments(vctx, swap)
	if len(changed) == 0 {
		return structs.MutationFailed(&structs.ValidationError{
			Code:    structs.ErrCodeNotFound,
			Message: "no assignments to swap on the source date",
			Field:   "swap.source_date",
		}), nil
	}

	expected := make(map[string]uint64, len(prior))
	for _, a := range prior {
		expected[a.ID] = a.ModifyIndex
	}
	if err := e.state.UpsertAssignmentsCAS(e.nextIndex(), expected, changed); err != nil {
		return nil, err
	}

	now := e.now()
	updated := swap.Copy()
	updated.MarkExecuted(now, prior)
	if err := e.state.UpsertSwapCAS(e.nextIndex(), updated.ModifyIndex, updated); err != nil {
		return nil, err
	}

	// Any earlier executed swap touching these people can no longer be
	// rolled back safely.
	if err := e.forecloseSiblings(updated); err != nil {
		return nil, err
	}

	e.invalidate(updated)
	e.logger.Info("swap executed", "swap_id", updated.ID,
		"source", updated.SourcePersonID, "target", updated.TargetPersonID,
		"assignments", len(changed))

	result := structs.MutationOK()
	for _, w := range warnings {
		result.AddWarning(w)
	}
	return result, nil
}

// swapAssignments computes the assignment rows a swap rewrites and snapshots
// their prior state.
func (e *Executor) swapAssignments(vctx *constraint.ValidationContext, swap *structs.Swap) (changed, prior []*structs.Assignment) {
	sourceDay := structs.Midnight(swap.SourceDate)
	for _, a := range vctx.Assignments {
		if a.Role != structs.RolePrimary {
			continue
		}
		day := structs.Midnight(vctx.AssignmentDate(a))
		switch {
		case a.PersonID == swap.SourcePersonID && day.Equal(sourceDay):
			prior = append(prior, a.Copy())
			na := a.Copy()
			if swap.TargetPersonID != "" {
				na.PersonID = swap.TargetPersonID
			}
			na.Source = structs.SourceSwap
			changed = append(changed, na)
		case swap.Kind == structs.SwapKindOneToOne && swap.TargetDate != nil &&
			a.PersonID == swap.TargetPersonID && day.Equal(structs.Midnight(*swap.TargetDate)):
			prior = append(prior, a.Copy())
			na := a.Copy()
			na.PersonID = swap.SourcePersonID
			na.Source = structs.SourceSwap
			changed = append(changed, na)
		}
	}
	return changed, prior
}

// forecloseSiblings marks other in-window executed swaps over the same
// people as modified since execution.
func (e *Executor) forecloseSiblings(executed *structs.Swap) error {
	siblings, err := e.state.SwapsByStatus(structs.SwapStatusExecuted)
	if err != nil {
		return err
	}
	touched := map[string]bool{
		executed.SourcePersonID: true,
	}
	if executed.TargetPersonID != "" {
		touched[executed.TargetPersonID] = true
	}
	for _, s := range siblings {
		if s.ID == executed.ID || s.ModifiedSinceExecution {
			continue
		}
		if ok, _ := s.CanRollback(e.now()); !ok {
			continue
		}
		if !touched[s.SourcePersonID] && !touched[s.TargetPersonID] {
			continue
		}
		s = s.Copy()
		s.ModifiedSinceExecution = true
		if err := e.state.UpsertSwapCAS(e.nextIndex(), s.ModifyIndex, s); err != nil {
			return err
		}
	}
	return nil
}

// Rollback restores the exact pre-execution assignments of an executed swap
// within its 24h window.
func (e *Executor) Rollback(ctx context.Context, swapID string) (*structs.MutationResult, error) {
	defer metrics.MeasureSince([]string{"autosched", "mutation", "rollback"}, time.Now())

	swap, err := e.state.SwapByID(swapID)
	if err != nil {
		return nil, err
	}
	if swap == nil {
		return notFound(swapID), nil
	}

	unlock := e.lockPersons(swap.SourcePersonID, swap.TargetPersonID)
	defer unlock()

	ok, remaining := swap.CanRollback(e.now())
	if !ok {
		code := structs.ErrCodeSwapState
		msg := fmt.Sprintf("swap in status %s cannot be rolled back", swap.Status)
		if swap.Status == structs.SwapStatusExecuted {
			if swap.ModifiedSinceExecution {
				msg = "swap assignments were modified after execution"
			} else {
				code = structs.ErrCodeSwapWindow
				msg = "rollback window expired"
			}
		}
		return structs.MutationFailed(&structs.ValidationError{
			Code: code, Message: msg, Field: "swap_id",
		}), nil
	}

	// Restore the snapshot over the live rows.
	live := make(map[string]uint64, len(swap.PriorAssignments))
	for _, p := range swap.PriorAssignments {
		current, err := e.state.AssignmentByID(p.ID)
		if err != nil {
			return nil, err
		}
		if current != nil {
			live[p.ID] = current.ModifyIndex
		}
	}
	if err := e.state.UpsertAssignmentsCAS(e.nextIndex(), live, structs.CopyAssignments(swap.PriorAssignments)); err != nil {
		if errors.Is(err, structs.ErrCASConflict) {
			return structs.MutationFailed(&structs.ValidationError{
				Code:    structs.ErrCodeConflict,
				Message: "assignments changed while rolling back, retry",
				Field:   "swap_id",
			}), nil
		}
		return nil, err
	}

	now := e.now().UTC()
	updated := swap.Copy()
	updated.Status = structs.SwapStatusRolledBack
	updated.ResolvedAt = &now
	if err := e.state.UpsertSwapCAS(e.nextIndex(), updated.ModifyIndex, updated); err != nil {
		return nil, err
	}

	e.invalidate(updated)
	e.logger.Info("swap rolled back", "swap_id", swapID, "hours_remaining", remaining)
	return structs.MutationOK(), nil
}

// invalidate drops cached reads that a swap's people and dates feed.
func (e *Executor) invalidate(swap *structs.Swap) {
	if e.cache == nil {
		return
	}
	ctx := context.Background()
	e.cache.InvalidateTag(ctx, "person:"+swap.SourcePersonID)
	if swap.TargetPersonID != "" {
		e.cache.InvalidateTag(ctx, "person:"+swap.TargetPersonID)
	}
	e.cache.InvalidateTag(ctx, "date:"+structs.DateKey(swap.SourceDate))
	if swap.TargetDate != nil {
		e.cache.InvalidateTag(ctx, "date:"+structs.DateKey(*swap.TargetDate))
	}
}

// loadContext assembles the validation context around a swap's dates.
func (e *Executor) loadContext(swap *structs.Swap) (*constraint.ValidationContext, error) {
	start := structs.Midnight(swap.SourceDate).AddDate(0, 0, -contextPadDays)
	end := structs.Midnight(swap.SourceDate).AddDate(0, 0, contextPadDays)
	if swap.TargetDate != nil {
		td := structs.Midnight(*swap.TargetDate)
		if td.AddDate(0, 0, -contextPadDays).Before(start) {
			start = td.AddDate(0, 0, -contextPadDays)
		}
		if td.AddDate(0, 0, contextPadDays).After(end) {
			end = td.AddDate(0, 0, contextPadDays)
		}
	}

	persons, err := e.state.Persons()
	if err != nil {
		return nil, err
	}
	templates, err := e.state.RotationTemplates(true)
	if err != nil {
		return nil, err
	}
	blocks, err := e.state.BlocksByDateRange(start, end)
	if err != nil {
		return nil, err
	}
	blockByID := make(map[string]*structs.Block, len(blocks))
	for _, b := range blocks {
		blockByID[b.ID] = b
	}
	assignments, err := e.state.AssignmentsByDateRange(start, end)
	if err != nil {
		return nil, err
	}
	absences, err := e.state.Absences()
	if err != nil {
		return nil, err
	}
	pending, err := e.state.SwapsByStatus(structs.SwapStatusPending)
	if err != nil {
		return nil, err
	}

	return &constraint.ValidationContext{
		Start:       start,
		End:         end,
		Assignments: assignments,
		Persons:     persons,
		Blocks:      blockByID,
		Templates:   templates,
		Absences:    absences,
		Swaps:       pending,
	}, nil
}

func notFound(swapID string) *structs.MutationResult {
	return structs.MutationFailed(&structs.ValidationError{
		Code:    structs.ErrCodeNotFound,
		Message: fmt.Sprintf("swap %s not found", swapID),
		Field:   "swap_id",
	})
}

func badState(from, to structs.SwapStatus) *structs.MutationResult {
	return structs.MutationFailed(&structs.ValidationError{
		Code:    structs.ErrCodeSwapState,
		Message: fmt.Sprintf("swap in status %s cannot transition to %s", from, to),
		Field:   "swap.status",
	})
}
