// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package state implements the in-memory record store backing the scheduling
// core: people, blocks, rotation templates, assignments, absences and swaps,
// held in go-memdb tables with secondary indexes for person and date-range
// queries. Writes are serialized through memdb transactions and carry
// monotonically increasing indexes for optimistic concurrency.
package state

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	memdb "github.com/hashicorp/go-memdb"

	"github.com/schedcu/autosched/structs"
)

// StateStore provides transactional access to the scheduling records. Reads
// run against immutable snapshots and never block writes.
type StateStore struct {
	logger hclog.Logger
	db     *memdb.MemDB
}

// NewStateStore constructs an empty store.
func NewStateStore(logger hclog.Logger) (*StateStore, error) {
	db, err := memdb.NewMemDB(stateStoreSchema())
	if err != nil {
		return nil, fmt.Errorf("state store setup failed: %w", err)
	}
	return &StateStore{
		logger: logger.Named("state_store"),
		db:     db,
	}, nil
}

// UpsertPerson writes a person at the given index.
func (s *StateStore) UpsertPerson(index uint64, p *structs.Person) error {
	if err := p.Validate(); err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	p = p.Copy()
	existing, err := txn.First(TablePersons, indexID, p.ID)
	if err != nil {
		return fmt.Errorf("person lookup failed: %w", err)
	}
	if existing != nil {
		p.CreateIndex = existing.(*structs.Person).CreateIndex
	} else {
		p.CreateIndex = index
	}
	p.ModifyIndex = index

	if err := txn.Insert(TablePersons, p); err != nil {
		return fmt.Errorf("person insert failed: %w", err)
	}
	txn.Commit()
	return nil
}

// PersonByID returns a person or nil.
func (s *StateStore) PersonByID(id string) (*structs.Person, error) {
	txn := s.db.Txn(false)
	raw, err := txn.First(TablePersons, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("person lookup failed: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.Person), nil
}

// Persons returns all persons keyed by ID.
func (s *StateStore) Persons() (map[string]*structs.Person, error) {
	txn := s.db.Txn(false)
	iter, err := txn.Get(TablePersons, indexID)
	if err != nil {
		return nil, fmt.Errorf("person scan failed: %w", err)
	}
	out := make(map[string]*structs.Person)
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		p := raw.(*structs.Person)
		out[p.ID] = p
	}
	return out, nil
}

// UpsertBlocks writes a batch of blocks at the given index.
func (s *StateStore) UpsertBlocks(index uint64, blocks []*structs.Block) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	for _, b := range blocks {
		b = b.Copy()
		existing, err := txn.First(TableBlocks, indexID, b.ID)
		if err != nil {
			return fmt.Errorf("block lookup failed: %w", err)
		}
		if existing != nil {
			b.CreateIndex = existing.(*structs.Block).CreateIndex
		} else {
			b.CreateIndex = index
		}
		b.ModifyIndex = index
		if err := txn.Insert(TableBlocks, b); err != nil {
			return fmt.Errorf("block insert failed: %w", err)
		}
	}
	txn.Commit()
	return nil
}

// BlockByID returns a block or nil.
func (s *StateStore) BlockByID(id string) (*structs.Block, error) {
	txn := s.db.Txn(false)
	raw, err := txn.First(TableBlocks, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("block lookup failed: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.Block), nil
}

// BlocksByDateRange returns blocks with start <= date <= end ordered by date.
func (s *StateStore) BlocksByDateRange(start, end time.Time) ([]*structs.Block, error) {
	txn := s.db.Txn(false)
	iter, err := txn.LowerBound(TableBlocks, indexDate, start)
	if err != nil {
		return nil, fmt.Errorf("block range scan failed: %w", err)
	}
	limit := structs.Midnight(end)
	var out []*structs.Block
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		b := raw.(*structs.Block)
		if structs.Midnight(b.Date).After(limit) {
			break
		}
		out = append(out, b)
	}
	return out, nil
}

// UpsertRotationTemplate writes a rotation template at the given index.
func (s *StateStore) UpsertRotationTemplate(index uint64, tmpl *structs.RotationTemplate) error {
	if verr := structs.ValidateIdentifier("rotation_template.id", tmpl.ID); verr != nil {
		return verr
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	tmpl = tmpl.Copy()
	existing, err := txn.First(TableRotationTemplates, indexID, tmpl.ID)
	if err != nil {
		return fmt.Errorf("template lookup failed: %w", err)
	}
	if existing != nil {
		tmpl.CreateIndex = existing.(*structs.RotationTemplate).CreateIndex
	} else {
		tmpl.CreateIndex = index
	}
	tmpl.ModifyIndex = index

	if err := txn.Insert(TableRotationTemplates, tmpl); err != nil {
		return fmt.Errorf("template insert failed: %w", err)
	}
	txn.Commit()
	return nil
}

// ArchiveRotationTemplate soft-archives a template. Archived templates keep
// resolving for historical schedules but reject new demand references.
func (s *StateStore) ArchiveRotationTemplate(index uint64, id string, at time.Time) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(TableRotationTemplates, indexID, id)
	if err != nil {
		return fmt.Errorf("template lookup failed: %w", err)
	}
	if raw == nil {
		return &structs.ValidationError{
			Code:    structs.ErrCodeNotFound,
			Message: fmt.Sprintf("rotation template %q not found", id),
		}
	}
	tmpl := raw.(*structs.RotationTemplate).Copy()
	tmpl.ArchivedAt = &at
	tmpl.ModifyIndex = index

	if err := txn.Insert(TableRotationTemplates, tmpl); err != nil {
		return fmt.Errorf("template archive failed: %w", err)
	}
	txn.Commit()
	return nil
}

// RotationTemplateByID returns a template or nil, archived included.
func (s *StateStore) RotationTemplateByID(id string) (*structs.RotationTemplate, error) {
	txn := s.db.Txn(false)
	raw, err := txn.First(TableRotationTemplates, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("template lookup failed: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.RotationTemplate), nil
}

// RotationTemplates returns templates keyed by ID, optionally filtering out
// archived ones.
func (s *StateStore) RotationTemplates(includeArchived bool) (map[string]*structs.RotationTemplate, error) {
	txn := s.db.Txn(false)
	iter, err := txn.Get(TableRotationTemplates, indexID)
	if err != nil {
		return nil, fmt.Errorf("template scan failed: %w", err)
	}
	out := make(map[string]*structs.RotationTemplate)
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		tmpl := raw.(*structs.RotationTemplate)
		if tmpl.Archived() && !includeArchived {
			continue
		}
		out[tmpl.ID] = tmpl
	}
	return out, nil
}

// UpsertAssignments writes a batch of assignments at the given index. Blank
// assignment IDs are an error here; generation assigns them before persist.
func (s *StateStore) UpsertAssignments(index uint64, assignments []*structs.Assignment) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	for _, a := range assignments {
		if a.ID == "" {
			return &structs.ValidationError{
				Code:    structs.ErrCodeBadIdentifier,
				Message: "assignment requires an ID before persist",
				Field:   "assignment.id",
			}
		}
		a = a.Copy()
		existing, err := txn.First(TableAssignments, indexID, a.ID)
		if err != nil {
			return fmt.Errorf("assignment lookup failed: %w", err)
		}
		if existing != nil {
			a.CreateIndex = existing.(*structs.Assignment).CreateIndex
		} else {
			a.CreateIndex = index
		}
		a.ModifyIndex = index
		if err := txn.Insert(TableAssignments, a); err != nil {
			return fmt.Errorf("assignment insert failed: %w", err)
		}
	}
	txn.Commit()
	return nil
}

// UpsertAssignmentsCAS writes assignments only when every existing record
// still carries the expected modify index. A missing record has expected
// index zero.
func (s *StateStore) UpsertAssignmentsCAS(index uint64, expected map[string]uint64, assignments []*structs.Assignment) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	for _, a := range assignments {
		raw, err := txn.First(TableAssignments, indexID, a.ID)
		if err != nil {
			return fmt.Errorf("assignment lookup failed: %w", err)
		}
		var current uint64
		if raw != nil {
			current = raw.(*structs.Assignment).ModifyIndex
		}
		if want := expected[a.ID]; want != current {
			return fmt.Errorf("assignment %s: expected index %d, found %d: %w",
				a.ID, want, current, structs.ErrCASConflict)
		}
	}

	for _, a := range assignments {
		a = a.Copy()
		if a.CreateIndex == 0 {
			a.CreateIndex = index
		}
		a.ModifyIndex = index
		if err := txn.Insert(TableAssignments, a); err != nil {
			return fmt.Errorf("assignment insert failed: %w", err)
		}
	}
	txn.Commit()
	return nil
}

// DeleteAssignment removes an assignment by ID; deleting a missing record is
// a not-found error.
func (s *StateStore) DeleteAssignment(id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(TableAssignments, indexID, id)
	if err != nil {
		return fmt.Errorf("assignment lookup failed: %w", err)
	}
	if raw == nil {
		return &structs.ValidationError{
			Code:    structs.ErrCodeNotFound,
			Message: fmt.Sprintf("assignment %q not found", id),
		}
	}
	if err := txn.Delete(TableAssignments, raw); err != nil {
		return fmt.Errorf("assignment delete failed: %w", err)
	}
	txn.Commit()
	return nil
}

// AssignmentByID returns an assignment or nil.
func (s *StateStore) AssignmentByID(id string) (*structs.Assignment, error) {
	txn := s.db.Txn(false)
	raw, err := txn.First(TableAssignments, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("assignment lookup failed: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.Assignment), nil
}

// AssignmentsByPerson returns all assignments of one person.
func (s *StateStore) AssignmentsByPerson(personID string) ([]*structs.Assignment, error) {
	txn := s.db.Txn(false)
	iter, err := txn.Get(TableAssignments, indexPerson, personID)
	if err != nil {
		return nil, fmt.Errorf("assignment scan failed: %w", err)
	}
	var out []*structs.Assignment
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.Assignment))
	}
	return out, nil
}

// AssignmentsByBlock returns all assignments of one block.
func (s *StateStore) AssignmentsByBlock(blockID string) ([]*structs.Assignment, error) {
	txn := s.db.Txn(false)
	iter, err := txn.Get(TableAssignments, indexBlock, blockID)
	if err != nil {
		return nil, fmt.Errorf("assignment scan failed: %w", err)
	}
	var out []*structs.Assignment
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.Assignment))
	}
	return out, nil
}

// AssignmentsByDateRange returns assignments with start <= date <= end in
// date order.
func (s *StateStore) AssignmentsByDateRange(start, end time.Time) ([]*structs.Assignment, error) {
	txn := s.db.Txn(false)
	iter, err := txn.LowerBound(TableAssignments, indexDate, start)
	if err != nil {
		return nil, fmt.Errorf("assignment range scan failed: %w", err)
	}
	limit := structs.Midnight(end)
	var out []*structs.Assignment
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		a := raw.(*structs.Assignment)
		if structs.Midnight(a.Date).After(limit) {
			break
		}
		out = append(out, a)
	}
	return out, nil
}

// UpsertAbsence writes an absence at the given index.
func (s *StateStore) UpsertAbsence(index uint64, ab *structs.Absence) error {
	if ab.End.Before(ab.Start) {
		return &structs.ValidationError{
			Code:    structs.ErrCodeBadDateRange,
			Message: "absence end precedes start",
			Field:   "absence.end",
		}
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	ab = ab.Copy()
	existing, err := txn.First(TableAbsences, indexID, ab.ID)
	if err != nil {
		return fmt.Errorf("absence lookup failed: %w", err)
	}
	if existing != nil {
		ab.CreateIndex = existing.(*structs.Absence).CreateIndex
	} else {
		ab.CreateIndex = index
	}
	ab.ModifyIndex = index

	if err := txn.Insert(TableAbsences, ab); err != nil {
		return fmt.Errorf("absence insert failed: %w", err)
	}
	txn.Commit()
	return nil
}

// AbsencesByPerson returns all absences of one person.
func (s *StateStore) AbsencesByPerson(personID string) ([]*structs.Absence, error) {
	txn := s.db.Txn(false)
	iter, err := txn.Get(TableAbsences, indexPerson, personID)
	if err != nil {
		return nil, fmt.Errorf("absence scan failed: %w", err)
	}
	var out []*structs.Absence
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.Absence))
	}
	return out, nil
}

// Absences returns every absence.
func (s *StateStore) Absences() ([]*structs.Absence, error) {
	txn := s.db.Txn(false)
	iter, err := txn.Get(TableAbsences, indexID)
	if err != nil {
		return nil, fmt.Errorf("absence scan failed: %w", err)
	}
	var out []*structs.Absence
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.Absence))
	}
	return out, nil
}

// UpsertSwapCAS writes a swap only when the stored modify index still matches
// the expected one; zero expects absence. Mutation executors rely on this to
// serialize concurrent decisions on the same swap.
func (s *StateStore) UpsertSwapCAS(index, expected uint64, swap *structs.Swap) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(TableSwaps, indexID, swap.ID)
	if err != nil {
		return fmt.Errorf("swap lookup failed: %w", err)
	}
	var current uint64
	if raw != nil {
		current = raw.(*structs.Swap).ModifyIndex
	}
	if expected != current {
		return fmt.Errorf("swap %s: expected index %d, found %d: %w",
			swap.ID, expected, current, structs.ErrCASConflict)
	}

	swap = swap.Copy()
	if raw != nil {
		swap.CreateIndex = raw.(*structs.Swap).CreateIndex
	} else {
		swap.CreateIndex = index
	}
	swap.ModifyIndex = index

	if err := txn.Insert(TableSwaps, swap); err != nil {
		return fmt.Errorf("swap insert failed: %w", err)
	}
	txn.Commit()
	return nil
}

// SwapByID returns a swap or nil.
func (s *StateStore) SwapByID(id string) (*structs.Swap, error) {
	txn := s.db.Txn(false)
	raw, err := txn.First(TableSwaps, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("swap lookup failed: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.Swap), nil
}

// SwapsByRequester returns all swaps requested by one person.
func (s *StateStore) SwapsByRequester(personID string) ([]*structs.Swap, error) {
	txn := s.db.Txn(false)
	iter, err := txn.Get(TableSwaps, indexRequester, personID)
	if err != nil {
		return nil, fmt.Errorf("swap scan failed: %w", err)
	}
	var out []*structs.Swap
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.Swap))
	}
	return out, nil
}

// SwapsByStatus returns all swaps in one status.
func (s *StateStore) SwapsByStatus(status structs.SwapStatus) ([]*structs.Swap, error) {
	txn := s.db.Txn(false)
	iter, err := txn.Get(TableSwaps, indexStatus, string(status))
	if err != nil {
		return nil, fmt.Errorf("swap scan failed: %w", err)
	}
	var out []*structs.Swap
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.Swap))
	}
	return out, nil
}
