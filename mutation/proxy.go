// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package mutation

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/schedcu/autosched/cache"
	"github.com/schedcu/autosched/state"
	"github.com/schedcu/autosched/structs"
)

// UncoveredSurrogate is the display name shown for a block slot nobody
// covers. It exists only in the read view and never enters the record store.
const UncoveredSurrogate = "TBD"

// coverageTTL bounds staleness of the cached coverage view; swap execution
// invalidates the affected entries eagerly anyway.
const coverageTTL = 5 * time.Minute

// CoverageSlot is one displayed block of the coverage view.
type CoverageSlot struct {
	BlockID string          `json:"block_id"`
	Date    string          `json:"date"`
	Session structs.Session `json:"session"`

	// Primaries are display names; UncoveredSurrogate stands in when the
	// block has no primary assignment.
	Primaries   []string `json:"primaries"`
	Supervisors []string `json:"supervisors,omitempty"`
	Covered     bool     `json:"covered"`
}

// CoverageProxy is the read-only schedule view handed to displays and
// integrations. It resolves person names, substitutes surrogates for gaps
// and serves repeated reads through the cache.
type CoverageProxy struct {
	logger hclog.Logger
	state  *state.StateStore
	cache  *cache.Cache
}

// NewCoverageProxy builds the proxy; c may be nil to read uncached.
func NewCoverageProxy(logger hclog.Logger, store *state.StateStore, c *cache.Cache) *CoverageProxy {
	return &CoverageProxy{
		logger: logger.Named("coverage"),
		state:  store,
		cache:  c,
	}
}

// View returns the coverage slots for every block in [start, end], ordered
// by date and session.
func (p *CoverageProxy) View(ctx context.Context, start, end time.Time) ([]*CoverageSlot, error) {
	if p.cache == nil {
		return p.build(start, end)
	}

	key := cache.Key("coverage", structs.DateKey(start), structs.DateKey(end))
	raw, err := p.cache.GetOrFill(ctx, key, coverageTTL, func(context.Context) ([]byte, error) {
		slots, err := p.build(start, end)
		if err != nil {
			return nil, err
		}
		return json.Marshal(slots)
	}, coverageTags(start, end)...)
	if err != nil {
		return nil, err
	}

	var slots []*CoverageSlot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, err
	}
	return slots, nil
}

func (p *CoverageProxy) build(start, end time.Time) ([]*CoverageSlot, error) {
	blocks, err := p.state.BlocksByDateRange(start, end)
	if err != nil {
		return nil, err
	}
	assignments, err := p.state.AssignmentsByDateRange(start, end)
	if err != nil {
		return nil, err
	}
	persons, err := p.state.Persons()
	if err != nil {
		return nil, err
	}

	byBlock := make(map[string][]*structs.Assignment)
	for _, a := range assignments {
		byBlock[a.BlockID] = append(byBlock[a.BlockID], a)
	}

	name := func(id string) string {
		if person := persons[id]; person != nil && person.Name != "" {
			return person.Name
		}
		return id
	}

	out := make([]*CoverageSlot, 0, len(blocks))
	for _, b := range blocks {
		slot := &CoverageSlot{
			BlockID: b.ID,
			Date:    b.DateKey(),
			Session: b.Session,
		}
		for _, a := range byBlock[b.ID] {
			switch a.Role {
			case structs.RolePrimary:
				slot.Primaries = append(slot.Primaries, name(a.PersonID))
			case structs.RoleSupervising:
				slot.Supervisors = append(slot.Supervisors, name(a.PersonID))
			}
		}
		sort.Strings(slot.Primaries)
		sort.Strings(slot.Supervisors)
		slot.Covered = len(slot.Primaries) > 0
		if !slot.Covered {
			slot.Primaries = []string{UncoveredSurrogate}
		}
		out = append(out, slot)
	}
	return out, nil
}

// PersonCoverage summarizes one person's share of the schedule in a window.
// Provided counts executed swaps where the person absorbed someone else's
// day; Received counts the days absorbed on their behalf.
type PersonCoverage struct {
	PersonID          string `json:"person_id"`
	Name              string `json:"name"`
	PrimaryBlocks     int    `json:"primary_blocks"`
	SupervisingBlocks int    `json:"supervising_blocks"`
	Provided          int    `json:"provided"`
	Received          int    `json:"received"`
}

// Summary aggregates per-person coverage over [start, end], ordered by
// provided swaps, then primary blocks, then ID. The head of the slice is the
// window's top coverer.
func (p *CoverageProxy) Summary(ctx context.Context, start, end time.Time) ([]*PersonCoverage, error) {
	assignments, err := p.state.AssignmentsByDateRange(start, end)
	if err != nil {
		return nil, err
	}
	persons, err := p.state.Persons()
	if err != nil {
		return nil, err
	}
	executed, err := p.state.SwapsByStatus(structs.SwapStatusExecuted)
	if err != nil {
		return nil, err
	}

	byPerson := make(map[string]*PersonCoverage)
	get := func(id string) *PersonCoverage {
		if pc := byPerson[id]; pc != nil {
			return pc
		}
		pc := &PersonCoverage{PersonID: id, Name: id}
		if person := persons[id]; person != nil && person.Name != "" {
			pc.Name = person.Name
		}
		byPerson[id] = pc
		return pc
	}

	for _, a := range assignments {
		switch a.Role {
		case structs.RolePrimary:
			get(a.PersonID).PrimaryBlocks++
		case structs.RoleSupervising:
			get(a.PersonID).SupervisingBlocks++
		}
	}

	lo, hi := structs.Midnight(start), structs.Midnight(end)
	for _, s := range executed {
		day := structs.Midnight(s.SourceDate)
		if day.Before(lo) || day.After(hi) {
			continue
		}
		get(s.TargetPersonID).Provided++
		get(s.SourcePersonID).Received++
	}

	out := make([]*PersonCoverage, 0, len(byPerson))
	for _, pc := range byPerson {
		out = append(out, pc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provided != out[j].Provided {
			return out[i].Provided > out[j].Provided
		}
		if out[i].PrimaryBlocks != out[j].PrimaryBlocks {
			return out[i].PrimaryBlocks > out[j].PrimaryBlocks
		}
		return out[i].PersonID < out[j].PersonID
	})
	return out, nil
}

// TopCoverers returns the k heads of the summary ranking.
func (p *CoverageProxy) TopCoverers(ctx context.Context, start, end time.Time, k int) ([]*PersonCoverage, error) {
	summary, err := p.Summary(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if k < len(summary) {
		summary = summary[:k]
	}
	return summary, nil
}

// coverageTags lists the per-date tags a view entry depends on, so swap
// execution can invalidate exactly the affected days.
func coverageTags(start, end time.Time) []string {
	var tags []string
	for d := structs.Midnight(start); !d.After(structs.Midnight(end)); d = d.AddDate(0, 0, 1) {
		tags = append(tags, "date:"+structs.DateKey(d))
	}
	return tags
}
