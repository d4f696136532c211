// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package state

import (
	"fmt"
	"time"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/schedcu/autosched/structs"
)

const (
	TablePersons           = "persons"
	TableBlocks            = "blocks"
	TableRotationTemplates = "rotation_templates"
	TableAssignments       = "assignments"
	TableAbsences          = "absences"
	TableSwaps             = "swaps"
)

const (
	indexID        = "id"
	indexPerson    = "person"
	indexBlock     = "block"
	indexDate      = "date"
	indexRequester = "requester"
	indexStatus    = "status"
)

func stateStoreSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			TablePersons:           personTableSchema(),
			TableBlocks:            blockTableSchema(),
			TableRotationTemplates: rotationTemplateTableSchema(),
			TableAssignments:       assignmentTableSchema(),
			TableAbsences:          absenceTableSchema(),
			TableSwaps:             swapTableSchema(),
		},
	}
}

func personTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TablePersons,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:    indexID,
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "ID"},
			},
		},
	}
}

func blockTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableBlocks,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:    indexID,
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "ID"},
			},
			indexDate: {
				Name:    indexDate,
				Indexer: &dateFieldIndex{get: func(obj any) (time.Time, bool) {
					b, ok := obj.(*structs.Block)
					if !ok {
						return time.Time{}, false
					}
					return b.Date, true
				}},
			},
		},
	}
}

func rotationTemplateTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableRotationTemplates,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:    indexID,
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "ID"},
			},
		},
	}
}

func assignmentTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableAssignments,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:    indexID,
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "ID"},
			},
			indexPerson: {
				Name:    indexPerson,
				Indexer: &memdb.StringFieldIndex{Field: "PersonID"},
			},
			indexBlock: {
				Name:    indexBlock,
				Indexer: &memdb.StringFieldIndex{Field: "BlockID"},
			},
			indexDate: {
				Name:    indexDate,
				Indexer: &dateFieldIndex{get: func(obj any) (time.Time, bool) {
					a, ok := obj.(*structs.Assignment)
					if !ok {
						return time.Time{}, false
					}
					return a.Date, true
				}},
			},
		},
	}
}

func absenceTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableAbsences,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:    indexID,
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "ID"},
			},
			indexPerson: {
				Name:    indexPerson,
				Indexer: &memdb.StringFieldIndex{Field: "PersonID"},
			},
		},
	}
}

func swapTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableSwaps,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:    indexID,
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "ID"},
			},
			indexRequester: {
				Name:    indexRequester,
				Indexer: &memdb.StringFieldIndex{Field: "RequesterID"},
			},
			indexStatus: {
				Name:    indexStatus,
				Indexer: &memdb.StringFieldIndex{Field: "Status"},
			},
		},
	}
}

// dateFieldIndex indexes a time.Time field as its canonical YYYY-MM-DD form
// so that date-range scans are simple ordered prefix walks.
type dateFieldIndex struct {
	get func(obj any) (time.Time, bool)
}

func (d *dateFieldIndex) FromObject(obj any) (bool, []byte, error) {
	ts, ok := d.get(obj)
	if !ok {
		return false, nil, fmt.Errorf("object is not indexable by date")
	}
	if ts.IsZero() {
		return false, nil, nil
	}
	return true, []byte(structs.DateKey(ts) + "\x00"), nil
}

func (d *dateFieldIndex) FromArgs(args ...any) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide exactly one argument")
	}
	switch arg := args[0].(type) {
	case time.Time:
		return []byte(structs.DateKey(arg) + "\x00"), nil
	case string:
		return []byte(arg + "\x00"), nil
	default:
		return nil, fmt.Errorf("unsupported date argument type %T", args[0])
	}
}
