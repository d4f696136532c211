// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package control drives autonomous scheduling runs: a filesystem-backed
// run-state store with atomic snapshots and append-only history, and the
// controller loop that selects parameters, generates candidates and applies
// the stopping rules.
package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/schedcu/autosched/helper/uuid"
	"github.com/schedcu/autosched/structs"
)

const (
	fileState    = "state.json"
	fileHistory  = "history.ndjson"
	fileSchedule = "schedule.json"
	fileReport   = "report.json"
	fileRunLog   = "run.log"

	// historySyncEvery forces an fsync of the history file after this many
	// appended records.
	historySyncEvery = 10

	runDirPerms  = 0o755
	runFilePerms = 0o644
)

// Store manages run directories under a common root. Each run exclusively
// owns its directory; the store only creates, opens and lists them.
type Store struct {
	logger hclog.Logger
	root   string
}

// NewStore creates the root directory if needed.
func NewStore(logger hclog.Logger, root string) (*Store, error) {
	if err := os.MkdirAll(root, runDirPerms); err != nil {
		return nil, fmt.Errorf("run store root setup failed: %w", err)
	}
	return &Store{logger: logger.Named("run_store"), root: root}, nil
}

// Run is an open handle on one run directory. It is the only writer to the
// run's state and history files.
type Run struct {
	logger hclog.Logger
	dir    string

	state *structs.RunState

	history     *os.File
	unsynced    int
	recordCount int

	logFile *os.File
}

// Create allocates a fresh run directory named
// {scenario}_{YYYYMMDD_HHMMSS}_{rand8} and persists the initial state. The
// directory name becomes the run ID.
func (s *Store) Create(state *structs.RunState) (*Run, error) {
	if state.Scenario == "" {
		return nil, fmt.Errorf("run requires a scenario name")
	}
	if verr := structs.ValidateIdentifier("run.scenario", state.Scenario); verr != nil {
		return nil, verr
	}

	id := fmt.Sprintf("%s_%s_%s", state.Scenario,
		time.Now().UTC().Format("20060102_150405"), uuid.Short())
	dir := filepath.Join(s.root, id)
	if err := os.Mkdir(dir, runDirPerms); err != nil {
		return nil, fmt.Errorf("run directory creation failed: %w", err)
	}

	state = state.Copy()
	state.ID = id

	run, err := s.open(dir, state)
	if err != nil {
		return nil, err
	}
	if err := run.SaveState(state); err != nil {
		run.Close()
		return nil, err
	}
	s.logger.Info("run created", "run_id", id, "scenario", state.Scenario)
	return run, nil
}

// Resume reopens an existing run directory. The persisted state is reloaded,
// a torn trailing history record is discarded, and derived counters are
// replayed from history when the snapshot is stale.
func (s *Store) Resume(id string) (*Run, error) {
	dir := filepath.Join(s.root, id)

	raw, err := os.ReadFile(filepath.Join(dir, fileState))
	if err != nil {
		return nil, fmt.Errorf("run state read failed: %w", err)
	}
	state := new(structs.RunState)
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, fmt.Errorf("run state decode failed: %w", err)
	}
	if state.Status.Terminal() {
		return nil, fmt.Errorf("run %s: %w", id, structs.ErrRunTerminal)
	}

	run, err := s.open(dir, state)
	if err != nil {
		return nil, err
	}

	records, err := run.History()
	if err != nil {
		run.Close()
		return nil, err
	}
	run.recordCount = len(records)

	// Replay records the snapshot has not seen. Timestamps and params come
	// from history verbatim; only derived counters are recomputed.
	replayed := 0
	for _, rec := range records {
		if rec.Iteration <= state.CurrentIteration {
			continue
		}
		state.UpdateWithResult(rec.Iteration, rec.Score, rec.Params)
		replayed++
	}
	if replayed > 0 {
		s.logger.Info("stale run snapshot repaired from history",
			"run_id", id, "replayed", replayed)
		if err := run.SaveState(state); err != nil {
			run.Close()
			return nil, err
		}
	}
	s.logger.Info("run resumed", "run_id", id,
		"iteration", state.CurrentIteration, "best_score", state.BestScore)
	return run, nil
}

// List returns the persisted state of every run under the root, newest
// first by creation time.
func (s *Store) List() ([]*structs.RunState, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("run store scan failed: %w", err)
	}

	var out []*structs.RunState
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.root, e.Name(), fileState))
		if err != nil {
			s.logger.Warn("skipping unreadable run directory", "dir", e.Name(), "error", err)
			continue
		}
		state := new(structs.RunState)
		if err := json.Unmarshal(raw, state); err != nil {
			s.logger.Warn("skipping corrupt run state", "dir", e.Name(), "error", err)
			continue
		}
		out = append(out, state)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.After(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (s *Store) open(dir string, state *structs.RunState) (*Run, error) {
	history, err := os.OpenFile(filepath.Join(dir, fileHistory),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, runFilePerms)
	if err != nil {
		return nil, fmt.Errorf("history open failed: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(dir, fileRunLog),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, runFilePerms)
	if err != nil {
		history.Close()
		return nil, fmt.Errorf("run log open failed: %w", err)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:            "run",
		Level:           hclog.Debug,
		Output:          logFile,
		IncludeLocation: false,
	}).With("run_id", state.ID)

	return &Run{
		logger:  logger,
		dir:     dir,
		state:   state.Copy(),
		history: history,
		logFile: logFile,
	}, nil
}

// Dir returns the run directory path.
func (r *Run) Dir() string { return r.dir }

// Logger returns the run-scoped logger writing to run.log.
func (r *Run) Logger() hclog.Logger { return r.logger }

// State returns a copy of the in-memory run state.
func (r *Run) State() *structs.RunState { return r.state.Copy() }

// SaveState atomically persists the state snapshot: write to a temp file,
// fsync, rename over state.json.
func (r *Run) SaveState(state *structs.RunState) error {
	r.state = state.Copy()
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("run state encode failed: %w", err)
	}
	return atomicWrite(filepath.Join(r.dir, fileState), raw)
}

// AppendHistory validates, appends and counts one iteration record. Records
// must arrive contiguously starting at 1; the file is fsynced every tenth
// append.
func (r *Run) AppendHistory(rec *structs.IterationRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Iteration != r.recordCount+1 {
		return fmt.Errorf("history gap: expected iteration %d, got %d",
			r.recordCount+1, rec.Iteration)
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("iteration record encode failed: %w", err)
	}
	if _, err := r.history.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("history append failed: %w", err)
	}

	r.recordCount++
	r.unsynced++
	if r.unsynced >= historySyncEvery {
		if err := r.history.Sync(); err != nil {
			return fmt.Errorf("history sync failed: %w", err)
		}
		r.unsynced = 0
	}
	return nil
}

// History reads every intact record from history.ndjson. A torn trailing
// line (partial write from a crash) is truncated away; a torn line anywhere
// else is corruption and fails the read.
func (r *Run) History() ([]*structs.IterationRecord, error) {
	path := filepath.Join(r.dir, fileHistory)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("history open failed: %w", err)
	}
	defer f.Close()

	var records []*structs.IterationRecord
	var validOffset int64

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		rec := new(structs.IterationRecord)
		if err := json.Unmarshal(line, rec); err != nil {
			// Only the final line may be torn.
			if r.scanRemainder(scanner) {
				return nil, fmt.Errorf("history corrupt at record %d: %w", len(records)+1, err)
			}
			r.logger.Warn("discarding torn history tail", "intact_records", len(records))
			if terr := os.Truncate(path, validOffset); terr != nil {
				return nil, fmt.Errorf("history truncate failed: %w", terr)
			}
			return records, nil
		}
		records = append(records, rec)
		validOffset += int64(len(line)) + 1
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("history scan failed: %w", err)
	}
	return records, nil
}

// scanRemainder reports whether any non-empty line follows the current one.
func (r *Run) scanRemainder(scanner *bufio.Scanner) bool {
	for scanner.Scan() {
		if len(strings.TrimSpace(scanner.Text())) > 0 {
			return true
		}
	}
	return false
}

// ScheduleEntry is the published row format of schedule.json. External
// consumers read the file as a flat array of these rows; candidate metadata
// (params, stats) stays out of the artifact.
type ScheduleEntry struct {
	BlockID            string                 `json:"block_id"`
	PersonID           string                 `json:"person_id"`
	RotationTemplateID string                 `json:"rotation_template_id"`
	Role               structs.AssignmentRole `json:"role"`
}

// SaveSchedule atomically persists the best-so-far assignment set as a flat
// row array.
func (r *Run) SaveSchedule(candidate *structs.Candidate) error {
	rows := make([]ScheduleEntry, len(candidate.Assignments))
	for i, a := range candidate.Assignments {
		rows[i] = ScheduleEntry{
			BlockID:            a.BlockID,
			PersonID:           a.PersonID,
			RotationTemplateID: a.RotationTemplateID,
			Role:               a.Role,
		}
	}
	raw, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("schedule encode failed: %w", err)
	}
	return atomicWrite(filepath.Join(r.dir, fileSchedule), raw)
}

// SaveReport atomically persists the evaluation report of the best schedule.
func (r *Run) SaveReport(result *structs.EvaluationResult) error {
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("report encode failed: %w", err)
	}
	return atomicWrite(filepath.Join(r.dir, fileReport), raw)
}

// Close flushes and releases the run's file handles.
func (r *Run) Close() error {
	var first error
	if r.history != nil {
		if err := r.history.Sync(); err != nil && first == nil {
			first = err
		}
		if err := r.history.Close(); err != nil && first == nil {
			first = err
		}
		r.history = nil
	}
	if r.logFile != nil {
		if err := r.logFile.Close(); err != nil && first == nil {
			first = err
		}
		r.logFile = nil
	}
	return first
}

// atomicWrite writes via a temp file in the same directory and renames it
// into place so readers never observe a partial file.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("temp file creation failed: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("temp file write failed: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("temp file sync failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("temp file close failed: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("atomic rename failed: %w", err)
	}
	return nil
}
