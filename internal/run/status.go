// Package run implements the per-template run lifecycle: durable run
// status records, process liveness probing, and the state machine that
// governs run creation, execution, and clearing.
//
// On-disk layout, relative to a template directory:
//
//	runs/
//	  .active                  run ID of the active run
//	  <run_id>/
//	    status.json            persisted Status record
//	    config/.env            optional env overrides for the subprocess
//	    diagnostics/           execution.log and the execution.ok marker
//	    outputs/               artifacts produced by the run
package run

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// File and directory names inside a template's runs tree.
const (
	RunsDirName    = "runs"
	ActiveFileName = ".active"
	DefaultRunID   = "default"

	statusFileName = "status.json"
	configDirName  = "config"
	diagDirName    = "diagnostics"
	outputsDirName = "outputs"
	envFileName    = ".env"
	logFileName    = "execution.log"
	markerFileName = "execution.ok"
)

// State is the lifecycle state of a run.
type State string

const (
	StateNotStarted State = "NOT_STARTED"
	StateRunning    State = "RUNNING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

// Valid reports whether s is one of the four known states.
func (s State) Valid() bool {
	switch s {
	case StateNotStarted, StateRunning, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Status is the persisted status record of one run. PID is meaningful
// only while State is RUNNING; after reconciliation it may remain for
// audit but is no longer authoritative for liveness.
type Status struct {
	State   State   `json:"state"`
	PID     *int    `json:"pid"`
	Message *string `json:"message"`
}

// DefaultStatus is the status of a run that has never been executed.
func DefaultStatus() Status {
	return Status{State: StateNotStarted}
}

// Patch carries the fields to change in an Update. Nil fields are left
// untouched.
type Patch struct {
	State   *State
	PID     *int
	Message *string
}

// StatusStore persists the Status record of a single run directory.
// Corrupt or missing records degrade to the NOT_STARTED default rather
// than failing: status corruption must never block run management.
type StatusStore struct {
	dir string
}

// NewStatusStore returns a store rooted at the given run directory.
func NewStatusStore(runDir string) StatusStore {
	return StatusStore{dir: runDir}
}

func (s StatusStore) path() string {
	return filepath.Join(s.dir, statusFileName)
}

// Exists reports whether a status record is present on disk.
func (s StatusStore) Exists() bool {
	_, err := os.Stat(s.path())
	return err == nil
}

// Load reads the status record. Absent, unreadable, or invalid records
// yield the NOT_STARTED default.
func (s StatusStore) Load() Status {
	data, err := os.ReadFile(s.path())
	if err != nil {
		return DefaultStatus()
	}
	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return DefaultStatus()
	}
	if !status.State.Valid() {
		return DefaultStatus()
	}
	return status
}

// Save writes the status record, replacing any previous one. The write
// goes to a temp file in the same directory and is renamed into place
// so a concurrent reader never observes a half-written record.
func (s StatusStore) Save(status Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("run: marshal status: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".status-*.json")
	if err != nil {
		return fmt.Errorf("run: create temp status file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("run: write status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("run: close status file: %w", err)
	}
	if err := os.Rename(tmpName, s.path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("run: replace status file: %w", err)
	}
	return nil
}

// Update applies the non-nil fields of patch to the current record and
// saves the result. The read-modify-write is not locked against other
// writers; see the package concurrency notes.
func (s StatusStore) Update(patch Patch) error {
	status := s.Load()
	if patch.State != nil {
		status.State = *patch.State
	}
	if patch.PID != nil {
		status.PID = patch.PID
	}
	if patch.Message != nil {
		status.Message = patch.Message
	}
	return s.Save(status)
}
