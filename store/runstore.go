// ABOUTME: Filesystem-backed run metadata store: one directory per run with an atomically written manifest.json.
// ABOUTME: Serializes read-modify-write per run id so concurrent result attachments never clobber each other.

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lookbook-studio/lookbook/tryon"
)

// ErrRunNotFound is returned when the requested run does not exist.
type ErrRunNotFound struct{ ID string }

func (e *ErrRunNotFound) Error() string { return fmt.Sprintf("run %q not found", e.ID) }

// ErrRunConflict is returned when a run's status forbids the requested mutation.
type ErrRunConflict struct {
	ID     string
	Reason string
}

func (e *ErrRunConflict) Error() string { return fmt.Sprintf("run %q: %s", e.ID, e.Reason) }

// RunStore is the run metadata storage interface the orchestration layer
// consumes: it reads input references and appends results.
type RunStore interface {
	Get(id string) (*Run, error)
	AppendResult(id string, result Result) error
	EnsureLocked(id string) error
}

// FSRunStore is a filesystem-backed run store. Each run is stored in a
// subdirectory of baseDir named by run ID:
//
//	baseDir/{runID}/manifest.json
//	baseDir/{runID}/results/{provider}_v{N}.{ext}
type FSRunStore struct {
	baseDir string
	locks   *keyedMutex
}

// Compile-time check that FSRunStore implements RunStore.
var _ RunStore = (*FSRunStore)(nil)

// NewFSRunStore creates a run store rooted at baseDir, creating it if absent.
func NewFSRunStore(baseDir string) (*FSRunStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	return &FSRunStore{baseDir: baseDir, locks: newKeyedMutex()}, nil
}

// RunDir returns the directory path for a run ID.
func (s *FSRunStore) RunDir(id string) string {
	return filepath.Join(s.baseDir, id)
}

// ResultsDir returns the results directory path for a run ID.
func (s *FSRunStore) ResultsDir(id string) string {
	return filepath.Join(s.baseDir, id, "results")
}

// Create makes a new draft run with the given display name.
func (s *FSRunStore) Create(name string) (*Run, error) {
	run := &Run{
		ID:        NewRunID(),
		Name:      name,
		Status:    RunDraft,
		Inputs:    make(map[InputKind]InputImage),
		Results:   []Result{},
		UpdatedAt: time.Now(),
	}

	unlock := s.locks.Lock(run.ID)
	defer unlock()

	runDir := s.RunDir(run.ID)
	if _, err := os.Stat(runDir); err == nil {
		return nil, fmt.Errorf("run %q already exists", run.ID)
	}
	if err := os.MkdirAll(filepath.Join(runDir, "results"), 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	if err := s.writeManifest(run); err != nil {
		return nil, err
	}
	return run, nil
}

// Get loads a run by ID.
func (s *FSRunStore) Get(id string) (*Run, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.readManifest(id)
}

// List returns all runs sorted by ID descending; ULIDs are time-ordered, so
// this is newest first. Corrupt entries are skipped.
func (s *FSRunStore) List() ([]*Run, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read base dir: %w", err)
	}

	var runs []*Run
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].ID > runs[j].ID })
	return runs, nil
}

// SelectInput records an input image for the given slot. Inputs may only
// change while the run is a draft.
func (s *FSRunStore) SelectInput(id string, img InputImage) error {
	return s.mutate(id, func(run *Run) error {
		if run.Status != RunDraft {
			return &ErrRunConflict{ID: id, Reason: "inputs can only change while the run is a draft"}
		}
		if run.Inputs == nil {
			run.Inputs = make(map[InputKind]InputImage)
		}
		run.Inputs[img.Kind] = img
		return nil
	})
}

// SetProviderSettings stores per-provider default parameters on the run.
func (s *FSRunStore) SetProviderSettings(id string, tag tryon.ProviderTag, params tryon.Params) error {
	return s.mutate(id, func(run *Run) error {
		if run.Settings == nil {
			run.Settings = make(map[tryon.ProviderTag]tryon.Params)
		}
		run.Settings[tag] = params
		return nil
	})
}

// EnsureLocked transitions a draft run to locked; the transition is
// irreversible and happens the first time generation starts. Locked,
// completed, and archived runs are left unchanged.
func (s *FSRunStore) EnsureLocked(id string) error {
	return s.mutate(id, func(run *Run) error {
		if run.Status != RunDraft {
			return nil
		}
		now := time.Now()
		run.Status = RunLocked
		run.LockedAt = &now
		return nil
	})
}

// Complete marks a locked run as completed.
func (s *FSRunStore) Complete(id string) error {
	return s.mutate(id, func(run *Run) error {
		if run.Status != RunLocked {
			return &ErrRunConflict{ID: id, Reason: "only a locked run can be completed"}
		}
		run.Status = RunCompleted
		return nil
	})
}

// Archive marks a run as archived.
func (s *FSRunStore) Archive(id string) error {
	return s.mutate(id, func(run *Run) error {
		run.Status = RunArchived
		return nil
	})
}

// AppendResult attaches a result and its version ledger entry to the run.
// Safe to call concurrently from different provider workflows for the same
// run: the whole read-modify-write happens under the run's lock.
func (s *FSRunStore) AppendResult(id string, result Result) error {
	return s.mutate(id, func(run *Run) error {
		run.Results = append(run.Results, result)
		if run.Versions == nil {
			run.Versions = make(map[tryon.ProviderTag][]VersionEntry)
		}
		run.Versions[result.Provider] = append(run.Versions[result.Provider], VersionEntry{
			Version:   result.Version,
			CreatedAt: result.CreatedAt,
			Params:    result.Params,
		})
		return nil
	})
}

// mutate runs fn against the loaded run under the run's lock and persists the
// result atomically.
func (s *FSRunStore) mutate(id string, fn func(*Run) error) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	run, err := s.readManifest(id)
	if err != nil {
		return err
	}
	if err := fn(run); err != nil {
		return err
	}
	run.UpdatedAt = time.Now()
	return s.writeManifest(run)
}

// readManifest loads manifest.json for the run ID. Callers must hold the run's lock.
func (s *FSRunStore) readManifest(id string) (*Run, error) {
	data, err := os.ReadFile(filepath.Join(s.RunDir(id), "manifest.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrRunNotFound{ID: id}
		}
		return nil, fmt.Errorf("read manifest for %q: %w", id, err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("parse manifest for %q: %w", id, err)
	}
	return &run, nil
}

// writeManifest persists the run using atomic write-via-temp-file. Callers
// must hold the run's lock.
func (s *FSRunStore) writeManifest(run *Run) error {
	if run.Results == nil {
		run.Results = []Result{}
	}
	path := filepath.Join(s.RunDir(run.ID), "manifest.json")
	if err := writeJSONAtomic(path, run); err != nil {
		return fmt.Errorf("write manifest for %q: %w", run.ID, err)
	}
	return nil
}

// writeJSONAtomic writes a JSON-encoded value using a temp file + rename so a
// crash mid-write never leaves a truncated manifest visible.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
