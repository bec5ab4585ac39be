// Package store provides the file-backed state store for the orchestration
// engine. It persists the ticket hierarchy, per-run execution state, and
// system configuration as pretty-printed JSON under a configurable base
// directory, and supports pause/resume and restart recovery.
//
// Layout (relative to the base path, default runtime/state):
//
//	tickets/<projectId>.json
//	runs/<runId>/state.json
//	runs/<runId>/conversation.json
//	runs/<runId>/quality.json
//	config.json
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultBasePath is used when no runtime base path is configured.
const DefaultBasePath = "runtime/state"

// Store is a file-backed key-value store with three namespaces.
// Writes to the same run are serialized by a per-run mutex; cross-run
// writes are independent.
type Store struct {
	base string

	mu       sync.Mutex
	runLocks map[string]*sync.Mutex
}

// New creates a store rooted at base. The directory tree is created on
// demand by the first write.
func New(base string) *Store {
	if base == "" {
		base = DefaultBasePath
	}
	return &Store{
		base:     base,
		runLocks: make(map[string]*sync.Mutex),
	}
}

// BasePath returns the store's root directory.
func (s *Store) BasePath() string { return s.base }

func (s *Store) ticketsPath(projectID string) string {
	return filepath.Join(s.base, "tickets", projectID+".json")
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.base, "runs", runID)
}

func (s *Store) runFile(runID, name string) string {
	return filepath.Join(s.runDir(runID), name)
}

func (s *Store) configPath() string {
	return filepath.Join(s.base, "config.json")
}

// runLock returns the mutex serializing writes for one run.
func (s *Store) runLock(runID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.runLocks[runID]
	if !ok {
		lock = &sync.Mutex{}
		s.runLocks[runID] = lock
	}
	return lock
}

// writeJSON serializes v as pretty JSON and replaces the target file
// atomically (write to temp file in the same directory, then rename).
// On I/O failure the old file is left intact.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// readJSON loads JSON from path into v. A missing file returns
// (false, nil) — absence is not an error. A parse failure is an error.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parsing %s: %w", path, err)
	}
	return true, nil
}
