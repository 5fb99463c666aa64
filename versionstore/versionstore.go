// Package versionstore persists the per-dataset "last known change" timestamp
// across restarts. The file is the coordination point between the fetch path
// and the reconciliation loop: whichever process refreshed a dataset last
// writes its timestamp here, and the loop compares it against the in-memory
// cache to detect remote-origin changes.
package versionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dataset"
)

// Versions maps a dataset to a wall-clock timestamp in fractional seconds.
type Versions map[dataset.ID]float64

// Store reads and writes the version file. Writes go through a temp file and
// rename so a crash mid-write never leaves a reader with invalid JSON: the
// prior committed state stays intact.
type Store struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

// New creates a Store for the given file path. The file does not have to
// exist yet; a missing file loads as all-zero defaults.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Load reads the persisted versions. Every known dataset is present in the
// result; absent keys default to 0. A missing file, malformed JSON, or the
// legacy single-"version" shape all load as defaults; prior-state corruption
// is never fatal.
func (s *Store) Load() Versions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() Versions {
	v := defaults()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("versionstore: read failed, using defaults", "path", s.path, "error", err)
		}
		return v
	}

	var data map[string]json.Number
	if err := json.Unmarshal(raw, &data); err != nil {
		s.logger.Warn("versionstore: malformed state file, using defaults", "path", s.path, "error", err)
		return v
	}

	// Legacy shape: a single top-level "version" counter from the old
	// deployment. Treated as no prior state.
	if _, legacy := data["version"]; legacy {
		return v
	}

	for _, id := range dataset.All() {
		if n, ok := data[string(id)]; ok {
			if f, err := n.Float64(); err == nil {
				v[id] = f
			}
		}
	}
	return v
}

// Save atomically replaces the version file with the given mapping. On any
// failure the previous file is left untouched and the error is returned for
// the caller to log.
func (s *Store) Save(v Versions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("versionstore: marshal: %w", err)
	}
	return s.writeLocked(raw)
}

// Set updates a single dataset's timestamp, keeping the other entries as
// persisted. The persisted value is best-effort monotonic: a lower timestamp
// than the stored one is ignored.
func (s *Store) Set(id dataset.ID, ts float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.loadLocked()
	if ts <= v[id] {
		return nil
	}
	v[id] = ts

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("versionstore: marshal: %w", err)
	}
	return s.writeLocked(raw)
}

func (s *Store) writeLocked(raw []byte) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".version-*.json")
	if err != nil {
		return fmt.Errorf("versionstore: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("versionstore: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("versionstore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("versionstore: rename: %w", err)
	}
	return nil
}

func defaults() Versions {
	v := make(Versions, len(dataset.All()))
	for _, id := range dataset.All() {
		v[id] = 0
	}
	return v
}
