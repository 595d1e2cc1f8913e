// Package store persists the comparator state as a versioned JSON snapshot.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"

	"shrike/internal/comparator"
)

const snapshotVersion = 1

// envelope wraps the persisted state with an explicit version field so later
// format changes can migrate old snapshots instead of discarding them.
type envelope struct {
	Version int                                `json:"version"`
	Sources map[string]*comparator.SourceState `json:"sources"`
}

// FileStore keeps one durable snapshot per deployment. Writes go through a
// temp file and an atomic rename so a crash mid-flush never leaves a torn
// snapshot behind.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the snapshot. A missing or unreadable snapshot is not fatal: the
// pipeline restarts with an empty state and sources are re-treated as all new
// on first contact.
func (s *FileStore) Load() *comparator.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("Snapshot unreadable, starting with empty state", "path", s.path, "error", err)
		}
		return comparator.NewState()
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn("Snapshot corrupt, starting with empty state", "path", s.path, "error", err)
		return comparator.NewState()
	}
	if env.Version != snapshotVersion {
		log.Warn("Snapshot version unsupported, starting with empty state",
			"path", s.path, "version", env.Version)
		return comparator.NewState()
	}

	state := comparator.NewState()
	if env.Sources != nil {
		state.Sources = env.Sources
	}
	return state
}

// Save flushes the full state to disk.
func (s *FileStore) Save(state *comparator.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(envelope{Version: snapshotVersion, Sources: state.Sources})
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "snapshot-*.json")
	if err != nil {
		return fmt.Errorf("store: create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: replace snapshot: %w", err)
	}
	return nil
}
