// Package statestore persists ledger tracker snapshots between runs so
// accumulated realized PnL, funding and fees survive a restart.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yanapattin-source/bybit-rebalance-perp/internal/ledger"
)

// Store reads and writes tracker snapshots at a fixed path.
type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the stored snapshot. The boolean is false when no state file
// exists yet, which is the normal first-run case and not an error.
func (s *Store) Load() (ledger.State, bool, error) {
	var state ledger.State

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, false, nil
		}
		return state, false, fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}

	if err := json.Unmarshal(data, &state); err != nil {
		return ledger.State{}, false, fmt.Errorf("failed to parse state file %s: %w", s.path, err)
	}
	return state, true, nil
}

// Save writes the snapshot through a temp file and rename so a crash
// mid-write never leaves a truncated state file behind.
func (s *Store) Save(state ledger.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory %s: %w", dir, err)
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file %s: %w", s.path, err)
	}
	return nil
}
