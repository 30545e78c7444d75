// Package store provides crash-safe persistence of the bot state as a single
// JSON document.
//
// Saves use atomic file replacement (write to .tmp in the same directory,
// then rename) so a crash mid-save never leaves a torn file: concurrent
// readers observe either the pre- or post-image. The trading loop calls Save
// at the end of every cycle and Load on startup. A file that exists but does
// not decode is reported as ErrCorruptState and never overwritten — the
// operator decides what to do with it.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"polyarb/pkg/types"
)

// PaperStateFile is the document name for the paper-trading machine.
const PaperStateFile = "bot-state.json"

// LiveStateFile is the document name for the live-executor machine.
const LiveStateFile = "real-bot-state.json"

// ErrCorruptState marks a state file that exists but cannot be decoded.
// The store refuses to overwrite such a file.
var ErrCorruptState = errors.New("state file is corrupt")

// Store persists one BotState document to a JSON file.
// Operations are mutex-protected; there is exactly one writer (the trading
// loop), so the mutex only guards against accidental concurrent use.
type Store struct {
	path    string
	mu      sync.Mutex
	corrupt bool // set when Load found a corrupt file; blocks Save
}

// Open creates a store backed by dir/filename. The directory is created on
// first write, not here, so a read-only status consumer can Open freely.
func Open(dir, filename string) *Store {
	return &Store{path: filepath.Join(dir, filename)}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads the persisted state. A missing file returns (nil, nil) — the
// caller starts from the configured default. An unreadable file returns
// ErrCorruptState.
func (s *Store) Load() (*types.BotState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var state types.BotState
	if err := json.Unmarshal(data, &state); err != nil {
		s.corrupt = true
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, s.path, err)
	}
	if state.OpenPositions == nil {
		state.OpenPositions = make(map[string]*types.Position)
	}
	return &state, nil
}

// Save atomically persists the state: write to a .tmp file in the same
// directory, then rename over the target. Refuses to run after Load reported
// corruption, so the corrupt file is preserved for inspection.
func (s *Store) Save(state *types.BotState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.corrupt {
		return fmt.Errorf("%w: refusing to overwrite %s", ErrCorruptState, s.path)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
