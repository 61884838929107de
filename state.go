// FILE: state.go
// Package main – Durable per-symbol state.
//
// The venue is the source of truth for size, side and entry price; the
// local stop loss and take profit exist nowhere else, so they are persisted
// here across restarts. Writes go through a .tmp file and an atomic rename
// so a crash mid-write never corrupts the previous state.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BotState is the JSON document written after every state-changing event
// (open, close, trailing-stop move, shutdown).
type BotState struct {
	Symbol    string        `json:"symbol"`
	Position  PositionState `json:"position"`
	Equity    float64       `json:"equity"`
	TickCount int64         `json:"tick_count"`
	LastTick  time.Time     `json:"last_tick"`
	Exits     []ExitRecord  `json:"exits,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StateStore reads and writes one symbol's BotState file.
type StateStore struct {
	path string
}

// NewStateStore builds a store under dir for the given symbol. Slashes and
// colons in perp symbols ("BTC/USDT:USDT") are flattened for the filename.
func NewStateStore(dir, symbol string) *StateStore {
	name := strings.NewReplacer("/", "-", ":", "-").Replace(symbol) + ".json"
	return &StateStore{path: filepath.Join(dir, name)}
}

func (s *StateStore) Path() string { return s.path }

// Save writes st atomically, creating the directory on first use.
func (s *StateStore) Save(st BotState) error {
	if s == nil || s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}
	bs, err := json.MarshalIndent(st, "", " ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, bs, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load returns the persisted state, or (nil, nil) when no file exists yet.
func (s *StateStore) Load() (*BotState, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}
	bs, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var st BotState
	if err := json.Unmarshal(bs, &st); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return &st, nil
}
