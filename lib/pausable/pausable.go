// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pausable

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/warden/lib/access"
	"github.com/bureau-foundation/warden/lib/memorymap"
	"github.com/bureau-foundation/warden/lib/principal"
)

// ErrPaused is returned by WhenNotPaused while the unit is paused.
var ErrPaused = errors.New("pausable: unit is paused")

// ErrNotPaused is returned by WhenPaused while the unit is not paused.
var ErrNotPaused = errors.New("pausable: unit is not paused")

// Authorizer checks a caller's capability. *access.State implements it.
type Authorizer interface {
	RequireCapability(caller principal.Principal, capability access.Capability) error
}

// flagsRecord is the flags cell payload.
type flagsRecord struct {
	Paused bool `cbor:"paused"`
}

// State is the pause switch of one unit.
type State struct {
	mu         sync.RWMutex
	cells      access.CellStore
	authorizer Authorizer
	logger     *slog.Logger
	paused     bool
}

// Open loads the pause flag from the flags cell. An absent cell reads
// as not paused.
func Open(cells access.CellStore, authorizer Authorizer, logger *slog.Logger) (*State, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var record flagsRecord
	if _, err := cells.ReadCell(memorymap.FlagsCell, &record); err != nil {
		return nil, fmt.Errorf("pausable: loading flags cell: %w", err)
	}
	return &State{
		cells:      cells,
		authorizer: authorizer,
		logger:     logger,
		paused:     record.Paused,
	}, nil
}

// Pause sets the pause flag. The caller must be the owner or an admin.
// Pausing a paused unit is a no-op.
func (s *State) Pause(caller principal.Principal) error {
	return s.set(caller, true)
}

// Unpause clears the pause flag under the same authorization as Pause.
func (s *State) Unpause(caller principal.Principal) error {
	return s.set(caller, false)
}

func (s *State) set(caller principal.Principal, paused bool) error {
	if err := s.authorizer.RequireCapability(caller, access.AdminCapability()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == paused {
		return nil
	}
	return s.commit(paused, "caller", caller.String())
}

// Force sets the flag without an authorization check. It is used by
// the lifecycle to leave a unit paused after an upgrade.
func (s *State) Force(paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == paused {
		return nil
	}
	return s.commit(paused, "reason", "lifecycle")
}

// commit persists the flag and then updates memory. Caller holds mu.
func (s *State) commit(paused bool, attrs ...any) error {
	if err := s.cells.WriteCell(memorymap.FlagsCell, flagsRecord{Paused: paused}); err != nil {
		s.logger.Error("persisting pause flag failed", "error", err)
		return fmt.Errorf("pausable: persisting pause flag: %w", err)
	}
	s.paused = paused
	if paused {
		s.logger.Info("unit paused", attrs...)
	} else {
		s.logger.Info("unit unpaused", attrs...)
	}
	return nil
}

// IsPaused reports the current flag.
func (s *State) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// WhenNotPaused returns ErrPaused if the unit is paused.
func (s *State) WhenNotPaused() error {
	if s.IsPaused() {
		return ErrPaused
	}
	return nil
}

// WhenPaused returns ErrNotPaused if the unit is not paused.
func (s *State) WhenPaused() error {
	if !s.IsPaused() {
		return ErrNotPaused
	}
	return nil
}
