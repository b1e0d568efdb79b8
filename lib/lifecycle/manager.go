// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/warden/lib/access"
	"github.com/bureau-foundation/warden/lib/clock"
	"github.com/bureau-foundation/warden/lib/memorymap"
	"github.com/bureau-foundation/warden/lib/pagestore"
	"github.com/bureau-foundation/warden/lib/version"
)

// Migration is passed to the migration callback. The allocator window
// is open for the duration of the callback, so it may allocate new
// regions.
type Migration struct {
	// From and To are the stable layout versions before and after.
	From, To uint32

	Allocator *memorymap.Allocator
	Store     pagestore.Store
	Logger    *slog.Logger
}

// MigrationFunc rewrites persisted state from one stable layout version
// to the next. It is called at most once per upgrade and never retried.
type MigrationFunc func(ctx context.Context, migration *Migration) error

// Config configures a Manager.
type Config struct {
	// LayoutVersion is the stable layout version the running code
	// reads and writes.
	LayoutVersion uint32

	// Version, if non-nil, is the semantic version of the running
	// code. OnInit seeds it and OnUpgrade requires the bumped stored
	// version to equal it.
	Version *version.Semantic

	// CheckpointDir receives a snapshot of the store before migration
	// when an upgrade asks for one. Empty disables checkpoints.
	CheckpointDir         string
	CheckpointCompression pagestore.CompressionTag

	// Migrate runs when an upgrade changes the stable layout.
	Migrate MigrationFunc

	// Clock defaults to clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

// UpgradeRequest describes one code replacement.
type UpgradeRequest struct {
	Bump          Bump
	LayoutChanged bool

	// Checkpoint asks for a snapshot of the store before migration.
	// It is ignored when no checkpoint directory is configured.
	Checkpoint bool
}

// Manager drives the version record through init and upgrade for one
// process lifetime.
type Manager struct {
	mu        sync.Mutex
	allocator *memorymap.Allocator
	config    Config
	clock     clock.Clock
	logger    *slog.Logger

	phase   Phase
	record  VersionRecord
	history *memorymap.Region
	pending *pendingUpgrade
}

// pendingUpgrade holds a validated and migrated upgrade whose version
// record has not been written yet.
type pendingUpgrade struct {
	request UpgradeRequest
	stored  VersionRecord
	next    VersionRecord
	history *memorymap.Region
}

// New returns a Manager in PhaseUnattached. allocator must already be
// formatted or attached.
func New(allocator *memorymap.Allocator, config Config) *Manager {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Manager{
		allocator: allocator,
		config:    config,
		clock:     clk,
		logger:    logger,
	}
}

// ReadVersion reads the version record from the lifecycle cell. It
// reports false when the unit has never been initialized.
func ReadVersion(cells access.CellStore) (VersionRecord, bool, error) {
	var record VersionRecord
	found, err := cells.ReadCell(memorymap.LifecycleCell, &record)
	if err != nil {
		return VersionRecord{}, false, fmt.Errorf("lifecycle: reading version record: %w", err)
	}
	return record, found, nil
}

// transition moves the phase forward. Caller holds mu.
func (m *Manager) transition(event phaseEvent) error {
	next, ok := m.phase.next(event)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPhase, m.phase)
	}
	m.logger.Debug("lifecycle phase", "from", m.phase.String(), "to", next.String())
	m.phase = next
	return nil
}

// fail moves to PhaseFailed through the transition table and returns
// err. Caller holds mu.
func (m *Manager) fail(err error) error {
	m.pending = nil
	if transitionErr := m.transition(eventFail); transitionErr != nil {
		m.logger.Error("lifecycle failure outside a transition", "phase", m.phase.String(), "error", err)
		return err
	}
	m.logger.Error("lifecycle transition failed", "error", err)
	return err
}

// OnInit seeds the version record on the first start of a unit and
// allocates the upgrade history region. No migration runs. It fails
// with a ConfigurationError if the store already holds a version
// record.
func (m *Manager) OnInit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transition(eventInit); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return m.fail(err)
	}

	if _, found, err := ReadVersion(m.allocator); err != nil {
		return m.fail(err)
	} else if found {
		return m.fail(&memorymap.ConfigurationError{
			Setting: "lifecycle",
			Reason:  "store already holds a version record; use upgrade",
		})
	}

	history, err := m.allocator.AllocateFramework(memorymap.UpgradeHistoryRegion, HistorySizeHint)
	if err != nil {
		return m.fail(fmt.Errorf("lifecycle: allocating upgrade history: %w", err))
	}
	if err := writeHistory(history, nil); err != nil {
		return m.fail(err)
	}

	var record VersionRecord
	if m.config.Version != nil {
		record.Major = m.config.Version.Major
		record.Minor = m.config.Version.Minor
		record.Patch = m.config.Version.Patch
	}
	record.StableLayoutVersion = m.config.LayoutVersion
	record.LastUpgraded = m.clock.Now().UnixNano()

	if err := m.allocator.WriteCell(memorymap.LifecycleCell, record); err != nil {
		return m.fail(fmt.Errorf("lifecycle: writing version record: %w", err))
	}
	m.record = record
	m.history = history
	if err := m.transition(eventComplete); err != nil {
		return m.fail(err)
	}
	m.logger.Info("unit initialized",
		"version", record.Semantic().String(),
		"layout_version", record.StableLayoutVersion,
	)
	return nil
}

// OnUpgrade applies one code replacement to the stored version record.
// It is [Manager.PrepareUpgrade] followed by [Manager.CommitUpgrade].
func (m *Manager) OnUpgrade(ctx context.Context, request UpgradeRequest) error {
	if err := m.PrepareUpgrade(ctx, request); err != nil {
		return err
	}
	return m.CommitUpgrade()
}

// PrepareUpgrade validates the bumped record against the compiled
// layout version (and compiled semantic version, if configured), writes
// a checkpoint if requested, and runs the migration callback exactly
// once when the stable layout changed. The stored version record and
// history are left untouched until [Manager.CommitUpgrade]; a host that
// cannot finish the upgrade calls [Manager.AbortUpgrade] instead.
func (m *Manager) PrepareUpgrade(ctx context.Context, request UpgradeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transition(eventUpgrade); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return m.fail(err)
	}

	stored, found, err := ReadVersion(m.allocator)
	if err != nil {
		return m.fail(err)
	}
	if !found {
		return m.fail(&memorymap.ConfigurationError{
			Setting: "lifecycle",
			Reason:  "store holds no version record; use init",
		})
	}

	next, err := stored.bumped(request.Bump, request.LayoutChanged)
	if err != nil {
		return m.fail(err)
	}
	if next.StableLayoutVersion != m.config.LayoutVersion {
		return m.fail(&memorymap.ConfigurationError{
			Setting:   "layout_version",
			Stored:    uint64(next.StableLayoutVersion),
			Requested: uint64(m.config.LayoutVersion),
			Reason:    fmt.Sprintf("upgrade (layout changed: %t) disagrees with the compiled layout version", request.LayoutChanged),
		})
	}
	if m.config.Version != nil && next.Semantic() != *m.config.Version {
		return m.fail(&memorymap.ConfigurationError{
			Setting: "version",
			Reason: fmt.Sprintf("%s bump of stored %s gives %s, compiled version is %s",
				request.Bump, stored.Semantic(), next.Semantic(), m.config.Version),
		})
	}
	if request.LayoutChanged && m.config.Migrate == nil {
		return m.fail(&memorymap.ConfigurationError{
			Setting: "layout_version",
			Reason:  "stable layout changed but no migration is registered",
		})
	}

	history, err := m.historyRegion()
	if err != nil {
		return m.fail(err)
	}

	if request.Checkpoint && m.config.CheckpointDir != "" {
		path, info, err := writeCheckpoint(m.config.CheckpointDir, m.allocator.Store(),
			m.config.CheckpointCompression, stored)
		if err != nil {
			return m.fail(fmt.Errorf("lifecycle: %w", err))
		}
		m.logger.Info("checkpoint written",
			"path", path,
			"pages", info.Pages,
			"bytes", info.Bytes,
			"digest", info.Digest.String(),
		)
	}

	if request.LayoutChanged {
		if err := m.transition(eventMigrate); err != nil {
			return m.fail(err)
		}
		if err := m.migrate(ctx, stored.StableLayoutVersion, next.StableLayoutVersion); err != nil {
			return m.fail(err)
		}
	}

	m.pending = &pendingUpgrade{
		request: request,
		stored:  stored,
		next:    next,
		history: history,
	}
	return nil
}

// CommitUpgrade appends the upgrade to the history and writes the
// bumped version record. The record write is last; if it fails the
// previous history is restored.
func (m *Manager) CommitUpgrade() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := m.pending
	if pending == nil {
		return fmt.Errorf("%w: no prepared upgrade in phase %s", ErrPhase, m.phase)
	}
	stored, next, history := pending.stored, pending.next, pending.history

	now := m.clock.Now().UnixNano()
	next.LastUpgraded = now
	next.UpgradeCount = stored.UpgradeCount + 1

	previous, err := ReadHistory(history)
	if err != nil {
		return m.fail(err)
	}
	entries := append(slices.Clone(previous), HistoryEntry{
		From:       stored.Semantic(),
		To:         next.Semantic(),
		LayoutFrom: stored.StableLayoutVersion,
		LayoutTo:   next.StableLayoutVersion,
		At:         now,
	})
	if err := writeHistory(history, entries); err != nil {
		return m.fail(err)
	}
	if err := m.allocator.WriteCell(memorymap.LifecycleCell, next); err != nil {
		if restoreErr := writeHistory(history, previous); restoreErr != nil {
			m.logger.Error("restoring upgrade history failed", "error", restoreErr)
		}
		return m.fail(fmt.Errorf("lifecycle: writing version record: %w", err))
	}

	m.pending = nil
	m.record = next
	m.history = history
	if err := m.transition(eventComplete); err != nil {
		return m.fail(err)
	}
	m.logger.Info("unit upgraded",
		"from", stored.Semantic().String(),
		"to", next.Semantic().String(),
		"bump", pending.request.Bump.String(),
		"layout_version", next.StableLayoutVersion,
		"upgrade_count", next.UpgradeCount,
	)
	return nil
}

// AbortUpgrade discards a prepared upgrade and moves to PhaseFailed.
// The stored version record is unchanged. It returns cause.
func (m *Manager) AbortUpgrade(cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return cause
	}
	return m.fail(cause)
}

// historyRegion returns the upgrade history region, allocating it if a
// store predates it. Caller holds mu.
func (m *Manager) historyRegion() (*memorymap.Region, error) {
	if region, ok := m.allocator.Region(memorymap.UpgradeHistoryRegion); ok {
		return region, nil
	}
	region, err := m.allocator.AllocateFramework(memorymap.UpgradeHistoryRegion, HistorySizeHint)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: allocating upgrade history: %w", err)
	}
	return region, nil
}

// migrate runs the migration callback, converting a panic into a
// MigrationError. Caller holds mu.
func (m *Manager) migrate(ctx context.Context, from, to uint32) (err error) {
	m.logger.Info("migrating stable layout", "layout_from", from, "layout_to", to)
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &MigrationError{From: from, To: to, Err: fmt.Errorf("panic: %v", recovered)}
		}
	}()
	migration := &Migration{
		From:      from,
		To:        to,
		Allocator: m.allocator,
		Store:     m.allocator.Store(),
		Logger:    m.logger.With("layout_from", from, "layout_to", to),
	}
	if err := m.config.Migrate(ctx, migration); err != nil {
		return &MigrationError{From: from, To: to, Err: err}
	}
	return nil
}

// Phase returns the current phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Record returns the version record as of the last completed
// transition, and false before any transition completed.
func (m *Manager) Record() (VersionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record, m.phase == PhaseReady
}

// History returns the upgrade history, oldest first.
func (m *Manager) History() ([]HistoryEntry, error) {
	m.mu.Lock()
	history := m.history
	m.mu.Unlock()
	if history == nil {
		return nil, fmt.Errorf("%w: no upgrade history before a completed transition", ErrPhase)
	}
	return ReadHistory(history)
}
