// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package unit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/warden/lib/access"
	"github.com/bureau-foundation/warden/lib/executor"
	"github.com/bureau-foundation/warden/lib/guard"
	"github.com/bureau-foundation/warden/lib/lifecycle"
	"github.com/bureau-foundation/warden/lib/memorymap"
	"github.com/bureau-foundation/warden/lib/pagestore"
	"github.com/bureau-foundation/warden/lib/pausable"
	"github.com/bureau-foundation/warden/lib/principal"
	"github.com/bureau-foundation/warden/lib/reentrancy"
)

// ErrNotReady is returned by calls before Init or PostUpgrade has
// succeeded, and after either failed.
var ErrNotReady = errors.New("unit: not ready")

// ErrAlreadyStarted is returned by a second Init or PostUpgrade in the
// same process.
var ErrAlreadyStarted = errors.New("unit: already started in this process")

// ErrUnknownEntrypoint is returned for a call to an unregistered name.
var ErrUnknownEntrypoint = errors.New("unit: unknown entrypoint")

// Upgrade flags.
const (
	// FlagCheckpoint writes a snapshot of the store to the configured
	// checkpoint directory before migration.
	FlagCheckpoint uint32 = 1 << iota

	// FlagPauseAfterUpgrade leaves the unit paused once the upgrade
	// completes, so an operator can verify it before unpausing.
	FlagPauseAfterUpgrade
)

// UpgradeOptions describes a code replacement to PostUpgrade.
type UpgradeOptions struct {
	Bump          lifecycle.Bump
	LayoutChanged bool
	Flags         uint32
}

// Options configures a Unit.
type Options struct {
	Store pagestore.Store

	// ReservedPrefixPages defaults to memorymap.DefaultReservedPrefixPages.
	ReservedPrefixPages uint64

	// UserPageEnd is the exclusive end of the user page range. It is
	// fixed by Init and must be supplied unchanged on every upgrade.
	UserPageEnd uint64

	// InitialOwner, if non-zero, becomes the owner during Init.
	InitialOwner principal.Principal

	// Lifecycle carries the compiled layout version, optional compiled
	// semantic version, checkpoint settings and migration. Its Logger
	// defaults to Logger.
	Lifecycle lifecycle.Config

	// Regions, if set, runs inside the allocator window at the end of
	// Init and PostUpgrade so the application can allocate its own
	// dynamic regions. It runs before the transition is committed, so
	// an error leaves the stored layout and version untouched. A
	// callback shared by both paths should use
	// [memorymap.Allocator.EnsureUser], which returns regions an
	// earlier start already allocated.
	Regions func(allocator *memorymap.Allocator) error

	// Metrics, if set, records guarded calls.
	Metrics *guard.Metrics

	Logger *slog.Logger
}

// Unit is the governance context of one persistent execution unit.
type Unit struct {
	options Options
	logger  *slog.Logger

	allocator  *memorymap.Allocator
	lifecycle  *lifecycle.Manager
	reentrancy *reentrancy.Guard
	executor   *executor.Executor

	mu          sync.RWMutex
	started     bool
	ready       bool
	access      *access.State
	pause       *pausable.State
	entrypoints map[string]*entrypoint
}

// New returns a Unit over options.Store. No store access happens until
// Init or PostUpgrade.
func New(options Options) (*Unit, error) {
	if options.Store == nil {
		return nil, errors.New("unit: store is required")
	}
	if options.ReservedPrefixPages == 0 {
		options.ReservedPrefixPages = memorymap.DefaultReservedPrefixPages
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if options.Lifecycle.Logger == nil {
		options.Lifecycle.Logger = logger
	}

	allocator := memorymap.New(options.Store, logger)
	return &Unit{
		options:     options,
		logger:      logger,
		allocator:   allocator,
		lifecycle:   lifecycle.New(allocator, options.Lifecycle),
		reentrancy:  reentrancy.New(logger),
		executor:    executor.New(logger),
		entrypoints: make(map[string]*entrypoint),
	}, nil
}

// Init lays out a fresh store and seeds the governance state. It must
// be called exactly once, at first deployment; on a store that already
// holds a layout it fails with a *memorymap.ConfigurationError. The
// layout header is written last, so a failed Init leaves a store that
// still reads as unformatted and can be initialized again.
func (u *Unit) Init(ctx context.Context) error {
	return u.start(func() error {
		if err := u.configureLayout(); err != nil {
			return err
		}
		if err := u.allocator.Stage(); err != nil {
			return err
		}
		roles, err := u.allocator.AllocateFramework(memorymap.RoleMembershipRegion, access.RoleMembershipSizeHint)
		if err != nil {
			return fmt.Errorf("unit: allocating role membership: %w", err)
		}
		if err := u.lifecycle.OnInit(ctx); err != nil {
			return err
		}
		if err := u.openState(roles); err != nil {
			return err
		}
		if !u.options.InitialOwner.IsZero() {
			if err := u.access.InitOwner(u.options.InitialOwner); err != nil {
				return err
			}
		}
		if err := u.applicationRegions(); err != nil {
			return err
		}
		if err := u.allocator.Commit(); err != nil {
			return fmt.Errorf("unit: committing layout: %w", err)
		}
		return nil
	})
}

// PostUpgrade reattaches to a store laid out by an earlier Init and
// runs the lifecycle upgrade. It must be called exactly once per code
// replacement, before any call. The bumped version record is written
// after every other step succeeds; on failure the stored version and
// pause flag are left as they were.
func (u *Unit) PostUpgrade(ctx context.Context, upgrade UpgradeOptions) error {
	return u.start(func() error {
		if err := u.configureLayout(); err != nil {
			return err
		}
		if err := u.allocator.Attach(); err != nil {
			return err
		}
		err := u.lifecycle.PrepareUpgrade(ctx, lifecycle.UpgradeRequest{
			Bump:          upgrade.Bump,
			LayoutChanged: upgrade.LayoutChanged,
			Checkpoint:    upgrade.Flags&FlagCheckpoint != 0,
		})
		if err != nil {
			return err
		}
		wasPaused, err := u.finishUpgrade(upgrade)
		if err != nil {
			return u.lifecycle.AbortUpgrade(err)
		}
		if err := u.lifecycle.CommitUpgrade(); err != nil {
			u.restorePause(wasPaused)
			return err
		}
		return nil
	})
}

// finishUpgrade opens the governance state and runs the application
// region callback between PrepareUpgrade and CommitUpgrade. It returns
// the pause flag as stored before the upgrade; a forced pause is undone
// if the callback fails.
func (u *Unit) finishUpgrade(upgrade UpgradeOptions) (bool, error) {
	roles, ok := u.allocator.Region(memorymap.RoleMembershipRegion)
	if !ok {
		var err error
		roles, err = u.allocator.AllocateFramework(memorymap.RoleMembershipRegion, access.RoleMembershipSizeHint)
		if err != nil {
			return false, fmt.Errorf("unit: allocating role membership: %w", err)
		}
	}
	if err := u.openState(roles); err != nil {
		return false, err
	}

	wasPaused := u.pause.IsPaused()
	if upgrade.Flags&FlagPauseAfterUpgrade != 0 {
		if err := u.pause.Force(true); err != nil {
			return wasPaused, err
		}
	}
	if err := u.applicationRegions(); err != nil {
		u.restorePause(wasPaused)
		return wasPaused, err
	}
	return wasPaused, nil
}

func (u *Unit) restorePause(paused bool) {
	if err := u.pause.Force(paused); err != nil {
		u.logger.Error("restoring pause flag failed", "error", err)
	}
}

// start runs a lifecycle transition with the allocator window open and
// marks the unit ready if it succeeds.
func (u *Unit) start(transition func() error) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.started {
		return ErrAlreadyStarted
	}
	u.started = true

	u.allocator.OpenWindow()
	err := transition()
	u.allocator.SealWindow()
	if err != nil {
		u.logger.Error("unit failed to start", "error", err)
		return err
	}

	if err := u.options.Store.Sync(); err != nil {
		return fmt.Errorf("unit: syncing store: %w", err)
	}
	u.ready = true
	u.logger.Info("unit ready", "entrypoints", len(u.entrypoints))
	return nil
}

func (u *Unit) configureLayout() error {
	if err := u.allocator.Reserve(u.options.ReservedPrefixPages); err != nil {
		return err
	}
	return u.allocator.ConfigureUserPageEnd(u.options.UserPageEnd)
}

func (u *Unit) openState(roles *memorymap.Region) error {
	accessState, err := access.Open(u.allocator, roles, u.logger)
	if err != nil {
		return err
	}
	pauseState, err := pausable.Open(u.allocator, accessState, u.logger)
	if err != nil {
		return err
	}
	u.access = accessState
	u.pause = pauseState
	return nil
}

func (u *Unit) applicationRegions() error {
	if u.options.Regions == nil {
		return nil
	}
	if err := u.options.Regions(u.allocator); err != nil {
		return fmt.Errorf("unit: allocating application regions: %w", err)
	}
	return nil
}

// Ready reports whether Init or PostUpgrade has succeeded.
func (u *Unit) Ready() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.ready
}

// Access returns the access control state, nil before the unit is
// ready.
func (u *Unit) Access() *access.State {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.access
}

// Pause returns the pause state, nil before the unit is ready.
func (u *Unit) Pause() *pausable.State {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.pause
}

// Allocator returns the memory region allocator.
func (u *Unit) Allocator() *memorymap.Allocator { return u.allocator }

// Lifecycle returns the lifecycle manager.
func (u *Unit) Lifecycle() *lifecycle.Manager { return u.lifecycle }

// Reentrancy returns the reentrancy guard.
func (u *Unit) Reentrancy() *reentrancy.Guard { return u.reentrancy }

// Executor returns the executor calls run on.
func (u *Unit) Executor() *executor.Executor { return u.executor }

// UserPages returns the application's user page range.
func (u *Unit) UserPages() (memorymap.PageRange, error) {
	if !u.Ready() {
		return memorymap.PageRange{}, ErrNotReady
	}
	return u.allocator.UserPages()
}
