// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package unit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/warden/lib/lifecycle"
	"github.com/bureau-foundation/warden/lib/memorymap"
	"github.com/bureau-foundation/warden/lib/pagestore"
)

var errRegionsUnavailable = errors.New("application regions unavailable")

// reopenable returns a function yielding the store for backend as a
// fresh process would see it. Each call closes the previous handle of a
// persistent backend.
func reopenable(t *testing.T, backend string) func() pagestore.Store {
	t.Helper()
	if backend == pagestore.BackendMemory {
		store := pagestore.NewMemoryStore()
		return func() pagestore.Store { return store }
	}
	path := filepath.Join(t.TempDir(), "store")
	var current pagestore.Store
	t.Cleanup(func() {
		if current != nil {
			current.Close()
		}
	})
	return func() pagestore.Store {
		t.Helper()
		if current != nil {
			if err := current.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
		}
		store, err := pagestore.Open(pagestore.Options{Backend: backend, Path: path, PoolSize: 2})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		current = store
		return store
	}
}

func ensureLedger(allocator *memorymap.Allocator) error {
	_, err := allocator.EnsureUser(ledgerRegion, 2*memorymap.PageSize)
	return err
}

var transitionBackends = []string{pagestore.BackendMemory, pagestore.BackendFile}

func TestFailedInitCanBeRetried(t *testing.T) {
	failing := []struct {
		name    string
		regions func(*memorymap.Allocator) error
	}{
		{"error", func(*memorymap.Allocator) error { return errRegionsUnavailable }},
		{"framework id", func(allocator *memorymap.Allocator) error {
			_, err := allocator.AllocateUser(300, 1)
			return err
		}},
	}
	for _, backend := range transitionBackends {
		for _, tt := range failing {
			t.Run(backend+"/"+tt.name, func(t *testing.T) {
				open := reopenable(t, backend)

				store := open()
				options := testOptions(store)
				options.InitialOwner = alice
				options.Regions = func(allocator *memorymap.Allocator) error {
					if err := ensureLedger(allocator); err != nil {
						return err
					}
					return tt.regions(allocator)
				}
				first := newUnit(t, options)
				if err := first.Init(context.Background()); err == nil {
					t.Fatal("Init succeeded with a failing region callback")
				}
				if first.Ready() {
					t.Fatal("unit ready after failed Init")
				}
				if _, err := Inspect(store); !memorymap.IsConfigurationError(err) {
					t.Fatalf("Inspect after failed Init: err = %v, want not formatted", err)
				}

				store = open()
				if _, err := Inspect(store); !memorymap.IsConfigurationError(err) {
					t.Fatalf("Inspect after reopen: err = %v, want not formatted", err)
				}
				options = testOptions(store)
				options.InitialOwner = bob
				options.Regions = ensureLedger
				retry := newUnit(t, options)
				if err := retry.Init(context.Background()); err != nil {
					t.Fatalf("retried Init: %v", err)
				}

				report, err := Inspect(store)
				if err != nil {
					t.Fatalf("Inspect: %v", err)
				}
				if !report.Initialized || report.Version.UpgradeCount != 0 {
					t.Errorf("version = %+v (initialized %t)", report.Version, report.Initialized)
				}
				if report.Owner != bob {
					t.Errorf("owner = %v, want the retried owner", report.Owner)
				}
				if report.Paused {
					t.Error("retried unit starts paused")
				}
			})
		}
	}
}

func TestFailedUpgradeLeavesVersionUnchanged(t *testing.T) {
	for _, backend := range transitionBackends {
		t.Run(backend, func(t *testing.T) {
			open := reopenable(t, backend)

			store := open()
			options := testOptions(store)
			options.InitialOwner = alice
			options.Regions = ensureLedger
			if err := newUnit(t, options).Init(context.Background()); err != nil {
				t.Fatalf("Init: %v", err)
			}

			store = open()
			options = testOptions(store)
			options.Regions = func(*memorymap.Allocator) error { return errRegionsUnavailable }
			failed := newUnit(t, options)
			err := failed.PostUpgrade(context.Background(), UpgradeOptions{
				Bump:  lifecycle.BumpPatch,
				Flags: FlagPauseAfterUpgrade,
			})
			if !errors.Is(err, errRegionsUnavailable) {
				t.Fatalf("PostUpgrade: err = %v", err)
			}
			if failed.Ready() {
				t.Fatal("unit ready after failed upgrade")
			}
			if phase := failed.Lifecycle().Phase(); phase != lifecycle.PhaseFailed {
				t.Errorf("lifecycle phase = %s, want failed", phase)
			}

			report, err := Inspect(store)
			if err != nil {
				t.Fatalf("Inspect: %v", err)
			}
			if got := report.Version.Semantic().String(); got != "0.0.0" || report.Version.UpgradeCount != 0 {
				t.Fatalf("version = %s (count %d) after failed upgrade", got, report.Version.UpgradeCount)
			}
			if len(report.History) != 0 {
				t.Errorf("history = %v after failed upgrade", report.History)
			}
			if report.Paused {
				t.Error("forced pause kept after failed upgrade")
			}

			store = open()
			options = testOptions(store)
			options.Regions = ensureLedger
			retry := newUnit(t, options)
			if err := retry.PostUpgrade(context.Background(), UpgradeOptions{
				Bump:  lifecycle.BumpPatch,
				Flags: FlagPauseAfterUpgrade,
			}); err != nil {
				t.Fatalf("retried PostUpgrade: %v", err)
			}
			report, err = retry.Inspect()
			if err != nil {
				t.Fatalf("Inspect: %v", err)
			}
			if got := report.Version.Semantic().String(); got != "0.0.1" || report.Version.UpgradeCount != 1 {
				t.Errorf("version = %s (count %d) after retry", got, report.Version.UpgradeCount)
			}
			if len(report.History) != 1 {
				t.Errorf("history has %d entries, want 1", len(report.History))
			}
			if !report.Paused {
				t.Error("retried upgrade did not pause")
			}
		})
	}
}

func TestRepeatedUpgradesReuseApplicationRegions(t *testing.T) {
	for _, backend := range transitionBackends {
		t.Run(backend, func(t *testing.T) {
			open := reopenable(t, backend)

			store := open()
			options := testOptions(store)
			options.Regions = ensureLedger
			if err := newUnit(t, options).Init(context.Background()); err != nil {
				t.Fatalf("Init: %v", err)
			}
			var want memorymap.RegionRange
			for i := range 3 {
				store = open()
				options := testOptions(store)
				options.Regions = ensureLedger
				upgraded := newUnit(t, options)
				if err := upgraded.PostUpgrade(context.Background(), UpgradeOptions{Bump: lifecycle.BumpPatch}); err != nil {
					t.Fatalf("upgrade %d: %v", i, err)
				}
				region, ok := upgraded.Allocator().Region(ledgerRegion)
				if !ok {
					t.Fatalf("upgrade %d: ledger region missing", i)
				}
				if i == 0 {
					want = region.Range()
				} else if region.Range() != want {
					t.Errorf("upgrade %d: ledger region moved to %+v from %+v", i, region.Range(), want)
				}
			}
			report, err := Inspect(store)
			if err != nil {
				t.Fatalf("Inspect: %v", err)
			}
			if report.Version.UpgradeCount != 3 || len(report.History) != 3 {
				t.Errorf("upgrade count %d, history %d; want 3 each", report.Version.UpgradeCount, len(report.History))
			}
		})
	}
}
