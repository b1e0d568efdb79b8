// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package memorymap

import (
	"errors"
	"strings"
	"testing"

	"github.com/bureau-foundation/warden/lib/pagestore"
)

// openAllocator returns an allocator over store with its window open
// and boundaries configured.
func openAllocator(t *testing.T, store pagestore.Store, prefix, userPageEnd uint64) *Allocator {
	t.Helper()
	allocator := New(store, nil)
	allocator.OpenWindow()
	if err := allocator.Reserve(prefix); err != nil {
		t.Fatalf("Reserve(%d): %v", prefix, err)
	}
	if err := allocator.ConfigureUserPageEnd(userPageEnd); err != nil {
		t.Fatalf("ConfigureUserPageEnd(%d): %v", userPageEnd, err)
	}
	return allocator
}

func formatted(t *testing.T, store pagestore.Store) *Allocator {
	t.Helper()
	allocator := openAllocator(t, store, 16, 32)
	if err := allocator.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}
	return allocator
}

func TestFormatThenAttach(t *testing.T) {
	store := pagestore.NewMemoryStore()
	first := formatted(t, store)

	if store.Pages() != 32 {
		t.Fatalf("formatted store has %d pages, want 32", store.Pages())
	}
	user, err := first.AllocateUser(5, 3*PageSize)
	if err != nil {
		t.Fatalf("AllocateUser: %v", err)
	}
	history, err := first.AllocateFramework(UpgradeHistoryRegion, 10)
	if err != nil {
		t.Fatalf("AllocateFramework: %v", err)
	}
	if user.Range() != (RegionRange{ID: 5, FirstPage: 32, Pages: 3}) {
		t.Errorf("user region = %+v", user.Range())
	}
	if history.Range() != (RegionRange{ID: UpgradeHistoryRegion, FirstPage: 35, Pages: 1}) {
		t.Errorf("history region = %+v", history.Range())
	}
	if _, err := user.WriteAt([]byte("payload"), 100); err != nil {
		t.Fatalf("region WriteAt: %v", err)
	}
	first.SealWindow()

	second := openAllocator(t, store, 16, 32)
	if err := second.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	regions := second.Regions()
	if len(regions) != 2 || regions[0].ID != 5 || regions[1].ID != UpgradeHistoryRegion {
		t.Fatalf("attached regions = %+v", regions)
	}
	reattached, ok := second.Region(5)
	if !ok {
		t.Fatal("region 5 missing after attach")
	}
	got := make([]byte, len("payload"))
	if _, err := reattached.ReadAt(got, 100); err != nil || string(got) != "payload" {
		t.Fatalf("region ReadAt = %q, %v", got, err)
	}

	// New regions continue above the existing ones.
	next, err := second.AllocateUser(6, 0)
	if err != nil {
		t.Fatalf("AllocateUser after attach: %v", err)
	}
	if next.Range().FirstPage != 36 {
		t.Errorf("region after attach starts at page %d, want 36", next.Range().FirstPage)
	}
}

func TestConfigureUserPageEndOnce(t *testing.T) {
	allocator := openAllocator(t, pagestore.NewMemoryStore(), 16, 32)

	if err := allocator.ConfigureUserPageEnd(32); err != nil {
		t.Fatalf("repeating the same value: %v", err)
	}
	err := allocator.ConfigureUserPageEnd(40)
	var configErr *ConfigurationError
	if !errors.As(err, &configErr) {
		t.Fatalf("differing value: err = %v, want ConfigurationError", err)
	}
	if configErr.Stored != 32 || configErr.Requested != 40 {
		t.Errorf("ConfigurationError = %+v", configErr)
	}
}

func TestAttachRejectsChangedBoundaries(t *testing.T) {
	store := pagestore.NewMemoryStore()
	formatted(t, store).SealWindow()

	tests := []struct {
		name        string
		prefix      uint64
		userPageEnd uint64
		reason      string
	}{
		{"shrink", 16, 24, "shrink"},
		{"grow", 16, 40, "cannot grow"},
		{"prefix", 12, 32, "reserved prefix differs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allocator := openAllocator(t, store, tt.prefix, tt.userPageEnd)
			err := allocator.Attach()
			if !IsConfigurationError(err) {
				t.Fatalf("Attach: err = %v, want ConfigurationError", err)
			}
			if !strings.Contains(err.Error(), tt.reason) {
				t.Errorf("Attach error %q does not mention %q", err, tt.reason)
			}
		})
	}
}

func TestReserveValidation(t *testing.T) {
	allocator := New(pagestore.NewMemoryStore(), nil)
	allocator.OpenWindow()

	if err := allocator.Reserve(MinReservedPrefixPages - 1); !IsConfigurationError(err) {
		t.Fatalf("Reserve below minimum: err = %v", err)
	}
	if err := allocator.Reserve(MinReservedPrefixPages); err != nil {
		t.Fatalf("Reserve minimum: %v", err)
	}
	if err := allocator.Reserve(MinReservedPrefixPages); !IsConfigurationError(err) {
		t.Fatalf("second Reserve: err = %v", err)
	}
	if err := allocator.ConfigureUserPageEnd(MinReservedPrefixPages); !IsConfigurationError(err) {
		t.Fatalf("user page end inside the prefix: err = %v", err)
	}
}

func TestAllocateIDRanges(t *testing.T) {
	allocator := formatted(t, pagestore.NewMemoryStore())

	tests := []struct {
		name      string
		framework bool
		id        RegionID
	}{
		{"user id in framework range", false, UserRegionLimit},
		{"user id past all ranges", false, 300},
		{"framework id in user range", true, 10},
		{"framework id past limit", true, RegionLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.framework {
				_, err = allocator.AllocateFramework(tt.id, 1)
			} else {
				_, err = allocator.AllocateUser(tt.id, 1)
			}
			var rangeErr *RangeError
			if !errors.As(err, &rangeErr) {
				t.Fatalf("err = %v, want RangeError", err)
			}
			if rangeErr.ID != tt.id {
				t.Errorf("RangeError.ID = %d, want %d", rangeErr.ID, tt.id)
			}
		})
	}

	if _, err := allocator.AllocateUser(UserRegionLimit-1, 1); err != nil {
		t.Errorf("highest user id: %v", err)
	}
	if _, err := allocator.AllocateFramework(RegionLimit-1, 1); err != nil {
		t.Errorf("highest framework id: %v", err)
	}
}

func TestAllocateCollision(t *testing.T) {
	allocator := formatted(t, pagestore.NewMemoryStore())

	if _, err := allocator.AllocateUser(7, 1); err != nil {
		t.Fatalf("first allocation: %v", err)
	}
	_, err := allocator.AllocateUser(7, 1)
	var collision *IDCollisionError
	if !errors.As(err, &collision) {
		t.Fatalf("second allocation: err = %v, want IDCollisionError", err)
	}
	if collision.ID != 7 || collision.Existing.FirstPage != 32 {
		t.Errorf("IDCollisionError = %+v", collision)
	}
}

func TestRegionSizing(t *testing.T) {
	allocator := formatted(t, pagestore.NewMemoryStore())

	tests := []struct {
		sizeHint uint64
		pages    uint64
	}{
		{0, 1},
		{1, 1},
		{PageSize, 1},
		{PageSize + 1, 2},
		{10 * PageSize, 10},
	}
	for i, tt := range tests {
		region, err := allocator.AllocateUser(RegionID(i), tt.sizeHint)
		if err != nil {
			t.Fatalf("AllocateUser(%d, %d): %v", i, tt.sizeHint, err)
		}
		if region.Pages() != tt.pages {
			t.Errorf("sizeHint %d: %d pages, want %d", tt.sizeHint, region.Pages(), tt.pages)
		}
	}
}

func TestLayoutSealed(t *testing.T) {
	store := pagestore.NewMemoryStore()
	allocator := formatted(t, store)
	allocator.SealWindow()

	if _, err := allocator.AllocateUser(1, 1); !errors.Is(err, ErrLayoutSealed) {
		t.Errorf("AllocateUser sealed: err = %v", err)
	}
	if _, err := allocator.AllocateFramework(UpgradeHistoryRegion, 1); !errors.Is(err, ErrLayoutSealed) {
		t.Errorf("AllocateFramework sealed: err = %v", err)
	}
	if err := allocator.ConfigureUserPageEnd(32); !errors.Is(err, ErrLayoutSealed) {
		t.Errorf("ConfigureUserPageEnd sealed: err = %v", err)
	}

	// Cells stay writable.
	if err := allocator.WriteCell(FlagsCell, map[string]bool{"paused": true}); err != nil {
		t.Errorf("WriteCell sealed: %v", err)
	}

	fresh := New(store, nil)
	if err := fresh.Reserve(16); !errors.Is(err, ErrLayoutSealed) {
		t.Errorf("Reserve sealed: err = %v", err)
	}
}

func TestFormatRefusesFormattedStore(t *testing.T) {
	store := pagestore.NewMemoryStore()
	formatted(t, store)

	again := openAllocator(t, store, 16, 32)
	if err := again.Format(); !IsConfigurationError(err) {
		t.Fatalf("Format of formatted store: err = %v", err)
	}
}

func TestAttachUnformatted(t *testing.T) {
	allocator := openAllocator(t, pagestore.NewMemoryStore(), 16, 32)
	if err := allocator.Attach(); !IsConfigurationError(err) {
		t.Fatalf("Attach of empty store: err = %v", err)
	}
}

func TestRegionBounds(t *testing.T) {
	allocator := formatted(t, pagestore.NewMemoryStore())
	region, err := allocator.AllocateUser(1, 1)
	if err != nil {
		t.Fatalf("AllocateUser: %v", err)
	}

	if _, err := region.WriteAt(make([]byte, 8), PageSize-4); !errors.Is(err, pagestore.ErrOutOfBounds) {
		t.Errorf("WriteAt past region end: err = %v", err)
	}
	if _, err := region.ReadAt(make([]byte, 1), -1); !errors.Is(err, pagestore.ErrOutOfBounds) {
		t.Errorf("ReadAt negative: err = %v", err)
	}

	user, err := allocator.UserPages()
	if err != nil {
		t.Fatalf("UserPages: %v", err)
	}
	if user.FirstPage() != 16 || user.Pages() != 16 {
		t.Errorf("user pages = [%d, +%d)", user.FirstPage(), user.Pages())
	}
	if _, err := user.WriteAt([]byte{1}, user.Size()); !errors.Is(err, pagestore.ErrOutOfBounds) {
		t.Errorf("user WriteAt past end: err = %v", err)
	}
}

func TestLoad(t *testing.T) {
	store := pagestore.NewMemoryStore()
	allocator := formatted(t, store)
	if _, err := allocator.AllocateFramework(RoleMembershipRegion, 4*PageSize); err != nil {
		t.Fatalf("AllocateFramework: %v", err)
	}

	loaded, err := Load(store, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	layout := loaded.Layout()
	if layout.ReservedPrefixPages != 16 || layout.UserPageEnd != 32 || len(layout.Regions) != 1 {
		t.Fatalf("loaded layout = %+v", layout)
	}
	if loaded.WindowOpen() {
		t.Error("loaded allocator has an open window")
	}
}

func TestStagedLayoutIsInvisibleUntilCommit(t *testing.T) {
	store := pagestore.NewMemoryStore()
	allocator := openAllocator(t, store, 16, 32)
	if err := allocator.Stage(); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if _, err := allocator.AllocateUser(3, PageSize); err != nil {
		t.Fatalf("AllocateUser while staged: %v", err)
	}
	if err := allocator.WriteCell(FlagsCell, map[string]bool{"paused": true}); err != nil {
		t.Fatalf("WriteCell while staged: %v", err)
	}

	if _, err := ReadLayout(store); !IsConfigurationError(err) {
		t.Fatalf("ReadLayout before Commit: err = %v, want not formatted", err)
	}
	if _, err := Load(store, nil); !IsConfigurationError(err) {
		t.Fatalf("Load before Commit: err = %v, want not formatted", err)
	}

	if err := allocator.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	layout, err := ReadLayout(store)
	if err != nil {
		t.Fatalf("ReadLayout after Commit: %v", err)
	}
	if len(layout.Regions) != 1 || layout.Regions[0].ID != 3 {
		t.Errorf("committed regions = %+v", layout.Regions)
	}
	if err := allocator.Commit(); !IsConfigurationError(err) {
		t.Errorf("second Commit: err = %v", err)
	}
}

func TestStageClearsAbandonedLayout(t *testing.T) {
	store := pagestore.NewMemoryStore()
	abandoned := openAllocator(t, store, 16, 32)
	if err := abandoned.Stage(); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	region, err := abandoned.AllocateUser(3, PageSize)
	if err != nil {
		t.Fatalf("AllocateUser: %v", err)
	}
	if _, err := region.WriteAt([]byte("stale"), 0); err != nil {
		t.Fatalf("region WriteAt: %v", err)
	}
	if err := abandoned.WriteCell(FlagsCell, map[string]bool{"paused": true}); err != nil {
		t.Fatalf("WriteCell: %v", err)
	}
	stalePage := region.Range().FirstPage

	retry := openAllocator(t, store, 16, 32)
	if err := retry.Stage(); err != nil {
		t.Fatalf("Stage over abandoned layout: %v", err)
	}
	if regions := retry.Regions(); len(regions) != 0 {
		t.Errorf("regions after restage = %+v", regions)
	}
	var flags map[string]bool
	if found, err := retry.ReadCell(FlagsCell, &flags); err != nil || found {
		t.Errorf("flags cell after restage: found=%t err=%v", found, err)
	}
	page := make([]byte, PageSize)
	if _, err := store.ReadAt(page, int64(stalePage*PageSize)); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !allZero(page) {
		t.Error("abandoned region page was not cleared")
	}
	if err := retry.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestCommitRequiresStage(t *testing.T) {
	allocator := openAllocator(t, pagestore.NewMemoryStore(), 16, 32)
	if err := allocator.Commit(); !IsConfigurationError(err) {
		t.Fatalf("Commit without Stage: err = %v", err)
	}

	staged := openAllocator(t, pagestore.NewMemoryStore(), 16, 32)
	if err := staged.Stage(); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	staged.SealWindow()
	if err := staged.Commit(); !errors.Is(err, ErrLayoutSealed) {
		t.Fatalf("Commit sealed: err = %v", err)
	}
}

func TestEnsureUser(t *testing.T) {
	store := pagestore.NewMemoryStore()
	first := formatted(t, store)
	created, err := first.EnsureUser(4, 2*PageSize)
	if err != nil {
		t.Fatalf("EnsureUser on fresh layout: %v", err)
	}
	again, err := first.EnsureUser(4, 2*PageSize)
	if err != nil {
		t.Fatalf("EnsureUser repeated: %v", err)
	}
	if again.Range() != created.Range() {
		t.Errorf("repeated EnsureUser = %+v, want %+v", again.Range(), created.Range())
	}

	attached := openAllocator(t, store, 16, 32)
	if err := attached.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	existing, err := attached.EnsureUser(4, 2*PageSize)
	if err != nil {
		t.Fatalf("EnsureUser after Attach: %v", err)
	}
	if existing.Range() != created.Range() {
		t.Errorf("EnsureUser after Attach = %+v, want %+v", existing.Range(), created.Range())
	}

	var collision *IDCollisionError
	if _, err := attached.EnsureUser(4, 5*PageSize); !errors.As(err, &collision) {
		t.Errorf("EnsureUser with a different size: err = %v", err)
	}
	var rangeErr *RangeError
	if _, err := attached.EnsureUser(UserRegionLimit, 1); !errors.As(err, &rangeErr) {
		t.Errorf("EnsureUser framework id: err = %v", err)
	}
}
