// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package memorymap

import (
	"cmp"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/bureau-foundation/warden/lib/pagestore"
)

// Allocator lays out a paged store and hands out dynamic regions.
//
// A host creates one Allocator per process lifetime. During first init
// it calls [Allocator.Reserve], [Allocator.ConfigureUserPageEnd] and
// [Allocator.Format]; during an upgrade it calls the same two
// configuration methods followed by [Allocator.Attach]. Both paths run
// inside the lifecycle window.
//
// Allocator is safe for concurrent use.
type Allocator struct {
	mu     sync.Mutex
	store  pagestore.Store
	logger *slog.Logger

	reservedPrefix uint64
	userPageEnd    uint64
	regions        map[RegionID]RegionRange
	nextFree       uint64
	attached       bool
	staged         bool
	windowOpen     bool
}

// New returns an Allocator over store. The window starts sealed.
func New(store pagestore.Store, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Allocator{
		store:   store,
		logger:  logger,
		regions: make(map[RegionID]RegionRange),
	}
}

// Load attaches to the layout already recorded in store, taking the
// boundaries from the stored header, and returns a sealed Allocator.
// It is meant for read-only tooling that does not know the host's
// configuration.
func Load(store pagestore.Store, logger *slog.Logger) (*Allocator, error) {
	layout, err := ReadLayout(store)
	if err != nil {
		return nil, err
	}
	allocator := New(store, logger)
	allocator.reservedPrefix = layout.ReservedPrefixPages
	allocator.userPageEnd = layout.UserPageEnd
	if err := allocator.adoptRegions(layout.Regions); err != nil {
		return nil, err
	}
	allocator.attached = true
	return allocator, nil
}

// Store returns the underlying store.
func (a *Allocator) Store() pagestore.Store { return a.store }

// OpenWindow permits layout mutation until SealWindow.
func (a *Allocator) OpenWindow() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.windowOpen = true
}

// SealWindow forbids further layout mutation.
func (a *Allocator) SealWindow() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.windowOpen = false
}

// WindowOpen reports whether layout mutation is currently permitted.
func (a *Allocator) WindowOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.windowOpen
}

// Reserve sets the reserved prefix size. It may be called once per
// process lifetime.
func (a *Allocator) Reserve(prefixPages uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.windowOpen {
		return ErrLayoutSealed
	}
	if a.reservedPrefix != 0 {
		return &ConfigurationError{
			Setting:   "reserved_prefix_pages",
			Stored:    a.reservedPrefix,
			Requested: prefixPages,
			Reason:    "prefix already reserved in this process",
		}
	}
	if prefixPages < MinReservedPrefixPages {
		return &ConfigurationError{
			Setting: "reserved_prefix_pages",
			Reason:  fmt.Sprintf("%d pages is below the minimum of %d", prefixPages, MinReservedPrefixPages),
		}
	}
	a.reservedPrefix = prefixPages
	return nil
}

// ConfigureUserPageEnd sets the exclusive end of the user page range.
// The first call is accepted; a later call with the same value is a
// no-op and any other value fails.
func (a *Allocator) ConfigureUserPageEnd(end uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.windowOpen {
		return ErrLayoutSealed
	}
	if a.reservedPrefix == 0 {
		return &ConfigurationError{Setting: "user_page_end", Reason: "configured before the prefix was reserved"}
	}
	if a.userPageEnd != 0 {
		if a.userPageEnd == end {
			return nil
		}
		return &ConfigurationError{
			Setting:   "user_page_end",
			Stored:    a.userPageEnd,
			Requested: end,
			Reason:    "already configured with a different value",
		}
	}
	if end <= a.reservedPrefix {
		return &ConfigurationError{
			Setting: "user_page_end",
			Reason:  fmt.Sprintf("%d must be greater than the %d page reserved prefix", end, a.reservedPrefix),
		}
	}
	a.userPageEnd = end
	return nil
}

// Format writes a fresh layout to an empty store. It fails if the store
// already carries a layout header. It is [Allocator.Stage] followed by
// [Allocator.Commit].
func (a *Allocator) Format() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.stage(); err != nil {
		return err
	}
	return a.commit()
}

// Stage prepares a fresh layout without writing the layout header.
// Until [Allocator.Commit] the store reads as unformatted, so a process
// that dies between the two leaves nothing another start would adopt.
// Any pages left by an earlier uncommitted format are zeroed. Regions
// and cells may be written while staged.
func (a *Allocator) Stage() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stage()
}

// Commit syncs the staged layout and then writes the layout header.
func (a *Allocator) Commit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.commit()
}

func (a *Allocator) stage() error {
	if err := a.checkConfigured(); err != nil {
		return err
	}
	if a.attached {
		return &ConfigurationError{Setting: "layout", Reason: "already formatted or attached in this process"}
	}

	if a.store.Pages() > 0 {
		var existing layoutHeader
		found, err := a.readCell(LayoutHeaderCell, &existing)
		if err != nil {
			return err
		}
		if found {
			return &ConfigurationError{Setting: "layout", Reason: "store is already formatted"}
		}
		if err := a.clearUncommitted(); err != nil {
			return err
		}
	}

	if err := a.growTo(a.userPageEnd); err != nil {
		return err
	}
	if err := a.writeCell(RegionTableCell, regionTable{}); err != nil {
		return err
	}
	a.nextFree = a.userPageEnd
	a.attached = true
	a.staged = true
	return nil
}

func (a *Allocator) commit() error {
	if !a.windowOpen {
		return ErrLayoutSealed
	}
	if !a.staged {
		return &ConfigurationError{Setting: "layout", Reason: "no staged layout to commit"}
	}
	if err := a.store.Sync(); err != nil {
		return fmt.Errorf("syncing staged layout: %w", err)
	}
	header := layoutHeader{
		PageSize:            PageSize,
		ReservedPrefixPages: a.reservedPrefix,
		UserPageEnd:         a.userPageEnd,
	}
	if err := a.writeCell(LayoutHeaderCell, header); err != nil {
		return err
	}
	a.staged = false
	a.logger.Info("memory layout formatted",
		"reserved_prefix_pages", a.reservedPrefix,
		"user_page_end", a.userPageEnd,
		"regions", len(a.regions),
	)
	return nil
}

// clearUncommitted zeroes every non-zero page of a store that has no
// layout header.
func (a *Allocator) clearUncommitted() error {
	page := make([]byte, PageSize)
	zero := make([]byte, PageSize)
	cleared := 0
	for index := range a.store.Pages() {
		offset := int64(index * PageSize)
		if _, err := a.store.ReadAt(page, offset); err != nil {
			return fmt.Errorf("reading page %d: %w", index, err)
		}
		if allZero(page) {
			continue
		}
		if _, err := a.store.WriteAt(zero, offset); err != nil {
			return fmt.Errorf("clearing page %d: %w", index, err)
		}
		cleared++
	}
	if cleared > 0 {
		a.logger.Warn("cleared uncommitted layout", "pages", cleared)
	}
	return nil
}

// Attach validates the configured boundaries against the stored layout
// and loads the region table.
func (a *Allocator) Attach() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkConfigured(); err != nil {
		return err
	}
	if a.attached {
		return &ConfigurationError{Setting: "layout", Reason: "already formatted or attached in this process"}
	}

	layout, err := ReadLayout(a.store)
	if err != nil {
		return err
	}
	if layout.ReservedPrefixPages != a.reservedPrefix {
		return &ConfigurationError{
			Setting:   "reserved_prefix_pages",
			Stored:    layout.ReservedPrefixPages,
			Requested: a.reservedPrefix,
			Reason:    "reserved prefix differs from the stored layout",
		}
	}
	switch {
	case a.userPageEnd < layout.UserPageEnd:
		return &ConfigurationError{
			Setting:   "user_page_end",
			Stored:    layout.UserPageEnd,
			Requested: a.userPageEnd,
			Reason:    "user page range would shrink",
		}
	case a.userPageEnd > layout.UserPageEnd:
		return &ConfigurationError{
			Setting:   "user_page_end",
			Stored:    layout.UserPageEnd,
			Requested: a.userPageEnd,
			Reason:    "user page range cannot grow into the dynamic region pool",
		}
	}

	if err := a.adoptRegions(layout.Regions); err != nil {
		return err
	}
	a.attached = true
	a.logger.Info("memory layout attached",
		"reserved_prefix_pages", a.reservedPrefix,
		"user_page_end", a.userPageEnd,
		"regions", len(a.regions),
	)
	return nil
}

// adoptRegions validates a stored region table and installs it.
func (a *Allocator) adoptRegions(regions []RegionRange) error {
	sorted := slices.Clone(regions)
	slices.SortFunc(sorted, func(x, y RegionRange) int {
		return cmp.Compare(x.FirstPage, y.FirstPage)
	})

	adopted := make(map[RegionID]RegionRange, len(sorted))
	next := a.userPageEnd
	for _, region := range sorted {
		if region.ID >= RegionLimit {
			return corrupt("region_table", "region id %d out of range", region.ID)
		}
		if _, duplicate := adopted[region.ID]; duplicate {
			return corrupt("region_table", "region id %d listed twice", region.ID)
		}
		if region.Pages == 0 || region.FirstPage < next {
			return corrupt("region_table", "region %d at pages [%d, %d) overlaps or precedes page %d",
				region.ID, region.FirstPage, region.End(), next)
		}
		if region.End() > a.store.Pages() {
			return corrupt("region_table", "region %d ends at page %d beyond the %d page store",
				region.ID, region.End(), a.store.Pages())
		}
		adopted[region.ID] = region
		next = region.End()
	}
	a.regions = adopted
	a.nextFree = next
	return nil
}

// AllocateUser allocates an application region. id must be below
// UserRegionLimit.
func (a *Allocator) AllocateUser(id RegionID, sizeHint uint64) (*Region, error) {
	if id >= UserRegionLimit {
		return nil, &RangeError{ID: id, Min: 0, Max: UserRegionLimit}
	}
	return a.allocate(id, sizeHint)
}

// AllocateFramework allocates a framework region. id must be in
// [UserRegionLimit, RegionLimit).
func (a *Allocator) AllocateFramework(id RegionID, sizeHint uint64) (*Region, error) {
	if id < UserRegionLimit || id >= RegionLimit {
		return nil, &RangeError{ID: id, Min: UserRegionLimit, Max: RegionLimit}
	}
	return a.allocate(id, sizeHint)
}

// EnsureUser returns application region id, allocating it if the
// layout does not yet hold it. An existing region of a different size
// fails with an IDCollisionError. Hosts use it from a region callback
// that runs on both init and upgrade.
func (a *Allocator) EnsureUser(id RegionID, sizeHint uint64) (*Region, error) {
	if id >= UserRegionLimit {
		return nil, &RangeError{ID: id, Min: 0, Max: UserRegionLimit}
	}
	a.mu.Lock()
	existing, ok := a.regions[id]
	a.mu.Unlock()
	if !ok {
		return a.allocate(id, sizeHint)
	}
	if existing.Pages != pagesFor(sizeHint) {
		return nil, &IDCollisionError{ID: id, Existing: existing}
	}
	return a.handle(existing), nil
}

func (a *Allocator) allocate(id RegionID, sizeHint uint64) (*Region, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.windowOpen {
		return nil, ErrLayoutSealed
	}
	if !a.attached {
		return nil, ErrNotAttached
	}
	if existing, ok := a.regions[id]; ok {
		return nil, &IDCollisionError{ID: id, Existing: existing}
	}

	region := RegionRange{ID: id, FirstPage: a.nextFree, Pages: pagesFor(sizeHint)}
	if err := a.growTo(region.End()); err != nil {
		return nil, err
	}

	updated := maps.Clone(a.regions)
	updated[id] = region
	if err := a.writeCell(RegionTableCell, regionTable{Regions: sortedRegions(updated)}); err != nil {
		return nil, err
	}
	a.regions = updated
	a.nextFree = region.End()

	a.logger.Info("dynamic region allocated",
		"region", id,
		"first_page", region.FirstPage,
		"pages", region.Pages,
	)
	return a.handle(region), nil
}

// Region returns the handle for an allocated region.
func (a *Allocator) Region(id RegionID) (*Region, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	region, ok := a.regions[id]
	if !ok {
		return nil, false
	}
	return a.handle(region), true
}

// Regions returns every allocated region ordered by id.
func (a *Allocator) Regions() []RegionRange {
	a.mu.Lock()
	defer a.mu.Unlock()
	return sortedRegions(a.regions)
}

// UserPages returns the user page range, [reservedPrefix, userPageEnd).
func (a *Allocator) UserPages() (PageRange, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.attached {
		return PageRange{}, ErrNotAttached
	}
	return PageRange{store: a.store, firstPage: a.reservedPrefix, pages: a.userPageEnd - a.reservedPrefix}, nil
}

// Layout returns the current boundaries and region table.
func (a *Allocator) Layout() Layout {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Layout{
		ReservedPrefixPages: a.reservedPrefix,
		UserPageEnd:         a.userPageEnd,
		Regions:             sortedRegions(a.regions),
	}
}

// ReadCell decodes the record in cell into v. It reports false when the
// cell is empty.
func (a *Allocator) ReadCell(cell Cell, v any) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.attached {
		return false, ErrNotAttached
	}
	return a.readCell(cell, v)
}

// WriteCell replaces the record in cell. Cells are framework state,
// not layout, so writes are permitted outside the window.
func (a *Allocator) WriteCell(cell Cell, v any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.attached {
		return ErrNotAttached
	}
	return a.writeCell(cell, v)
}

// ReadCellPayload returns the raw CBOR payload of cell after
// validating its frame. It reports false when the cell is empty.
func (a *Allocator) ReadCellPayload(cell Cell) ([]byte, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.attached {
		return nil, false, ErrNotAttached
	}
	return readPayload(a.store, cell.offset(), cell.capacity(), cell.Kind)
}

func (a *Allocator) readCell(cell Cell, v any) (bool, error) {
	return readRecord(a.store, cell.offset(), cell.capacity(), cell.Kind, v)
}

func (a *Allocator) writeCell(cell Cell, v any) error {
	return writeRecord(a.store, cell.offset(), cell.capacity(), cell.Kind, v)
}

func (a *Allocator) checkConfigured() error {
	if !a.windowOpen {
		return ErrLayoutSealed
	}
	if a.reservedPrefix == 0 {
		return &ConfigurationError{Setting: "reserved_prefix_pages", Reason: "not reserved"}
	}
	if a.userPageEnd == 0 {
		return &ConfigurationError{Setting: "user_page_end", Reason: "not configured"}
	}
	return nil
}

func (a *Allocator) growTo(pages uint64) error {
	current := a.store.Pages()
	if current >= pages {
		return nil
	}
	if _, err := a.store.Grow(pages - current); err != nil {
		a.logger.Error("growing store failed", "from_pages", current, "to_pages", pages, "error", err)
		return fmt.Errorf("growing store to %d pages: %w", pages, err)
	}
	return nil
}

func (a *Allocator) handle(region RegionRange) *Region {
	return &Region{
		PageRange: PageRange{store: a.store, firstPage: region.FirstPage, pages: region.Pages},
		id:        region.ID,
	}
}

// ReadLayout reads the layout header and region table from store
// without validating them against any configuration.
func ReadLayout(store pagestore.Store) (Layout, error) {
	if store.Pages() < MinReservedPrefixPages {
		return Layout{}, &ConfigurationError{Setting: "layout", Reason: "store is not formatted"}
	}

	var header layoutHeader
	found, err := readRecord(store, LayoutHeaderCell.offset(), LayoutHeaderCell.capacity(), KindLayoutHeader, &header)
	if err != nil {
		return Layout{}, err
	}
	if !found {
		return Layout{}, &ConfigurationError{Setting: "layout", Reason: "store is not formatted"}
	}
	if header.PageSize != PageSize {
		return Layout{}, corrupt("layout", "stored page size %d, want %d", header.PageSize, PageSize)
	}
	if header.ReservedPrefixPages < MinReservedPrefixPages || header.UserPageEnd <= header.ReservedPrefixPages {
		return Layout{}, corrupt("layout", "stored boundaries prefix=%d user_page_end=%d are invalid",
			header.ReservedPrefixPages, header.UserPageEnd)
	}

	var table regionTable
	if _, err := readRecord(store, RegionTableCell.offset(), RegionTableCell.capacity(), KindRegionTable, &table); err != nil {
		return Layout{}, err
	}
	return Layout{
		ReservedPrefixPages: header.ReservedPrefixPages,
		UserPageEnd:         header.UserPageEnd,
		Regions:             table.Regions,
	}, nil
}

func sortedRegions(regions map[RegionID]RegionRange) []RegionRange {
	sorted := make([]RegionRange, 0, len(regions))
	for _, id := range slices.Sorted(maps.Keys(regions)) {
		sorted = append(sorted, regions[id])
	}
	return sorted
}
