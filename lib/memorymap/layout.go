// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package memorymap

import (
	"fmt"

	"github.com/bureau-foundation/warden/lib/pagestore"
)

// PageSize is the store page size in bytes.
const PageSize = pagestore.PageSize

const (
	// DefaultReservedPrefixPages is the reserved prefix used when a
	// host does not configure one.
	DefaultReservedPrefixPages = 64

	// MinReservedPrefixPages is the smallest prefix that holds every
	// framework cell.
	MinReservedPrefixPages = 9
)

// RegionID identifies a dynamic region.
type RegionID uint16

const (
	// UserRegionLimit is the exclusive upper bound of application
	// region ids, and the first framework id.
	UserRegionLimit RegionID = 224

	// RegionLimit is the exclusive upper bound of all region ids.
	RegionLimit RegionID = 256
)

// Framework-reserved region ids.
const (
	UpgradeHistoryRegion RegionID = 225
	RoleMembershipRegion RegionID = 229
)

// Cell is a fixed page range in the reserved prefix holding one
// framework record.
type Cell struct {
	Kind      Kind
	FirstPage uint64
	Pages     uint64
}

// Framework cells. Their positions are part of the persisted format.
var (
	LayoutHeaderCell = Cell{Kind: KindLayoutHeader, FirstPage: 0, Pages: 1}
	FlagsCell        = Cell{Kind: KindFlags, FirstPage: 1, Pages: 1}
	LifecycleCell    = Cell{Kind: KindLifecycle, FirstPage: 2, Pages: 1}
	AccessCell       = Cell{Kind: KindAccess, FirstPage: 3, Pages: 4}
	RegionTableCell  = Cell{Kind: KindRegionTable, FirstPage: 7, Pages: 2}
)

// Cells returns the framework cells in page order.
func Cells() []Cell {
	return []Cell{LayoutHeaderCell, FlagsCell, LifecycleCell, AccessCell, RegionTableCell}
}

func (c Cell) offset() int64   { return int64(c.FirstPage * PageSize) }
func (c Cell) capacity() int64 { return int64(c.Pages * PageSize) }

// RegionRange is a dynamic region's placement, as recorded in the
// region table.
type RegionRange struct {
	ID        RegionID `cbor:"id"`
	FirstPage uint64   `cbor:"first_page"`
	Pages     uint64   `cbor:"pages"`
}

// End returns the exclusive end page.
func (r RegionRange) End() uint64 { return r.FirstPage + r.Pages }

// Framework reports whether the id is in the framework-reserved range.
func (r RegionRange) Framework() bool { return r.ID >= UserRegionLimit }

// Layout is the persisted layout header together with the region
// table.
type Layout struct {
	ReservedPrefixPages uint64
	UserPageEnd         uint64
	Regions             []RegionRange
}

type layoutHeader struct {
	PageSize            uint32 `cbor:"page_size"`
	ReservedPrefixPages uint64 `cbor:"reserved_prefix_pages"`
	UserPageEnd         uint64 `cbor:"user_page_end"`
}

type regionTable struct {
	Regions []RegionRange `cbor:"regions"`
}

// PageRange is a bounded byte-addressable view of consecutive store
// pages. Offsets passed to ReadAt and WriteAt are relative to the
// start of the range.
type PageRange struct {
	store     pagestore.Store
	firstPage uint64
	pages     uint64
}

// FirstPage returns the absolute index of the first page.
func (p PageRange) FirstPage() uint64 { return p.firstPage }

// Pages returns the length of the range in pages.
func (p PageRange) Pages() uint64 { return p.pages }

// Size returns the length of the range in bytes.
func (p PageRange) Size() int64 { return int64(p.pages * PageSize) }

func (p PageRange) check(off int64, length int) error {
	if off < 0 || off+int64(length) > p.Size() || off+int64(length) < off {
		return fmt.Errorf("%w: [%d, %d) outside %d byte range at page %d",
			pagestore.ErrOutOfBounds, off, off+int64(length), p.Size(), p.firstPage)
	}
	return nil
}

func (p PageRange) ReadAt(buffer []byte, off int64) (int, error) {
	if err := p.check(off, len(buffer)); err != nil {
		return 0, err
	}
	return p.store.ReadAt(buffer, int64(p.firstPage*PageSize)+off)
}

func (p PageRange) WriteAt(buffer []byte, off int64) (int, error) {
	if err := p.check(off, len(buffer)); err != nil {
		return 0, err
	}
	return p.store.WriteAt(buffer, int64(p.firstPage*PageSize)+off)
}

// ReadRecord decodes the record of the given kind stored at the start
// of the range into v. It reports false when the range holds no record.
func (p PageRange) ReadRecord(kind Kind, v any) (bool, error) {
	return readRecord(p, 0, p.Size(), kind, v)
}

// WriteRecord replaces the record at the start of the range.
func (p PageRange) WriteRecord(kind Kind, v any) error {
	return writeRecord(p, 0, p.Size(), kind, v)
}

// Region is a handle to an allocated dynamic region.
type Region struct {
	PageRange
	id RegionID
}

// ID returns the region id.
func (r *Region) ID() RegionID { return r.id }

// Range returns the region's placement.
func (r *Region) Range() RegionRange {
	return RegionRange{ID: r.id, FirstPage: r.firstPage, Pages: r.pages}
}

// pagesFor returns the number of pages needed to hold sizeHint bytes,
// at least one.
func pagesFor(sizeHint uint64) uint64 {
	pages := sizeHint / PageSize
	if sizeHint%PageSize != 0 {
		pages++
	}
	if pages == 0 {
		return 1
	}
	return pages
}
