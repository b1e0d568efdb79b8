// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pagestore

import (
	"fmt"
	"sync"
)

// pageBackend is a key/value home for whole pages. Absent pages read
// as zeros.
type pageBackend interface {
	// loadPage fills dst (PageSize bytes) with the stored page and
	// reports whether it was present.
	loadPage(index uint64, dst []byte) (bool, error)

	// loadPageCount returns the persisted store size in pages, zero
	// for a fresh backend.
	loadPageCount() (uint64, error)

	// commit atomically applies page writes (a nil value deletes the
	// page) together with the new page count.
	commit(pages map[uint64][]byte, pageCount uint64) error

	sync() error
	close() error
}

// paged implements Store over a pageBackend. Writes are read-modify-
// write at page granularity and commit as one unit, so a failed write
// leaves every page it touched unchanged.
type paged struct {
	mu      sync.Mutex
	backend pageBackend
	pages   uint64
	closed  bool
}

func (p *paged) init(backend pageBackend) error {
	count, err := backend.loadPageCount()
	if err != nil {
		return fmt.Errorf("loading page count: %w", err)
	}
	p.backend = backend
	p.pages = count
	return nil
}

func (p *paged) ReadAt(buffer []byte, off int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	if err := checkRange(off, len(buffer), p.pages); err != nil {
		return 0, err
	}

	page := make([]byte, PageSize)
	read := 0
	for read < len(buffer) {
		position := uint64(off) + uint64(read)
		index := position / PageSize
		found, err := p.backend.loadPage(index, page)
		if err != nil {
			return 0, fmt.Errorf("reading page %d: %w", index, err)
		}
		if !found {
			clear(page)
		}
		read += copy(buffer[read:], page[position%PageSize:])
	}
	return read, nil
}

func (p *paged) WriteAt(buffer []byte, off int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	if err := checkRange(off, len(buffer), p.pages); err != nil {
		return 0, err
	}
	if len(buffer) == 0 {
		return 0, nil
	}

	writes := make(map[uint64][]byte)
	written := 0
	for written < len(buffer) {
		position := uint64(off) + uint64(written)
		index := position / PageSize
		inPage := int(position % PageSize)
		span := min(PageSize-inPage, len(buffer)-written)

		page := make([]byte, PageSize)
		if span != PageSize {
			found, err := p.backend.loadPage(index, page)
			if err != nil {
				return 0, fmt.Errorf("reading page %d for update: %w", index, err)
			}
			if !found {
				clear(page)
			}
		}
		copy(page[inPage:], buffer[written:written+span])
		if allZero(page) {
			writes[index] = nil
		} else {
			writes[index] = page
		}
		written += span
	}

	if err := p.backend.commit(writes, p.pages); err != nil {
		return 0, fmt.Errorf("committing %d pages: %w", len(writes), err)
	}
	return written, nil
}

func (p *paged) Pages() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pages
}

func (p *paged) Grow(delta uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	previous := p.pages
	if delta == 0 {
		return previous, nil
	}
	if err := p.backend.commit(nil, previous+delta); err != nil {
		return previous, fmt.Errorf("growing by %d pages: %w", delta, err)
	}
	p.pages = previous + delta
	return previous, nil
}

func (p *paged) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return p.backend.sync()
}

func (p *paged) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.backend.close()
}
