// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package pagestore

import (
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sys/unix"
)

// FileStore is a Store backed by a flat file whose size is always a
// whole number of pages. Reads go through a shared read-only memory
// map; writes use pwrite so they never fault pages in through the map.
// Grow extends the file and replaces the mapping.
type FileStore struct {
	mu    sync.RWMutex
	path  string
	fd    int
	data  []byte // mmap'd MAP_SHARED, PROT_READ; nil while the file is empty
	pages uint64
}

// OpenFile opens or creates the page file at path. An existing file
// must be a whole number of pages long.
func OpenFile(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("pagestore: file path is required")
	}

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening page file %s: %w", path, err)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stating page file %s: %w", path, err)
	}
	if stat.Size%PageSize != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("page file %s is %d bytes, not a multiple of the %d byte page size",
			path, stat.Size, PageSize)
	}

	store := &FileStore{
		path:  path,
		fd:    fd,
		pages: uint64(stat.Size) / PageSize,
	}
	if err := store.remap(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return store, nil
}

// remap replaces the memory map with one covering the current size.
// Caller holds mu for writing (or has exclusive access during open).
func (f *FileStore) remap() error {
	if f.data != nil {
		if err := unix.Munmap(f.data); err != nil {
			return fmt.Errorf("unmapping page file %s: %w", f.path, err)
		}
		f.data = nil
	}
	if f.pages == 0 {
		return nil
	}
	data, err := unix.Mmap(f.fd, 0, int(f.pages*PageSize), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("memory-mapping page file %s: %w", f.path, err)
	}
	f.data = data
	return nil
}

// ReadAt reads through the memory map. A SIGBUS from an I/O error on
// the underlying device is converted into an error.
func (f *FileStore) ReadAt(p []byte, off int64) (readCount int, err error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.fd < 0 {
		return 0, ErrClosed
	}
	if err := checkRange(off, len(p), f.pages); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if r := recover(); r != nil {
			readCount = 0
			err = fmt.Errorf("page fault reading %s at offset %d: %v", f.path, off, r)
		}
	}()

	return copy(p, f.data[off:]), nil
}

// WriteAt writes with pwrite. The kernel keeps the shared mapping
// coherent with the written data.
func (f *FileStore) WriteAt(p []byte, off int64) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.fd < 0 {
		return 0, ErrClosed
	}
	if err := checkRange(off, len(p), f.pages); err != nil {
		return 0, err
	}

	totalWritten := 0
	for len(p) > 0 {
		written, err := unix.Pwrite(f.fd, p, off)
		totalWritten += written
		if err != nil {
			return totalWritten, fmt.Errorf("pwrite %s at offset %d: %w", f.path, off, err)
		}
		p = p[written:]
		off += int64(written)
	}
	return totalWritten, nil
}

func (f *FileStore) Pages() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.pages
}

func (f *FileStore) Grow(delta uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fd < 0 {
		return 0, ErrClosed
	}
	previous := f.pages
	if delta == 0 {
		return previous, nil
	}
	if err := unix.Ftruncate(f.fd, int64((previous+delta)*PageSize)); err != nil {
		return previous, fmt.Errorf("extending page file %s by %d pages: %w", f.path, delta, err)
	}
	f.pages = previous + delta
	if err := f.remap(); err != nil {
		return previous, err
	}
	return previous, nil
}

// Sync flushes written pages to the underlying device.
func (f *FileStore) Sync() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.fd < 0 {
		return ErrClosed
	}
	if err := unix.Fsync(f.fd); err != nil {
		return fmt.Errorf("syncing page file %s: %w", f.path, err)
	}
	return nil
}

// Close unmaps the file and closes the descriptor.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fd < 0 {
		return nil
	}
	var firstErr error
	if f.data != nil {
		if err := unix.Munmap(f.data); err != nil {
			firstErr = fmt.Errorf("unmapping page file %s: %w", f.path, err)
		}
		f.data = nil
	}
	if err := unix.Close(f.fd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing page file %s: %w", f.path, err)
	}
	f.fd = -1
	return firstErr
}
