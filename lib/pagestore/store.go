// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pagestore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// PageSize is the size of one page in bytes.
const PageSize = 65536

// ErrOutOfBounds is returned when a read or write does not lie entirely
// within the store's current pages. Nothing is transferred.
var ErrOutOfBounds = errors.New("pagestore: access out of bounds")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("pagestore: store is closed")

// Store is a growable, byte-addressable array of pages.
//
// ReadAt and WriteAt either transfer the full buffer or fail; a short
// transfer is always accompanied by an error. Implementations are safe
// for concurrent use.
type Store interface {
	io.ReaderAt
	io.WriterAt

	// Pages returns the current size of the store in pages.
	Pages() uint64

	// Grow extends the store by delta zero-filled pages and returns
	// the previous size in pages.
	Grow(delta uint64) (uint64, error)

	// Sync flushes written data to durable storage.
	Sync() error

	// Close releases the store's resources. The store must not be
	// used afterwards.
	Close() error
}

// Backend names accepted by [Open].
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

// Options selects and configures a backend for [Open].
type Options struct {
	// Backend is one of the Backend* constants.
	Backend string

	// Path is the backing file (file, sqlite) or directory (pebble).
	Path string

	// PoolSize is the SQLite connection pool size.
	PoolSize int

	// Logger receives open/close and failure messages. If nil, a
	// no-op logger is used.
	Logger *slog.Logger
}

// Open opens the store described by options, creating it if it does
// not exist.
func Open(options Options) (Store, error) {
	var (
		store Store
		err   error
	)
	switch options.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		store, err = OpenFile(options.Path)
	case BackendSQLite:
		store, err = OpenSQLite(SQLiteConfig{
			Path:     options.Path,
			PoolSize: options.PoolSize,
			Logger:   options.Logger,
		})
	case BackendPebble:
		store, err = OpenPebble(PebbleConfig{
			Dir:    options.Path,
			Logger: options.Logger,
		})
	default:
		return nil, fmt.Errorf("pagestore: unknown backend %q", options.Backend)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// checkRange validates that [off, off+length) lies within pages.
func checkRange(off int64, length int, pages uint64) error {
	if off < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrOutOfBounds, off)
	}
	end := uint64(off) + uint64(length)
	if end < uint64(off) || end > pages*PageSize {
		return fmt.Errorf("%w: [%d, %d) exceeds %d pages", ErrOutOfBounds, off, end, pages)
	}
	return nil
}

func allZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
