// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pagestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"
)

// PebbleConfig holds the parameters for opening a [PebbleStore].
type PebbleConfig struct {
	// Dir is the Pebble database directory. Created if missing.
	Dir string

	// Logger receives open/close messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// PebbleStore is a sparse Store that keeps non-zero pages as keys in a
// Pebble LSM. Every write is one batch committed with pebble.Sync.
type PebbleStore struct {
	paged
	db     *pebble.DB
	dir    string
	logger *slog.Logger
}

var pageCountKey = []byte("meta/page_count")

const pageKeyPrefix = "page/"

// pageKey encodes index big-endian so keys sort in page order.
func pageKey(index uint64) []byte {
	key := make([]byte, len(pageKeyPrefix)+8)
	copy(key, pageKeyPrefix)
	binary.BigEndian.PutUint64(key[len(pageKeyPrefix):], index)
	return key
}

// OpenPebble opens or creates the page database in cfg.Dir.
func OpenPebble(cfg PebbleConfig) (*PebbleStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("pagestore: pebble directory is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := pebble.Open(cfg.Dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pagestore: opening pebble %s: %w", cfg.Dir, err)
	}

	store := &PebbleStore{
		db:     db,
		dir:    cfg.Dir,
		logger: logger,
	}
	if err := store.paged.init(store); err != nil {
		db.Close()
		return nil, fmt.Errorf("pagestore: pebble %s: %w", cfg.Dir, err)
	}

	logger.Info("pebble page store opened", "dir", cfg.Dir, "pages", store.pages)
	return store, nil
}

func (s *PebbleStore) loadPage(index uint64, dst []byte) (bool, error) {
	value, closer, err := s.db.Get(pageKey(index))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()

	if len(value) != PageSize {
		return false, fmt.Errorf("page %d holds %d bytes, want %d", index, len(value), PageSize)
	}
	copy(dst, value)
	return true, nil
}

func (s *PebbleStore) loadPageCount() (uint64, error) {
	value, closer, err := s.db.Get(pageCountKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	if len(value) != 8 {
		return 0, fmt.Errorf("page count record holds %d bytes, want 8", len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

func (s *PebbleStore) commit(pages map[uint64][]byte, pageCount uint64) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for index, data := range pages {
		var err error
		if data == nil {
			err = batch.Delete(pageKey(index), nil)
		} else {
			err = batch.Set(pageKey(index), data, nil)
		}
		if err != nil {
			return fmt.Errorf("batching page %d: %w", index, err)
		}
	}

	count := make([]byte, 8)
	binary.BigEndian.PutUint64(count, pageCount)
	if err := batch.Set(pageCountKey, count, nil); err != nil {
		return fmt.Errorf("batching page count: %w", err)
	}
	return batch.Commit(pebble.Sync)
}

// sync flushes the memtable. Committed batches are already durable in
// the WAL.
func (s *PebbleStore) sync() error {
	if err := s.db.Flush(); err != nil {
		return fmt.Errorf("flushing %s: %w", s.dir, err)
	}
	return nil
}

func (s *PebbleStore) close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Error("pebble page store close error", "dir", s.dir, "error", err)
		return fmt.Errorf("pagestore: closing pebble %s: %w", s.dir, err)
	}
	s.logger.Info("pebble page store closed", "dir", s.dir)
	return nil
}
