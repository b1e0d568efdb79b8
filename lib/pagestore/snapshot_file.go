// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pagestore

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteSnapshotFile writes a snapshot of store to path atomically: the
// stream goes to a temporary file in the same directory, which is
// fsynced and renamed into place. Readers never see a partial
// snapshot. The parent directory must already exist.
func WriteSnapshotFile(path string, store Store, compression CompressionTag) (SnapshotInfo, error) {
	directory := filepath.Dir(path)
	file, err := os.CreateTemp(directory, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("creating temporary snapshot file: %w", err)
	}
	temporaryPath := file.Name()

	// Write, sync, close, in that order. If any step fails, remove the
	// temporary file and report the first error.
	info, err := WriteSnapshot(file, store, compression)
	if err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return SnapshotInfo{}, fmt.Errorf("writing snapshot: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return SnapshotInfo{}, fmt.Errorf("syncing temporary snapshot file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return SnapshotInfo{}, fmt.Errorf("closing temporary snapshot file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return SnapshotInfo{}, fmt.Errorf("renaming snapshot file into place: %w", err)
	}

	// Sync the parent directory so the rename survives power loss.
	if parent, err := os.Open(directory); err == nil {
		parent.Sync()
		parent.Close()
	}
	return info, nil
}
