// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/warden/lib/pagestore"
)

// writeCheckpoint snapshots store into dir before a migration, naming
// the file after the record it was taken at.
func writeCheckpoint(dir string, store pagestore.Store, compression pagestore.CompressionTag, record VersionRecord) (string, pagestore.SnapshotInfo, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", pagestore.SnapshotInfo{}, fmt.Errorf("creating checkpoint directory: %w", err)
	}
	name := fmt.Sprintf("checkpoint-v%s-mem_v%d-%d.wdsn",
		record.Semantic(), record.StableLayoutVersion, record.UpgradeCount)
	path := filepath.Join(dir, name)

	info, err := pagestore.WriteSnapshotFile(path, store, compression)
	if err != nil {
		return "", pagestore.SnapshotInfo{}, fmt.Errorf("checkpoint %s: %w", name, err)
	}
	return path, info, nil
}
