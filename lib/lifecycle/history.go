// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/warden/lib/access"
	"github.com/bureau-foundation/warden/lib/memorymap"
	"github.com/bureau-foundation/warden/lib/version"
)

// HistorySizeHint is the size requested for the upgrade history
// region.
const HistorySizeHint = 4 * memorymap.PageSize

// MaxHistoryEntries bounds the upgrade history. The oldest entries are
// dropped first.
const MaxHistoryEntries = 1024

// HistoryEntry records one successful upgrade.
type HistoryEntry struct {
	From       version.Semantic `cbor:"from"`
	To         version.Semantic `cbor:"to"`
	LayoutFrom uint32           `cbor:"layout_from"`
	LayoutTo   uint32           `cbor:"layout_to"`

	// At is nanoseconds since the Unix epoch.
	At int64 `cbor:"at"`
}

// Time returns At as a time.Time in UTC.
func (e HistoryEntry) Time() time.Time {
	return time.Unix(0, e.At).UTC()
}

func (e HistoryEntry) String() string {
	return fmt.Sprintf("%s -> %s (layout v%d -> v%d) at %s",
		e.From, e.To, e.LayoutFrom, e.LayoutTo, e.Time().Format(time.RFC3339Nano))
}

type historyRecord struct {
	Entries []HistoryEntry `cbor:"entries"`
}

// ReadHistory returns the upgrade history stored in region, oldest
// first. An empty region yields no entries.
func ReadHistory(region access.RecordStore) ([]HistoryEntry, error) {
	var record historyRecord
	if _, err := region.ReadRecord(memorymap.KindUpgradeHistory, &record); err != nil {
		return nil, fmt.Errorf("lifecycle: reading upgrade history: %w", err)
	}
	return record.Entries, nil
}

func writeHistory(region access.RecordStore, entries []HistoryEntry) error {
	if len(entries) > MaxHistoryEntries {
		entries = entries[len(entries)-MaxHistoryEntries:]
	}
	if err := region.WriteRecord(memorymap.KindUpgradeHistory, historyRecord{Entries: entries}); err != nil {
		return fmt.Errorf("lifecycle: writing upgrade history: %w", err)
	}
	return nil
}
