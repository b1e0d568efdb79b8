// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !(darwin || linux)

package pagestore

import (
	"fmt"
	"runtime"
)

// FileStore is only available on Linux and Darwin.
type FileStore struct {
	MemoryStore
}

// OpenFile reports that the memory-mapped file backend is unavailable.
func OpenFile(path string) (*FileStore, error) {
	return nil, fmt.Errorf("pagestore: file backend is not supported on %s", runtime.GOOS)
}
