// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package memorymap

import (
	"errors"
	"fmt"
)

// ErrLayoutSealed is returned by layout-mutating operations outside the
// init/upgrade window.
var ErrLayoutSealed = errors.New("memorymap: layout is sealed outside the init/upgrade window")

// ErrNotAttached is returned by region operations before Format or
// Attach has established the layout.
var ErrNotAttached = errors.New("memorymap: layout not formatted or attached")

// ErrRecordTooLarge is returned when an encoded record does not fit
// in its cell or region.
var ErrRecordTooLarge = errors.New("memorymap: record does not fit")

// ConfigurationError reports a layout setting that conflicts with the
// stored layout or with the allocator's own constraints. It is fatal to
// init and upgrade.
type ConfigurationError struct {
	// Setting names the layout setting at fault.
	Setting string

	// Stored and Requested carry the conflicting values when the
	// error is a mismatch; both are zero otherwise.
	Stored    uint64
	Requested uint64

	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Stored != 0 || e.Requested != 0 {
		return fmt.Sprintf("memorymap: %s: %s (stored %d, requested %d)", e.Setting, e.Reason, e.Stored, e.Requested)
	}
	return fmt.Sprintf("memorymap: %s: %s", e.Setting, e.Reason)
}

// IsConfigurationError reports whether err is or wraps a
// ConfigurationError.
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IDCollisionError is returned when a region id is already allocated.
type IDCollisionError struct {
	ID       RegionID
	Existing RegionRange
}

func (e *IDCollisionError) Error() string {
	return fmt.Sprintf("memorymap: region %d already allocated at pages [%d, %d)",
		e.ID, e.Existing.FirstPage, e.Existing.FirstPage+e.Existing.Pages)
}

// RangeError is returned when a region id falls outside the range the
// caller may allocate from.
type RangeError struct {
	ID RegionID

	// Min and Max bound the permitted ids: [Min, Max).
	Min, Max RegionID
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("memorymap: region id %d outside permitted range [%d, %d)", e.ID, e.Min, e.Max)
}

func corrupt(setting, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Setting: setting, Reason: fmt.Sprintf(format, args...)}
}
