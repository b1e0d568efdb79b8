// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that stamp persisted records with a time (the lifecycle
// manager's last-upgraded field, upgrade history entries) take a Clock
// instead of calling time.Now. Production code passes Real(); tests
// pass Fake() and move time explicitly with Advance or Set, so
// persisted timestamps are deterministic and assertable.
package clock
