// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for Warden binaries. It
// holds the one raw I/O pattern that exists after the structured
// logger is gone: reporting the error run() returned and exiting.
package process
