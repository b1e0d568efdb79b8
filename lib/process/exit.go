// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitCoder is implemented by errors that carry their own exit code.
// The command has already written its output, so no error line is
// printed for them.
type ExitCoder interface {
	ExitCode() int
}

// Fatal reports err and exits. It is the standard Warden binary
// entrypoint error handler: call it in main() for a non-nil error from
// run().
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

// report writes "error: err" to w unless err carries its own exit
// code, and returns the code to exit with.
func report(w io.Writer, err error) int {
	var coder ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return 1
}
