// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors from run() where the structured logger may not be
// initialized. An *ExitError exits with its own code and prints
// nothing.
func Fatal(err error) {
	var exitError *ExitError
	if errors.As(err, &exitError) {
		os.Exit(exitError.Code)
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// ExitError asks main to exit with Code without printing anything. The
// serialsh subcommand uses it to hand back the remote command's status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }
