// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the binary entrypoint helpers shared by every
// subcommand: the fatal error exit used before the logger exists, and
// the exit-code carrier subcommands return to main.
package process
