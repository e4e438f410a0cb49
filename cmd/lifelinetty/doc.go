// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Lifelinetty drives a character display from a serial link. A peer
// (typically a host script, or a KVM controller) writes one JSON
// payload per line; lifelinetty queues the pages, rotates and scrolls
// them, and reconnects with exponential backoff when the link drops.
// When the link negotiates this side as the server, the same link also
// carries a command tunnel that runs allow-listed programs and streams
// their output back.
//
// Subcommands:
//
//	run        the display daemon (default)
//	serialsh   an interactive shell that drives a remote daemon's
//	           command tunnel over the serial link
//	status     report on a running daemon from its status file
//
// Settings come from ~/.serial_lcd/config.toml (created with defaults
// on first run), or from the file named by LIFELINETTY_CONFIG or
// --config. Command-line flags override individual settings.
package main
