// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package serialsh is the peer side of the command tunnel: a small
// line-oriented shell that sends each typed command to the daemon at
// the other end of the serial link and streams the remote output back.
//
// A session opens with a Hello that asks to be the client, so the
// daemon (already past its own handshake) answers with a HelloAck and
// enables its tunnel. Commands run one at a time; [Run] waits for the
// Exit of each request before prompting again and returns the last
// exit code, or 1 when the daemon reports Busy.
package serialsh
