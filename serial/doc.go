// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package serial provides the line-oriented transport the daemon talks
// to its peer over.
//
// The transport contract is deliberately small: SendLine writes one
// newline-terminated frame, ReadLine returns the next complete frame
// with its line terminator stripped, or the empty string with a nil
// error when no complete frame arrived within the port's read timeout.
// An empty result is "keep polling", never end of stream; the event
// loop relies on this to stay responsive without blocking.
//
// Three implementations exist:
//
//   - Port, a termios-configured TTY device on Linux (Open).
//   - Fake, a scripted in-memory transport for tests.
//   - Any io.ReadWriteCloser wrapped by NewStream, used for pipes and
//     pseudo-terminals.
//
// Line framing is handled by LineReader, which keeps partial frames
// across read timeouts and recovers from oversized input by discarding
// up to the next newline. Failures are classified by Classify into the
// coarse kinds recorded in logs and the status file.
package serial
