// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tunnel runs allow-listed commands on behalf of the serial
// peer and streams their output back over the link.
//
// Every command line on the wire is an envelope:
//
//	{"channel":"command","schema_version":1,"message":{"type":"request","request_id":7,"cmd":"uptime"},"crc32":2746081577}
//
// where crc32 is the IEEE CRC-32 of the message object's bytes exactly
// as they appear in the envelope. The message is one of request, chunk,
// exit, ack, busy, error or heartbeat. The peer only ever sends
// requests; everything else flows from the daemon.
//
// The package has two halves. CommandBridge decodes lines into
// messages and remembers the most recent request id for diagnostics.
// Executor runs at most one command at a time: it answers a request
// immediately with Ack, Busy or Error, and streams the command's output
// as Chunk messages followed by exactly one Exit through a channel the
// event loop drains with NextOutgoing.
//
// The executor's session state is only touched from the goroutine that
// calls HandleEvent and NextOutgoing. The per-command goroutines (one
// reader per output stream, one waiter) communicate exclusively by
// sending on the outgoing channel.
package tunnel
