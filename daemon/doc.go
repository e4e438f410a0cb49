// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemon runs the event loop that ties the serial link to the
// display and the command tunnel.
//
// One goroutine owns everything: the transport, the display, the page
// queue, every deadline (page rotation, scrolling, blink, heartbeat,
// reconnect) and the command session flag. Each iteration of [Daemon.Step]
// samples the clock once, then:
//
//  1. reconnects when the link is down and the backoff allows it,
//     negotiating roles and re-dispatching any line that arrived
//     before the handshake finished;
//  2. reads at most one line, bounded by the port timeout, and routes
//     it: command channel lines to the tunnel, stray negotiation frames
//     to the late-handshake handler, everything else to the page queue;
//  3. drains the tunnel's outgoing queue without blocking and writes
//     each message back to the peer;
//  4. fires every timer that is due at the sampled time and redraws the
//     display, at most once per minimum render interval.
//
// Transport errors never escape: they close the link, show an overlay,
// and hand control to the backoff scheduler. [Daemon.Run] repeats Step
// until its context ends, then terminates any running command, shows
// the offline overlay and writes a final status snapshot.
package daemon
