// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the time source used by the daemon's timers.
//
// The event loop, the negotiation handshake, the frame state engine and
// the backoff bookkeeping all sample time through a Clock instead of
// calling time.Now or time.Sleep directly. Production code passes
// Real(). Tests pass Fake(), which stands still until the test moves it:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	state := render.New(decoder, fake)
//	state.Ingest(line)
//	fake.Advance(2 * time.Second) // frame durations expire deterministically
//
// Blocking operations on a FakeClock (Sleep, After) register a waiter
// that fires when Advance moves the clock past its deadline. Use
// WaitForWaiters to synchronize with a goroutine that is about to block
// before advancing.
package clock
