// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package backoff schedules reconnect attempts after serial link
// failures.
//
// A Scheduler is a pure state machine: every method takes the current
// instant as a parameter and nothing reads the wall clock, so the same
// sequence of calls always produces the same deadlines. Delays double
// on each consecutive failure up to a ceiling and reset to the initial
// delay on the first success. There is no jitter: a single daemon
// talks to a single peer, so there is no thundering herd to spread.
package backoff

import "time"

// Default bounds used when the configuration does not override them.
const (
	DefaultInitial = 500 * time.Millisecond
	DefaultMax     = 10 * time.Second
)

// Scheduler tracks the current failure streak and the instant at which
// the next reconnect attempt becomes due.
//
// Scheduler is not safe for concurrent use. It is owned by the event
// loop goroutine.
type Scheduler struct {
	attempt      uint64
	currentDelay time.Duration
	initialDelay time.Duration
	maxDelay     time.Duration
	nextRetryAt  time.Time
}

// New returns a Scheduler with the given bounds. A fresh scheduler has
// no pending deadline, so ShouldRetry reports true immediately.
func New(initial, max time.Duration) *Scheduler {
	initial, max = normalize(initial, max)
	return &Scheduler{
		currentDelay: initial,
		initialDelay: initial,
		maxDelay:     max,
	}
}

// MarkFailure records a failed connection attempt at now. The next
// retry is scheduled one current delay after now, and the delay for the
// following failure doubles, capped at the maximum.
func (s *Scheduler) MarkFailure(now time.Time) {
	s.attempt++
	s.nextRetryAt = now.Add(s.currentDelay)
	next := s.currentDelay * 2
	if next > s.maxDelay || next <= 0 {
		next = s.maxDelay
	}
	s.currentDelay = next
}

// MarkSuccess ends the failure streak: the attempt counter and delay
// return to their initial values and a retry is due immediately.
func (s *Scheduler) MarkSuccess(now time.Time) {
	s.attempt = 0
	s.currentDelay = s.initialDelay
	s.nextRetryAt = now
}

// ShouldRetry reports whether the pending deadline has been reached.
func (s *Scheduler) ShouldRetry(now time.Time) bool {
	return !now.Before(s.nextRetryAt)
}

// Update applies new bounds from a reloaded configuration. The current
// delay is clamped into the new range; the pending deadline is left as
// it is, so a reload in the middle of a wait changes how future delays
// grow, not when the next attempt happens.
func (s *Scheduler) Update(initial, max time.Duration) {
	initial, max = normalize(initial, max)
	s.initialDelay = initial
	s.maxDelay = max
	if s.currentDelay < initial {
		s.currentDelay = initial
	}
	if s.currentDelay > max {
		s.currentDelay = max
	}
}

// Attempt returns the number of consecutive failures recorded since the
// last success.
func (s *Scheduler) Attempt() uint64 { return s.attempt }

// CurrentDelay returns the delay that the next MarkFailure will apply.
func (s *Scheduler) CurrentDelay() time.Duration { return s.currentDelay }

// InitialDelay returns the configured initial delay.
func (s *Scheduler) InitialDelay() time.Duration { return s.initialDelay }

// MaxDelay returns the configured delay ceiling.
func (s *Scheduler) MaxDelay() time.Duration { return s.maxDelay }

// NextRetryAt returns the pending deadline. The zero time means no
// failure has been recorded yet.
func (s *Scheduler) NextRetryAt() time.Time { return s.nextRetryAt }

func normalize(initial, max time.Duration) (time.Duration, time.Duration) {
	if initial <= 0 {
		initial = time.Millisecond
	}
	if max < initial {
		max = initial
	}
	return initial, max
}
