// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package render holds the queue of display pages the daemon cycles
// through.
//
// RenderState ingests raw display lines, suppresses back-to-back
// duplicates by fingerprint, expires pages whose duration has run out,
// and rotates the remaining pages round-robin. It owns no timers: every
// operation samples the injected clock once and prunes expired entries
// before doing anything else, so callers only ever observe live pages.
package render

import (
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/clock"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/payload"
)

// MaxFrameBytes is the largest raw display line accepted.
const MaxFrameBytes = 512

var (
	// ErrTooLarge is returned for lines longer than MaxFrameBytes.
	ErrTooLarge = errors.New("display frame too large")

	// ErrInvalid is matched by every InvalidFrameError.
	ErrInvalid = errors.New("invalid display frame")
)

// InvalidFrameError carries the decoder's complaint about a frame.
type InvalidFrameError struct {
	Err error
}

func (e *InvalidFrameError) Error() string {
	return fmt.Sprintf("invalid display frame: %v", e.Err)
}

// Unwrap exposes both the decoder error and ErrInvalid to errors.Is.
func (e *InvalidFrameError) Unwrap() []error { return []error{ErrInvalid, e.Err} }

// Decoder turns one raw line into a display frame.
type Decoder interface {
	Decode(raw string) (*payload.DisplayFrame, error)
}

// defaultsSetter is implemented by decoders whose defaults can be
// replaced at runtime.
type defaultsSetter interface {
	SetDefaults(payload.Defaults)
}

// FrameEntry is one queued page.
type FrameEntry struct {
	Frame *payload.DisplayFrame

	// ExpiresAt is the instant the page is dropped. The zero time
	// means the page stays until something replaces the queue.
	ExpiresAt time.Time
}

func (e FrameEntry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !e.ExpiresAt.After(now)
}

// RenderState is the page queue. Insertion order is display order.
//
// RenderState is not safe for concurrent use; the event loop owns it.
type RenderState struct {
	decoder Decoder
	clock   clock.Clock

	pages           []FrameEntry
	lastFingerprint uint32
	hasFingerprint  bool
}

// New returns an empty RenderState.
func New(decoder Decoder, clock clock.Clock) *RenderState {
	return &RenderState{decoder: decoder, clock: clock}
}

// Ingest decodes raw and queues it. It returns the frame on success,
// unqueued when the frame only asks for a config reload,
// (nil, nil) when raw repeats the most recently accepted line, and an
// error wrapping ErrTooLarge or ErrInvalid otherwise. Rejected lines
// never change the duplicate fingerprint, so a malformed line that is
// resent is decoded again instead of being swallowed as a duplicate.
func (s *RenderState) Ingest(raw string) (*payload.DisplayFrame, error) {
	now := s.clock.Now()
	s.prune(now)

	if len(raw) > MaxFrameBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(raw), MaxFrameBytes)
	}

	fingerprint := crc32.ChecksumIEEE([]byte(raw))
	if s.hasFingerprint && fingerprint == s.lastFingerprint {
		return nil, nil
	}

	frame, err := s.decoder.Decode(raw)
	if err != nil {
		return nil, &InvalidFrameError{Err: err}
	}

	s.lastFingerprint = fingerprint
	s.hasFingerprint = true
	if frame.ConfigReload {
		// A reload request is a control message, not a page.
		return frame, nil
	}

	entry := FrameEntry{Frame: frame}
	if frame.Duration > 0 {
		entry.ExpiresAt = now.Add(frame.Duration)
	}
	s.pages = append(s.pages, entry)
	return frame, nil
}

// NextPage rotates the queue by one and returns the page that was at
// the front, or nil when nothing is live. Pages are never removed by
// rotation: with N live pages, N calls visit each page once.
func (s *RenderState) NextPage() *payload.DisplayFrame {
	s.prune(s.clock.Now())
	if len(s.pages) == 0 {
		return nil
	}
	front := s.pages[0]
	s.pages = append(s.pages[1:], front)
	return front.Frame
}

// Current returns the page at the front of the queue without rotating.
func (s *RenderState) Current() *payload.DisplayFrame {
	s.prune(s.clock.Now())
	if len(s.pages) == 0 {
		return nil
	}
	return s.pages[0].Frame
}

// Live reports whether frame is still queued.
func (s *RenderState) Live(frame *payload.DisplayFrame) bool {
	s.prune(s.clock.Now())
	for _, entry := range s.pages {
		if entry.Frame == frame {
			return true
		}
	}
	return false
}

// Len returns the number of live pages.
func (s *RenderState) Len() int {
	s.prune(s.clock.Now())
	return len(s.pages)
}

// IsEmpty reports whether no live page remains.
func (s *RenderState) IsEmpty() bool {
	return s.Len() == 0
}

// Fingerprint returns the fingerprint of the last accepted line.
func (s *RenderState) Fingerprint() (uint32, bool) {
	return s.lastFingerprint, s.hasFingerprint
}

// SetDefaults forwards reloaded defaults to the decoder when it
// supports them. Already queued pages keep the values they were
// decoded with.
func (s *RenderState) SetDefaults(defaults payload.Defaults) {
	if setter, ok := s.decoder.(defaultsSetter); ok {
		setter.SetDefaults(defaults)
	}
}

// prune drops expired pages anywhere in the queue. Emptying the queue
// forgets the fingerprint so an identical payload is accepted again.
func (s *RenderState) prune(now time.Time) {
	live := s.pages[:0]
	for _, entry := range s.pages {
		if !entry.expired(now) {
			live = append(live, entry)
		}
	}
	clear(s.pages[len(live):])
	s.pages = live
	if len(s.pages) == 0 {
		s.hasFingerprint = false
		s.lastFingerprint = 0
	}
}
