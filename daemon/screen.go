// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"time"

	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/display"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/payload"
)

// screen is what the display currently shows and every deadline that
// changes it. The zero deadline means "due now".
type screen struct {
	columns int

	frame        *payload.DisplayFrame
	line1, line2 string
	offset1      int
	offset2      int

	nextPage   time.Time
	nextScroll time.Time
	nextBlink  time.Time
	blinkLit   bool

	lastFrameAt   time.Time
	heartbeatLit  bool
	nextHeartbeat time.Time

	lastRender time.Time
	rendered   bool
	dirty      bool

	// overlay is set while an overlay covers the page. overlayUntil,
	// when non-zero, lifts it automatically.
	overlay      bool
	overlayUntil time.Time

	blank bool
}

func newScreen(columns int) screen {
	if columns <= 0 {
		columns = display.DefaultColumns
	}
	return screen{columns: columns, blank: true}
}

// invalidate lifts any overlay and forces the page to be redrawn.
func (s *screen) invalidate() {
	s.overlay = false
	s.overlayUntil = time.Time{}
	s.dirty = s.frame != nil
}

// holdOverlay lifts the current overlay after OverlayHold.
func (s *screen) holdOverlay(now time.Time) {
	if s.overlay {
		s.overlayUntil = now.Add(OverlayHold)
	}
}

// load makes frame the visible page and restarts its timers.
func (s *screen) load(now time.Time, frame *payload.DisplayFrame) {
	s.frame = frame
	if frame.Test {
		s.line1, s.line2 = display.TestPattern(s.columns)
	} else {
		s.line1, s.line2 = display.Compose(frame, s.columns)
	}
	s.offset1, s.offset2 = 0, 0
	s.nextPage = now.Add(frame.PageTimeout)
	s.nextScroll = now.Add(scrollPeriod(frame))
	s.nextBlink = now.Add(BlinkInterval)
	s.blinkLit = frame.BacklightOn
	s.heartbeatLit = false
	s.nextHeartbeat = time.Time{}
	s.overlay = false
	s.overlayUntil = time.Time{}
	s.blank = false
	s.dirty = true
}

func scrollPeriod(frame *payload.DisplayFrame) time.Duration {
	if frame.ScrollSpeed <= 0 {
		return MinRenderInterval
	}
	return frame.ScrollSpeed
}

func (s *screen) scrolls() bool {
	return s.frame != nil && s.frame.ScrollEnabled &&
		(display.NeedsScroll(s.line1, s.columns) || display.NeedsScroll(s.line2, s.columns))
}

// lines returns the fitted lines for the current offsets.
func (s *screen) lines() (string, string) {
	line1 := display.ViewLine(s.line1, s.columns, s.offset1)
	return display.WithHeartbeat(line1, s.columns, s.heartbeatLit),
		display.ViewLine(s.line2, s.columns, s.offset2)
}

// showFrame puts a freshly accepted or rotated page on the display.
func (d *Daemon) showFrame(now time.Time, frame *payload.DisplayFrame) {
	d.screen.load(now, frame)
	if frame.Clear {
		d.displayError("clear", d.display.Clear())
	}
	d.displayError("blink", d.display.SetBlink(frame.Blink))
	d.displayError("backlight", d.display.SetBacklight(frame.BacklightOn))
	d.draw(now)
}

// showOverlay covers the page until the link comes back, a new frame
// arrives, or a hold set by holdOverlay runs out.
func (d *Daemon) showOverlay(overlay display.Overlay) {
	d.displayError("overlay", display.Show(d.display, overlay))
	d.screen.overlay = true
	d.screen.overlayUntil = time.Time{}
	d.screen.blank = false
}

// tick advances every display deadline that is due at now.
func (d *Daemon) tick(now time.Time) {
	s := &d.screen
	if s.overlay {
		if s.overlayUntil.IsZero() || now.Before(s.overlayUntil) {
			return
		}
		s.overlay = false
		s.overlayUntil = time.Time{}
		s.dirty = s.frame != nil
		if s.frame != nil {
			d.displayError("backlight", d.display.SetBacklight(s.frame.BacklightOn))
			d.displayError("blink", d.display.SetBlink(s.frame.Blink))
		}
	}

	if d.pages.IsEmpty() {
		if !s.blank {
			d.logger.Debug("page queue empty, clearing display")
			d.displayError("clear", d.display.Clear())
			s.frame = nil
			s.dirty = false
			s.blank = true
		}
		return
	}

	// The visible page expired, or nothing was ever shown.
	if s.frame == nil || !d.pages.Live(s.frame) {
		d.rotate(now)
		return
	}

	if d.pages.Len() > 1 && !now.Before(s.nextPage) {
		d.rotate(now)
		return
	}

	if s.scrolls() && !now.Before(s.nextScroll) {
		s.offset1 = display.AdvanceOffset(s.line1, s.columns, s.offset1)
		s.offset2 = display.AdvanceOffset(s.line2, s.columns, s.offset2)
		s.nextScroll = now.Add(scrollPeriod(s.frame))
		s.dirty = true
	}

	if s.frame.Blink && !now.Before(s.nextBlink) {
		s.blinkLit = !s.blinkLit
		s.nextBlink = now.Add(BlinkInterval)
		d.displayError("backlight", d.display.SetBacklight(s.blinkLit))
	}

	if !s.lastFrameAt.IsZero() && now.Sub(s.lastFrameAt) >= HeartbeatGrace && !now.Before(s.nextHeartbeat) {
		s.heartbeatLit = !s.heartbeatLit
		s.nextHeartbeat = now.Add(HeartbeatToggle)
		s.dirty = true
	}

	if s.dirty {
		d.draw(now)
	}
}

// rotate shows the next live page that differs from the visible one.
func (d *Daemon) rotate(now time.Time) {
	next := d.pages.NextPage()
	if next == d.screen.frame && d.pages.Len() > 1 {
		next = d.pages.NextPage()
	}
	if next == nil {
		return
	}
	d.showFrame(now, next)
}

// draw writes the visible page unless the last write was less than
// MinRenderInterval ago. A throttled draw stays pending and the next
// tick retries it.
func (d *Daemon) draw(now time.Time) {
	s := &d.screen
	if s.overlay || s.frame == nil {
		return
	}
	if s.rendered && now.Sub(s.lastRender) < MinRenderInterval {
		s.dirty = true
		return
	}
	line1, line2 := s.lines()
	d.displayError("write", d.display.WriteLines(line1, line2))
	s.lastRender = now
	s.rendered = true
	s.dirty = false
}

func (d *Daemon) displayError(operation string, err error) {
	if err != nil {
		d.logger.Warn("display update failed", "operation", operation, "error", err)
	}
}
