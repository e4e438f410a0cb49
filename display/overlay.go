// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package display

import "fmt"

// Overlay is a fixed status message that temporarily replaces the page
// content.
type Overlay struct {
	Line1 string
	Line2 string
}

var (
	OverlayReconnecting  = Overlay{Line1: "RECONNECTING", Line2: "serial link"}
	OverlaySerialOffline = Overlay{Line1: "SERIAL OFFLINE", Line2: "waiting..."}
	OverlayParseError    = Overlay{Line1: "ERR PARSE", Line2: "bad frame"}
	OverlayOffline       = Overlay{Line1: "lifelinetty", Line2: "offline"}
)

// ParseErrorOverlay carries a short reason on the second line.
func ParseErrorOverlay(reason string) Overlay {
	return Overlay{Line1: OverlayParseError.Line1, Line2: reason}
}

// Show clears the display and draws overlay with the backlight on.
func Show(target Display, overlay Overlay) error {
	if err := target.Clear(); err != nil {
		return fmt.Errorf("clearing display: %w", err)
	}
	if err := target.SetBlink(false); err != nil {
		return fmt.Errorf("resetting blink: %w", err)
	}
	if err := target.SetBacklight(true); err != nil {
		return fmt.Errorf("enabling backlight: %w", err)
	}
	if err := target.WriteLines(overlay.Line1, overlay.Line2); err != nil {
		return fmt.Errorf("writing overlay: %w", err)
	}
	return nil
}
