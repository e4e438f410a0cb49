// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package display

import (
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/payload"
)

// DefaultColumns is the width of the common 16x2 module.
const DefaultColumns = 16

// Display is the character display collaborator. All methods are called
// from the event loop goroutine only.
type Display interface {
	// Clear blanks both lines.
	Clear() error

	// WriteLines replaces both lines. Implementations truncate or pad
	// to Columns.
	WriteLines(line1, line2 string) error

	SetBacklight(on bool) error

	// SetBlink marks the current content as blinking. Drivers without
	// a blink attribute may ignore it.
	SetBlink(on bool) error

	Columns() int
}

// Fit truncates line to columns cells and pads it with spaces so the
// result is exactly columns wide.
func Fit(line string, columns int) string {
	if columns <= 0 {
		return ""
	}
	line = ansi.Truncate(line, columns, "")
	if width := ansi.StringWidth(line); width < columns {
		line += strings.Repeat(" ", columns-width)
	}
	return line
}

// Compose lays a frame out as the two raw display lines. The lines are
// not fitted: scrolling lines are windowed later by the caller.
func Compose(frame *payload.DisplayFrame, columns int) (string, string) {
	line1, line2 := frame.Line1, frame.Line2
	if frame.Mode == payload.ModeBanner {
		line2 = ""
	}
	if len(frame.Icons) > 0 {
		line1 = iconPrefix(frame.Icons) + line1
	}
	if frame.HasBar && frame.Mode != payload.ModeBanner {
		bar := BarLine(frame.BarLabel, frame.BarPercent, columns)
		if frame.Mode == payload.ModeDashboard || frame.BarRow == payload.BarRowBottom {
			line2 = bar
		} else {
			line1 = bar
		}
	}
	return line1, line2
}

var iconGlyphs = map[payload.Icon]string{
	payload.IconBattery: "[=]",
	payload.IconArrow:   ">",
	payload.IconHeart:   "<3",
	payload.IconWifi:    "((.))",
}

func iconPrefix(icons []payload.Icon) string {
	var builder strings.Builder
	for _, icon := range icons {
		builder.WriteString(iconGlyphs[icon])
		builder.WriteByte(' ')
	}
	return builder.String()
}

// BarLine draws an ASCII bar graph of percent (clamped to 0-100) filling
// whatever width the optional label leaves free.
func BarLine(label string, percent, columns int) string {
	percent = max(0, min(percent, 100))
	prefix := ""
	if label != "" {
		prefix = label + " "
	}
	width := columns - ansi.StringWidth(prefix)
	if width <= 0 {
		return ansi.Truncate(label, columns, "")
	}
	filled := percent * width / 100
	return prefix + strings.Repeat("#", filled) + strings.Repeat("-", width-filled)
}

// HeartbeatMarker is drawn in the last column of the first line while
// the heartbeat indicator is lit.
const HeartbeatMarker = '*'

// WithHeartbeat fits line to columns and, when lit, replaces its last
// cell with HeartbeatMarker.
func WithHeartbeat(line string, columns int, lit bool) string {
	fitted := Fit(line, columns)
	if !lit || columns <= 0 {
		return fitted
	}
	return ansi.Truncate(fitted, columns-1, "") + string(HeartbeatMarker)
}

// TestPattern returns the two lines drawn for a test frame: a digit
// ruler and a full block row, so dead cells stand out.
func TestPattern(columns int) (string, string) {
	if columns <= 0 {
		return "", ""
	}
	var ruler strings.Builder
	for index := range columns {
		ruler.WriteByte(byte('0' + index%10))
	}
	return ruler.String(), strings.Repeat("#", columns)
}
