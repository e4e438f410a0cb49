// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package display

// ScrollGap separates the end of a scrolling line from its restart.
const ScrollGap = "    |    "

// NeedsScroll reports whether line is wider than the display.
func NeedsScroll(line string, columns int) bool {
	return len([]rune(line)) > columns
}

// ViewLine returns the columns-wide window of line starting at offset.
// A line that fits is returned fitted and the offset is ignored. A line
// that does not fit is treated as a loop of line followed by ScrollGap.
func ViewLine(line string, columns, offset int) string {
	if !NeedsScroll(line, columns) {
		return Fit(line, columns)
	}
	loop := []rune(line + ScrollGap)
	offset %= len(loop)
	if offset < 0 {
		offset += len(loop)
	}
	window := make([]rune, 0, columns)
	for index := range columns {
		window = append(window, loop[(offset+index)%len(loop)])
	}
	return string(window)
}

// AdvanceOffset moves a scroll offset one cell forward, wrapping at the
// end of the line plus gap. Lines that fit always stay at zero.
func AdvanceOffset(line string, columns, offset int) int {
	if !NeedsScroll(line, columns) {
		return 0
	}
	return (offset + 1) % len([]rune(line+ScrollGap))
}
