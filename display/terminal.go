// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package display

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// homeAndErase moves the cursor home and clears the screen so each
// redraw replaces the previous one on a terminal.
const homeAndErase = "\x1b[H\x1b[2J"

// Terminal draws the display as a bordered box on a writer. A dimmed
// box stands in for the backlight being off.
type Terminal struct {
	output      io.Writer
	columns     int
	redrawInTTY bool

	baseStyle lipgloss.Style

	line1     string
	line2     string
	backlight bool
	blink     bool
}

// TerminalOptions configures a Terminal.
type TerminalOptions struct {
	// Columns defaults to DefaultColumns.
	Columns int

	// Interactive makes every redraw erase the screen first. Leave it
	// false when output is a log or pipe.
	Interactive bool
}

// NewTerminal returns a Terminal writing to output.
func NewTerminal(output io.Writer, options TerminalOptions) *Terminal {
	if options.Columns <= 0 {
		options.Columns = DefaultColumns
	}
	renderer := lipgloss.NewRenderer(output)
	return &Terminal{
		output:      output,
		columns:     options.Columns,
		redrawInTTY: options.Interactive,
		baseStyle: renderer.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Foreground(lipgloss.Color("10")),
		line1:     Fit("", options.Columns),
		line2:     Fit("", options.Columns),
		backlight: true,
	}
}

func (t *Terminal) Columns() int { return t.columns }

func (t *Terminal) Clear() error {
	t.line1 = Fit("", t.columns)
	t.line2 = Fit("", t.columns)
	return t.draw()
}

func (t *Terminal) WriteLines(line1, line2 string) error {
	t.line1 = Fit(line1, t.columns)
	t.line2 = Fit(line2, t.columns)
	return t.draw()
}

func (t *Terminal) SetBacklight(on bool) error {
	if t.backlight == on {
		return nil
	}
	t.backlight = on
	return t.draw()
}

func (t *Terminal) SetBlink(on bool) error {
	if t.blink == on {
		return nil
	}
	t.blink = on
	return t.draw()
}

// Render returns the box as it would be drawn, without writing it.
func (t *Terminal) Render() string {
	style := t.baseStyle.Blink(t.blink)
	if !t.backlight {
		style = style.Faint(true).Foreground(lipgloss.Color("8"))
	}
	return style.Render(t.line1 + "\n" + t.line2)
}

func (t *Terminal) draw() error {
	box := t.Render()
	if t.redrawInTTY {
		box = homeAndErase + box
	}
	if _, err := fmt.Fprintln(t.output, box); err != nil {
		return fmt.Errorf("writing terminal display: %w", err)
	}
	return nil
}
