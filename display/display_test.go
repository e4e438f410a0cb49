// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package display

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"

	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/payload"
)

func TestFit(t *testing.T) {
	tests := []struct {
		line    string
		columns int
		want    string
	}{
		{"hi", 4, "hi  "},
		{"exactly!", 8, "exactly!"},
		{"much too long", 4, "much"},
		{"anything", 0, ""},
	}
	for _, test := range tests {
		if got := Fit(test.line, test.columns); got != test.want {
			t.Errorf("Fit(%q, %d) = %q, want %q", test.line, test.columns, got, test.want)
		}
	}
}

func TestBarLine(t *testing.T) {
	tests := []struct {
		label   string
		percent int
		columns int
		want    string
	}{
		{"CPU", 50, 16, "CPU ######------"},
		{"", 100, 10, "##########"},
		{"", 0, 4, "----"},
		{"", 250, 4, "####"},
		{"a very long label", 50, 6, "a very"},
	}
	for _, test := range tests {
		if got := BarLine(test.label, test.percent, test.columns); got != test.want {
			t.Errorf("BarLine(%q, %d, %d) = %q, want %q", test.label, test.percent, test.columns, got, test.want)
		}
	}
}

func TestCompose(t *testing.T) {
	tests := []struct {
		name      string
		frame     payload.DisplayFrame
		wantLine1 string
		wantLine2 string
	}{
		{
			name:      "plain",
			frame:     payload.DisplayFrame{Line1: "hello", Line2: "world"},
			wantLine1: "hello",
			wantLine2: "world",
		},
		{
			name:      "banner drops second line",
			frame:     payload.DisplayFrame{Line1: "hello", Line2: "world", Mode: payload.ModeBanner},
			wantLine1: "hello",
			wantLine2: "",
		},
		{
			name:      "bar on top",
			frame:     payload.DisplayFrame{Line1: "hello", Line2: "world", HasBar: true, BarPercent: 50, BarRow: payload.BarRowTop},
			wantLine1: "########--------",
			wantLine2: "world",
		},
		{
			name:      "dashboard pins bar to bottom",
			frame:     payload.DisplayFrame{Line1: "hello", Line2: "world", HasBar: true, BarPercent: 100, Mode: payload.ModeDashboard},
			wantLine1: "hello",
			wantLine2: "################",
		},
		{
			name:      "icons prefix first line",
			frame:     payload.DisplayFrame{Line1: "up", Icons: []payload.Icon{payload.IconHeart, payload.IconArrow}},
			wantLine1: "<3 > up",
			wantLine2: "",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			line1, line2 := Compose(&test.frame, 16)
			if line1 != test.wantLine1 || line2 != test.wantLine2 {
				t.Errorf("Compose = (%q, %q), want (%q, %q)", line1, line2, test.wantLine1, test.wantLine2)
			}
		})
	}
}

func TestScrollWindow(t *testing.T) {
	line := "ABCDEFGHIJKLMNOPQRS"
	if !NeedsScroll(line, 16) {
		t.Fatal("NeedsScroll = false for a 19 character line on 16 columns")
	}
	if got := ViewLine(line, 16, 0); got != "ABCDEFGHIJKLMNOP" {
		t.Errorf("ViewLine offset 0 = %q", got)
	}
	if got := ViewLine(line, 16, 15); got != "PQRS    |    ABC" {
		t.Errorf("ViewLine offset 15 = %q", got)
	}

	loopLength := len(line) + len(ScrollGap)
	offset := 0
	for range loopLength {
		offset = AdvanceOffset(line, 16, offset)
	}
	if offset != 0 {
		t.Errorf("offset after a full loop = %d, want 0", offset)
	}

	if got := ViewLine("short", 16, 7); got != Fit("short", 16) {
		t.Errorf("ViewLine of a fitting line = %q", got)
	}
	if got := AdvanceOffset("short", 16, 7); got != 0 {
		t.Errorf("AdvanceOffset of a fitting line = %d, want 0", got)
	}
}

func TestWithHeartbeat(t *testing.T) {
	if got := WithHeartbeat("hello", 8, true); got != "hello  *" {
		t.Errorf("WithHeartbeat lit = %q", got)
	}
	if got := WithHeartbeat("hello", 8, false); got != "hello   " {
		t.Errorf("WithHeartbeat dark = %q", got)
	}
}

func TestShowOverlay(t *testing.T) {
	recorder := NewRecorder(16)
	recorder.Backlight = false
	recorder.Blink = true

	if err := Show(recorder, OverlayReconnecting); err != nil {
		t.Fatalf("Show: %v", err)
	}
	if recorder.Clears != 1 {
		t.Errorf("Clears = %d, want 1", recorder.Clears)
	}
	if !recorder.Backlight || recorder.Blink {
		t.Errorf("Backlight = %v, Blink = %v, want true, false", recorder.Backlight, recorder.Blink)
	}
	want := Snapshot{Line1: Fit("RECONNECTING", 16), Line2: Fit("serial link", 16)}
	if recorder.Last() != want {
		t.Errorf("Last() = %+v, want %+v", recorder.Last(), want)
	}

	failure := errors.New("bus fault")
	recorder.Err = failure
	if err := Show(recorder, OverlayOffline); !errors.Is(err, failure) {
		t.Errorf("Show error = %v, want wrapping %v", err, failure)
	}
}

func TestTerminalDraws(t *testing.T) {
	var output bytes.Buffer
	terminal := NewTerminal(&output, TerminalOptions{Columns: 12})
	if terminal.Columns() != 12 {
		t.Fatalf("Columns() = %d, want 12", terminal.Columns())
	}

	if err := terminal.WriteLines("hello", "a line that is far too long"); err != nil {
		t.Fatalf("WriteLines: %v", err)
	}
	drawn := ansi.Strip(output.String())
	if !strings.Contains(drawn, "hello       ") {
		t.Errorf("output missing first line:\n%s", drawn)
	}
	if !strings.Contains(drawn, "a line that ") || strings.Contains(drawn, "far too long") {
		t.Errorf("second line not truncated to 12 columns:\n%s", drawn)
	}
	if strings.Contains(output.String(), homeAndErase) {
		t.Error("non-interactive terminal erased the screen")
	}

	output.Reset()
	if err := terminal.SetBacklight(true); err != nil {
		t.Fatalf("SetBacklight: %v", err)
	}
	if output.Len() != 0 {
		t.Error("unchanged backlight triggered a redraw")
	}
	if err := terminal.SetBacklight(false); err != nil {
		t.Fatalf("SetBacklight: %v", err)
	}
	if output.Len() == 0 {
		t.Error("backlight change did not redraw")
	}
}

func TestTerminalInteractiveErases(t *testing.T) {
	var output bytes.Buffer
	terminal := NewTerminal(&output, TerminalOptions{Interactive: true})
	if err := terminal.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if !strings.HasPrefix(output.String(), homeAndErase) {
		t.Errorf("interactive redraw does not start with the erase sequence: %q", output.String())
	}
}

func TestTestPattern(t *testing.T) {
	line1, line2 := TestPattern(12)
	if line1 != "012345678901" {
		t.Errorf("line1 = %q, want %q", line1, "012345678901")
	}
	if line2 != "############" {
		t.Errorf("line2 = %q, want 12 blocks", line2)
	}
	if a, b := TestPattern(0); a != "" || b != "" {
		t.Errorf("TestPattern(0) = %q, %q; want empty", a, b)
	}
}
