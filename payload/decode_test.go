// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package payload

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func decode(t *testing.T, raw string) *DisplayFrame {
	t.Helper()
	frame, err := NewDecoder(DefaultDefaults()).Decode(raw)
	if err != nil {
		t.Fatalf("Decode(%s): %v", raw, err)
	}
	return frame
}

func TestDecodeAppliesDefaults(t *testing.T) {
	frame := decode(t, `{"schema_version":1,"line1":"Hello","line2":"World"}`)

	if frame.Line1 != "Hello" || frame.Line2 != "World" {
		t.Errorf("lines = %q/%q, want Hello/World", frame.Line1, frame.Line2)
	}
	if !frame.BacklightOn {
		t.Error("BacklightOn = false, want true by default")
	}
	if !frame.ScrollEnabled {
		t.Error("ScrollEnabled = false, want true by default")
	}
	if frame.ScrollSpeed != DefaultScrollSpeed {
		t.Errorf("ScrollSpeed = %v, want %v", frame.ScrollSpeed, DefaultScrollSpeed)
	}
	if frame.PageTimeout != DefaultPageTimeout {
		t.Errorf("PageTimeout = %v, want %v", frame.PageTimeout, DefaultPageTimeout)
	}
	if frame.Duration != 0 {
		t.Errorf("Duration = %v, want 0", frame.Duration)
	}
	if frame.Mode != ModeNormal {
		t.Errorf("Mode = %v, want normal", frame.Mode)
	}
	if frame.HasBar {
		t.Error("HasBar = true for a frame without a bar")
	}
}

func TestDecodeUsesConfiguredDefaults(t *testing.T) {
	decoder := NewDecoder(Defaults{ScrollSpeed: 100 * time.Millisecond, PageTimeout: 9 * time.Second})
	frame, err := decoder.Decode(`{"schema_version":1,"line1":"a","line2":"b"}`)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.ScrollSpeed != 100*time.Millisecond || frame.PageTimeout != 9*time.Second {
		t.Errorf("timings = %v/%v, want 100ms/9s", frame.ScrollSpeed, frame.PageTimeout)
	}

	decoder.SetDefaults(Defaults{})
	if got := decoder.Defaults(); got != DefaultDefaults() {
		t.Errorf("zero defaults = %+v, want package defaults", got)
	}
}

func TestDecodeOptionalFields(t *testing.T) {
	frame := decode(t, `{"schema_version":1,"line1":"a","line2":"b","backlight":false,"blink":true,`+
		`"scroll":false,"scroll_speed_ms":400,"duration_ms":1500,"page_timeout_ms":2000,`+
		`"clear":true,"test":true,"icons":["Heart","wifi","unknown"],"config_reload":true}`)

	if frame.BacklightOn || !frame.Blink || frame.ScrollEnabled {
		t.Errorf("flags = backlight %v blink %v scroll %v", frame.BacklightOn, frame.Blink, frame.ScrollEnabled)
	}
	if frame.ScrollSpeed != 400*time.Millisecond || frame.Duration != 1500*time.Millisecond ||
		frame.PageTimeout != 2*time.Second {
		t.Errorf("timings = %v/%v/%v", frame.ScrollSpeed, frame.Duration, frame.PageTimeout)
	}
	if !frame.Clear || !frame.Test || !frame.ConfigReload {
		t.Errorf("clear/test/reload = %v/%v/%v, want all true", frame.Clear, frame.Test, frame.ConfigReload)
	}
	if len(frame.Icons) != 2 || frame.Icons[0] != IconHeart || frame.Icons[1] != IconWifi {
		t.Errorf("Icons = %v, want [heart wifi]", frame.Icons)
	}
}

func TestDecodeSaturatesHugeTimings(t *testing.T) {
	longest := time.Duration(math.MaxInt64/int64(time.Millisecond)) * time.Millisecond
	frame := decode(t, `{"schema_version":1,"line1":"long","line2":"x","duration_ms":18446744073710,`+
		`"page_timeout_ms":18446744073709551615,"scroll_speed_ms":9223372036854776}`)

	if frame.Duration != longest {
		t.Errorf("Duration = %v, want %v", frame.Duration, longest)
	}
	if frame.PageTimeout != longest {
		t.Errorf("PageTimeout = %v, want %v", frame.PageTimeout, longest)
	}
	if frame.ScrollSpeed != longest {
		t.Errorf("ScrollSpeed = %v, want %v", frame.ScrollSpeed, longest)
	}
}

func TestDecodeBar(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		percent int
		row     int
	}{
		{"value over max", `{"schema_version":1,"line1":"","line2":"","bar_value":500,"bar_max":1000}`, 50, BarRowBottom},
		{"explicit bar wins", `{"schema_version":1,"line1":"","line2":"","bar":42,"bar_value":10,"bar_max":20}`, 42, BarRowBottom},
		{"bar clamps", `{"schema_version":1,"line1":"","line2":"","bar":200}`, 100, BarRowBottom},
		{"default max", `{"schema_version":1,"line1":"","line2":"","bar_value":30}`, 30, BarRowBottom},
		{"top row", `{"schema_version":1,"line1":"","line2":"","bar":10,"bar_line1":true}`, 10, BarRowTop},
		{"dashboard pins bottom", `{"schema_version":1,"line1":"","line2":"","bar":10,"bar_line1":true,"mode":"dashboard"}`, 10, BarRowBottom},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			frame := decode(t, test.raw)
			if !frame.HasBar {
				t.Fatal("HasBar = false")
			}
			if frame.BarPercent != test.percent {
				t.Errorf("BarPercent = %d, want %d", frame.BarPercent, test.percent)
			}
			if frame.BarRow != test.row {
				t.Errorf("BarRow = %d, want %d", frame.BarRow, test.row)
			}
		})
	}
}

func TestDecodeBannerDropsLine2(t *testing.T) {
	frame := decode(t, `{"schema_version":1,"line1":"BIG","line2":"hidden","mode":"banner"}`)
	if frame.Mode != ModeBanner || frame.Line2 != "" {
		t.Errorf("mode %v line2 %q, want banner with empty line2", frame.Mode, frame.Line2)
	}
}

func TestDecodeRejects(t *testing.T) {
	long := strings.Repeat("x", MaxLineChars+1)
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `hello`},
		{"missing schema", `{"line1":"a","line2":"b"}`},
		{"missing line2", `{"schema_version":1,"line1":"a"}`},
		{"unknown field", `{"schema_version":1,"line1":"a","line2":"b","colour":"red"}`},
		{"long line1", `{"schema_version":1,"line1":"` + long + `","line2":"b"}`},
		{"long line2", `{"schema_version":1,"line1":"a","line2":"` + long + `"}`},
		{"too many icons", `{"schema_version":1,"line1":"a","line2":"b","icons":["heart","heart","heart","heart","heart"]}`},
		{"long label", `{"schema_version":1,"line1":"a","line2":"b","bar_label":"` + long + `"}`},
		{"zero bar max", `{"schema_version":1,"line1":"a","line2":"b","bar_max":0}`},
		{"value over max", `{"schema_version":1,"line1":"a","line2":"b","bar_value":5,"bar_max":4}`},
		{"zero page timeout", `{"schema_version":1,"line1":"a","line2":"b","page_timeout_ms":0}`},
		{"bad checksum hex", `{"schema_version":1,"line1":"a","line2":"b","checksum":"zz"}`},
		{"negotiation frame", `{"type":"hello_ack","chosen_role":"server","peer_caps":{"bits":1}}`},
	}
	decoder := NewDecoder(DefaultDefaults())
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := decoder.Decode(test.raw)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Decode error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestDecodeChecksum(t *testing.T) {
	version := uint8(1)
	payload := Payload{Line1: "checked", Line2: "<ok>", SchemaVersion: &version}
	sum, err := Checksum(payload)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	payload.Checksum = &sum
	raw, err := Encode(payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	frame := decode(t, raw)
	if frame.Line1 != "checked" {
		t.Errorf("Line1 = %q, want checked", frame.Line1)
	}

	tampered := strings.Replace(raw, "checked", "chacked", 1)
	if _, err := NewDecoder(DefaultDefaults()).Decode(tampered); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("tampered payload error = %v, want ErrChecksumMismatch", err)
	}
}

func TestEncodeOmitsAbsentFields(t *testing.T) {
	version := uint8(1)
	raw, err := Encode(Payload{Line1: "a", Line2: "b", SchemaVersion: &version})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := `{"line1":"a","line2":"b","schema_version":1}`; raw != want {
		t.Errorf("Encode = %s, want %s", raw, want)
	}
}
