// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// SchemaVersion is the payload schema this decoder understands.
const SchemaVersion = 1

// Bounds for schema version 1 and later.
const (
	MaxLineChars     = 40
	MaxIcons         = 4
	MaxBarLabelChars = 40
)

var (
	// ErrInvalid wraps every schema or syntax failure.
	ErrInvalid = errors.New("invalid payload")

	// ErrChecksumMismatch reports a payload whose checksum field does
	// not match its contents.
	ErrChecksumMismatch = errors.New("payload checksum mismatch")
)

// Payload is the wire form of a display frame. Optional fields are
// pointers so that "absent" and "zero" stay distinguishable.
type Payload struct {
	Line1         string    `json:"line1"`
	Line2         string    `json:"line2"`
	SchemaVersion *uint8    `json:"schema_version,omitempty"`
	Bar           *uint8    `json:"bar,omitempty"`
	BarValue      *uint32   `json:"bar_value,omitempty"`
	BarMax        *uint32   `json:"bar_max,omitempty"`
	BarLabel      *string   `json:"bar_label,omitempty"`
	BarLine1      *bool     `json:"bar_line1,omitempty"`
	BarLine2      *bool     `json:"bar_line2,omitempty"`
	Backlight     *bool     `json:"backlight,omitempty"`
	Blink         *bool     `json:"blink,omitempty"`
	Scroll        *bool     `json:"scroll,omitempty"`
	ScrollSpeedMS *uint64   `json:"scroll_speed_ms,omitempty"`
	DurationMS    *uint64   `json:"duration_ms,omitempty"`
	PageTimeoutMS *uint64   `json:"page_timeout_ms,omitempty"`
	Clear         *bool     `json:"clear,omitempty"`
	Test          *bool     `json:"test,omitempty"`
	Mode          *string   `json:"mode,omitempty"`
	Icons         *[]string `json:"icons,omitempty"`
	Checksum      *string   `json:"checksum,omitempty"`
	ConfigReload  *bool     `json:"config_reload,omitempty"`
}

// canonicalPayload has Payload's layout without omitempty. Its encoding
// (every field present, absent ones as null, declaration order) is the
// input to the checksum.
type canonicalPayload struct {
	Line1         string    `json:"line1"`
	Line2         string    `json:"line2"`
	SchemaVersion *uint8    `json:"schema_version"`
	Bar           *uint8    `json:"bar"`
	BarValue      *uint32   `json:"bar_value"`
	BarMax        *uint32   `json:"bar_max"`
	BarLabel      *string   `json:"bar_label"`
	BarLine1      *bool     `json:"bar_line1"`
	BarLine2      *bool     `json:"bar_line2"`
	Backlight     *bool     `json:"backlight"`
	Blink         *bool     `json:"blink"`
	Scroll        *bool     `json:"scroll"`
	ScrollSpeedMS *uint64   `json:"scroll_speed_ms"`
	DurationMS    *uint64   `json:"duration_ms"`
	PageTimeoutMS *uint64   `json:"page_timeout_ms"`
	Clear         *bool     `json:"clear"`
	Test          *bool     `json:"test"`
	Mode          *string   `json:"mode"`
	Icons         *[]string `json:"icons"`
	Checksum      *string   `json:"checksum"`
	ConfigReload  *bool     `json:"config_reload"`
}

// Checksum returns the lowercase hexadecimal CRC-32 of p's canonical
// encoding, ignoring any checksum p already carries.
func Checksum(p Payload) (string, error) {
	sum, err := canonicalCRC(p)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(uint64(sum), 16), nil
}

func canonicalCRC(p Payload) (uint32, error) {
	canonical := canonicalPayload(p)
	canonical.Checksum = nil

	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(canonical); err != nil {
		return 0, fmt.Errorf("encoding payload for checksum: %w", err)
	}
	return crc32.ChecksumIEEE(bytes.TrimSuffix(buffer.Bytes(), []byte("\n"))), nil
}

// Encode renders p as compact single-line JSON, omitting absent fields.
func Encode(p Payload) (string, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(p); err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	return strings.TrimSuffix(buffer.String(), "\n"), nil
}

// Decoder turns raw lines into DisplayFrames using the current
// defaults. It is owned by the event loop and not safe for concurrent
// use.
type Decoder struct {
	defaults Defaults
}

// NewDecoder returns a Decoder with the given defaults. Zero durations
// fall back to the package defaults.
func NewDecoder(defaults Defaults) *Decoder {
	decoder := &Decoder{}
	decoder.SetDefaults(defaults)
	return decoder
}

// SetDefaults replaces the defaults applied to subsequent frames.
func (d *Decoder) SetDefaults(defaults Defaults) {
	if defaults.ScrollSpeed <= 0 {
		defaults.ScrollSpeed = DefaultScrollSpeed
	}
	if defaults.PageTimeout <= 0 {
		defaults.PageTimeout = DefaultPageTimeout
	}
	d.defaults = defaults
}

// Defaults returns the defaults currently applied.
func (d *Decoder) Defaults() Defaults { return d.defaults }

// Decode validates raw and converts it into a DisplayFrame. Compressed
// envelopes are unwrapped first.
func (d *Decoder) Decode(raw string) (*DisplayFrame, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return nil, err
	}

	var required struct {
		Line1 *string `json:"line1"`
		Line2 *string `json:"line2"`
	}
	if err := json.Unmarshal([]byte(normalized), &required); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrInvalid, err)
	}
	if required.Line1 == nil || required.Line2 == nil {
		return nil, fmt.Errorf("%w: line1 and line2 are required", ErrInvalid)
	}

	var p Payload
	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrInvalid, err)
	}

	if err := validate(p); err != nil {
		return nil, err
	}

	if p.Checksum != nil {
		expected, err := strconv.ParseUint(strings.TrimPrefix(*p.Checksum, "0x"), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid checksum hex %q", ErrInvalid, *p.Checksum)
		}
		computed, err := canonicalCRC(p)
		if err != nil {
			return nil, err
		}
		if computed != uint32(expected) {
			return nil, ErrChecksumMismatch
		}
	}

	return d.frameFrom(p), nil
}

func validate(p Payload) error {
	if p.SchemaVersion == nil {
		return fmt.Errorf("%w: schema_version is required", ErrInvalid)
	}
	if *p.SchemaVersion >= 1 {
		if utf8.RuneCountInString(p.Line1) > MaxLineChars {
			return fmt.Errorf("%w: line1 must be <= %d chars", ErrInvalid, MaxLineChars)
		}
		if utf8.RuneCountInString(p.Line2) > MaxLineChars {
			return fmt.Errorf("%w: line2 must be <= %d chars", ErrInvalid, MaxLineChars)
		}
		if p.Icons != nil && len(*p.Icons) > MaxIcons {
			return fmt.Errorf("%w: icons must be <= %d items", ErrInvalid, MaxIcons)
		}
		if p.BarLabel != nil && utf8.RuneCountInString(*p.BarLabel) > MaxBarLabelChars {
			return fmt.Errorf("%w: bar_label must be <= %d chars", ErrInvalid, MaxBarLabelChars)
		}
	}
	if p.BarMax != nil && *p.BarMax < 1 {
		return fmt.Errorf("%w: bar_max must be >= 1", ErrInvalid)
	}
	if p.BarValue != nil && p.BarMax != nil && *p.BarValue > *p.BarMax {
		return fmt.Errorf("%w: bar_value must be <= bar_max", ErrInvalid)
	}
	if p.PageTimeoutMS != nil && *p.PageTimeoutMS == 0 {
		return fmt.Errorf("%w: page_timeout_ms must be > 0", ErrInvalid)
	}
	return nil
}

func (d *Decoder) frameFrom(p Payload) *DisplayFrame {
	frame := &DisplayFrame{
		Line1:         p.Line1,
		Line2:         p.Line2,
		BacklightOn:   valueOr(p.Backlight, true),
		Blink:         valueOr(p.Blink, false),
		ScrollEnabled: valueOr(p.Scroll, true),
		ScrollSpeed:   millisecondsOr(p.ScrollSpeedMS, d.defaults.ScrollSpeed),
		PageTimeout:   millisecondsOr(p.PageTimeoutMS, d.defaults.PageTimeout),
		Duration:      millisecondsOr(p.DurationMS, 0),
		Clear:         valueOr(p.Clear, false),
		Test:          valueOr(p.Test, false),
		Mode:          parseMode(p.Mode),
		Icons:         parseIcons(p.Icons),
		ConfigReload:  valueOr(p.ConfigReload, false),
	}
	if p.BarLabel != nil {
		frame.BarLabel = *p.BarLabel
	}

	if percent, ok := barPercent(p); ok {
		frame.HasBar = true
		frame.BarPercent = percent
		frame.BarRow = BarRowBottom
		if valueOr(p.BarLine1, false) {
			frame.BarRow = BarRowTop
		}
	}

	switch frame.Mode {
	case ModeBanner:
		frame.Line2 = ""
	case ModeDashboard:
		if frame.HasBar {
			frame.BarRow = BarRowBottom
		}
	}
	return frame
}

// barPercent prefers the explicit bar field, then derives a percentage
// from bar_value/bar_max (max defaults to 100).
func barPercent(p Payload) (int, bool) {
	if p.Bar != nil {
		return min(int(*p.Bar), 100), true
	}
	if p.BarValue != nil {
		maximum := uint32(100)
		if p.BarMax != nil {
			maximum = max(*p.BarMax, 1)
		}
		percent := int(math.Round(float64(*p.BarValue) / float64(maximum) * 100))
		return min(max(percent, 0), 100), true
	}
	return 0, false
}

func valueOr[T any](value *T, fallback T) T {
	if value == nil {
		return fallback
	}
	return *value
}

// maxMilliseconds is the largest millisecond count a time.Duration can
// hold.
const maxMilliseconds = uint64(math.MaxInt64 / int64(time.Millisecond))

// millisecondsOr converts value, saturating at the longest Duration
// rather than wrapping.
func millisecondsOr(value *uint64, fallback time.Duration) time.Duration {
	if value == nil {
		return fallback
	}
	return time.Duration(min(*value, maxMilliseconds)) * time.Millisecond
}
