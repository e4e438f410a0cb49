// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package payload

import (
	"strings"
	"time"
)

// Fallback timing applied when neither the payload nor the loaded
// configuration specifies a value.
const (
	DefaultScrollSpeed = 250 * time.Millisecond
	DefaultPageTimeout = 4000 * time.Millisecond
)

// Defaults are the configuration-derived values a payload inherits when
// it omits the corresponding field.
type Defaults struct {
	ScrollSpeed time.Duration
	PageTimeout time.Duration
}

// DefaultDefaults returns the built-in timing defaults.
func DefaultDefaults() Defaults {
	return Defaults{ScrollSpeed: DefaultScrollSpeed, PageTimeout: DefaultPageTimeout}
}

// Mode selects the page layout.
type Mode int

const (
	ModeNormal Mode = iota
	// ModeDashboard pins the bar graph to the bottom row.
	ModeDashboard
	// ModeBanner shows line1 only.
	ModeBanner
)

func (m Mode) String() string {
	switch m {
	case ModeDashboard:
		return "dashboard"
	case ModeBanner:
		return "banner"
	default:
		return "normal"
	}
}

func parseMode(value *string) Mode {
	if value == nil {
		return ModeNormal
	}
	switch *value {
	case "dashboard":
		return ModeDashboard
	case "banner":
		return ModeBanner
	default:
		return ModeNormal
	}
}

// Icon is one of the small glyphs a frame can request.
type Icon string

const (
	IconBattery Icon = "battery"
	IconArrow   Icon = "arrow"
	IconHeart   Icon = "heart"
	IconWifi    Icon = "wifi"
)

// parseIcons keeps the recognized names and silently drops the rest.
func parseIcons(names *[]string) []Icon {
	if names == nil {
		return nil
	}
	var icons []Icon
	for _, name := range *names {
		switch icon := Icon(strings.ToLower(name)); icon {
		case IconBattery, IconArrow, IconHeart, IconWifi:
			icons = append(icons, icon)
		}
	}
	return icons
}

// Bar rows.
const (
	BarRowTop    = 0
	BarRowBottom = 1
)

// DisplayFrame is a validated payload with every default applied. It
// is what the frame state engine queues and the display renders.
type DisplayFrame struct {
	Line1 string
	Line2 string

	BacklightOn bool
	Blink       bool

	// HasBar is true when the frame carries a bar graph. BarPercent is
	// 0-100 and BarRow is BarRowTop or BarRowBottom.
	HasBar     bool
	BarPercent int
	BarLabel   string
	BarRow     int

	ScrollEnabled bool
	ScrollSpeed   time.Duration

	// Duration is how long the frame stays queued. Zero means it never
	// expires on its own.
	Duration time.Duration

	PageTimeout time.Duration

	Clear        bool
	Test         bool
	Mode         Mode
	Icons        []Icon
	ConfigReload bool
}
