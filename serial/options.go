// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package serial

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// FlowControl selects the UART flow control mode.
type FlowControl string

const (
	FlowNone     FlowControl = "none"
	FlowSoftware FlowControl = "software"
	FlowHardware FlowControl = "hardware"
)

// Parity selects the UART parity bit.
type Parity string

const (
	ParityNone Parity = "none"
	ParityOdd  Parity = "odd"
	ParityEven Parity = "even"
)

// DTRBehavior controls the DTR line when the port opens. Some USB
// adapters reset the attached microcontroller on a DTR edge, so the
// default leaves the line as the driver set it.
type DTRBehavior string

const (
	DTRPreserve DTRBehavior = "preserve"
	DTRAssert   DTRBehavior = "on"
	DTRDeassert DTRBehavior = "off"
)

// Options is the link configuration applied every time a port opens.
type Options struct {
	Baud        int
	Timeout     time.Duration
	FlowControl FlowControl
	Parity      Parity
	StopBits    int
	DTR         DTRBehavior
}

// DefaultOptions returns 9600 8N1 with no flow control and a 500ms
// read timeout.
func DefaultOptions() Options {
	return Options{
		Baud:        9600,
		Timeout:     500 * time.Millisecond,
		FlowControl: FlowNone,
		Parity:      ParityNone,
		StopBits:    1,
		DTR:         DTRPreserve,
	}
}

// ErrInvalidOptions wraps every option validation failure.
var ErrInvalidOptions = errors.New("serial: invalid options")

// ParseFlowControl accepts the spellings used in configuration files.
func ParseFlowControl(value string) (FlowControl, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "none":
		return FlowNone, nil
	case "software", "xonxoff", "xon", "xoff":
		return FlowSoftware, nil
	case "hardware", "rtscts":
		return FlowHardware, nil
	default:
		return "", fmt.Errorf("%w: flow control %q, expected none|software|hardware", ErrInvalidOptions, value)
	}
}

// ParseParity accepts none, odd or even.
func ParseParity(value string) (Parity, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "none":
		return ParityNone, nil
	case "odd":
		return ParityOdd, nil
	case "even":
		return ParityEven, nil
	default:
		return "", fmt.Errorf("%w: parity %q, expected none|odd|even", ErrInvalidOptions, value)
	}
}

// ParseDTR accepts the DTR spellings, including the auto/high/low
// aliases.
func ParseDTR(value string) (DTRBehavior, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "preserve", "auto":
		return DTRPreserve, nil
	case "on", "assert", "high":
		return DTRAssert, nil
	case "off", "deassert", "low":
		return DTRDeassert, nil
	default:
		return "", fmt.Errorf("%w: dtr %q, expected auto|on|off", ErrInvalidOptions, value)
	}
}

// Validate checks the options without touching a device.
func (o Options) Validate() error {
	if o.Baud <= 0 {
		return fmt.Errorf("%w: baud %d must be positive", ErrInvalidOptions, o.Baud)
	}
	if o.StopBits != 1 && o.StopBits != 2 {
		return fmt.Errorf("%w: stop bits %d, expected 1 or 2", ErrInvalidOptions, o.StopBits)
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("%w: read timeout must be positive", ErrInvalidOptions)
	}
	if _, err := ParseFlowControl(string(o.FlowControl)); err != nil {
		return err
	}
	if _, err := ParseParity(string(o.Parity)); err != nil {
		return err
	}
	if _, err := ParseDTR(string(o.DTR)); err != nil {
		return err
	}
	return nil
}
