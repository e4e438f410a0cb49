// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"errors"
	"fmt"

	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/config"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/negotiation"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/payload"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/serial"
)

// SerialOptions converts the serial settings into port options.
func SerialOptions(settings *config.Config) (serial.Options, error) {
	flowControl, flowErr := serial.ParseFlowControl(settings.FlowControl)
	parity, parityErr := serial.ParseParity(settings.Parity)
	dtr, dtrErr := serial.ParseDTR(settings.DTROnOpen)
	if err := errors.Join(flowErr, parityErr, dtrErr); err != nil {
		return serial.Options{}, err
	}
	options := serial.Options{
		Baud:        settings.Baud,
		Timeout:     settings.SerialTimeout(),
		FlowControl: flowControl,
		Parity:      parity,
		StopBits:    settings.StopBits,
		DTR:         dtr,
	}
	if err := options.Validate(); err != nil {
		return serial.Options{}, err
	}
	return options, nil
}

// PayloadDefaults returns the timing a payload inherits from settings.
func PayloadDefaults(settings *config.Config) payload.Defaults {
	return payload.Defaults{
		ScrollSpeed: settings.ScrollSpeed(),
		PageTimeout: settings.PageTimeout(),
	}
}

// NegotiationConfig builds the handshake configuration. A zero
// settings.Negotiation.NodeID means "derive it from this host", which
// is what fallbackNodeID carries.
func NegotiationConfig(settings *config.Config, fallbackNodeID uint32) (negotiation.Config, error) {
	preference, err := negotiation.ParsePreference(settings.Negotiation.Preference)
	if err != nil {
		return negotiation.Config{}, fmt.Errorf("negotiation.preference: %w", err)
	}
	nodeID := settings.Negotiation.NodeID
	if nodeID == 0 {
		nodeID = fallbackNodeID
	}
	return negotiation.Config{
		NodeID:       nodeID,
		Capabilities: negotiation.DefaultCapabilities,
		Preference:   preference,
		Timeout:      settings.NegotiationTimeout(),
	}, nil
}

// serialSettingsChanged reports whether a reload must reopen the port.
func serialSettingsChanged(before, after *config.Config) bool {
	return before.Device != after.Device ||
		before.Baud != after.Baud ||
		before.FlowControl != after.FlowControl ||
		before.Parity != after.Parity ||
		before.StopBits != after.StopBits ||
		before.DTROnOpen != after.DTROnOpen ||
		before.SerialTimeoutMS != after.SerialTimeoutMS
}
