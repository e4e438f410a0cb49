// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package negotiation

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the handshake version advertised in Hello.
const ProtocolVersion = 1

// Role is the part this daemon plays on a connection once negotiation
// completes. Only a Server runs the command tunnel.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// ParseRole maps the wire spelling to a Role. Anything other than
// "client" is treated as server.
func ParseRole(value string) Role {
	if value == "client" {
		return RoleClient
	}
	return RoleServer
}

// RolePreference is the local configuration offered in Hello.
type RolePreference int

const (
	NoPreference RolePreference = iota
	PreferServer
	PreferClient
)

// String returns the wire spelling used in the "pref" field.
func (p RolePreference) String() string {
	switch p {
	case PreferServer:
		return "server"
	case PreferClient:
		return "client"
	default:
		return "auto"
	}
}

// ParsePreference accepts the wire and configuration spellings.
func ParsePreference(value string) (RolePreference, error) {
	switch value {
	case "server", "prefer_server":
		return PreferServer, nil
	case "client", "prefer_client":
		return PreferClient, nil
	case "", "auto", "none", "no_preference":
		return NoPreference, nil
	default:
		return NoPreference, fmt.Errorf("unknown role preference %q, expected server|client|auto", value)
	}
}

// Capabilities is the bit set of optional features a node supports.
type Capabilities uint32

const (
	CapTunnel      Capabilities = 1 << 0
	CapCompression Capabilities = 1 << 1
)

// DefaultCapabilities is what this daemon advertises.
const DefaultCapabilities = CapTunnel | CapCompression

// Has reports whether every bit in want is set.
func (c Capabilities) Has(want Capabilities) bool { return c&want == want }

type capsField struct {
	Bits uint32 `json:"bits"`
}

// Frame is one negotiation control message. The concrete types are
// Hello, HelloAck and LegacyFallback.
type Frame interface {
	frameType() string
}

// Hello opens the handshake.
type Hello struct {
	ProtoVersion uint8     `json:"proto_version"`
	NodeID       uint32    `json:"node_id"`
	Caps         capsField `json:"caps"`
	Pref         string    `json:"pref"`
}

// HelloAck answers a Hello with the role the receiver should take.
type HelloAck struct {
	ChosenRole string    `json:"chosen_role"`
	PeerCaps   capsField `json:"peer_caps"`
}

// LegacyFallback tells the receiver to skip negotiation and run in
// frame-only mode.
type LegacyFallback struct{}

func (Hello) frameType() string          { return "hello" }
func (HelloAck) frameType() string       { return "hello_ack" }
func (LegacyFallback) frameType() string { return "legacy_fallback" }

// NewHello builds the Hello this node sends.
func NewHello(nodeID uint32, capabilities Capabilities, preference RolePreference) Hello {
	return Hello{
		ProtoVersion: ProtocolVersion,
		NodeID:       nodeID,
		Caps:         capsField{Bits: uint32(capabilities)},
		Pref:         preference.String(),
	}
}

// NewHelloAck builds an acknowledgement choosing role for the peer.
func NewHelloAck(role Role, capabilities Capabilities) HelloAck {
	return HelloAck{
		ChosenRole: role.String(),
		PeerCaps:   capsField{Bits: uint32(capabilities)},
	}
}

// Capabilities returns the capability bits a Hello advertises.
func (h Hello) Capabilities() Capabilities { return Capabilities(h.Caps.Bits) }

// Preference returns the parsed preference, NoPreference when unknown.
func (h Hello) Preference() RolePreference {
	preference, _ := ParsePreference(h.Pref)
	return preference
}

// Role returns the chosen role, defaulting to server.
func (a HelloAck) Role() Role { return ParseRole(a.ChosenRole) }

// PeerCapabilities returns the capability bits the acknowledging peer
// supports.
func (a HelloAck) PeerCapabilities() Capabilities { return Capabilities(a.PeerCaps.Bits) }

// ErrNotNegotiation is returned by DecodeFrame for input that is not a
// negotiation frame at all.
var ErrNotNegotiation = errors.New("not a negotiation frame")

// EncodeFrame serializes frame as a single JSON line.
func EncodeFrame(frame Frame) (string, error) {
	var payload any
	switch typed := frame.(type) {
	case Hello:
		payload = struct {
			Type string `json:"type"`
			Hello
		}{typed.frameType(), typed}
	case HelloAck:
		payload = struct {
			Type string `json:"type"`
			HelloAck
		}{typed.frameType(), typed}
	case LegacyFallback:
		payload = struct {
			Type string `json:"type"`
		}{typed.frameType()}
	default:
		return "", fmt.Errorf("encoding negotiation frame: unsupported type %T", frame)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding negotiation frame: %w", err)
	}
	return string(data), nil
}

// DecodeFrame parses line as one of the negotiation frames. The "type"
// tag selects the frame; unknown tags, missing tags, mistyped fields and
// malformed JSON all fail with an error wrapping ErrNotNegotiation.
func DecodeFrame(line string) (Frame, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(line), &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotNegotiation, err)
	}

	switch probe.Type {
	case "hello":
		var frame struct {
			Type string `json:"type"`
			Hello
		}
		if err := decodeBody(line, &frame); err != nil {
			return nil, err
		}
		return frame.Hello, nil
	case "hello_ack":
		var frame struct {
			Type string `json:"type"`
			HelloAck
		}
		if err := decodeBody(line, &frame); err != nil {
			return nil, err
		}
		return frame.HelloAck, nil
	case "legacy_fallback":
		var frame struct {
			Type string `json:"type"`
		}
		if err := decodeBody(line, &frame); err != nil {
			return nil, err
		}
		return LegacyFallback{}, nil
	default:
		return nil, fmt.Errorf("%w: type %q", ErrNotNegotiation, probe.Type)
	}
}

// decodeBody fills target from line. The type tag already picked the
// frame kind, so fields added by newer peers are ignored; known fields
// with the wrong JSON type still fail.
func decodeBody(line string, target any) error {
	if err := json.Unmarshal([]byte(line), target); err != nil {
		return fmt.Errorf("%w: %v", ErrNotNegotiation, err)
	}
	return nil
}

// IsNegotiationLine reports whether line decodes as a negotiation
// frame. The event loop uses it to route handshake frames that arrive
// after negotiation finished away from the display path.
func IsNegotiationLine(line string) bool {
	_, err := DecodeFrame(line)
	return err == nil
}
