// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package negotiation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/clock"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/serial"
)

func testConfig(fake *clock.FakeClock) Config {
	return Config{
		NodeID:       42,
		Capabilities: DefaultCapabilities,
		Preference:   NoPreference,
		Timeout:      DefaultTimeout,
		Clock:        fake,
	}
}

// idleTransport returns a scripted transport that advances the clock
// by 100ms on every empty read, standing in for the port's read
// timeout.
func idleTransport(fake *clock.FakeClock, lines ...string) *serial.Fake {
	transport := serial.NewFake(lines...)
	transport.OnIdle(func() { fake.Advance(100 * time.Millisecond) })
	return transport
}

func TestNegotiateHelloAck(t *testing.T) {
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	transport := idleTransport(fake, `{"type":"hello_ack","chosen_role":"client","peer_caps":{"bits":3}}`)

	outcome := Negotiate(transport, testConfig(fake))

	if outcome.Fallback {
		t.Fatal("Fallback = true, want false")
	}
	if outcome.Role != RoleClient {
		t.Errorf("Role = %v, want client", outcome.Role)
	}
	if outcome.PeerCapabilities != CapTunnel|CapCompression {
		t.Errorf("PeerCapabilities = %d, want 3", outcome.PeerCapabilities)
	}
	if outcome.HasPendingLine {
		t.Errorf("unexpected pending line %q", outcome.PendingLine)
	}
	if outcome.TunnelEnabled() {
		t.Error("TunnelEnabled() = true for a client role")
	}

	sent := transport.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d lines, want exactly one hello", len(sent))
	}
	if !strings.Contains(sent[0], `"type":"hello"`) {
		t.Errorf("hello line %q does not contain the hello tag", sent[0])
	}
}

func TestNegotiateAcceptsAckWithNewerFields(t *testing.T) {
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	transport := idleTransport(fake, `{"type":"hello_ack","chosen_role":"server","peer_caps":{"bits":1},"proto_minor":2}`)

	outcome := Negotiate(transport, testConfig(fake))

	if outcome.Fallback || outcome.HasPendingLine {
		t.Fatalf("outcome = %+v, want a negotiated result with no pending line", outcome)
	}
	if outcome.Role != RoleServer {
		t.Errorf("Role = %v, want server", outcome.Role)
	}
}

func TestNegotiateUnknownRoleDefaultsToServer(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	transport := idleTransport(fake, `{"type":"hello_ack","chosen_role":"observer","peer_caps":{"bits":0}}`)

	outcome := Negotiate(transport, testConfig(fake))
	if outcome.Fallback || outcome.Role != RoleServer {
		t.Errorf("outcome = %+v, want negotiated server", outcome)
	}
	if !outcome.TunnelEnabled() {
		t.Error("TunnelEnabled() = false for a negotiated server")
	}
}

func TestNegotiateUnknownFrameIsPending(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	transport := idleTransport(fake, `{"custom":"payload"}`, `{"type":"hello_ack","chosen_role":"client","peer_caps":{"bits":3}}`)

	outcome := Negotiate(transport, testConfig(fake))

	if !outcome.Fallback {
		t.Fatal("Fallback = false, want true")
	}
	if outcome.Role != RoleServer {
		t.Errorf("Role = %v, want server", outcome.Role)
	}
	if !outcome.HasPendingLine || outcome.PendingLine != `{"custom":"payload"}` {
		t.Errorf("PendingLine = %q (has=%v), want the unknown frame", outcome.PendingLine, outcome.HasPendingLine)
	}
	if transport.Remaining() != 1 {
		t.Errorf("negotiation consumed past the pending line; %d reads remain, want 1", transport.Remaining())
	}
}

func TestNegotiateTimeout(t *testing.T) {
	start := time.Unix(0, 0)
	fake := clock.Fake(start)
	transport := idleTransport(fake)

	outcome := Negotiate(transport, testConfig(fake))

	if !outcome.Fallback || outcome.Role != RoleServer || outcome.HasPendingLine {
		t.Errorf("outcome = %+v, want fallback server with no pending line", outcome)
	}
	if elapsed := fake.Now().Sub(start); elapsed < DefaultTimeout {
		t.Errorf("returned after %v, want at least %v", elapsed, DefaultTimeout)
	}
	if len(transport.Sent()) != 1 {
		t.Errorf("sent %d lines, want 1", len(transport.Sent()))
	}
}

func TestNegotiateLegacyFallback(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	transport := idleTransport(fake, `{"type":"legacy_fallback"}`)

	outcome := Negotiate(transport, testConfig(fake))
	if !outcome.Fallback || outcome.Role != RoleServer || outcome.HasPendingLine {
		t.Errorf("outcome = %+v, want plain fallback", outcome)
	}
}

func TestNegotiateIgnoresPeerHello(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	transport := idleTransport(fake,
		`{"type":"hello","proto_version":1,"node_id":9,"caps":{"bits":1},"pref":"server"}`,
		`{"type":"hello_ack","chosen_role":"server","peer_caps":{"bits":1}}`,
	)

	outcome := Negotiate(transport, testConfig(fake))
	if outcome.Fallback || outcome.Role != RoleServer {
		t.Errorf("outcome = %+v, want negotiated server after a dual hello", outcome)
	}
}

func TestNegotiateWriteFailure(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	transport := idleTransport(fake, `{"type":"hello_ack","chosen_role":"client","peer_caps":{"bits":3}}`)
	transport.FailWrites(errors.New("unplugged"))

	outcome := Negotiate(transport, testConfig(fake))
	if !outcome.Fallback || outcome.Role != RoleServer {
		t.Errorf("outcome = %+v, want fallback", outcome)
	}
	if transport.Remaining() != 1 {
		t.Error("negotiation read from the transport after the hello write failed")
	}
}

func TestNegotiateReadFailure(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	transport := idleTransport(fake)
	transport.PushError(errors.New("io error"))

	outcome := Negotiate(transport, testConfig(fake))
	if !outcome.Fallback || outcome.HasPendingLine {
		t.Errorf("outcome = %+v, want fallback with no pending line", outcome)
	}
}

func TestEncodeHello(t *testing.T) {
	line, err := EncodeFrame(NewHello(7, DefaultCapabilities, PreferClient))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	want := `{"type":"hello","proto_version":1,"node_id":7,"caps":{"bits":3},"pref":"client"}`
	if line != want {
		t.Errorf("EncodeFrame = %s, want %s", line, want)
	}
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    string
		wantErr bool
	}{
		{"hello", `{"type":"hello","proto_version":1,"node_id":1,"caps":{"bits":1},"pref":"auto"}`, "hello", false},
		{"ack", `{"type":"hello_ack","chosen_role":"client","peer_caps":{"bits":3}}`, "hello_ack", false},
		{"legacy", `{"type":"legacy_fallback"}`, "legacy_fallback", false},
		{"unknown type", `{"type":"goodbye"}`, "", true},
		{"untagged", `{"line1":"hello"}`, "", true},
		{"extra field", `{"type":"legacy_fallback","extra":1}`, "legacy_fallback", false},
		{"ack with newer field", `{"type":"hello_ack","chosen_role":"client","peer_caps":{"bits":3},"session":"x"}`, "hello_ack", false},
		{"mistyped field", `{"type":"hello_ack","chosen_role":5,"peer_caps":{"bits":3}}`, "", true},
		{"not json", `INIT`, "", true},
		{"command envelope", `{"channel":"command","schema_version":1,"message":{"type":"request"},"crc32":0}`, "", true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			frame, err := DecodeFrame(test.line)
			if test.wantErr {
				if !errors.Is(err, ErrNotNegotiation) {
					t.Fatalf("DecodeFrame error = %v, want ErrNotNegotiation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeFrame: %v", err)
			}
			if frame.frameType() != test.want {
				t.Errorf("frame type = %q, want %q", frame.frameType(), test.want)
			}
		})
	}
}

func TestDecideRole(t *testing.T) {
	clientHello := NewHello(1, CapTunnel, PreferClient)
	autoHello := NewHello(1, CapTunnel, NoPreference)
	if role := DecideRole(NoPreference, clientHello); role != RoleClient {
		t.Errorf("DecideRole(peer prefers client) = %v, want client", role)
	}
	if role := DecideRole(NoPreference, autoHello); role != RoleServer {
		t.Errorf("DecideRole(no preferences) = %v, want server", role)
	}
	if role := DecideRole(PreferServer, autoHello); role != RoleClient {
		t.Errorf("DecideRole(local prefers server) = %v, want client", role)
	}
}

func TestParsePreference(t *testing.T) {
	for input, want := range map[string]RolePreference{
		"server": PreferServer, "prefer_client": PreferClient, "auto": NoPreference, "": NoPreference,
	} {
		got, err := ParsePreference(input)
		if err != nil || got != want {
			t.Errorf("ParsePreference(%q) = %v, %v; want %v", input, got, err, want)
		}
	}
	if _, err := ParsePreference("leader"); err == nil {
		t.Error("ParsePreference(leader) succeeded, want error")
	}
}

func TestNodeIdentity(t *testing.T) {
	first := DeriveNodeID("pi-kvm", "abc123")
	if first != DeriveNodeID("pi-kvm", "abc123") {
		t.Fatal("DeriveNodeID is not stable")
	}
	if first == DeriveNodeID("pi-kvm", "def456") {
		t.Error("different machine ids produced the same node id")
	}
	if first == 0 {
		t.Error("DeriveNodeID returned the reserved zero id")
	}

	directory := t.TempDir()
	path := filepath.Join(directory, "machine-id")
	if err := os.WriteFile(path, []byte("abc123\n"), 0o644); err != nil {
		t.Fatalf("writing machine id: %v", err)
	}
	previous := machineIDPath
	machineIDPath = path
	t.Cleanup(func() { machineIDPath = previous })

	hostname, _ := os.Hostname()
	if got, want := NodeIdentity(), DeriveNodeID(hostname, "abc123"); got != want {
		t.Errorf("NodeIdentity() = %d, want %d", got, want)
	}
}
