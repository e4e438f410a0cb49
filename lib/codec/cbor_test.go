// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type sampleRecord struct {
	Device    string    `cbor:"device"`
	Attempts  uint64    `cbor:"attempts"`
	Note      string    `cbor:"note,omitempty"`
	UpdatedAt time.Time `cbor:"updated_at"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleRecord{
		Device:    "/dev/ttyUSB0",
		Attempts:  7,
		UpdatedAt: time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC),
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Device != original.Device || decoded.Attempts != original.Attempts {
		t.Errorf("roundtrip = %+v, want %+v", decoded, original)
	}
	if !decoded.UpdatedAt.Equal(original.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v (nanoseconds must survive)", decoded.UpdatedAt, original.UpdatedAt)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	first, err := Marshal(map[string]int{"zeta": 1, "alpha": 2, "mid": 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 20 {
		again, err := Marshal(map[string]int{"mid": 3, "alpha": 2, "zeta": 1})
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("Marshal is not deterministic:\n%x\n%x", first, again)
		}
	}
}

func TestOmitemptyRespected(t *testing.T) {
	data, err := Marshal(sampleRecord{Device: "x"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	diagnostic, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if strings.Contains(diagnostic, `"note"`) {
		t.Errorf("empty omitempty field encoded: %s", diagnostic)
	}
	if !strings.Contains(diagnostic, `"device": "x"`) {
		t.Errorf("Diagnose = %s, want it to show the device", diagnostic)
	}
}

func TestUnmarshalAnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"role": "server"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	asMap, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if asMap["role"] != "server" {
		t.Errorf("role = %v, want server", asMap["role"])
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var decoded sampleRecord
	if err := Unmarshal([]byte{0xff, 0x00}, &decoded); err == nil {
		t.Error("Unmarshal of garbage succeeded")
	}
}
