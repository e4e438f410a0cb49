// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statusfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var testTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleSnapshot() Snapshot {
	return Snapshot{
		PID:         4242,
		Device:      "/dev/ttyUSB0",
		Connected:   true,
		Role:        "server",
		Tunnel:      true,
		LastFailure: "disconnected",
		Stats: Stats{
			FramesAccepted: 10,
			Duplicates:     3,
			Reconnects:     1,
		},
		UpdatedAt: testTime,
	}
}

func TestWriteReadRoundtrip(t *testing.T) {
	path := Path(filepath.Join(t.TempDir(), "nested"))
	original := sampleSnapshot()

	if err := Write(path, original); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temporary file left behind: %v", err)
	}

	loaded, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !loaded.UpdatedAt.Equal(original.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", loaded.UpdatedAt, original.UpdatedAt)
	}
	loaded.UpdatedAt = original.UpdatedAt
	if loaded != original {
		t.Errorf("Read = %+v, want %+v", loaded, original)
	}
}

func TestWriteReplaces(t *testing.T) {
	path := Path(t.TempDir())
	first := sampleSnapshot()
	if err := Write(path, first); err != nil {
		t.Fatalf("Write: %v", err)
	}
	second := first
	second.Connected = false
	second.Stopped = true
	if err := Write(path, second); err != nil {
		t.Fatalf("Write: %v", err)
	}
	loaded, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if loaded.Connected || !loaded.Stopped {
		t.Errorf("Read = %+v, want the second snapshot", loaded)
	}
}

func TestReadMissing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), FileName))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Read error = %v, want os.ErrNotExist", err)
	}
}

func TestReadCorrupt(t *testing.T) {
	path := Path(t.TempDir())
	if err := os.WriteFile(path, []byte{0xff, 0xfe}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); err == nil {
		t.Error("Read of a corrupt file succeeded")
	}
}

func TestCheck(t *testing.T) {
	path := Path(t.TempDir())

	if _, ok, err := Check(path, time.Minute, testTime); ok || err != nil {
		t.Errorf("Check on missing file = (%v, %v), want (false, nil)", ok, err)
	}

	if err := Write(path, sampleSnapshot()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if snapshot, ok, err := Check(path, time.Minute, testTime.Add(30*time.Second)); !ok || err != nil {
		t.Errorf("Check on fresh file = (%v, %v), want (true, nil)", ok, err)
	} else if snapshot.PID != 4242 {
		t.Errorf("PID = %d, want 4242", snapshot.PID)
	}
	if _, ok, err := Check(path, time.Minute, testTime.Add(2*time.Minute)); ok || err != nil {
		t.Errorf("Check on stale file = (%v, %v), want (false, nil)", ok, err)
	}
}
