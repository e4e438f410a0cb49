// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statusfile persists the daemon's status snapshot so the
// status subcommand (or any other local tool) can report on a running
// daemon without talking to it.
//
// The snapshot is CBOR, written atomically (temporary file, fsync,
// rename) so readers never see a partial write. The daemon rewrites it
// on every connection change and on exit; readers use [Check] to ignore
// snapshots left behind by a daemon that stopped long ago.
package statusfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/codec"
)

// FileName is the snapshot's name inside the cache directory.
const FileName = "lifelinetty.status"

// Stats counts what the event loop has done since it started.
type Stats struct {
	FramesAccepted   uint64 `cbor:"frames_accepted"`
	FramesRejected   uint64 `cbor:"frames_rejected"`
	ChecksumFailures uint64 `cbor:"checksum_failures"`
	Duplicates       uint64 `cbor:"duplicates"`
	Reconnects       uint64 `cbor:"reconnects"`
	CommandsStarted  uint64 `cbor:"commands_started"`
	CommandsRejected uint64 `cbor:"commands_rejected"`
}

// Snapshot is the persisted daemon state.
type Snapshot struct {
	PID    int    `cbor:"pid"`
	Device string `cbor:"device"`

	Connected bool `cbor:"connected"`

	// Role and Fallback describe the last completed negotiation. Role
	// is empty before the first connection.
	Role     string `cbor:"role,omitempty"`
	Fallback bool   `cbor:"fallback"`
	Tunnel   bool   `cbor:"tunnel"`

	// LastFailure is the serial failure kind of the most recent
	// disconnect, empty if there has been none.
	LastFailure string `cbor:"last_failure,omitempty"`

	Stats Stats `cbor:"stats"`

	// Stopped is set by the final write on shutdown.
	Stopped bool `cbor:"stopped"`

	UpdatedAt time.Time `cbor:"updated_at"`
}

// Path returns the snapshot path inside cacheDirectory.
func Path(cacheDirectory string) string {
	return filepath.Join(cacheDirectory, FileName)
}

// Write atomically replaces the snapshot at path. The parent directory
// is created if needed; the file is mode 0644.
func Write(path string, snapshot Snapshot) error {
	data, err := codec.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshaling status snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating status directory: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating temporary status file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary status file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary status file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary status file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming status file into place: %w", err)
	}
	return nil
}

// Read loads the snapshot at path. A missing file yields an error
// wrapping os.ErrNotExist.
func Read(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snapshot Snapshot
	if err := codec.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("parsing status file %s: %w", path, err)
	}
	return snapshot, nil
}

// Check reads the snapshot and reports whether it was updated within
// maxAge of now. A missing or stale file returns false with no error.
func Check(path string, maxAge time.Duration, now time.Time) (Snapshot, bool, error) {
	snapshot, err := Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	if now.Sub(snapshot.UpdatedAt) > maxAge {
		return Snapshot{}, false, nil
	}
	return snapshot, true, nil
}
