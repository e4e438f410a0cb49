// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/daemon"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/codec"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/config"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/process"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/statusfile"
)

// statusMaxAge is how old a snapshot may be before the daemon that
// wrote it is presumed gone.
const statusMaxAge = 3 * daemon.StatusInterval

// runStatus prints the daemon's status snapshot. It exits 1 when no
// daemon is running.
func runStatus(settings *config.Config, diagnose bool, output io.Writer, now time.Time) error {
	path := statusfile.Path(settings.CacheDir)

	if diagnose {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading status file: %w", err)
		}
		text, err := codec.Diagnose(data)
		if err != nil {
			return fmt.Errorf("decoding status file: %w", err)
		}
		fmt.Fprintln(output, text)
		return nil
	}

	snapshot, fresh, err := statusfile.Check(path, statusMaxAge, now)
	if err != nil {
		return err
	}
	if !fresh {
		fmt.Fprintf(output, "lifelinetty is not running (no recent status in %s)\n", path)
		return &process.ExitError{Code: 1}
	}

	state := "running"
	if snapshot.Stopped {
		state = "stopped"
	}
	link := "down"
	if snapshot.Connected {
		link = "up"
	}

	writer := tabwriter.NewWriter(output, 0, 0, 2, ' ', 0)
	fmt.Fprintf(writer, "state:\t%s (pid %d)\n", state, snapshot.PID)
	fmt.Fprintf(writer, "device:\t%s\n", snapshot.Device)
	fmt.Fprintf(writer, "link:\t%s\n", link)
	if snapshot.Role != "" {
		fmt.Fprintf(writer, "role:\t%s (fallback %t, tunnel %t)\n", snapshot.Role, snapshot.Fallback, snapshot.Tunnel)
	}
	if snapshot.LastFailure != "" {
		fmt.Fprintf(writer, "last failure:\t%s\n", snapshot.LastFailure)
	}
	stats := snapshot.Stats
	fmt.Fprintf(writer, "frames:\t%d accepted, %d rejected, %d checksum failures, %d duplicates\n",
		stats.FramesAccepted, stats.FramesRejected, stats.ChecksumFailures, stats.Duplicates)
	fmt.Fprintf(writer, "reconnects:\t%d\n", stats.Reconnects)
	fmt.Fprintf(writer, "commands:\t%d started, %d rejected\n", stats.CommandsStarted, stats.CommandsRejected)
	fmt.Fprintf(writer, "updated:\t%s (%s ago)\n", snapshot.UpdatedAt.Format(time.RFC3339), now.Sub(snapshot.UpdatedAt).Round(time.Second))
	return writer.Flush()
}
