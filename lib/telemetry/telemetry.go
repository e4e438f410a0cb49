// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry appends structured JSON-lines records about link
// health to files in the cache directory, separate from the daemon's
// main log so they can be collected or tailed on their own.
//
// Two logs exist: serial_backoff.log records every reconnect phase and
// protocol_errors.log records every frame the daemon could not accept.
// Each file is capped: once it grows past its limit it is truncated and
// starts over, which keeps a daemon with a noisy peer from filling a
// small SD card.
package telemetry

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// File names inside the cache directory.
const (
	BackoffFileName  = "serial_backoff.log"
	ProtocolFileName = "protocol_errors.log"
)

// DefaultMaxBytes caps each log file.
const DefaultMaxBytes = 256 * 1024

// cappedFile is an append-only file that truncates itself once it would
// grow past maxBytes.
type cappedFile struct {
	mutex    sync.Mutex
	file     *os.File
	size     int64
	maxBytes int64
}

func openCapped(path string, maxBytes int64) (*cappedFile, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &cappedFile{file: file, size: info.Size(), maxBytes: maxBytes}, nil
}

func (c *cappedFile) Write(data []byte) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.size+int64(len(data)) > c.maxBytes {
		if err := c.file.Truncate(0); err != nil {
			return 0, fmt.Errorf("truncating telemetry log: %w", err)
		}
		c.size = 0
	}
	written, err := c.file.Write(data)
	c.size += int64(written)
	return written, err
}

func (c *cappedFile) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.file.Close()
}

// Recorder writes the two telemetry logs.
type Recorder struct {
	backoffFile  *cappedFile
	protocolFile *cappedFile
	backoff      *slog.Logger
	protocol     *slog.Logger
}

// Options configures Open.
type Options struct {
	// MaxBytes overrides DefaultMaxBytes for both files.
	MaxBytes int64

	// Now overrides the record timestamp source. Tests use it to get
	// stable output.
	Now func() time.Time
}

// Open creates the cache directory if needed and opens both logs.
func Open(cacheDirectory string, options Options) (*Recorder, error) {
	if options.MaxBytes <= 0 {
		options.MaxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(cacheDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	backoffFile, err := openCapped(filepath.Join(cacheDirectory, BackoffFileName), options.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("opening backoff log: %w", err)
	}
	protocolFile, err := openCapped(filepath.Join(cacheDirectory, ProtocolFileName), options.MaxBytes)
	if err != nil {
		backoffFile.Close()
		return nil, fmt.Errorf("opening protocol error log: %w", err)
	}
	return &Recorder{
		backoffFile:  backoffFile,
		protocolFile: protocolFile,
		backoff:      slog.New(newHandler(backoffFile, options.Now)),
		protocol:     slog.New(newHandler(protocolFile, options.Now)),
	}, nil
}

func newHandler(output io.Writer, now func() time.Time) slog.Handler {
	handlerOptions := &slog.HandlerOptions{Level: slog.LevelDebug}
	if now != nil {
		handlerOptions.ReplaceAttr = func(groups []string, attribute slog.Attr) slog.Attr {
			if len(groups) == 0 && attribute.Key == slog.TimeKey {
				return slog.Time(slog.TimeKey, now())
			}
			return attribute
		}
	}
	return slog.NewJSONHandler(output, handlerOptions)
}

// BackoffPhase records one step of the reconnect cycle: "failure" when
// a connect attempt or the live link fails, "retry" when an attempt
// starts, "connected" on success.
func (r *Recorder) BackoffPhase(phase, device string, attempt uint64, delay time.Duration, failureKind string) {
	if r == nil {
		return
	}
	r.backoff.Info(phase,
		"device", device,
		"attempt", attempt,
		"delay_ms", delay.Milliseconds(),
		"failure_kind", failureKind,
	)
}

// ProtocolError records a rejected inbound line. Only a prefix of the
// raw line is kept.
func (r *Recorder) ProtocolError(kind string, err error, raw string) {
	if r == nil {
		return
	}
	const maxExcerpt = 120
	if len(raw) > maxExcerpt {
		raw = raw[:maxExcerpt]
	}
	r.protocol.Warn(kind, "error", err.Error(), "excerpt", raw)
}

// Close closes both files.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return errors.Join(r.backoffFile.Close(), r.protocolFile.Close())
}
