// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// newLogger builds the process logger. A terminal gets
// slog.TextHandler for people; anything else (a log file, journald, a
// pipe) gets slog.JSONHandler.
func newLogger(level string, output io.Writer, terminal bool) (*slog.Logger, error) {
	var slogLevel slog.Level
	switch normalized := strings.ToLower(strings.TrimSpace(level)); normalized {
	case "trace":
		slogLevel = slog.LevelDebug
	case "":
		slogLevel = slog.LevelInfo
	default:
		if err := slogLevel.UnmarshalText([]byte(normalized)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	var handler slog.Handler
	handlerOptions := &slog.HandlerOptions{Level: slogLevel}
	if terminal {
		handler = slog.NewTextHandler(output, handlerOptions)
	} else {
		handler = slog.NewJSONHandler(output, handlerOptions)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

// openLogOutput returns stderr, or path opened for appending.
func openLogOutput(path string) (io.Writer, func() error, error) {
	if path == "" {
		return os.Stderr, func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return file, file.Close, nil
}
