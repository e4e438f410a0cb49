// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package serial

import (
	"errors"
	"fmt"
)

// Port is unavailable on this platform.
type Port struct{}

// Open always fails outside Linux; the termios layout the daemon
// relies on is Linux specific.
func Open(device string, options Options) (*Port, error) {
	return nil, fmt.Errorf("opening %s: %w", device, errors.ErrUnsupported)
}

func (p *Port) Device() string { return "" }
func (p *Port) SendLine(text string) error { return errors.ErrUnsupported }
func (p *Port) ReadLine() (string, error) { return "", errors.ErrUnsupported }
func (p *Port) Read(buffer []byte) (int, error) { return 0, errors.ErrUnsupported }
func (p *Port) Close() error { return nil }
