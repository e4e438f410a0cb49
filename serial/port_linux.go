// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package serial

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// Port is an open TTY device configured for raw 8-bit line I/O.
//
// Reads return after at most the configured timeout (termios VMIN=0,
// VTIME=timeout), which is what lets ReadLine report "no data" instead
// of blocking the event loop.
type Port struct {
	device string
	fd     int
	reader *LineReader

	writeMutex sync.Mutex
	closeOnce  sync.Once
	closed     atomic.Bool
}

var baudRates = map[int]uint32{
	1200:    unix.B1200,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

// Open opens device and applies options. The returned Port must be
// closed by the caller.
func Open(device string, options Options) (*Port, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	rate, ok := baudRates[options.Baud]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported baud rate %d", ErrInvalidOptions, options.Baud)
	}

	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", device, err)
	}

	if err := configure(fd, rate, options); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("configuring %s: %w", device, err)
	}

	port := &Port{device: device, fd: fd}
	port.reader = NewLineReader(port)
	return port, nil
}

func configure(fd int, rate uint32, options Options) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("reading termios: %w", err)
	}

	// Raw mode: no echo, no canonical processing, no signal chars, no
	// CR/NL translation.
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN

	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | rate
	termios.Ispeed = rate
	termios.Ospeed = rate

	switch options.Parity {
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		termios.Cflag |= unix.PARENB
	}
	if options.StopBits == 2 {
		termios.Cflag |= unix.CSTOPB
	}
	switch options.FlowControl {
	case FlowHardware:
		termios.Cflag |= unix.CRTSCTS
	case FlowSoftware:
		termios.Iflag |= unix.IXON | unix.IXOFF
	}

	// VTIME is in tenths of a second.
	tenths := options.Timeout / (100 * time.Millisecond)
	if tenths < 1 {
		tenths = 1
	}
	if tenths > 255 {
		tenths = 255
	}
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = uint8(tenths)

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("applying termios: %w", err)
	}

	switch options.DTR {
	case DTRAssert:
		if err := unix.IoctlSetPointerInt(fd, unix.TIOCMBIS, unix.TIOCM_DTR); err != nil {
			return fmt.Errorf("asserting DTR: %w", err)
		}
	case DTRDeassert:
		if err := unix.IoctlSetPointerInt(fd, unix.TIOCMBIC, unix.TIOCM_DTR); err != nil {
			return fmt.Errorf("deasserting DTR: %w", err)
		}
	}

	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		return fmt.Errorf("flushing buffers: %w", err)
	}
	return nil
}

// Device returns the path the port was opened from.
func (p *Port) Device() string { return p.device }

// Read implements io.Reader over the raw descriptor. A read that times
// out returns (0, nil).
func (p *Port) Read(buffer []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	for {
		count, err := unix.Read(p.fd, buffer)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return count, nil
	}
}

// SendLine writes text and a newline, retrying short writes.
func (p *Port) SendLine(text string) error {
	p.writeMutex.Lock()
	defer p.writeMutex.Unlock()
	if p.closed.Load() {
		return ErrClosed
	}

	data := []byte(text + "\n")
	for len(data) > 0 {
		written, err := unix.Write(p.fd, data)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("writing to %s: %w", p.device, err)
		}
		data = data[written:]
	}
	return nil
}

// ReadLine returns the next framed line or "" on timeout.
func (p *Port) ReadLine() (string, error) {
	return p.reader.ReadLine()
}

// Close releases the descriptor. Calling Close more than once is safe.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		err = unix.Close(p.fd)
	})
	return err
}
