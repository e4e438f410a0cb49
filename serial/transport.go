// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// LineTransport is a duplex, newline-delimited channel to the peer.
type LineTransport interface {
	// SendLine writes text followed by a newline.
	SendLine(text string) error

	// ReadLine returns the next non-blank line without its "\r" or
	// "\n" terminator. It returns "" and a nil error when no complete
	// line arrived within the transport's read timeout.
	ReadLine() (string, error)

	// Close releases the underlying device.
	Close() error
}

// ErrClosed is returned by operations on a transport after Close.
var ErrClosed = errors.New("serial: transport closed")

// Stream adapts an io.ReadWriteCloser to LineTransport. The reader
// must return (0, nil) or a timeout error when no data is available
// rather than blocking forever, or the event loop stalls.
type Stream struct {
	reader *LineReader

	writeMutex sync.Mutex
	writer     io.Writer
	closer     io.Closer
}

// NewStream wraps device as a LineTransport.
func NewStream(device io.ReadWriteCloser) *Stream {
	return &Stream{
		reader: NewLineReader(device),
		writer: device,
		closer: device,
	}
}

// SendLine writes text and a trailing newline in a single write.
func (s *Stream) SendLine(text string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := io.WriteString(s.writer, text+"\n"); err != nil {
		return fmt.Errorf("writing line: %w", err)
	}
	return nil
}

// ReadLine returns the next framed line.
func (s *Stream) ReadLine() (string, error) {
	return s.reader.ReadLine()
}

// Close closes the wrapped device.
func (s *Stream) Close() error {
	return s.closer.Close()
}
