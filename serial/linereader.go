// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// MaxLineBytes bounds a single frame on the wire. It matches the
// command tunnel's frame limit, well above the 512-byte display frame
// limit enforced later by the frame state engine.
const MaxLineBytes = 4096

// ErrLineTooLong reports that the peer sent more than MaxLineBytes
// without a newline. The oversized frame is discarded and reading
// resumes at the next line; the link itself is still healthy.
var ErrLineTooLong = errors.New("serial: line exceeds maximum frame size")

// LineReader turns a timeout-bounded byte stream into lines.
type LineReader struct {
	source     io.Reader
	pending    []byte
	chunk      []byte
	discarding bool
}

// NewLineReader returns a LineReader over source.
func NewLineReader(source io.Reader) *LineReader {
	return &LineReader{
		source: source,
		chunk:  make([]byte, 256),
	}
}

// ReadLine returns the next non-blank line. Bytes of an incomplete
// line are kept until a later call completes it. A read that times
// out with no complete line yields "" and a nil error; io.EOF and
// other read failures are returned wrapped.
func (r *LineReader) ReadLine() (string, error) {
	for {
		if line, ok, err := r.extract(); ok || err != nil {
			return line, err
		}

		count, err := r.source.Read(r.chunk)
		if count > 0 {
			r.pending = append(r.pending, r.chunk[:count]...)
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return "", nil
			}
			return "", fmt.Errorf("reading serial line: %w", err)
		}
		if count == 0 {
			return "", nil
		}
	}
}

// extract pulls one complete line out of the pending buffer. It
// reports ok=false when more input is needed.
func (r *LineReader) extract() (string, bool, error) {
	for {
		index := bytes.IndexByte(r.pending, '\n')
		if index < 0 {
			if len(r.pending) > MaxLineBytes {
				r.pending = r.pending[:0]
				if !r.discarding {
					r.discarding = true
					return "", false, ErrLineTooLong
				}
			}
			return "", false, nil
		}

		raw := r.pending[:index]
		r.pending = r.pending[index+1:]

		if r.discarding {
			r.discarding = false
			continue
		}
		if len(raw) > MaxLineBytes {
			return "", false, ErrLineTooLong
		}
		line := strings.TrimRight(string(raw), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		return line, true, nil
	}
}
