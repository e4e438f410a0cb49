// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import "fmt"

// CommandBridge decodes command lines arriving from the peer.
type CommandBridge struct {
	codec         Codec
	lastRequestID uint32
	hasRequestID  bool
}

// NewCommandBridge returns a bridge that accepts scratch paths under
// cacheDir.
func NewCommandBridge(cacheDir string) *CommandBridge {
	return &CommandBridge{codec: Codec{CacheDir: cacheDir}}
}

// IngestLine decodes raw. A malformed frame is always an error; command
// frames are never dropped silently.
func (b *CommandBridge) IngestLine(raw string) (Message, error) {
	message, err := b.codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding command line: %w", err)
	}
	if id, ok := RequestIDOf(message); ok {
		b.lastRequestID = id
		b.hasRequestID = true
	}
	return message, nil
}

// LastRequestID returns the most recent request id seen on any decoded
// message.
func (b *CommandBridge) LastRequestID() (uint32, bool) {
	return b.lastRequestID, b.hasRequestID
}

// Encode wraps message for sending with the bridge's codec.
func (b *CommandBridge) Encode(message Message) (string, error) {
	return b.codec.Encode(message)
}
