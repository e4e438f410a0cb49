// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Wire limits.
const (
	SchemaVersion       = 1
	Channel             = "command"
	MaxFrameBytes       = 4 * 1024
	MaxCommandChars     = 512
	MaxScratchPathBytes = 256
	MaxChunkBytes       = 2 * 1024
	DefaultCacheDir     = "/run/serial_lcd_cache"

	// ReadChunkBytes is the largest chunk whose frame always fits in
	// MaxFrameBytes, with every byte written as "255,".
	ReadChunkBytes = 960
)

var (
	// ErrMalformed wraps every decode and validation failure.
	ErrMalformed = errors.New("malformed command frame")

	// ErrChecksumMismatch reports an envelope whose crc32 does not
	// match its message.
	ErrChecksumMismatch = errors.New("command frame checksum mismatch")
)

// Stream identifies which output pipe a chunk came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Message is one command-protocol message. The concrete types are
// Request, Chunk, Exit, Ack, Busy, Error and Heartbeat.
type Message interface {
	messageType() string
}

// Request asks the daemon to run Command.
type Request struct {
	RequestID uint32
	Command   string
	// ScratchPath, when set, is the working directory for the command.
	// It must live under the daemon's cache directory.
	ScratchPath string
}

// Chunk carries up to MaxChunkBytes of command output. Seq counts from
// zero independently for each stream.
type Chunk struct {
	RequestID uint32
	Stream    Stream
	Seq       uint32
	Data      []byte
}

// Exit is the last message of every accepted or rejected request.
// Code is -1 when the exit status is unavailable.
type Exit struct {
	RequestID uint32
	Code      int32
}

// Ack confirms a request was accepted and its command started.
type Ack struct {
	RequestID uint32
}

// Busy rejects a request because another command is still running.
type Busy struct {
	RequestID uint32
}

// Error reports why a request failed. RequestID is nil when the failure
// cannot be tied to a request.
type Error struct {
	RequestID *uint32
	Message   string
}

// Heartbeat is a liveness probe; it carries no command semantics.
type Heartbeat struct {
	RequestID *uint32
}

func (Request) messageType() string   { return "request" }
func (Chunk) messageType() string     { return "chunk" }
func (Exit) messageType() string      { return "exit" }
func (Ack) messageType() string       { return "ack" }
func (Busy) messageType() string      { return "busy" }
func (Error) messageType() string     { return "error" }
func (Heartbeat) messageType() string { return "heartbeat" }

// TypeName returns the wire tag of message.
func TypeName(message Message) string { return message.messageType() }

// RequestIDOf returns the request id a message refers to, if any.
func RequestIDOf(message Message) (uint32, bool) {
	switch typed := message.(type) {
	case Request:
		return typed.RequestID, true
	case Chunk:
		return typed.RequestID, true
	case Exit:
		return typed.RequestID, true
	case Ack:
		return typed.RequestID, true
	case Busy:
		return typed.RequestID, true
	case Error:
		if typed.RequestID != nil {
			return *typed.RequestID, true
		}
	case Heartbeat:
		if typed.RequestID != nil {
			return *typed.RequestID, true
		}
	}
	return 0, false
}

// ID returns a pointer to id, for the optional RequestID fields.
func ID(id uint32) *uint32 { return &id }

// The wire structs list fields in wire order and keep absent optional
// fields as null: the checksum covers this exact encoding.

type wireRequest struct {
	Type        string  `json:"type"`
	RequestID   uint32  `json:"request_id"`
	Command     string  `json:"cmd"`
	ScratchPath *string `json:"scratch_path"`
}

type wireChunk struct {
	Type      string    `json:"type"`
	RequestID uint32    `json:"request_id"`
	Stream    Stream    `json:"stream"`
	Seq       uint32    `json:"seq"`
	Data      byteArray `json:"data"`
}

// byteArray is chunk data as a JSON array of byte values.
type byteArray []byte

func (b byteArray) MarshalJSON() ([]byte, error) {
	encoded := make([]byte, 0, 2+4*len(b))
	encoded = append(encoded, '[')
	for index, value := range b {
		if index > 0 {
			encoded = append(encoded, ',')
		}
		encoded = strconv.AppendUint(encoded, uint64(value), 10)
	}
	return append(encoded, ']'), nil
}

func (b *byteArray) UnmarshalJSON(data []byte) error {
	var values []uint16
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("data must be an array of bytes: %w", err)
	}
	decoded := make([]byte, len(values))
	for index, value := range values {
		if value > 0xff {
			return fmt.Errorf("data[%d] = %d is not a byte", index, value)
		}
		decoded[index] = byte(value)
	}
	*b = decoded
	return nil
}

type wireExit struct {
	Type      string `json:"type"`
	RequestID uint32 `json:"request_id"`
	Code      int32  `json:"code"`
}

type wireRequestOnly struct {
	Type      string `json:"type"`
	RequestID uint32 `json:"request_id"`
}

type wireError struct {
	Type      string  `json:"type"`
	RequestID *uint32 `json:"request_id"`
	Message   string  `json:"message"`
}

type wireHeartbeat struct {
	Type      string  `json:"type"`
	RequestID *uint32 `json:"request_id"`
}

type envelope struct {
	Channel       string          `json:"channel"`
	SchemaVersion uint8           `json:"schema_version"`
	Message       json.RawMessage `json:"message"`
	CRC32         uint32          `json:"crc32"`
}

// Codec encodes and decodes command frames. CacheDir bounds where a
// request's scratch path may point.
type Codec struct {
	CacheDir string
}

// Encode validates message and wraps it in a checksummed envelope.
func (c Codec) Encode(message Message) (string, error) {
	if err := c.validate(message); err != nil {
		return "", err
	}

	body, err := encodeMessage(message)
	if err != nil {
		return "", err
	}
	frame, err := marshalCompact(envelope{
		Channel:       Channel,
		SchemaVersion: SchemaVersion,
		Message:       body,
		CRC32:         crc32.ChecksumIEEE(body),
	})
	if err != nil {
		return "", fmt.Errorf("encoding command envelope: %w", err)
	}
	if len(frame) > MaxFrameBytes {
		return "", fmt.Errorf("%w: frame is %d bytes, limit %d", ErrMalformed, len(frame), MaxFrameBytes)
	}
	return string(frame), nil
}

// encodeMessage returns the canonical encoding of message, the bytes
// the envelope checksum is computed over on both sides.
func encodeMessage(message Message) ([]byte, error) {
	var wire any
	switch typed := message.(type) {
	case Request:
		request := wireRequest{Type: typed.messageType(), RequestID: typed.RequestID, Command: typed.Command}
		if typed.ScratchPath != "" {
			request.ScratchPath = &typed.ScratchPath
		}
		wire = request
	case Chunk:
		wire = wireChunk{Type: typed.messageType(), RequestID: typed.RequestID, Stream: typed.Stream, Seq: typed.Seq, Data: typed.Data}
	case Exit:
		wire = wireExit{Type: typed.messageType(), RequestID: typed.RequestID, Code: typed.Code}
	case Ack:
		wire = wireRequestOnly{Type: typed.messageType(), RequestID: typed.RequestID}
	case Busy:
		wire = wireRequestOnly{Type: typed.messageType(), RequestID: typed.RequestID}
	case Error:
		wire = wireError{Type: typed.messageType(), RequestID: typed.RequestID, Message: typed.Message}
	case Heartbeat:
		wire = wireHeartbeat{Type: typed.messageType(), RequestID: typed.RequestID}
	default:
		return nil, fmt.Errorf("%w: unsupported message type %T", ErrMalformed, message)
	}
	body, err := marshalCompact(wire)
	if err != nil {
		return nil, fmt.Errorf("encoding command message: %w", err)
	}
	return body, nil
}

// marshalCompact encodes value without HTML escaping, so "<", ">" and
// "&" in commands and messages stay literal as the peer writes them.
func marshalCompact(value any) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buffer.Bytes(), []byte("\n")), nil
}

// Decode parses and validates one command frame.
func (c Codec) Decode(line string) (Message, error) {
	if len(line) > MaxFrameBytes {
		return nil, fmt.Errorf("%w: frame is %d bytes, limit %d", ErrMalformed, len(line), MaxFrameBytes)
	}

	var frame envelope
	if err := decodeStrict([]byte(line), &frame); err != nil {
		return nil, err
	}
	if frame.Channel != Channel {
		return nil, fmt.Errorf("%w: unsupported channel %q", ErrMalformed, frame.Channel)
	}
	if frame.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema_version=%d expected=%d",
			ErrMalformed, frame.SchemaVersion, SchemaVersion)
	}
	if len(frame.Message) == 0 {
		return nil, fmt.Errorf("%w: missing message", ErrMalformed)
	}
	message, err := decodeMessage(frame.Message)
	if err != nil {
		return nil, err
	}
	// The checksum covers the canonical encoding, not the bytes as
	// received, so whitespace or key order on the wire does not matter.
	canonical, err := encodeMessage(message)
	if err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(canonical) != frame.CRC32 {
		return nil, ErrChecksumMismatch
	}
	if err := c.validate(message); err != nil {
		return nil, err
	}
	return message, nil
}

func decodeMessage(body []byte) (Message, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("%w: message: %v", ErrMalformed, err)
	}

	switch probe.Type {
	case "request":
		var wire wireRequest
		if err := decodeStrict(body, &wire); err != nil {
			return nil, err
		}
		request := Request{RequestID: wire.RequestID, Command: wire.Command}
		if wire.ScratchPath != nil {
			request.ScratchPath = *wire.ScratchPath
		}
		return request, nil
	case "chunk":
		var wire wireChunk
		if err := decodeStrict(body, &wire); err != nil {
			return nil, err
		}
		if wire.Stream != Stdout && wire.Stream != Stderr {
			return nil, fmt.Errorf("%w: unknown stream %q", ErrMalformed, wire.Stream)
		}
		return Chunk{RequestID: wire.RequestID, Stream: wire.Stream, Seq: wire.Seq, Data: wire.Data}, nil
	case "exit":
		var wire wireExit
		if err := decodeStrict(body, &wire); err != nil {
			return nil, err
		}
		return Exit{RequestID: wire.RequestID, Code: wire.Code}, nil
	case "ack", "busy":
		var wire wireRequestOnly
		if err := decodeStrict(body, &wire); err != nil {
			return nil, err
		}
		if probe.Type == "ack" {
			return Ack{RequestID: wire.RequestID}, nil
		}
		return Busy{RequestID: wire.RequestID}, nil
	case "error":
		var wire wireError
		if err := decodeStrict(body, &wire); err != nil {
			return nil, err
		}
		return Error{RequestID: wire.RequestID, Message: wire.Message}, nil
	case "heartbeat":
		var wire wireHeartbeat
		if err := decodeStrict(body, &wire); err != nil {
			return nil, err
		}
		return Heartbeat{RequestID: wire.RequestID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrMalformed, probe.Type)
	}
}

func decodeStrict(data []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func (c Codec) validate(message Message) error {
	switch typed := message.(type) {
	case Request:
		if strings.TrimSpace(typed.Command) == "" {
			return fmt.Errorf("%w: command must not be empty", ErrMalformed)
		}
		if utf8.RuneCountInString(typed.Command) > MaxCommandChars {
			return fmt.Errorf("%w: command length must be <= %d chars", ErrMalformed, MaxCommandChars)
		}
		if typed.ScratchPath != "" {
			return c.validateScratchPath(typed.ScratchPath)
		}
	case Chunk:
		if len(typed.Data) > MaxChunkBytes {
			return fmt.Errorf("%w: chunk exceeds %d bytes", ErrMalformed, MaxChunkBytes)
		}
	case Error:
		if strings.TrimSpace(typed.Message) == "" {
			return fmt.Errorf("%w: error message must not be empty", ErrMalformed)
		}
	}
	return nil
}

func (c Codec) validateScratchPath(path string) error {
	if len(path) > MaxScratchPathBytes {
		return fmt.Errorf("%w: scratch_path must be <= %d bytes", ErrMalformed, MaxScratchPathBytes)
	}
	root := c.CacheDir
	if root == "" {
		root = DefaultCacheDir
	}
	root = filepath.Clean(root)
	cleaned := filepath.Clean(path)
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return fmt.Errorf("%w: scratch_path must live under %s: %s", ErrMalformed, root, path)
	}
	return nil
}

// IsCommandLine reports whether line claims the command channel. It is
// a cheap routing check; Decode does the real validation.
func IsCommandLine(line string) bool {
	var probe struct {
		Channel string `json:"channel"`
	}
	if !strings.Contains(line, `"channel"`) {
		return false
	}
	if err := json.Unmarshal([]byte(line), &probe); err != nil {
		return false
	}
	return probe.Channel == Channel
}

// ProbeRequestID digs the request id out of a line that failed to
// decode, so the rejection can still be tied to the peer's request.
// It trusts nothing else in the line.
func ProbeRequestID(line string) (uint32, bool) {
	var probe struct {
		Message struct {
			RequestID *uint32 `json:"request_id"`
		} `json:"message"`
	}
	if err := json.Unmarshal([]byte(line), &probe); err != nil || probe.Message.RequestID == nil {
		return 0, false
	}
	return *probe.Message.RequestID, true
}
