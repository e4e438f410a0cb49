// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// MaxDecompressedBytes caps the size of an unwrapped payload.
const MaxDecompressedBytes = 1 << 20

// Codec names the compression applied inside an envelope.
type Codec string

const (
	CodecNone Codec = "none"
	CodecLZ4  Codec = "lz4"
	CodecZstd Codec = "zstd"
)

// ParseCodec accepts codec names case-insensitively.
func ParseCodec(name string) (Codec, error) {
	switch codec := Codec(strings.ToLower(name)); codec {
	case CodecNone, CodecLZ4, CodecZstd:
		return codec, nil
	default:
		return "", fmt.Errorf("%w: unsupported compression codec %q", ErrInvalid, name)
	}
}

// Envelope wraps a compressed payload.
type Envelope struct {
	Type          string `json:"type"`
	SchemaVersion uint8  `json:"schema_version"`
	Codec         string `json:"codec"`
	OriginalLen   uint32 `json:"original_len"`
	Data          []byte `json:"data"`
}

// zstdEncoder and zstdDecoder are shared; both are safe for concurrent
// use. The decoder refuses to produce more than MaxDecompressedBytes.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("payload: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedBytes))
	if err != nil {
		panic("payload: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress wraps raw in an envelope using codec and returns the
// envelope as a single JSON line.
func Compress(raw string, codec Codec) (string, error) {
	var data []byte
	switch codec {
	case CodecNone:
		data = []byte(raw)
	case CodecLZ4:
		var buffer bytes.Buffer
		writer := lz4.NewWriter(&buffer)
		if _, err := writer.Write([]byte(raw)); err != nil {
			return "", fmt.Errorf("lz4 compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return "", fmt.Errorf("lz4 compress: %w", err)
		}
		data = buffer.Bytes()
	case CodecZstd:
		data = zstdEncoder.EncodeAll([]byte(raw), nil)
	default:
		return "", fmt.Errorf("unsupported compression codec %q", codec)
	}

	encoded, err := json.Marshal(Envelope{
		Type:          "compressed",
		SchemaVersion: SchemaVersion,
		Codec:         string(codec),
		OriginalLen:   uint32(len(raw)),
		Data:          data,
	})
	if err != nil {
		return "", fmt.Errorf("encoding envelope: %w", err)
	}
	return string(encoded), nil
}

// Normalize returns raw unchanged unless it is a compression envelope,
// in which case it returns the decompressed payload.
func Normalize(raw string) (string, error) {
	var probe struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return "", fmt.Errorf("%w: json: %v", ErrInvalid, err)
	}
	if probe.Type == nil || *probe.Type != "compressed" {
		return raw, nil
	}

	var envelope Envelope
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&envelope); err != nil {
		return "", fmt.Errorf("%w: compressed envelope: %v", ErrInvalid, err)
	}
	if envelope.SchemaVersion != SchemaVersion {
		return "", fmt.Errorf("%w: unsupported compressed schema_version=%d expected=%d",
			ErrInvalid, envelope.SchemaVersion, SchemaVersion)
	}
	codec, err := ParseCodec(envelope.Codec)
	if err != nil {
		return "", err
	}

	decompressed, err := decompress(envelope.Data, codec)
	if err != nil {
		return "", err
	}
	if len(decompressed) != int(envelope.OriginalLen) {
		return "", fmt.Errorf("%w: compressed original_len=%d but decoded=%d",
			ErrInvalid, envelope.OriginalLen, len(decompressed))
	}
	if !utf8.Valid(decompressed) {
		return "", fmt.Errorf("%w: decompressed payload is not utf-8", ErrInvalid)
	}
	return string(decompressed), nil
}

func decompress(data []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecNone:
		if len(data) > MaxDecompressedBytes {
			return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrInvalid, MaxDecompressedBytes)
		}
		return data, nil
	case CodecLZ4:
		return readLimited(lz4.NewReader(bytes.NewReader(data)))
	case CodecZstd:
		output, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd decompress: %v", ErrInvalid, err)
		}
		if len(output) > MaxDecompressedBytes {
			return nil, fmt.Errorf("%w: decompressed payload exceeds %d bytes", ErrInvalid, MaxDecompressedBytes)
		}
		return output, nil
	default:
		return nil, fmt.Errorf("%w: unsupported compression codec %q", ErrInvalid, codec)
	}
}

func readLimited(reader io.Reader) ([]byte, error) {
	output, err := io.ReadAll(io.LimitReader(reader, MaxDecompressedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: lz4 decompress: %v", ErrInvalid, err)
	}
	if len(output) > MaxDecompressedBytes {
		return nil, fmt.Errorf("%w: decompressed payload exceeds %d bytes", ErrInvalid, MaxDecompressedBytes)
	}
	return output, nil
}
