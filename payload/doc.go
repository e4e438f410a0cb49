// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package payload decodes display frames received over the serial link.
//
// A display payload is one JSON object per line:
//
//	{"schema_version":1,"line1":"CPU 42%","line2":"up 3d","bar":42,"duration_ms":5000}
//
// Decoding is strict. Unknown keys are rejected, schema_version must be
// present, and the text fields are bounded so that a frame always fits
// the largest supported character display. An optional checksum field
// carries the hexadecimal CRC-32 of the payload's canonical JSON
// encoding with the checksum itself set to null.
//
// Senders on slow links may wrap a payload in a compression envelope:
//
//	{"type":"compressed","schema_version":1,"codec":"zstd","original_len":312,"data":"KLUv/..."}
//
// where data is the base64-encoded compressed payload. Supported codecs
// are none, lz4 (frame format) and zstd. Decompressed output is capped
// at one MiB and must match original_len exactly.
package payload
