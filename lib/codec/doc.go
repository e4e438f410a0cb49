// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration for on-disk state.
//
// The serial link speaks JSON because the peer is usually a shell
// script. Local state the daemon persists for itself (the status
// snapshot) is CBOR: compact, typed, and cheap to rewrite on every
// reconnect. Encoding uses Core Deterministic Encoding (RFC 8949 §4.2)
// so the same snapshot always produces identical bytes, and times are
// written as RFC 3339 text with nanoseconds so they survive a round
// trip exactly.
package codec
