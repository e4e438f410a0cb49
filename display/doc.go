// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package display defines the character display the daemon drives and
// the text layout helpers shared by every implementation.
//
// A Display is a two-line character grid a fixed number of columns
// wide. The daemon never writes escape sequences or glyph codes: it
// composes plain lines with [Compose], windows long lines with
// [ViewLine], and hands the result to WriteLines. Implementations decide
// how those lines reach the operator. [Terminal] draws a bordered box
// into any writer; [Recorder] keeps every write in memory for tests.
package display
