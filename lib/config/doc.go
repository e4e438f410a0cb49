// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads daemon settings.
//
// Settings live in one file whose format follows its extension: TOML
// (.toml, the default), YAML (.yaml, .yml) or JSON with comments
// (.json, .jsonc). [Load] reads the file named by LIFELINETTY_CONFIG,
// falling back to ~/.serial_lcd/config.toml, which is created with
// default values the first time it is missing. [LoadFile] reads an
// explicit path and never creates anything.
//
// Every format decodes into the same [Config]. Unknown keys are
// rejected so a typo fails loudly instead of silently keeping a
// default. After decoding, ${HOME} and ${VAR:-default} patterns in path
// fields are expanded.
//
// Command-line flags override file values; that merge happens in the
// binary, not here. This package depends on no other packages of the
// module.
package config
