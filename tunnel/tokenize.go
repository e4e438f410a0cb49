// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"errors"
	"strings"
)

var (
	ErrEmptyCommand      = errors.New("empty command")
	ErrUnterminatedQuote = errors.New("unterminated quote")
	ErrTrailingEscape    = errors.New("trailing backslash")
)

// Tokenize splits command with shell-like rules: tokens are separated
// by whitespace, single and double quotes group text and are removed,
// and a backslash takes the next character literally (inside quotes
// too). Nothing is expanded; there are no variables, globs or
// pipelines.
func Tokenize(command string) ([]string, error) {
	var (
		tokens  []string
		current strings.Builder
		inToken bool
		quote   rune
		escaped bool
	)

	for _, character := range command {
		switch {
		case escaped:
			current.WriteRune(character)
			escaped = false
		case character == '\\':
			escaped = true
			inToken = true
		case quote != 0:
			if character == quote {
				quote = 0
			} else {
				current.WriteRune(character)
			}
		case character == '\'' || character == '"':
			quote = character
			inToken = true
		case character == ' ' || character == '\t' || character == '\n' || character == '\r':
			if inToken {
				tokens = append(tokens, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(character)
			inToken = true
		}
	}

	if escaped {
		return nil, ErrTrailingEscape
	}
	if quote != 0 {
		return nil, ErrUnterminatedQuote
	}
	if inToken {
		tokens = append(tokens, current.String())
	}
	if len(tokens) == 0 {
		return nil, ErrEmptyCommand
	}
	return tokens, nil
}
