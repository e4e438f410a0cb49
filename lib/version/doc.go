// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the lifelinetty
// binary. The variables are injected at link time:
//
//	go build -ldflags "-X github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// The same string is logged at startup and printed by --version so a
// report from the field can be matched to a build.
package version
