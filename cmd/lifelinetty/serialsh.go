// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/daemon"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/config"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/process"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/negotiation"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/serial"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/serialsh"
)

// runSerialShell runs one serialsh session and exits with the last
// remote exit code.
func runSerialShell(ctx context.Context, settings *config.Config, logger *slog.Logger) error {
	serialOptions, err := daemon.SerialOptions(settings)
	if err != nil {
		return err
	}
	port, err := serial.Open(settings.Device, serialOptions)
	if err != nil {
		return err
	}
	defer port.Close()

	shell, err := serialsh.New(port, serialsh.Config{
		Input:            os.Stdin,
		Stdout:           os.Stdout,
		Stderr:           os.Stderr,
		ShowPrompt:       term.IsTerminal(int(os.Stdin.Fd())),
		NodeID:           negotiation.NodeIdentity(),
		HandshakeTimeout: settings.NegotiationTimeout(),
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	code, err := shell.Run(ctx)
	if err != nil {
		return err
	}
	if code != 0 {
		return &process.ExitError{Code: code}
	}
	return nil
}
