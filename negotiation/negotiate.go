// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package negotiation

import (
	"errors"
	"log/slog"
	"time"

	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/clock"
)

// DefaultTimeout bounds the handshake, measured from sending Hello.
const DefaultTimeout = 500 * time.Millisecond

// LineIO is the slice of the serial transport negotiation needs.
type LineIO interface {
	SendLine(text string) error
	ReadLine() (string, error)
}

// Config is the local side of the handshake.
type Config struct {
	NodeID       uint32
	Capabilities Capabilities
	Preference   RolePreference
	Timeout      time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
}

// Outcome is the result of one handshake.
type Outcome struct {
	Role Role

	// Fallback is true when no HelloAck arrived: the peer asked for
	// legacy mode, sent something that is not a negotiation frame, or
	// stayed silent until the timeout.
	Fallback bool

	// PendingLine holds the first non-negotiation line received. It is
	// a display or command frame that arrived before the peer spoke the
	// handshake, and the caller must dispatch it rather than drop it.
	PendingLine    string
	HasPendingLine bool

	// PeerCapabilities is taken from HelloAck; zero in fallback mode.
	PeerCapabilities Capabilities
}

// TunnelEnabled reports whether the command tunnel should run on this
// connection. Only a negotiated server accepts commands; fallback mode
// is display-only.
func (o Outcome) TunnelEnabled() bool {
	return !o.Fallback && o.Role == RoleServer
}

func fallbackOutcome() Outcome {
	return Outcome{Role: RoleServer, Fallback: true}
}

// Negotiate runs the handshake over transport. It sends exactly one
// Hello and then reads until a decision is reached or config.Timeout
// elapses. Negotiate never fails: every problem degrades to a fallback
// outcome, and transport errors are left for the caller's next read to
// surface.
func Negotiate(transport LineIO, config Config) Outcome {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hello, err := EncodeFrame(NewHello(config.NodeID, config.Capabilities, config.Preference))
	if err != nil {
		logger.Warn("encoding hello failed, using fallback", "error", err)
		return fallbackOutcome()
	}
	if err := transport.SendLine(hello); err != nil {
		logger.Warn("sending hello failed, using fallback", "error", err)
		return fallbackOutcome()
	}

	deadline := config.Clock.Now().Add(config.Timeout)
	for config.Clock.Now().Before(deadline) {
		line, err := transport.ReadLine()
		if err != nil {
			logger.Warn("read failed during negotiation, using fallback", "error", err)
			return fallbackOutcome()
		}
		if line == "" {
			continue
		}

		frame, err := DecodeFrame(line)
		if err != nil {
			if !errors.Is(err, ErrNotNegotiation) {
				logger.Debug("unexpected negotiation decode error", "error", err)
			}
			outcome := fallbackOutcome()
			outcome.PendingLine = line
			outcome.HasPendingLine = true
			logger.Info("peer sent a non-negotiation frame, continuing in fallback mode")
			return outcome
		}

		switch typed := frame.(type) {
		case HelloAck:
			logger.Info("negotiation complete",
				"role", typed.Role().String(),
				"peer_caps", uint32(typed.PeerCapabilities()),
			)
			return Outcome{
				Role:             typed.Role(),
				PeerCapabilities: typed.PeerCapabilities(),
			}
		case LegacyFallback:
			logger.Info("peer requested legacy mode")
			return fallbackOutcome()
		case Hello:
			// Both sides opened at once; keep waiting for the ack.
			continue
		}
	}

	logger.Info("negotiation timed out, continuing in fallback mode", "timeout", config.Timeout)
	return fallbackOutcome()
}

// DecideRole picks the role to hand back in a HelloAck when this node
// answers a peer's Hello. A peer that prefers to be a client gets the
// client role; everything else is told to serve, which is what a daemon
// attached to a display expects.
func DecideRole(local RolePreference, remote Hello) Role {
	switch remote.Preference() {
	case PreferClient:
		return RoleClient
	case PreferServer:
		return RoleServer
	}
	if local == PreferServer {
		return RoleClient
	}
	return RoleServer
}
