// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"errors"
	"time"

	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/display"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/negotiation"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/payload"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/render"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/tunnel"
)

// dispatch routes one inbound line.
func (d *Daemon) dispatch(now time.Time, line string) {
	switch {
	case tunnel.IsCommandLine(line):
		d.handleCommandLine(now, line)
	case negotiation.IsNegotiationLine(line):
		d.handleNegotiationLine(now, line)
	default:
		d.handleDisplayLine(now, line)
	}
}

// handleNegotiationLine deals with handshake frames after the
// connection's own negotiation finished. A peer that starts later (a
// serialsh session, a restarted host script) opens with Hello; it gets
// a HelloAck and this side takes the opposite role. A late HelloAck is
// adopted as if it had arrived in time. LegacyFallback drops back to
// display-only mode.
func (d *Daemon) handleNegotiationLine(now time.Time, line string) {
	frame, err := negotiation.DecodeFrame(line)
	if err != nil {
		return
	}
	switch typed := frame.(type) {
	case negotiation.Hello:
		peerRole := negotiation.DecideRole(d.negotiation.Preference, typed)
		ack, err := negotiation.EncodeFrame(negotiation.NewHelloAck(peerRole, d.negotiation.Capabilities))
		if err != nil {
			d.logger.Warn("encoding hello_ack failed", "error", err)
			return
		}
		if !d.send(now, ack) {
			return
		}
		localRole := negotiation.RoleServer
		if peerRole == negotiation.RoleServer {
			localRole = negotiation.RoleClient
		}
		d.outcome = negotiation.Outcome{Role: localRole, PeerCapabilities: typed.Capabilities()}
	case negotiation.HelloAck:
		d.outcome = negotiation.Outcome{Role: typed.Role(), PeerCapabilities: typed.PeerCapabilities()}
	case negotiation.LegacyFallback:
		d.outcome = negotiation.Outcome{Role: negotiation.RoleServer, Fallback: true}
	}
	d.logger.Info("late negotiation",
		"frame", frameName(frame),
		"role", d.outcome.Role.String(),
		"fallback", d.outcome.Fallback,
		"tunnel", d.outcome.TunnelEnabled(),
	)
	d.writeStatus(now, false)
}

func frameName(frame negotiation.Frame) string {
	switch frame.(type) {
	case negotiation.Hello:
		return "hello"
	case negotiation.HelloAck:
		return "hello_ack"
	default:
		return "legacy_fallback"
	}
}

// handleCommandLine decodes a command frame and hands it to the
// executor. Ack and Busy go straight back to the peer; a rejected
// request's Error and Exit travel through the executor queue so each
// is sent exactly once.
func (d *Daemon) handleCommandLine(now time.Time, line string) {
	message, err := d.bridge.IngestLine(line)
	if err != nil {
		d.telemetry.ProtocolError("command_invalid", err, line)
		d.logger.Warn("command frame rejected", "error", err)
		d.stats.CommandsRejected++
		failure := tunnel.Error{Message: err.Error()}
		requestID, known := tunnel.ProbeRequestID(line)
		if known {
			failure.RequestID = tunnel.ID(requestID)
		}
		d.sendCommand(now, failure)
		if known {
			d.sendCommand(now, tunnel.Exit{RequestID: requestID, Code: 1})
		}
		return
	}

	switch typed := message.(type) {
	case tunnel.Heartbeat:
		// Link probes are echoed unchanged.
		d.sendCommand(now, typed)
		return
	case tunnel.Request:
		if !d.outcome.TunnelEnabled() {
			d.stats.CommandsRejected++
			d.logger.Info("command refused, tunnel disabled on this connection",
				"request_id", typed.RequestID,
				"fallback", d.outcome.Fallback,
				"role", d.outcome.Role.String(),
			)
			d.sendCommand(now, tunnel.Error{RequestID: tunnel.ID(typed.RequestID), Message: "command tunnel disabled"})
			d.sendCommand(now, tunnel.Exit{RequestID: typed.RequestID, Code: 1})
			return
		}
	}

	reply, ok := d.executor.HandleEvent(message)
	if !ok {
		d.logger.Debug("ignoring command message", "type", tunnel.TypeName(message))
		return
	}
	switch reply.(type) {
	case tunnel.Ack:
		d.stats.CommandsStarted++
		d.sendCommand(now, reply)
	case tunnel.Busy:
		d.sendCommand(now, reply)
	case tunnel.Error:
		d.stats.CommandsRejected++
	}
}

// flushTunnel drains the executor queue. With the link down the
// messages have nowhere to go, but draining still retires the session.
func (d *Daemon) flushTunnel(now time.Time) {
	for {
		message, ok := d.executor.NextOutgoing()
		if !ok {
			return
		}
		if d.transport == nil {
			d.logger.Debug("dropping command output, link down", "type", tunnel.TypeName(message))
			continue
		}
		d.sendCommand(now, message)
	}
}

// sendCommand encodes and writes one command message.
func (d *Daemon) sendCommand(now time.Time, message tunnel.Message) {
	line, err := d.bridge.Encode(message)
	if err != nil {
		d.logger.Warn("encoding command message failed", "type", tunnel.TypeName(message), "error", err)
		return
	}
	d.send(now, line)
}

// send writes line and drops the link on failure. It reports whether
// the write succeeded.
func (d *Daemon) send(now time.Time, line string) bool {
	if d.transport == nil {
		return false
	}
	if err := d.transport.SendLine(line); err != nil {
		d.dropLink(now, err)
		return false
	}
	return true
}

// handleDisplayLine feeds the page queue and reacts to the result.
func (d *Daemon) handleDisplayLine(now time.Time, line string) {
	frame, err := d.pages.Ingest(line)
	if err != nil {
		d.stats.FramesRejected++
		kind := "display_invalid"
		reason := "bad frame"
		switch {
		case errors.Is(err, render.ErrTooLarge):
			kind, reason = "display_too_large", "too large"
		case errors.Is(err, payload.ErrChecksumMismatch):
			d.stats.ChecksumFailures++
			kind, reason = "display_checksum", "bad checksum"
		}
		d.telemetry.ProtocolError(kind, err, line)
		d.logger.Warn("display frame rejected", "kind", kind, "error", err)
		d.showOverlay(display.ParseErrorOverlay(reason))
		d.screen.holdOverlay(now)
		return
	}
	if frame == nil {
		d.stats.Duplicates++
		fingerprint, _ := d.pages.Fingerprint()
		d.logger.Debug("duplicate frame ignored", "crc", fingerprint)
		return
	}

	d.stats.FramesAccepted++
	if frame.ConfigReload {
		d.applyReload(now)
		return
	}
	d.screen.lastFrameAt = now
	d.showFrame(now, frame)
}

// applyReload loads fresh settings and applies what can change at
// runtime: payload defaults, backoff bounds, the allow-list, and (by
// reopening the link) serial parameters.
func (d *Daemon) applyReload(now time.Time) {
	if d.reload == nil {
		d.logger.Info("config reload requested but no loader is configured")
		return
	}
	d.logger.Info("config reload requested")
	fresh, err := d.reload()
	if err == nil {
		err = fresh.Validate()
	}
	if err != nil {
		d.logger.Warn("config reload failed", "error", err)
		return
	}

	previous := d.settings
	d.settings = fresh
	d.pages.SetDefaults(PayloadDefaults(fresh))
	d.backoff.Update(fresh.BackoffInitial(), fresh.BackoffMax())
	d.executor.SetAllowList(fresh.CommandAllowlist)
	if negotiationConfig, err := NegotiationConfig(fresh, d.negotiation.NodeID); err == nil {
		negotiationConfig.Clock = d.clock
		negotiationConfig.Logger = d.logger
		d.negotiation = negotiationConfig
	}

	if serialSettingsChanged(previous, fresh) {
		d.logger.Info("config reload changed serial settings, reopening link",
			"device", fresh.Device,
			"baud", fresh.Baud,
		)
		if d.transport != nil {
			if err := d.transport.Close(); err != nil {
				d.logger.Debug("closing serial link for reload", "error", err)
			}
			d.transport = nil
			d.outcome = negotiation.Outcome{}
		}
		d.showOverlay(display.OverlayReconnecting)
		d.writeStatus(now, false)
	}
	d.logger.Info("config reload applied",
		"scroll_speed_ms", fresh.ScrollSpeedMS,
		"page_timeout_ms", fresh.PageTimeoutMS,
	)
}
