// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/backoff"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/display"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/clock"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/config"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/statusfile"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/telemetry"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/negotiation"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/payload"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/render"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/serial"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/tunnel"
)

// Loop timing.
const (
	// DisconnectedPoll is how long Run sleeps between reconnect checks
	// while the link is down.
	DisconnectedPoll = 50 * time.Millisecond

	// MinRenderInterval is the shortest gap between two display
	// redraws.
	MinRenderInterval = 200 * time.Millisecond

	// BlinkInterval is the backlight toggle period for blinking frames.
	BlinkInterval = 500 * time.Millisecond

	// HeartbeatGrace is how long without a new frame before the
	// heartbeat marker starts flashing.
	HeartbeatGrace = 5 * time.Second

	// HeartbeatToggle is the heartbeat marker's flash period.
	HeartbeatToggle = time.Second

	// OverlayHold is how long a parse error overlay stays up before the
	// current page is redrawn.
	OverlayHold = 2 * time.Second

	// StatusInterval bounds how stale the status snapshot may get while
	// nothing else changes.
	StatusInterval = 5 * time.Second
)

// SettingsLoader reloads settings when a frame asks for it.
type SettingsLoader func() (*config.Config, error)

// Connector opens the serial link described by settings.
type Connector func(settings *config.Config) (serial.LineTransport, error)

// Config wires a Daemon to its collaborators.
type Config struct {
	// Settings is the validated startup configuration. Required.
	Settings *config.Config

	// Connect opens the link. Required.
	Connect Connector

	// Display receives every page and overlay. Required.
	Display display.Display

	// Decoder turns display lines into frames. Nil uses a
	// payload.Decoder with defaults taken from Settings.
	Decoder render.Decoder

	// Reload is consulted when a frame carries config_reload. Nil
	// ignores reload requests.
	Reload SettingsLoader

	// NodeID is used when Settings does not pin one.
	NodeID uint32

	// Telemetry, when non-nil, receives backoff phases and protocol
	// errors.
	Telemetry *telemetry.Recorder

	// StatusPath, when non-empty, is where status snapshots are
	// written.
	StatusPath string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Daemon is the event loop. All methods must be called from one
// goroutine.
type Daemon struct {
	settings    *config.Config
	connect     Connector
	display     display.Display
	reload      SettingsLoader
	negotiation negotiation.Config
	telemetry   *telemetry.Recorder
	statusPath  string
	clock       clock.Clock
	logger      *slog.Logger

	pages    *render.RenderState
	backoff  *backoff.Scheduler
	bridge   *tunnel.CommandBridge
	executor *tunnel.Executor

	transport serial.LineTransport
	outcome   negotiation.Outcome
	everUp    bool

	lastFailure    serial.FailureKind
	offlineShown   bool
	stats          statusfile.Stats
	nextStatusAt   time.Time
	screen         screen
	shutdownCalled bool
}

// New validates config and returns an idle Daemon. Nothing is opened
// until the first Step.
func New(config Config) (*Daemon, error) {
	if config.Settings == nil {
		return nil, errors.New("daemon: Settings is required")
	}
	if config.Connect == nil {
		return nil, errors.New("daemon: Connect is required")
	}
	if config.Display == nil {
		return nil, errors.New("daemon: Display is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Decoder == nil {
		config.Decoder = payload.NewDecoder(PayloadDefaults(config.Settings))
	}

	negotiationConfig, err := NegotiationConfig(config.Settings, config.NodeID)
	if err != nil {
		return nil, err
	}
	negotiationConfig.Clock = config.Clock
	negotiationConfig.Logger = config.Logger

	return &Daemon{
		settings:    config.Settings,
		connect:     config.Connect,
		display:     config.Display,
		reload:      config.Reload,
		negotiation: negotiationConfig,
		telemetry:   config.Telemetry,
		statusPath:  config.StatusPath,
		clock:       config.Clock,
		logger:      config.Logger,
		pages:       render.New(config.Decoder, config.Clock),
		backoff:     backoff.New(config.Settings.BackoffInitial(), config.Settings.BackoffMax()),
		bridge:      tunnel.NewCommandBridge(config.Settings.CacheDir),
		executor: tunnel.NewExecutor(tunnel.ExecutorConfig{
			AllowList: config.Settings.CommandAllowlist,
			Clock:     config.Clock,
			Logger:    config.Logger,
		}),
		screen: newScreen(config.Display.Columns()),
	}, nil
}

// Run steps the loop until ctx ends, then shuts down.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("event loop starting", "device", d.settings.Device, "node_id", d.negotiation.NodeID)
	for ctx.Err() == nil {
		if !d.Step() {
			d.clock.Sleep(DisconnectedPoll)
		}
	}
	return d.Shutdown()
}

// Step runs one loop iteration and reports whether the link is up
// afterwards.
func (d *Daemon) Step() bool {
	now := d.clock.Now()

	if d.transport == nil && d.backoff.ShouldRetry(now) {
		d.openLink(now)
	}
	if d.transport != nil {
		d.readOnce(now)
	}
	d.flushTunnel(now)
	d.tick(now)
	if !now.Before(d.nextStatusAt) {
		d.writeStatus(now, false)
	}
	return d.transport != nil
}

// Stats returns the loop counters.
func (d *Daemon) Stats() statusfile.Stats { return d.stats }

// Outcome returns the negotiation outcome of the current connection.
func (d *Daemon) Outcome() negotiation.Outcome { return d.outcome }

// Connected reports whether the link is up.
func (d *Daemon) Connected() bool { return d.transport != nil }

// Shutdown terminates any running command, flushes its last messages,
// shows the offline overlay, closes the link and writes the final
// status snapshot. It is safe to call more than once.
func (d *Daemon) Shutdown() error {
	if d.shutdownCalled {
		return nil
	}
	d.shutdownCalled = true
	now := d.clock.Now()

	if d.executor.Session().Active {
		ctx, cancel := context.WithTimeout(context.Background(), tunnel.DefaultShutdownGrace+time.Second)
		for _, message := range d.executor.Shutdown(ctx) {
			d.sendCommand(now, message)
		}
		cancel()
	}

	var errs []error
	if err := display.Show(d.display, display.OverlayOffline); err != nil {
		errs = append(errs, err)
	}
	if d.transport != nil {
		if err := d.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing serial link: %w", err))
		}
		d.transport = nil
	}
	d.writeStatus(now, true)

	d.logger.Info("event loop stopped",
		"frames_accepted", d.stats.FramesAccepted,
		"frames_rejected", d.stats.FramesRejected,
		"checksum_failures", d.stats.ChecksumFailures,
		"duplicates", d.stats.Duplicates,
		"reconnects", d.stats.Reconnects,
		"commands_started", d.stats.CommandsStarted,
		"commands_rejected", d.stats.CommandsRejected,
	)
	return errors.Join(errs...)
}

// openLink tries to connect, negotiate and re-dispatch any early line.
func (d *Daemon) openLink(now time.Time) {
	attempt := d.backoff.Attempt()
	if attempt > 0 {
		d.telemetry.BackoffPhase("retry", d.settings.Device, attempt, d.backoff.CurrentDelay(), string(d.lastFailure))
	}

	transport, err := d.connect(d.settings)
	if err != nil {
		d.markFailure(now, err, "connect failed")
		if !d.offlineShown {
			d.showOverlay(display.OverlaySerialOffline)
			d.offlineShown = true
		}
		return
	}

	d.backoff.MarkSuccess(now)
	d.telemetry.BackoffPhase("connected", d.settings.Device, attempt, 0, "")
	if d.everUp {
		d.stats.Reconnects++
	}
	d.everUp = true
	d.transport = transport
	d.offlineShown = false
	d.lastFailure = ""

	d.outcome = negotiation.Negotiate(transport, d.negotiation)
	d.logger.Info("serial link up",
		"device", d.settings.Device,
		"role", d.outcome.Role.String(),
		"fallback", d.outcome.Fallback,
		"tunnel", d.outcome.TunnelEnabled(),
	)
	d.writeStatus(now, false)

	// Whatever the overlay said, the current page (if any) goes back up.
	d.screen.invalidate()
	if d.outcome.HasPendingLine && d.transport != nil {
		d.dispatch(now, d.outcome.PendingLine)
	}
}

// readOnce reads at most one line and routes it.
func (d *Daemon) readOnce(now time.Time) {
	line, err := d.transport.ReadLine()
	if err != nil {
		if errors.Is(err, serial.ErrLineTooLong) {
			d.stats.FramesRejected++
			d.telemetry.ProtocolError("line_too_long", err, "")
			d.logger.Warn("discarded oversized serial line", "error", err)
			return
		}
		d.dropLink(now, err)
		return
	}
	if line != "" {
		d.dispatch(now, line)
	}
}

// dropLink closes a failed link and schedules the reconnect.
func (d *Daemon) dropLink(now time.Time, cause error) {
	if d.transport != nil {
		if err := d.transport.Close(); err != nil {
			d.logger.Debug("closing failed serial link", "error", err)
		}
		d.transport = nil
	}
	d.outcome = negotiation.Outcome{}
	d.markFailure(now, cause, "serial link lost")
	d.showOverlay(display.OverlayReconnecting)
}

func (d *Daemon) markFailure(now time.Time, cause error, message string) {
	kind := serial.Classify(cause)
	d.backoff.MarkFailure(now)
	d.lastFailure = kind
	d.telemetry.BackoffPhase("failure", d.settings.Device, d.backoff.Attempt(), d.backoff.CurrentDelay(), string(kind))
	d.logger.Warn(message,
		"device", d.settings.Device,
		"failure_kind", string(kind),
		"attempt", d.backoff.Attempt(),
		"retry_at", d.backoff.NextRetryAt(),
		"error", cause,
	)
	d.writeStatus(now, false)
}

// writeStatus persists a snapshot when a status path is configured.
func (d *Daemon) writeStatus(now time.Time, stopped bool) {
	d.nextStatusAt = now.Add(StatusInterval)
	if d.statusPath == "" {
		return
	}
	snapshot := statusfile.Snapshot{
		PID:         os.Getpid(),
		Device:      d.settings.Device,
		Connected:   d.transport != nil,
		Fallback:    d.outcome.Fallback,
		Tunnel:      d.transport != nil && d.outcome.TunnelEnabled(),
		LastFailure: string(d.lastFailure),
		Stats:       d.stats,
		Stopped:     stopped,
		UpdatedAt:   now,
	}
	if d.everUp {
		snapshot.Role = d.outcome.Role.String()
	}
	if err := statusfile.Write(d.statusPath, snapshot); err != nil {
		d.logger.Warn("writing status snapshot failed", "path", d.statusPath, "error", err)
	}
}
