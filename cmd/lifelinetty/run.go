// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/daemon"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/display"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/config"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/statusfile"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/telemetry"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/version"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/negotiation"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/payload"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/serial"
)

func runDaemon(ctx context.Context, settings *config.Config, parsed options, logger *slog.Logger) error {
	screen := display.NewTerminal(os.Stdout, display.TerminalOptions{
		Columns:     settings.Cols,
		Interactive: term.IsTerminal(int(os.Stdout.Fd())),
	})

	if parsed.payloadFile != "" {
		return renderPayloadFile(parsed.payloadFile, settings, screen)
	}

	connect := connectSerial
	statusPath := statusfile.Path(settings.CacheDir)
	var recorder *telemetry.Recorder
	if parsed.demo {
		logger.Info("demo mode: cycling built-in pages", "pages", len(demoPayloads))
		connect = connectDemo(settings.SerialTimeout())
		statusPath = ""
	} else {
		var err error
		recorder, err = telemetry.Open(settings.CacheDir, telemetry.Options{})
		if err != nil {
			// The display matters more than the telemetry files.
			logger.Warn("telemetry disabled", "cache_dir", settings.CacheDir, "error", err)
		}
		defer recorder.Close()
	}

	loop, err := daemon.New(daemon.Config{
		Settings: settings,
		Connect:  connect,
		Display:  screen,
		Reload: func() (*config.Config, error) {
			return loadSettings(parsed)
		},
		NodeID:     negotiation.NodeIdentity(),
		Telemetry:  recorder,
		StatusPath: statusPath,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	logger.Info("lifelinetty starting",
		"version", version.Info(),
		"device", settings.Device,
		"baud", settings.Baud,
		"cols", settings.Cols,
		"cache_dir", settings.CacheDir,
	)
	return loop.Run(ctx)
}

func connectSerial(settings *config.Config) (serial.LineTransport, error) {
	serialOptions, err := daemon.SerialOptions(settings)
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(settings.Device, serialOptions)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// renderPayloadFile draws one payload and returns.
func renderPayloadFile(path string, settings *config.Config, target display.Display) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading payload file: %w", err)
	}
	decoder := payload.NewDecoder(daemon.PayloadDefaults(settings))
	frame, err := decoder.Decode(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("payload %s: %w", path, err)
	}

	columns := target.Columns()
	line1, line2 := display.Compose(frame, columns)
	if frame.Test {
		line1, line2 = display.TestPattern(columns)
	}
	if frame.Clear {
		if err := target.Clear(); err != nil {
			return fmt.Errorf("clearing display: %w", err)
		}
	}
	if err := target.SetBacklight(frame.BacklightOn); err != nil {
		return fmt.Errorf("setting backlight: %w", err)
	}
	if err := target.SetBlink(frame.Blink); err != nil {
		return fmt.Errorf("setting blink: %w", err)
	}
	if err := target.WriteLines(display.ViewLine(line1, columns, 0), display.ViewLine(line2, columns, 0)); err != nil {
		return fmt.Errorf("writing payload: %w", err)
	}
	return nil
}

// demoPayloads exercise every display feature. The daemon's page
// rotation cycles through them.
var demoPayloads = []string{
	`{"schema_version":1,"line1":"Up 12:34 CPU 42%","line2":"RAM 73%","bar_value":73,"bar_max":100,"bar_label":"RAM","mode":"dashboard","page_timeout_ms":4000}`,
	`{"schema_version":1,"line1":"CPU LOAD","line2":"Cores busy","bar":68,"bar_label":"CPU","page_timeout_ms":3500}`,
	`{"schema_version":1,"line1":"MEM usage","line2":"Using 1.8GB","bar_value":720,"bar_max":1000,"bar_label":"MEM","page_timeout_ms":3500}`,
	`{"schema_version":1,"line1":"NET 12.3Mbps","line2":"bar on top","bar":65,"bar_line1":true,"icons":["wifi"],"page_timeout_ms":3500}`,
	`{"schema_version":1,"line1":"ALERT: Fan Fail","line2":"Check cooling","blink":true,"backlight":true,"page_timeout_ms":4000}`,
	`{"schema_version":1,"line1":"Backlight OFF demo","line2":"It should go dark","backlight":false,"page_timeout_ms":3500}`,
	`{"schema_version":1,"line1":"Clear + Test Pattern","line2":"Ensure wiring is OK","clear":true,"test":true,"page_timeout_ms":3500}`,
	`{"schema_version":1,"line1":"Banner text scrolls along the top line","line2":"ignored","mode":"banner","scroll_speed_ms":220,"page_timeout_ms":5000}`,
	`{"schema_version":1,"line1":"Scroll off: this long line is clipped","line2":"","scroll":false,"page_timeout_ms":4000}`,
	`{"schema_version":1,"line1":"Icons: Heart","line2":"beats","icons":["heart"],"page_timeout_ms":3000}`,
	`{"schema_version":1,"line1":"Icons: Battery","line2":"Charge 90%","icons":["battery"],"bar":90,"page_timeout_ms":3000}`,
	`{"schema_version":1,"line1":"Slow scroll speed","line2":"abcdefghijklmnopqrstuvwxyz","scroll_speed_ms":400,"page_timeout_ms":4000}`,
}

// connectDemo hands the daemon a link that delivers demoPayloads once
// and then stays quiet. Idle reads wait like a real port's read
// timeout.
func connectDemo(readTimeout time.Duration) daemon.Connector {
	return func(*config.Config) (serial.LineTransport, error) {
		link := serial.NewFake(demoPayloads...)
		link.OnIdle(func() { time.Sleep(readTimeout) })
		return link, nil
	}
}
