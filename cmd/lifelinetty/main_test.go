// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/display"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/config"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/process"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/statusfile"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/payload"
)

func TestParseArgsDefaultsToRun(t *testing.T) {
	parsed, err := parseArgs([]string{"--device", "/dev/ttyACM0", "--baud", "115200"}, io.Discard)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if parsed.command != "run" {
		t.Errorf("command = %q, want run", parsed.command)
	}
	if parsed.device != "/dev/ttyACM0" || parsed.baud != 115200 {
		t.Errorf("device, baud = %q, %d; want /dev/ttyACM0, 115200", parsed.device, parsed.baud)
	}
}

func TestParseArgsSubcommand(t *testing.T) {
	parsed, err := parseArgs([]string{"status", "--diagnose", "--config", "/etc/lifelinetty.toml"}, io.Discard)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if parsed.command != "status" || !parsed.diagnose || parsed.configPath != "/etc/lifelinetty.toml" {
		t.Errorf("parsed = %+v, want status with --diagnose and --config", parsed)
	}
}

func TestParseArgsRejects(t *testing.T) {
	cases := map[string][]string{
		"unknown command":          {"frobnicate"},
		"extra argument":           {"run", "extra"},
		"demo with serialsh":       {"serialsh", "--demo"},
		"demo with payload file":   {"--demo", "--payload-file", "page.json"},
		"diagnose outside status":  {"run", "--diagnose"},
		"unknown flag":             {"--colour"},
		"payload file with status": {"status", "--payload-file", "page.json"},
	}
	for name, args := range cases {
		if _, err := parseArgs(args, io.Discard); err == nil {
			t.Errorf("%s: parseArgs(%q) succeeded", name, args)
		}
	}
}

func TestParseArgsHelp(t *testing.T) {
	var output bytes.Buffer
	parsed, err := parseArgs([]string{"--help"}, &output)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if !parsed.showHelp {
		t.Error("showHelp = false, want true")
	}
	if !strings.Contains(output.String(), "--payload-file") {
		t.Errorf("help output missing flag list:\n%s", output.String())
	}
}

func TestLoadSettingsAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	base := config.Default()
	base.Device = "/dev/ttyS0"
	base.Baud = 19200
	if err := base.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	settings, err := loadSettings(options{configPath: path, baud: 115200, logLevel: "debug"})
	if err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	if settings.Device != "/dev/ttyS0" {
		t.Errorf("Device = %q, want the file's /dev/ttyS0", settings.Device)
	}
	if settings.Baud != 115200 {
		t.Errorf("Baud = %d, want the flag's 115200", settings.Baud)
	}
	if settings.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", settings.LogLevel)
	}

	if _, err := loadSettings(options{configPath: path, cols: 2}); err == nil {
		t.Error("loadSettings accepted 2 columns")
	}
}

func TestNewLoggerLevels(t *testing.T) {
	var output bytes.Buffer
	logger, err := newLogger("warn", &output, false)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("quiet")
	logger.Warn("loud")
	if strings.Contains(output.String(), "quiet") {
		t.Error("info record written at warn level")
	}
	if !strings.Contains(output.String(), `"msg":"loud"`) {
		t.Errorf("output = %q, want a JSON warn record", output.String())
	}

	if _, err := newLogger("trace", io.Discard, true); err != nil {
		t.Errorf("newLogger(trace): %v", err)
	}
	if _, err := newLogger("chatty", io.Discard, false); err == nil {
		t.Error("newLogger accepted an unknown level")
	}
}

func TestRenderPayloadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.json")
	if err := os.WriteFile(path, []byte(`{"schema_version":1,"line1":"disk","line2":"ok","backlight":false}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	screen := display.NewRecorder(16)

	if err := renderPayloadFile(path, config.Default(), screen); err != nil {
		t.Fatalf("renderPayloadFile: %v", err)
	}
	want := display.Snapshot{Line1: display.Fit("disk", 16), Line2: display.Fit("ok", 16)}
	if got := screen.Last(); got != want {
		t.Errorf("display = %+v, want %+v", got, want)
	}
	if screen.Backlight {
		t.Error("backlight on, want the payload's backlight off")
	}

	if err := os.WriteFile(path, []byte(`{"line1":"no schema"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := renderPayloadFile(path, config.Default(), screen); !errors.Is(err, payload.ErrInvalid) {
		t.Errorf("renderPayloadFile(invalid) = %v, want ErrInvalid", err)
	}
}

func TestDemoPayloadsAreValid(t *testing.T) {
	decoder := payload.NewDecoder(payload.DefaultDefaults())
	for index, line := range demoPayloads {
		if _, err := decoder.Decode(line); err != nil {
			t.Errorf("demo payload %d: %v", index, err)
		}
	}
}

func TestDemoLinkDeliversPages(t *testing.T) {
	link, err := connectDemo(0)(config.Default())
	if err != nil {
		t.Fatalf("connectDemo: %v", err)
	}
	line, err := link.ReadLine()
	if err != nil || line != demoPayloads[0] {
		t.Errorf("first ReadLine = %q, %v; want the first demo page", line, err)
	}
}

func TestRunStatus(t *testing.T) {
	settings := config.Default()
	settings.CacheDir = t.TempDir()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	var output bytes.Buffer
	err := runStatus(settings, false, &output, now)
	var exitError *process.ExitError
	if !errors.As(err, &exitError) || exitError.Code != 1 {
		t.Fatalf("runStatus without a status file = %v, want exit code 1", err)
	}

	snapshot := statusfile.Snapshot{
		PID:       1234,
		Device:    "/dev/ttyUSB0",
		Connected: true,
		Role:      "server",
		Tunnel:    true,
		Stats:     statusfile.Stats{FramesAccepted: 12, Reconnects: 2},
		UpdatedAt: now.Add(-2 * time.Second),
	}
	if err := statusfile.Write(statusfile.Path(settings.CacheDir), snapshot); err != nil {
		t.Fatalf("Write: %v", err)
	}

	output.Reset()
	if err := runStatus(settings, false, &output, now); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
	for _, want := range []string{"running (pid 1234)", "/dev/ttyUSB0", "12 accepted", "reconnects:  2"} {
		if !strings.Contains(output.String(), want) {
			t.Errorf("status output missing %q:\n%s", want, output.String())
		}
	}

	output.Reset()
	if err := runStatus(settings, true, &output, now); err != nil {
		t.Fatalf("runStatus --diagnose: %v", err)
	}
	if !strings.Contains(output.String(), `"pid": 1234`) {
		t.Errorf("diagnostic output = %q, want the pid field", output.String())
	}
}
