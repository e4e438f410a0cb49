// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/config"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/process"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

// options holds the parsed command line. Zero values mean "not given";
// only given flags override the config file.
type options struct {
	command string

	configPath  string
	device      string
	baud        int
	cols        int
	logLevel    string
	logFile     string
	payloadFile string
	demo        bool
	diagnose    bool
	showVersion bool
	showHelp    bool
}

var commands = []string{"run", "serialsh", "status"}

func parseArgs(args []string, output io.Writer) (options, error) {
	parsed := options{command: "run"}
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		parsed.command = args[0]
		args = args[1:]
	}
	if !slices.Contains(commands, parsed.command) {
		return options{}, fmt.Errorf("unknown command %q (want one of %v)", parsed.command, commands)
	}

	flagSet := pflag.NewFlagSet("lifelinetty", pflag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.StringVar(&parsed.configPath, "config", "", "config file (default: $"+config.EnvConfigPath+" or ~/.serial_lcd/config.toml)")
	flagSet.StringVar(&parsed.device, "device", "", "serial device path")
	flagSet.IntVar(&parsed.baud, "baud", 0, "baud rate")
	flagSet.IntVar(&parsed.cols, "cols", 0, "display columns")
	flagSet.StringVar(&parsed.logLevel, "log-level", "", "log level: error, warn, info, debug")
	flagSet.StringVar(&parsed.logFile, "log-file", "", "append JSON logs to this file instead of stderr")
	flagSet.StringVar(&parsed.payloadFile, "payload-file", "", "render one payload from this file and exit (run only)")
	flagSet.BoolVar(&parsed.demo, "demo", false, "cycle built-in demo pages instead of reading the serial link (run only)")
	flagSet.BoolVar(&parsed.diagnose, "diagnose", false, "dump the raw status file in CBOR diagnostic notation (status only)")
	flagSet.BoolVar(&parsed.showVersion, "version", false, "print version information and exit")
	flagSet.BoolVarP(&parsed.showHelp, "help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			parsed.showHelp = true
			return parsed, nil
		}
		return options{}, err
	}
	if flagSet.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	if parsed.command != "run" && (parsed.demo || parsed.payloadFile != "") {
		return options{}, fmt.Errorf("--demo and --payload-file only apply to run")
	}
	if parsed.demo && parsed.payloadFile != "" {
		return options{}, fmt.Errorf("--demo cannot be combined with --payload-file")
	}
	if parsed.diagnose && parsed.command != "status" {
		return options{}, fmt.Errorf("--diagnose only applies to status")
	}
	if parsed.showHelp {
		printHelp(output, flagSet)
	}
	return parsed, nil
}

func printHelp(output io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(output, `lifelinetty drives a character display from a serial link.

Usage:
  lifelinetty [run] [flags]
  lifelinetty serialsh [flags]
  lifelinetty status [--diagnose] [flags]

Flags:
%s`, flagSet.FlagUsages())
}

// loadSettings reads the configuration and applies command-line
// overrides. It runs again on every reload request so the overrides
// keep winning over the file.
func loadSettings(parsed options) (*config.Config, error) {
	var settings *config.Config
	var err error
	if parsed.configPath != "" {
		settings, err = config.LoadFile(parsed.configPath)
	} else {
		settings, _, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if parsed.device != "" {
		settings.Device = parsed.device
	}
	if parsed.baud != 0 {
		settings.Baud = parsed.baud
	}
	if parsed.cols != 0 {
		settings.Cols = parsed.cols
	}
	if parsed.logLevel != "" {
		settings.LogLevel = parsed.logLevel
	}
	if parsed.logFile != "" {
		settings.LogFile = parsed.logFile
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return settings, nil
}

func run(args []string) error {
	parsed, err := parseArgs(args, os.Stderr)
	if err != nil {
		return err
	}
	if parsed.showHelp {
		return nil
	}
	if parsed.showVersion {
		fmt.Printf("lifelinetty %s\n", version.Info())
		return nil
	}

	settings, err := loadSettings(parsed)
	if err != nil {
		return err
	}

	if parsed.command == "status" {
		return runStatus(settings, parsed.diagnose, os.Stdout, time.Now())
	}

	logOutput, closeLog, err := openLogOutput(settings.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()
	logger, err := newLogger(settings.LogLevel, logOutput, settings.LogFile == "" && term.IsTerminal(int(os.Stderr.Fd())))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch parsed.command {
	case "serialsh":
		return runSerialShell(ctx, settings, logger)
	default:
		return runDaemon(ctx, settings, parsed, logger)
	}
}
