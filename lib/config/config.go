// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Built-in defaults.
const (
	DefaultDevice           = "/dev/ttyUSB0"
	DefaultBaud             = 9600
	DefaultCols             = 20
	DefaultRows             = 4
	DefaultScrollSpeedMS    = 250
	DefaultPageTimeoutMS    = 4000
	DefaultBackoffInitialMS = 500
	DefaultBackoffMaxMS     = 10_000
	DefaultSerialTimeoutMS  = 500
	DefaultCacheDir         = "/run/serial_lcd_cache"
)

// EnvConfigPath names the environment variable Load consults first.
const EnvConfigPath = "LIFELINETTY_CONFIG"

const (
	configDirName  = ".serial_lcd"
	configFileName = "config.toml"
)

// Config is the full daemon configuration.
type Config struct {
	// Device is the serial device path.
	Device string `yaml:"device" toml:"device" json:"device"`

	Baud int `yaml:"baud" toml:"baud" json:"baud"`

	// FlowControl is none, software or hardware.
	FlowControl string `yaml:"flow_control" toml:"flow_control" json:"flow_control"`

	// Parity is none, odd or even.
	Parity string `yaml:"parity" toml:"parity" json:"parity"`

	// StopBits is 1 or 2.
	StopBits int `yaml:"stop_bits" toml:"stop_bits" json:"stop_bits"`

	// DTROnOpen is preserve, on or off.
	DTROnOpen string `yaml:"dtr_on_open" toml:"dtr_on_open" json:"dtr_on_open"`

	// SerialTimeoutMS bounds each serial read.
	SerialTimeoutMS int `yaml:"serial_timeout_ms" toml:"serial_timeout_ms" json:"serial_timeout_ms"`

	Cols int `yaml:"cols" toml:"cols" json:"cols"`
	Rows int `yaml:"rows" toml:"rows" json:"rows"`

	// ScrollSpeedMS and PageTimeoutMS are the defaults for payloads that
	// omit them.
	ScrollSpeedMS int `yaml:"scroll_speed_ms" toml:"scroll_speed_ms" json:"scroll_speed_ms"`
	PageTimeoutMS int `yaml:"page_timeout_ms" toml:"page_timeout_ms" json:"page_timeout_ms"`

	BackoffInitialMS int `yaml:"backoff_initial_ms" toml:"backoff_initial_ms" json:"backoff_initial_ms"`
	BackoffMaxMS     int `yaml:"backoff_max_ms" toml:"backoff_max_ms" json:"backoff_max_ms"`

	// CommandAllowlist restricts the programs the command tunnel may
	// run. Empty allows everything.
	CommandAllowlist []string `yaml:"command_allowlist" toml:"command_allowlist" json:"command_allowlist"`

	// CacheDir holds scratch directories, telemetry logs and the status
	// file.
	CacheDir string `yaml:"cache_dir" toml:"cache_dir" json:"cache_dir"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level" toml:"log_level" json:"log_level"`

	// LogFile, when set, receives a copy of every log record.
	LogFile string `yaml:"log_file" toml:"log_file" json:"log_file"`

	Negotiation NegotiationConfig `yaml:"negotiation" toml:"negotiation" json:"negotiation"`
}

// NegotiationConfig configures the per-connection handshake.
type NegotiationConfig struct {
	// NodeID overrides the identifier derived from the host when
	// non-zero.
	NodeID uint32 `yaml:"node_id" toml:"node_id" json:"node_id"`

	// Preference is auto, server or client.
	Preference string `yaml:"preference" toml:"preference" json:"preference"`

	TimeoutMS int `yaml:"timeout_ms" toml:"timeout_ms" json:"timeout_ms"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Device:           DefaultDevice,
		Baud:             DefaultBaud,
		FlowControl:      "none",
		Parity:           "none",
		StopBits:         1,
		DTROnOpen:        "preserve",
		SerialTimeoutMS:  DefaultSerialTimeoutMS,
		Cols:             DefaultCols,
		Rows:             DefaultRows,
		ScrollSpeedMS:    DefaultScrollSpeedMS,
		PageTimeoutMS:    DefaultPageTimeoutMS,
		BackoffInitialMS: DefaultBackoffInitialMS,
		BackoffMaxMS:     DefaultBackoffMaxMS,
		CacheDir:         DefaultCacheDir,
		LogLevel:         "info",
		Negotiation: NegotiationConfig{
			Preference: "auto",
			TimeoutMS:  500,
		},
	}
}

// DefaultPath returns ~/.serial_lcd/config.toml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(homeDir, configDirName, configFileName), nil
}

// Load reads the file named by LIFELINETTY_CONFIG. Without it, Load
// reads DefaultPath, writing the defaults there first if the file does
// not exist yet. It returns the loaded configuration and the path it
// came from.
func Load() (*Config, string, error) {
	if configPath := os.Getenv(EnvConfigPath); configPath != "" {
		cfg, err := LoadFile(configPath)
		return cfg, configPath, err
	}

	configPath, err := DefaultPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := cfg.Save(configPath); err != nil {
			return nil, "", err
		}
		cfg.expandVariables()
		return cfg, configPath, nil
	}
	cfg, err := LoadFile(configPath)
	return cfg, configPath, err
}

// LoadFile reads path on top of Default and expands path variables.
// The result is not validated; call Validate after applying overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := cfg.decode(path, data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) decode(path string, data []byte) error {
	switch extension := strings.ToLower(filepath.Ext(path)); extension {
	case ".toml", "":
		metadata, err := toml.Decode(string(data), c)
		if err != nil {
			return err
		}
		if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown key %q", undecoded[0].String())
		}
		return nil
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	case ".json", ".jsonc":
		decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		decoder.DisallowUnknownFields()
		return decoder.Decode(c)
	default:
		return fmt.Errorf("unsupported config format %q", extension)
	}
}

// Save writes c to path as TOML, creating the parent directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	var buffer bytes.Buffer
	buffer.WriteString("# lifelinetty config\n")
	if err := toml.NewEncoder(&buffer).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, buffer.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	c.Device = expandVars(c.Device)
	c.CacheDir = expandVars(c.CacheDir)
	c.LogFile = expandVars(c.LogFile)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

var (
	flowControlValues = []string{"none", "software", "hardware"}
	parityValues      = []string{"none", "odd", "even"}
	dtrValues         = []string{"preserve", "on", "off"}
	logLevelValues    = []string{"debug", "info", "warn", "error"}
	preferenceValues  = []string{"auto", "server", "client"}
)

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Device == "" {
		errs = append(errs, fmt.Errorf("device is required"))
	}
	if c.Baud <= 0 {
		errs = append(errs, fmt.Errorf("baud must be positive, got %d", c.Baud))
	}
	if !slices.Contains(flowControlValues, c.FlowControl) {
		errs = append(errs, fmt.Errorf("flow_control must be one of: %v", flowControlValues))
	}
	if !slices.Contains(parityValues, c.Parity) {
		errs = append(errs, fmt.Errorf("parity must be one of: %v", parityValues))
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		errs = append(errs, fmt.Errorf("stop_bits must be 1 or 2, got %d", c.StopBits))
	}
	if !slices.Contains(dtrValues, c.DTROnOpen) {
		errs = append(errs, fmt.Errorf("dtr_on_open must be one of: %v", dtrValues))
	}
	if c.SerialTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("serial_timeout_ms must be positive"))
	}
	if c.Cols < 8 || c.Cols > 40 {
		errs = append(errs, fmt.Errorf("cols must be between 8 and 40, got %d", c.Cols))
	}
	if c.Rows < 1 || c.Rows > 4 {
		errs = append(errs, fmt.Errorf("rows must be between 1 and 4, got %d", c.Rows))
	}
	if c.ScrollSpeedMS <= 0 {
		errs = append(errs, fmt.Errorf("scroll_speed_ms must be positive"))
	}
	if c.PageTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("page_timeout_ms must be positive"))
	}
	if c.BackoffInitialMS <= 0 {
		errs = append(errs, fmt.Errorf("backoff_initial_ms must be positive"))
	}
	if c.BackoffMaxMS < c.BackoffInitialMS {
		errs = append(errs, fmt.Errorf("backoff_max_ms (%d) must not be below backoff_initial_ms (%d)",
			c.BackoffMaxMS, c.BackoffInitialMS))
	}
	if c.CacheDir == "" {
		errs = append(errs, fmt.Errorf("cache_dir is required"))
	}
	if !slices.Contains(logLevelValues, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level must be one of: %v", logLevelValues))
	}
	if !slices.Contains(preferenceValues, c.Negotiation.Preference) {
		errs = append(errs, fmt.Errorf("negotiation.preference must be one of: %v", preferenceValues))
	}
	if c.Negotiation.TimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("negotiation.timeout_ms must be positive"))
	}
	for _, program := range c.CommandAllowlist {
		if strings.TrimSpace(program) == "" {
			errs = append(errs, fmt.Errorf("command_allowlist contains an empty entry"))
			break
		}
	}

	return errors.Join(errs...)
}

func milliseconds(value int) time.Duration { return time.Duration(value) * time.Millisecond }

// SerialTimeout returns SerialTimeoutMS as a duration.
func (c *Config) SerialTimeout() time.Duration { return milliseconds(c.SerialTimeoutMS) }

// ScrollSpeed returns ScrollSpeedMS as a duration.
func (c *Config) ScrollSpeed() time.Duration { return milliseconds(c.ScrollSpeedMS) }

// PageTimeout returns PageTimeoutMS as a duration.
func (c *Config) PageTimeout() time.Duration { return milliseconds(c.PageTimeoutMS) }

// BackoffInitial returns BackoffInitialMS as a duration.
func (c *Config) BackoffInitial() time.Duration { return milliseconds(c.BackoffInitialMS) }

// BackoffMax returns BackoffMaxMS as a duration.
func (c *Config) BackoffMax() time.Duration { return milliseconds(c.BackoffMaxMS) }

// NegotiationTimeout returns Negotiation.TimeoutMS as a duration.
func (c *Config) NegotiationTimeout() time.Duration { return milliseconds(c.Negotiation.TimeoutMS) }
