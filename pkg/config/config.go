// Package config loads and validates the client configuration.
//
// Configuration comes from a YAML file, with every field overridable
// by command-line flags; the zero value of each field means "use the
// default". A missing file is not an error, so the client runs with
// pure flag/default configuration out of the box.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cvlink-project/cvlink-go/pkg/prog"
)

// Protocol names accepted in configuration.
const (
	ProtocolZ21   = "z21"
	ProtocolDCCEX = "dccex"
)

// Defaults.
const (
	DefaultZ21Port   = 21105
	DefaultDCCEXPort = 2560
)

// Validation errors.
var (
	ErrInvalidProtocol = errors.New("invalid protocol")
	ErrInvalidPort     = errors.New("invalid port")
	ErrInvalidAddress  = errors.New("invalid loco address")
	ErrInvalidMaxCV    = errors.New("invalid max cv")
)

// Config is the complete client configuration.
type Config struct {
	// Protocol selects the backend: "z21" or "dccex".
	Protocol string `yaml:"protocol"`

	// Host is the command station's address. Ignored when
	// SerialDevice is set.
	Host string `yaml:"host"`

	// Port is the station's port. Zero takes the protocol default.
	Port int `yaml:"port"`

	// SerialDevice selects a serial connection to a DCC-EX station
	// (e.g. /dev/ttyUSB0) instead of TCP.
	SerialDevice string `yaml:"serial_device"`

	// BaudRate for the serial connection. Zero takes the transport
	// default.
	BaudRate int `yaml:"baud_rate"`

	// LocoAddress is the decoder address Z21 POM operations target.
	LocoAddress int `yaml:"loco_address"`

	// MaxCV bounds the CV range (default 255).
	MaxCV int `yaml:"max_cv"`

	// Timeout is the per-operation window for the DCC-EX backend.
	Timeout time.Duration `yaml:"timeout"`

	// Pacing is the inter-read delay for paced scans.
	Pacing time.Duration `yaml:"pacing"`

	// StrictChecksum rejects Z21 frames with a bad X-Bus checksum.
	StrictChecksum bool `yaml:"strict_checksum"`

	// ProtocolLog is the path of the CBOR protocol capture file.
	// Empty disables capture.
	ProtocolLog string `yaml:"protocol_log"`

	// MetaFile is an optional YAML file with CV metadata overrides.
	MetaFile string `yaml:"meta_file"`

	// SessionDir is the directory scan sessions are persisted in.
	// Empty disables persistence.
	SessionDir string `yaml:"session_dir"`

	// LogLevel controls diagnostic output: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration the client runs with when nothing
// else is specified.
func Default() Config {
	return Config{
		Protocol:    ProtocolZ21,
		Host:        "192.168.0.111",
		LocoAddress: 3,
		MaxCV:       prog.DefaultMaxCV,
		LogLevel:    "info",
	}
}

// Load reads a YAML configuration file over the defaults. A missing
// file returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration and fills derivable defaults
// (protocol port, max CV).
func (c *Config) Validate() error {
	switch c.Protocol {
	case ProtocolZ21, ProtocolDCCEX:
	default:
		return fmt.Errorf("%w: %q (want %q or %q)",
			ErrInvalidProtocol, c.Protocol, ProtocolZ21, ProtocolDCCEX)
	}

	if c.Port == 0 {
		if c.Protocol == ProtocolZ21 {
			c.Port = DefaultZ21Port
		} else {
			c.Port = DefaultDCCEXPort
		}
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}

	if c.LocoAddress < 0 || c.LocoAddress > 0x3FFF {
		return fmt.Errorf("%w: %d (0..16383)", ErrInvalidAddress, c.LocoAddress)
	}

	if c.MaxCV == 0 {
		c.MaxCV = prog.DefaultMaxCV
	}
	if c.MaxCV < 1 || c.MaxCV > prog.MaxMaxCV {
		return fmt.Errorf("%w: %d (1..%d)", ErrInvalidMaxCV, c.MaxCV, prog.MaxMaxCV)
	}

	if c.SerialDevice != "" && c.Protocol == ProtocolZ21 {
		return fmt.Errorf("%w: z21 stations are LAN only", ErrInvalidProtocol)
	}

	return nil
}

// Addr returns the host:port dial string.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
