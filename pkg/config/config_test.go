package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cvlink.yaml")
	data := `
protocol: dccex
host: 10.0.0.5
port: 2560
max_cv: 128
timeout: 5s
strict_checksum: true
log_level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Protocol != ProtocolDCCEX || cfg.Host != "10.0.0.5" || cfg.Port != 2560 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.MaxCV != 128 || cfg.Timeout != 5*time.Second || !cfg.StrictChecksum {
		t.Fatalf("cfg = %+v", cfg)
	}
	// Untouched fields keep their defaults.
	if cfg.LocoAddress != Default().LocoAddress {
		t.Fatalf("loco address = %d", cfg.LocoAddress)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("	tabs: are not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed yaml accepted")
	}
}

func TestValidateFillsProtocolPort(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Port != DefaultZ21Port {
		t.Fatalf("z21 port = %d", cfg.Port)
	}

	cfg = Default()
	cfg.Protocol = ProtocolDCCEX
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Port != DefaultDCCEXPort {
		t.Fatalf("dccex port = %d", cfg.Port)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"unknown protocol", func(c *Config) { c.Protocol = "loconet" }, ErrInvalidProtocol},
		{"port too high", func(c *Config) { c.Port = 70000 }, ErrInvalidPort},
		{"negative port", func(c *Config) { c.Port = -1 }, ErrInvalidPort},
		{"loco address too high", func(c *Config) { c.LocoAddress = 20000 }, ErrInvalidAddress},
		{"negative loco address", func(c *Config) { c.LocoAddress = -1 }, ErrInvalidAddress},
		{"max cv too high", func(c *Config) { c.MaxCV = 1024 }, ErrInvalidMaxCV},
		{"negative max cv", func(c *Config) { c.MaxCV = -1 }, ErrInvalidMaxCV},
		{"serial with z21", func(c *Config) { c.SerialDevice = "/dev/ttyUSB0" }, ErrInvalidProtocol},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestAddr(t *testing.T) {
	cfg := Config{Host: "192.168.0.111", Port: 21105}
	if got := cfg.Addr(); got != "192.168.0.111:21105" {
		t.Fatalf("Addr() = %q", got)
	}
}
