// internal/config/config_test.go
package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instrument.BaudRate != 19200 {
		t.Errorf("baud_rate = %d, want 19200", cfg.Instrument.BaudRate)
	}
	if cfg.Instrument.ReadTimeout != 500*time.Millisecond {
		t.Errorf("read_timeout = %v, want 500ms", cfg.Instrument.ReadTimeout)
	}
	if cfg.Instrument.Precision != 3 {
		t.Errorf("precision = %d, want 3", cfg.Instrument.Precision)
	}
	if cfg.Scan.ProbeTimeout != 250*time.Millisecond {
		t.Errorf("probe_timeout = %v, want 250ms", cfg.Scan.ProbeTimeout)
	}
	if cfg.Polling.Interval != time.Second {
		t.Errorf("polling interval = %v, want 1s", cfg.Polling.Interval)
	}
	if cfg.Storage.Enabled {
		t.Error("storage enabled by default")
	}
	if got := cfg.GetServerAddr(); got != "0.0.0.0:8086" {
		t.Errorf("GetServerAddr = %q, want 0.0.0.0:8086", got)
	}
	if !cfg.IsDevelopment() {
		t.Error("default environment is not development")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.Server.Port = "8086"
		cfg.Instrument.BaudRate = 19200
		cfg.Instrument.ReadTimeout = 500 * time.Millisecond
		cfg.Instrument.Precision = 3
		cfg.Instrument.MaxVoltage = 60
		cfg.Instrument.MaxCurrent = 50
		cfg.Scan.ProbeTimeout = 250 * time.Millisecond
		cfg.Polling.Interval = time.Second
		cfg.App.Environment = "development"
		cfg.Logging.Level = "info"
		cfg.Logging.Format = "json"
		return cfg
	}

	if err := validate(base()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing port", func(c *Config) { c.Server.Port = "" }},
		{"zero baud", func(c *Config) { c.Instrument.BaudRate = 0 }},
		{"zero read timeout", func(c *Config) { c.Instrument.ReadTimeout = 0 }},
		{"negative precision", func(c *Config) { c.Instrument.Precision = -1 }},
		{"zero max voltage", func(c *Config) { c.Instrument.MaxVoltage = 0 }},
		{"zero probe timeout", func(c *Config) { c.Scan.ProbeTimeout = 0 }},
		{"zero polling interval", func(c *Config) { c.Polling.Interval = 0 }},
		{"bad environment", func(c *Config) { c.App.Environment = "prod" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := validate(cfg); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}
