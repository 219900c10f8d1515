package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.DefaultProtocol != "apple" {
		t.Fatalf("default protocol = %q", cfg.DefaultProtocol)
	}
	if cfg.SwitchInterval.Std() != 60*time.Second {
		t.Fatalf("switch interval = %s", cfg.SwitchInterval)
	}
	if got := cfg.Provisioning.Chunks; len(got) != 2 || got[0] != 14 || got[1] != 14 {
		t.Fatalf("chunks = %v", got)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DeviceName != "HYBRID-TAG" {
		t.Fatalf("device name = %q", cfg.DeviceName)
	}
}

func TestLoadOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tag.yaml")
	body := `
device_name: FIELD-UNIT-7
default_protocol: google
switch_interval: 30s
provisioning:
  auth_token: zyxwvuts
  chunks: [20, 8]
  restart_delay: 2s
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DeviceName != "FIELD-UNIT-7" {
		t.Fatalf("device name = %q", cfg.DeviceName)
	}
	if cfg.DefaultProtocol != "google" {
		t.Fatalf("default protocol = %q", cfg.DefaultProtocol)
	}
	if cfg.SwitchInterval.Std() != 30*time.Second {
		t.Fatalf("switch interval = %s", cfg.SwitchInterval)
	}
	if got := cfg.Provisioning.Chunks; len(got) != 2 || got[0] != 20 || got[1] != 8 {
		t.Fatalf("chunks = %v", got)
	}
	if cfg.Provisioning.RestartDelay.Std() != 2*time.Second {
		t.Fatalf("restart delay = %s", cfg.Provisioning.RestartDelay)
	}
	// Untouched keys keep their defaults.
	if cfg.BlinkInterval.Std() != 200*time.Millisecond {
		t.Fatalf("blink interval = %s", cfg.BlinkInterval)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad protocol", func(c *Config) { c.DefaultProtocol = "tile" }},
		{"zero switch interval", func(c *Config) { c.SwitchInterval = 0 }},
		{"short auth token", func(c *Config) { c.Provisioning.AuthToken = "abc" }},
		{"long auth token", func(c *Config) { c.Provisioning.AuthToken = "abcdefghi" }},
		{"empty chunks", func(c *Config) { c.Provisioning.Chunks = nil }},
		{"chunk sum mismatch", func(c *Config) { c.Provisioning.Chunks = []int{14, 15} }},
		{"negative chunk", func(c *Config) { c.Provisioning.Chunks = []int{-14, 42} }},
		{"zero restart delay", func(c *Config) { c.Provisioning.RestartDelay = 0 }},
		{"restart delay too short", func(c *Config) { c.Provisioning.RestartDelay = Duration(50 * time.Millisecond) }},
		{"restart delay too long", func(c *Config) { c.Provisioning.RestartDelay = Duration(30 * time.Second) }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestValidateGoogleSizedChunks(t *testing.T) {
	cfg := Default()
	cfg.Provisioning.Chunks = []int{10, 10}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("google-sized chunk scheme rejected: %v", err)
	}
}

func TestDurationForms(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tag.yaml")
	// Bare integers are milliseconds.
	if err := os.WriteFile(path, []byte("blink_interval: 250\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BlinkInterval.Std() != 250*time.Millisecond {
		t.Fatalf("blink interval = %s", cfg.BlinkInterval)
	}
}
