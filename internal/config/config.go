// Package config loads the tag configuration from YAML, overlaying a
// config file onto compiled-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hybridtag/internal/identity"
)

type Config struct {
	// DeviceName is the GATT local name while management mode is active.
	DeviceName string `yaml:"device_name"`

	// Adapter is the controller to drive (e.g. hci0). Empty selects the
	// first available adapter.
	Adapter string `yaml:"adapter"`

	// DefaultProtocol is the network advertised first after boot.
	DefaultProtocol string `yaml:"default_protocol"`

	// SwitchInterval is how long each network is advertised before the
	// tag flips to the other one.
	SwitchInterval Duration `yaml:"switch_interval"`

	// BlinkInterval is the LED pattern tick.
	BlinkInterval Duration `yaml:"blink_interval"`

	// AdvertisingInterval is the BLE advertising interval.
	AdvertisingInterval Duration `yaml:"advertising_interval"`

	// Management keeps the tag connectable and exposes the provisioning
	// service. When false the tag is broadcast-only.
	Management bool `yaml:"management"`

	Provisioning Provisioning `yaml:"provisioning"`

	// DBPath is the sqlite file for keys, sessions and sightings.
	DBPath string `yaml:"db_path"`

	LED LED `yaml:"led"`
	GPS GPS `yaml:"gps"`
}

type Provisioning struct {
	// AuthToken must be written to the auth characteristic before any
	// key chunk is accepted. Exactly 8 bytes.
	AuthToken string `yaml:"auth_token"`

	// Chunks are the fixed write sizes, in order, that deliver a new
	// key. They must sum to one of the two key lengths; the total picks
	// which key the channel provisions.
	Chunks []int `yaml:"chunks"`

	// RestartDelay is how long after a committed key the tag waits
	// before restarting to pick it up.
	RestartDelay Duration `yaml:"restart_delay"`
}

type LED struct {
	// Name of a /sys/class/leds device. Empty disables the LED.
	Name string `yaml:"name"`
}

type GPS struct {
	// Enabled turns on position tagging for watch-mode sightings.
	Enabled bool   `yaml:"enabled"`
	Device  string `yaml:"device"`
	Baud    int    `yaml:"baud"`
}

// Default returns the built-in configuration. Load overlays the config
// file on top of this.
func Default() Config {
	return Config{
		DeviceName:          "HYBRID-TAG",
		Adapter:             "",
		DefaultProtocol:     "apple",
		SwitchInterval:      Duration(60 * time.Second),
		BlinkInterval:       Duration(200 * time.Millisecond),
		AdvertisingInterval: Duration(100 * time.Millisecond),
		Management:          true,
		Provisioning: Provisioning{
			AuthToken:    "abcdefgh",
			Chunks:       []int{14, 14},
			RestartDelay: Duration(1500 * time.Millisecond),
		},
		DBPath: "hybridtag.db",
		GPS: GPS{
			Baud: 9600,
		},
	}
}

// Load reads path and overlays it onto Default. A missing file is not an
// error: the defaults are returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate normalizes and checks the configuration.
func (c *Config) Validate() error {
	c.DeviceName = strings.TrimSpace(c.DeviceName)
	if c.DeviceName == "" {
		c.DeviceName = "HYBRID-TAG"
	}
	c.Adapter = strings.TrimSpace(c.Adapter)

	if _, err := identity.ParseProtocol(c.DefaultProtocol); err != nil {
		return fmt.Errorf("default_protocol: %w", err)
	}
	if c.SwitchInterval <= 0 {
		return fmt.Errorf("switch_interval must be positive, got %s", c.SwitchInterval)
	}
	if c.BlinkInterval <= 0 {
		return fmt.Errorf("blink_interval must be positive, got %s", c.BlinkInterval)
	}
	if c.AdvertisingInterval <= 0 {
		return fmt.Errorf("advertising_interval must be positive, got %s", c.AdvertisingInterval)
	}

	if len(c.Provisioning.AuthToken) != 8 {
		return fmt.Errorf("provisioning.auth_token must be exactly 8 bytes, got %d", len(c.Provisioning.AuthToken))
	}
	if len(c.Provisioning.Chunks) == 0 {
		return fmt.Errorf("provisioning.chunks must not be empty")
	}
	sum := 0
	for i, n := range c.Provisioning.Chunks {
		if n <= 0 {
			return fmt.Errorf("provisioning.chunks[%d] must be positive, got %d", i, n)
		}
		sum += n
	}
	if sum != identity.AppleKeyLen && sum != identity.GoogleKeyLen {
		return fmt.Errorf("provisioning.chunks must sum to %d or %d, got %d", identity.AppleKeyLen, identity.GoogleKeyLen, sum)
	}
	// Too short races the final write response to the client; longer than
	// a few seconds just delays the new identity.
	if d := c.Provisioning.RestartDelay.Std(); d < 100*time.Millisecond || d > 10*time.Second {
		return fmt.Errorf("provisioning.restart_delay must be between 100ms and 10s, got %s", c.Provisioning.RestartDelay)
	}

	c.DBPath = strings.TrimSpace(c.DBPath)
	if c.DBPath == "" {
		c.DBPath = "hybridtag.db"
	}
	if c.GPS.Baud <= 0 {
		c.GPS.Baud = 9600
	}
	return nil
}

// Protocol returns the parsed default protocol. Validate must have
// accepted the config first.
func (c *Config) Protocol() identity.Protocol {
	p, _ := identity.ParseProtocol(c.DefaultProtocol)
	return p
}
