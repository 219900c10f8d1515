package blink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LED is a single on/off indicator.
type LED interface {
	Set(on bool) error
}

// SysfsLED drives a kernel LED class device under /sys/class/leds.
type SysfsLED struct {
	brightness string
}

// NewSysfsLED returns an LED backed by /sys/class/leds/<name>. The probe
// fails when the LED does not exist.
func NewSysfsLED(name string) (*SysfsLED, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("empty LED name")
	}
	path := filepath.Join("/sys/class/leds", name, "brightness")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("LED %s not available: %w", name, err)
	}
	return &SysfsLED{brightness: path}, nil
}

func (l *SysfsLED) Set(on bool) error {
	v := []byte("0")
	if on {
		v = []byte("1")
	}
	return os.WriteFile(l.brightness, v, 0o644)
}

// NopLED discards writes. Used when no LED is configured.
type NopLED struct{}

func (NopLED) Set(bool) error { return nil }
