// Package gps tracks the host's position from a serial NMEA receiver so
// watch-mode sightings can be geotagged. A fix older than the freshness
// timeout is still reported, marked as cached.
package gps

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"hybridtag/internal/util"
)

const defaultFreshness = 30 * time.Second

type Config struct {
	// Device: e.g. /dev/ttyUSB0. Empty means auto-detect.
	Device string
	// Baud: typical 9600.
	Baud int
}

type State struct {
	mu sync.RWMutex

	enabled bool
	status  string
	timeout time.Duration

	latestLat float64
	latestLon float64
	lastFix   time.Time

	// activeCloser interrupts a blocked serial read on Stop.
	activeCloser func()
}

func NewState(enabled bool, timeout time.Duration) *State {
	if timeout <= 0 {
		timeout = defaultFreshness
	}
	return &State{enabled: enabled, status: "offline", timeout: timeout}
}

// FixSnapshot returns the last known position. ok is true when at least
// one fix has been received; cached is true when it is older than the
// freshness timeout.
func (s *State) FixSnapshot() (lat float64, lon float64, ok bool, cached bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.enabled || s.lastFix.IsZero() {
		return 0, 0, false, false
	}
	return s.latestLat, s.latestLon, true, time.Since(s.lastFix) > s.timeout
}

// GPSStringForRecord renders the last known fix for console lines:
// "lat, lon" when fresh, "(lat, lon)" when cached, nil when no fix has
// ever arrived.
func (s *State) GPSStringForRecord() *string {
	lat, lon, ok, cached := s.FixSnapshot()
	if !ok {
		return nil
	}
	v := fmt.Sprintf("%f, %f", lat, lon)
	if cached {
		v = "(" + v + ")"
	}
	return &v
}

func (s *State) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Stop interrupts the active serial reader. Safe to call repeatedly.
func (s *State) Stop() {
	s.mu.RLock()
	closer := s.activeCloser
	s.mu.RUnlock()
	if closer != nil {
		closer()
	}
}

// Start launches the reader and status goroutines. With no configured
// device the first detected serial port is used.
func (s *State) Start(ctx context.Context, cfg Config) error {
	if !s.enabled {
		return nil
	}
	cfg.Device = strings.TrimSpace(cfg.Device)
	if cfg.Device == "" {
		cfg.Device = GuessSerialDevice()
	}
	if cfg.Device == "" {
		return fmt.Errorf("gps enabled but no serial device detected")
	}
	if cfg.Baud <= 0 {
		cfg.Baud = 9600
	}

	go s.updateStatusLoop(ctx)
	go s.runSerialLoop(ctx, cfg.Device, cfg.Baud)
	return nil
}

func (s *State) updateFix(lat, lon float64) {
	s.mu.Lock()
	s.latestLat = lat
	s.latestLon = lon
	s.lastFix = time.Now()
	s.mu.Unlock()
}

func (s *State) setActiveCloser(closer func()) {
	s.mu.Lock()
	s.activeCloser = closer
	s.mu.Unlock()
}

func (s *State) clearActiveCloser() {
	s.mu.Lock()
	s.activeCloser = nil
	s.mu.Unlock()
}

func (s *State) updateStatusLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	prev := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.lastFix.IsZero() && time.Since(s.lastFix) <= s.timeout {
				s.status = "online"
			} else {
				s.status = "offline"
			}
			cur := s.status
			s.mu.Unlock()

			// Emit transitions once.
			if prev != "" && cur != prev {
				if cur == "online" {
					util.Line("[GPS]", util.ColorGreen, "signal acquired")
					log.Printf("gps: signal acquired")
				} else if cached := s.GPSStringForRecord(); cached != nil {
					util.Linef("[GPS]", util.ColorYellow, "signal lost (using last known %s)", *cached)
					log.Printf("gps: signal lost (using last known %s)", *cached)
				} else {
					util.Line("[GPS]", util.ColorYellow, "signal lost (no last known fix)")
					log.Printf("gps: signal lost")
				}
			}
			prev = cur
		}
	}
}
