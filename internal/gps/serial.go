package gps

import (
	"bufio"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"hybridtag/internal/util"
)

func (s *State) runSerialLoop(ctx context.Context, devPath string, baud int) {
	connected := false
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !connected {
			util.Linef("[GPS]", util.ColorGray, "opening serial %s (%d baud)", devPath, baud)
			log.Printf("gps: opening serial %s (%d baud)", devPath, baud)
		}
		connected = true
		if err := s.readSerial(ctx, devPath, baud); err != nil {
			connected = false
			util.Linef("[GPS]", util.ColorYellow, "serial disconnected: %v", err)
			log.Printf("gps: serial disconnected: %v", err)

			// Hot-plug: the device path may change on replug.
			if guessed := GuessSerialDevice(); guessed != "" && guessed != devPath {
				util.Linef("[GPS]", util.ColorGray, "serial device changed -> %s", guessed)
				log.Printf("gps: serial device changed -> %s", guessed)
				devPath = guessed
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (s *State) readSerial(ctx context.Context, dev string, baud int) error {
	port, err := serial.Open(dev, &serial.Mode{BaudRate: baud})
	if err != nil {
		return err
	}
	defer port.Close()

	s.setActiveCloser(func() {
		_ = port.Close()
	})
	defer s.clearActiveCloser()

	// Closing the port is the only way out of a blocked read.
	go func() {
		<-ctx.Done()
		_ = port.Close()
	}()

	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sent, err := nmea.Parse(line)
		if err != nil {
			continue
		}

		switch v := sent.(type) {
		case nmea.RMC:
			if strings.EqualFold(v.Validity, "A") {
				s.updateFix(v.Latitude, v.Longitude)
			}
		case nmea.GGA:
			// FixQuality "0" means invalid.
			if v.FixQuality != "0" && (v.Latitude != 0 || v.Longitude != 0) {
				s.updateFix(v.Latitude, v.Longitude)
			}
		case nmea.GLL:
			if strings.EqualFold(v.Validity, "A") {
				s.updateFix(v.Latitude, v.Longitude)
			}
		case nmea.GNS:
			if v.Latitude != 0 || v.Longitude != 0 {
				s.updateFix(v.Latitude, v.Longitude)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("serial reader stopped")
}

// ListSerialPorts returns the serial device paths on the host. USB GPS
// receivers typically show up as /dev/ttyUSB* or /dev/ttyACM*.
func ListSerialPorts() ([]string, error) {
	detailed, err := enumerator.GetDetailedPortsList()
	if err == nil && len(detailed) > 0 {
		out := make([]string, 0, len(detailed))
		for _, p := range detailed {
			out = append(out, p.Name)
		}
		return out, nil
	}

	ports, err2 := serial.GetPortsList()
	if err2 != nil {
		if err != nil {
			return nil, err
		}
		return nil, err2
	}
	return ports, nil
}

// GuessSerialDevice picks a likely GPS device, preferring the stable
// by-id symlinks. Empty when nothing is detected.
func GuessSerialDevice() string {
	if matches, _ := filepath.Glob("/dev/serial/by-id/*"); len(matches) > 0 {
		return matches[0]
	}
	if ports, _ := ListSerialPorts(); len(ports) > 0 {
		return ports[0]
	}
	for _, c := range []string{"/dev/ttyACM0", "/dev/ttyUSB0", "/dev/ttyAMA0"} {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}
