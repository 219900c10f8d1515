// Package monitor tails a flashed tag's serial console.
package monitor

import (
	"bufio"
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"go.bug.st/serial"

	"hybridtag/internal/gps"
	"hybridtag/internal/util"
)

const (
	DefaultBaud   = 115200
	reopenBackoff = 2 * time.Second
)

type Options struct {
	Device string
	Baud   int
}

// Run tails the serial console until ctx is cancelled. The port is
// reopened whenever it drops; tags reboot after provisioning, so drops
// are expected.
func Run(ctx context.Context, opts Options) error {
	dev := opts.Device
	if dev == "" {
		dev = gps.GuessSerialDevice()
		if dev == "" {
			return errors.New("no serial device found, pass one with --device")
		}
		util.Linef("[MONITOR]", util.ColorCyan, "Using serial device %s", dev)
	}
	baud := opts.Baud
	if baud <= 0 {
		baud = DefaultBaud
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		err := tail(ctx, dev, baud)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			util.Linef("[MONITOR]", util.ColorYellow, "Serial console lost (%v), retrying", err)
			log.Printf("monitor: %s: %v", dev, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reopenBackoff):
		}
	}
}

func tail(ctx context.Context, dev string, baud int) error {
	port, err := serial.Open(dev, &serial.Mode{BaudRate: baud})
	if err != nil {
		return err
	}
	defer port.Close()

	// Closing the port from another goroutine unblocks the scanner.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			port.Close()
		case <-done:
		}
	}()

	util.Linef("[MONITOR]", util.ColorGreen, "Connected to %s @ %d baud", dev, baud)
	sc := bufio.NewScanner(port)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		util.Line("", "", util.Colorize(line, lineColor(line)))
		log.Printf("serial: %s", line)
	}
	return sc.Err()
}

// lineColor picks a highlight for console lines worth noticing.
func lineColor(line string) string {
	l := strings.ToLower(line)
	switch {
	case strings.Contains(l, "err") || strings.Contains(l, "fail"):
		return util.ColorRed
	case strings.Contains(l, "provision") || strings.Contains(l, "commit"):
		return util.ColorGreen
	case strings.Contains(l, "switch") || strings.Contains(l, "advertis"):
		return util.ColorCyan
	}
	return ""
}
