package provision

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"tinygo.org/x/bluetooth"

	"hybridtag/internal/identity"
	"hybridtag/internal/util"
)

const (
	scanTimeout    = 20 * time.Second
	connectTimeout = 15 * time.Second
	statusTimeout  = 3 * time.Second
	settleDelay    = 150 * time.Millisecond
)

// ClientOptions selects the tag to provision and the credentials to use.
// Name and Address are alternatives; Address wins when both are set.
type ClientOptions struct {
	AdapterID string
	Name      string
	Address   string
	AuthToken string
	Scheme    Scheme
}

// Provision pushes a new key onto a running tag over the air: scan,
// connect, authenticate, stream the chunks, then confirm the commit via
// the status characteristic. The tag restarts itself shortly after, so
// the confirmation poll runs fast.
func Provision(ctx context.Context, opts ClientOptions, key []byte) error {
	if len(opts.AuthToken) != AuthTokenLen {
		return fmt.Errorf("auth token must be %d bytes, got %d", AuthTokenLen, len(opts.AuthToken))
	}
	if err := opts.Scheme.Validate(len(key)); err != nil {
		return fmt.Errorf("chunk scheme does not fit key: %w", err)
	}
	p, err := identity.ProtocolForKeyLen(len(key))
	if err != nil {
		return err
	}
	if opts.Name == "" && opts.Address == "" {
		return fmt.Errorf("need a device name or address to provision")
	}

	adapter := bluetooth.DefaultAdapter
	if opts.AdapterID != "" {
		adapter = bluetooth.NewAdapter(opts.AdapterID)
	}
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}

	result, err := findTag(ctx, adapter, opts.Name, opts.Address)
	if err != nil {
		return err
	}
	addrText, _ := result.Address.MarshalText()
	util.Linef("[PROV]", util.ColorCyan, "connecting to %s", string(addrText))

	device, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(connectTimeout),
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer device.Disconnect()

	authChar, keyChar, statusChar, err := discoverProvisioning(device)
	if err != nil {
		return err
	}

	if _, err := authChar.WriteWithoutResponse([]byte(opts.AuthToken)); err != nil {
		return fmt.Errorf("write auth token: %w", err)
	}
	if err := waitStatus(statusChar, StatusAuthenticated); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	util.Line("[PROV]", util.ColorGreen, "authenticated")

	off := 0
	for i, size := range opts.Scheme {
		time.Sleep(settleDelay)
		if _, err := keyChar.WriteWithoutResponse(key[off : off+size]); err != nil {
			return fmt.Errorf("write key chunk %d: %w", i, err)
		}
		off += size
		util.Linef("[PROV]", util.ColorGray, "chunk %d/%d sent (%d bytes)", i+1, len(opts.Scheme), size)
	}

	if err := waitStatus(statusChar, StatusCommitted); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	util.Linef("[PROV]", util.ColorGreen, "%s key committed, tag will restart", p)
	log.Printf("provision client: %s key committed on %s", p, string(addrText))
	return nil
}

// findTag scans until the target shows up. StopScan on a fresh adapter
// clears any stuck discovery session left by a previous run.
func findTag(ctx context.Context, adapter *bluetooth.Adapter, name, address string) (bluetooth.ScanResult, error) {
	_ = adapter.StopScan()
	time.Sleep(settleDelay)

	util.Linef("[PROV]", util.ColorGray, "scanning for tag (name=%q address=%q)", name, address)

	var found bluetooth.ScanResult
	var ok bool
	done := make(chan error, 1)
	go func() {
		done <- adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !matchesTarget(result, name, address) {
				return
			}
			found = result
			ok = true
			_ = a.StopScan()
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			return bluetooth.ScanResult{}, fmt.Errorf("scan: %w", err)
		}
	case <-time.After(scanTimeout):
		_ = adapter.StopScan()
		<-done
	case <-ctx.Done():
		_ = adapter.StopScan()
		<-done
		return bluetooth.ScanResult{}, ctx.Err()
	}

	if !ok {
		return bluetooth.ScanResult{}, fmt.Errorf("tag not found within %s", scanTimeout)
	}
	return found, nil
}

func matchesTarget(result bluetooth.ScanResult, name, address string) bool {
	if address != "" {
		text, _ := result.Address.MarshalText()
		return strings.EqualFold(strings.TrimSpace(string(text)), strings.TrimSpace(address))
	}
	return strings.EqualFold(result.LocalName(), name)
}

func discoverProvisioning(device bluetooth.Device) (auth, key, status *bluetooth.DeviceCharacteristic, err error) {
	services, err := device.DiscoverServices(nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("discover services: %w", err)
	}
	var svc *bluetooth.DeviceService
	for i := range services {
		if services[i].UUID() == ServiceUUID {
			svc = &services[i]
			break
		}
	}
	if svc == nil {
		return nil, nil, nil, fmt.Errorf("provisioning service not found (is the tag in management mode?)")
	}

	chars, err := svc.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("discover characteristics: %w", err)
	}
	for i := range chars {
		switch chars[i].UUID() {
		case AuthCharUUID:
			auth = &chars[i]
		case KeyCharUUID:
			key = &chars[i]
		case StatusCharUUID:
			status = &chars[i]
		}
	}
	if auth == nil || key == nil || status == nil {
		return nil, nil, nil, fmt.Errorf("provisioning characteristics incomplete")
	}
	return auth, key, status, nil
}

// waitStatus polls the status characteristic until it reaches want.
// StatusError aborts immediately.
func waitStatus(status *bluetooth.DeviceCharacteristic, want Status) error {
	deadline := time.Now().Add(statusTimeout)
	buf := make([]byte, 4)
	for {
		time.Sleep(100 * time.Millisecond)
		n, err := status.Read(buf)
		if err != nil {
			return fmt.Errorf("read status: %w", err)
		}
		if n >= 1 {
			got := Status(buf[0])
			if got == want {
				return nil
			}
			if got == StatusError {
				return fmt.Errorf("tag reported %s", got)
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for status %s", want)
		}
	}
}
