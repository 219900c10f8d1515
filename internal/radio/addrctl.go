package radio

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"hybridtag/internal/identity"
)

const (
	addrChangeTimeout = 10 * time.Second
	powerSettle       = 300 * time.Millisecond
)

// setControllerAddress programs addr as the controller's BD_ADDR via
// btmgmt. The controller only accepts the change while powered off, so
// the adapter is power-cycled through BlueZ around the call.
func setControllerAddress(adapterID string, addr [6]byte) error {
	index, err := adapterIndex(adapterID)
	if err != nil {
		return err
	}
	addrStr := identity.FormatAddress(addr)

	ctx, cancel := context.WithTimeout(context.Background(), addrChangeTimeout)
	defer cancel()

	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("dbus SystemBus: %w", err)
	}

	if err := setAdapterPowered(ctx, conn, adapterID, false); err != nil {
		return fmt.Errorf("power off %s: %w", adapterID, err)
	}
	time.Sleep(powerSettle)

	out, err := exec.CommandContext(ctx, "btmgmt", "--index", index, "public-addr", addrStr).CombinedOutput()
	if err != nil {
		// Bring the controller back so the next switch can still try.
		_ = setAdapterPowered(ctx, conn, adapterID, true)
		return fmt.Errorf("btmgmt public-addr %s: %v (%s)", addrStr, err, strings.TrimSpace(string(out)))
	}

	if err := setAdapterPowered(ctx, conn, adapterID, true); err != nil {
		return fmt.Errorf("power on %s: %w", adapterID, err)
	}
	time.Sleep(powerSettle)
	return nil
}

func setAdapterPowered(ctx context.Context, conn *dbus.Conn, adapterID string, on bool) error {
	adapterPath := dbus.ObjectPath("/org/bluez/" + strings.TrimSpace(adapterID))
	obj := conn.Object("org.bluez", adapterPath)
	return obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Set", 0,
		"org.bluez.Adapter1", "Powered", dbus.MakeVariant(on)).Err
}

// adapterIndex extracts the controller index btmgmt wants from an hciN id.
func adapterIndex(adapterID string) (string, error) {
	id := strings.TrimSpace(adapterID)
	if !strings.HasPrefix(id, "hci") || len(id) == len("hci") {
		return "", fmt.Errorf("adapter id %q is not of the form hciN", adapterID)
	}
	index := id[len("hci"):]
	for _, c := range index {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("adapter id %q is not of the form hciN", adapterID)
		}
	}
	return index, nil
}
