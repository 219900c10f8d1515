package radio

import (
	"context"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"hybridtag/internal/util"
)

type PreflightOptions struct {
	RestartBluetoothService bool
}

// Preflight checks that the adapter is visible to BlueZ and powered
// before the engine takes over. Best-effort: problems are reported, not
// fatal, since the engine records switch failures anyway.
func Preflight(ctx context.Context, adapterID string, opt PreflightOptions) {
	adapterID = strings.TrimSpace(adapterID)
	if adapterID == "" {
		return
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		util.Linef("[PREFLIGHT]", util.ColorYellow, "dbus SystemBus error: %v", err)
		return
	}

	if !adapterExists(ctx, conn, adapterID) {
		util.Linef("[PREFLIGHT]", util.ColorYellow, "adapter %s missing", adapterID)
		if !opt.RestartBluetoothService || !util.IsRoot() {
			return
		}
		if !util.ServiceIsActive(ctx, "bluetooth") {
			util.Line("[PREFLIGHT]", util.ColorGray, "bluetooth service inactive -> restarting")
			_ = util.RestartService(ctx, "bluetooth")
		}
		t := time.NewTimer(1500 * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		if !adapterExists(ctx, conn, adapterID) {
			util.Linef("[PREFLIGHT]", util.ColorYellow, "adapter %s still missing", adapterID)
			return
		}
		util.Linef("[PREFLIGHT]", util.ColorGreen, "adapter %s back after service restart", adapterID)
	}

	if err := setAdapterPowered(ctx, conn, adapterID, true); err != nil {
		util.Linef("[PREFLIGHT]", util.ColorYellow, "power on %s: %v", adapterID, err)
	}
}

func adapterExists(ctx context.Context, conn *dbus.Conn, adapterID string) bool {
	root := conn.Object("org.bluez", dbus.ObjectPath("/"))
	call := root.CallWithContext(ctx, "org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0)
	if call.Err != nil {
		return false
	}
	var managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := call.Store(&managed); err != nil {
		return false
	}
	ifaces, ok := managed[dbus.ObjectPath("/org/bluez/"+adapterID)]
	if !ok {
		return false
	}
	_, ok = ifaces["org.bluez.Adapter1"]
	return ok
}
