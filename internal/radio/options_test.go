package radio

import (
	"bytes"
	"testing"
	"time"

	"tinygo.org/x/bluetooth"

	"hybridtag/internal/identity"
)

func appleFrame(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, identity.AppleKeyLen)
	for i := range key {
		key[i] = byte(i + 1)
	}
	f, err := identity.AppleFrame(key)
	if err != nil {
		t.Fatalf("AppleFrame: %v", err)
	}
	return f
}

func googleFrame(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, identity.GoogleKeyLen)
	for i := range key {
		key[i] = byte(0x60 + i)
	}
	f, err := identity.GoogleFrame(key)
	if err != nil {
		t.Fatalf("GoogleFrame: %v", err)
	}
	return f
}

func TestAdvertisementOptionsApple(t *testing.T) {
	frame := appleFrame(t)
	opts, err := advertisementOptions(identity.ProtocolApple, frame, "HYBRID-TAG", false, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("advertisementOptions: %v", err)
	}
	if opts.AdvertisementType != bluetooth.AdvertisingTypeNonConnInd {
		t.Fatalf("advertisement type = %v", opts.AdvertisementType)
	}
	if opts.LocalName != "HYBRID-TAG" {
		t.Fatalf("local name = %q", opts.LocalName)
	}
	if len(opts.ManufacturerData) != 1 || len(opts.ServiceData) != 0 {
		t.Fatalf("element counts: mfg=%d svc=%d", len(opts.ManufacturerData), len(opts.ServiceData))
	}
	el := opts.ManufacturerData[0]
	if el.CompanyID != identity.AppleCompanyID {
		t.Fatalf("company id = %04x", el.CompanyID)
	}
	// The company ID travels in the element, not in the data.
	if !bytes.Equal(el.Data, frame[2:]) {
		t.Fatalf("manufacturer data = % x", el.Data)
	}
}

func TestAdvertisementOptionsGoogle(t *testing.T) {
	frame := googleFrame(t)
	opts, err := advertisementOptions(identity.ProtocolGoogle, frame, "HYBRID-TAG", false, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("advertisementOptions: %v", err)
	}
	if len(opts.ServiceData) != 1 || len(opts.ManufacturerData) != 0 {
		t.Fatalf("element counts: mfg=%d svc=%d", len(opts.ManufacturerData), len(opts.ServiceData))
	}
	el := opts.ServiceData[0]
	if el.UUID != bluetooth.New16BitUUID(identity.FMDNServiceUUID) {
		t.Fatalf("service uuid = %s", el.UUID.String())
	}
	if !bytes.Equal(el.Data, frame[2:]) {
		t.Fatalf("service data = % x", el.Data)
	}
}

func TestAdvertisementOptionsConnectable(t *testing.T) {
	opts, err := advertisementOptions(identity.ProtocolApple, appleFrame(t), "HYBRID-TAG", true, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("advertisementOptions: %v", err)
	}
	if opts.AdvertisementType != bluetooth.AdvertisingTypeInd {
		t.Fatalf("connectable advertisement type = %v", opts.AdvertisementType)
	}
}

func TestAdvertisementOptionsRejects(t *testing.T) {
	if _, err := advertisementOptions(identity.ProtocolApple, appleFrame(t)[:20], "x", false, time.Millisecond); err == nil {
		t.Errorf("truncated apple frame accepted")
	}
	// A google frame handed to the apple path has the wrong prefix.
	if _, err := advertisementOptions(identity.ProtocolApple, append(googleFrame(t), make([]byte, 6)...), "x", false, time.Millisecond); err == nil {
		t.Errorf("google prefix accepted as apple")
	}
	if _, err := advertisementOptions(identity.ProtocolGoogle, googleFrame(t)[1:], "x", false, time.Millisecond); err == nil {
		t.Errorf("truncated google frame accepted")
	}
}

func TestAdapterIndex(t *testing.T) {
	for id, want := range map[string]string{"hci0": "0", "hci1": "1", "hci12": "12", " hci0 ": "0"} {
		got, err := adapterIndex(id)
		if err != nil || got != want {
			t.Errorf("adapterIndex(%q) = %q, %v", id, got, err)
		}
	}
	for _, id := range []string{"", "hci", "wlan0", "hciX", "0"} {
		if _, err := adapterIndex(id); err == nil {
			t.Errorf("adapterIndex(%q) accepted", id)
		}
	}
}
