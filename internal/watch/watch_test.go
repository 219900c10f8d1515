package watch

import (
	"bytes"
	"testing"
	"time"

	tg "tinygo.org/x/bluetooth"

	"hybridtag/internal/identity"
)

func testMaterial() identity.Material {
	apple := make([]byte, identity.AppleKeyLen)
	google := make([]byte, identity.GoogleKeyLen)
	for i := range apple {
		apple[i] = byte(i + 1)
	}
	for i := range google {
		google[i] = byte(0x40 + i)
	}
	return identity.Material{AppleKey: apple, GoogleKey: google}
}

func TestShouldRecordCooldown(t *testing.T) {
	last := make(map[string]time.Time)
	now := time.Now()

	if !shouldRecord(last, "AA:BB:CC:DD:EE:FF", now) {
		t.Fatal("first sighting should record")
	}
	if shouldRecord(last, "AA:BB:CC:DD:EE:FF", now.Add(10*time.Second)) {
		t.Error("sighting inside cooldown should not record")
	}
	if !shouldRecord(last, "AA:BB:CC:DD:EE:FF", now.Add(sightingCooldown+time.Second)) {
		t.Error("sighting after cooldown should record")
	}

	// A different device is tracked independently.
	if !shouldRecord(last, "11:22:33:44:55:66", now.Add(5*time.Second)) {
		t.Error("unrelated device should record")
	}
}

func TestClassifyRandomMSB(t *testing.T) {
	cases := []struct {
		msb  byte
		want string
	}{
		{0x00, "nrpa"},
		{0x40, "resolvable"},
		{0x80, "reserved"},
		{0xC0, "static"},
		{0xD8, "static"},
	}
	for _, c := range cases {
		if got := classifyRandomMSB(c.msb); got != c.want {
			t.Errorf("classifyRandomMSB(0x%02X) = %q, want %q", c.msb, got, c.want)
		}
	}
}

func TestMatchPayloadApple(t *testing.T) {
	material := testMaterial()
	frame, err := identity.AppleFrame(material.AppleKey)
	if err != nil {
		t.Fatal(err)
	}
	mfg := []tg.ManufacturerDataElement{{CompanyID: identity.AppleCompanyID, Data: frame[2:]}}

	network, own, payload, ok := matchPayload(mfg, nil, material)
	if !ok {
		t.Fatal("own Offline Finding frame not matched")
	}
	if network != identity.ProtocolApple {
		t.Errorf("network = %v, want apple", network)
	}
	if !own {
		t.Error("own key not recognized")
	}
	if !bytes.Equal(payload, frame[2:]) {
		t.Error("payload does not round-trip the frame body")
	}

	// Same frame checked against different material is foreign, not invisible.
	other := testMaterial()
	other.AppleKey[10] ^= 0xFF
	network, own, _, ok = matchPayload(mfg, nil, other)
	if !ok || network != identity.ProtocolApple {
		t.Fatal("foreign Offline Finding frame not matched")
	}
	if own {
		t.Error("foreign key reported as own")
	}
}

func TestMatchPayloadGoogle(t *testing.T) {
	material := testMaterial()
	frame, err := identity.GoogleFrame(material.GoogleKey)
	if err != nil {
		t.Fatal(err)
	}
	svc := []tg.ServiceDataElement{{UUID: tg.New16BitUUID(identity.FMDNServiceUUID), Data: frame[2:]}}

	network, own, payload, ok := matchPayload(nil, svc, material)
	if !ok {
		t.Fatal("own FMDN frame not matched")
	}
	if network != identity.ProtocolGoogle {
		t.Errorf("network = %v, want google", network)
	}
	if !own {
		t.Error("own key not recognized")
	}
	if !bytes.Equal(payload, frame[2:]) {
		t.Error("payload does not round-trip the frame body")
	}

	other := testMaterial()
	other.GoogleKey[3] ^= 0xFF
	_, own, _, ok = matchPayload(nil, svc, other)
	if !ok {
		t.Fatal("foreign FMDN frame not matched")
	}
	if own {
		t.Error("foreign key reported as own")
	}
}

func TestMatchPayloadIgnoresUnrelated(t *testing.T) {
	material := testMaterial()

	// Wrong company ID.
	mfg := []tg.ManufacturerDataElement{{CompanyID: 0x0006, Data: make([]byte, 27)}}
	if _, _, _, ok := matchPayload(mfg, nil, material); ok {
		t.Error("non-Apple manufacturer data matched")
	}

	// Apple company ID but not an Offline Finding payload.
	mfg = []tg.ManufacturerDataElement{{CompanyID: identity.AppleCompanyID, Data: []byte{0x10, 0x05, 0x01}}}
	if _, _, _, ok := matchPayload(mfg, nil, material); ok {
		t.Error("non-OF Apple payload matched")
	}

	// Service data under a different UUID.
	svc := []tg.ServiceDataElement{{UUID: tg.New16BitUUID(0xFE9F), Data: make([]byte, 21)}}
	if _, _, _, ok := matchPayload(nil, svc, material); ok {
		t.Error("non-FMDN service data matched")
	}

	// Truncated FMDN payload.
	svc = []tg.ServiceDataElement{{UUID: tg.New16BitUUID(identity.FMDNServiceUUID), Data: make([]byte, 5)}}
	if _, _, _, ok := matchPayload(nil, svc, material); ok {
		t.Error("truncated FMDN payload matched")
	}

	if _, _, _, ok := matchPayload(nil, nil, material); ok {
		t.Error("empty payload matched")
	}
}
