package identity

import "testing"

func TestAddressForApple(t *testing.T) {
	key := appleTestKey()
	a, err := AddressFor(ProtocolApple, key)
	if err != nil {
		t.Fatalf("AddressFor failed: %v", err)
	}
	if a[5]&0xC0 != 0xC0 {
		t.Fatalf("apple address MSBs = %02x, want static random", a[5])
	}
	if a[5]&0x3F != key[0]&0x3F {
		t.Fatalf("apple address lost low key bits: %02x vs %02x", a[5], key[0])
	}
	for i := 1; i < 6; i++ {
		if a[5-i] != key[i] {
			t.Fatalf("addr[%d] = %02x, want key[%d] = %02x", 5-i, a[5-i], i, key[i])
		}
	}
}

func TestAddressForGoogle(t *testing.T) {
	key := googleTestKey()
	key[0] = 0xF3 // both MSBs set, must be cleared on air
	a, err := AddressFor(ProtocolGoogle, key)
	if err != nil {
		t.Fatalf("AddressFor failed: %v", err)
	}
	if a[5]&0xC0 != 0x00 {
		t.Fatalf("google address MSBs = %02x, want non-resolvable private", a[5])
	}
	if a[5] != key[0]&0x3F {
		t.Fatalf("addr[5] = %02x, want %02x", a[5], key[0]&0x3F)
	}
	if a[0] != key[5] {
		t.Fatalf("addr[0] = %02x, want key[5] = %02x", a[0], key[5])
	}
}

func TestAddressForShortKey(t *testing.T) {
	if _, err := AddressFor(ProtocolApple, []byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestFormatAddress(t *testing.T) {
	a := [6]byte{0x55, 0x44, 0x33, 0x22, 0x11, 0xC5}
	if got := FormatAddress(a); got != "C5:11:22:33:44:55" {
		t.Fatalf("FormatAddress = %q", got)
	}
}
