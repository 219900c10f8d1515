package util

import (
	"bytes"
	"testing"
)

func TestIsMACAddress(t *testing.T) {
	good := []string{"AA:BB:CC:DD:EE:FF", "aa-bb-cc-dd-ee-ff", " C0:11:22:33:44:55 "}
	for _, s := range good {
		if !IsMACAddress(s) {
			t.Errorf("IsMACAddress(%q) = false, want true", s)
		}
	}
	bad := []string{"", "AABBCCDDEEFF", "AA:BB:CC:DD:EE", "zz:bb:cc:dd:ee:ff", "hello"}
	for _, s := range bad {
		if IsMACAddress(s) {
			t.Errorf("IsMACAddress(%q) = true, want false", s)
		}
	}
}

func TestBytesToHex(t *testing.T) {
	if got := BytesToHex(nil); got != "" {
		t.Fatalf("BytesToHex(nil) = %q, want empty", got)
	}
	if got := BytesToHex([]byte{0x4C, 0x00, 0xFF}); got != "4c 00 ff" {
		t.Fatalf("BytesToHex = %q", got)
	}
}

func TestHexCompactParseHexRoundTrip(t *testing.T) {
	in := []byte{0x00, 0x1F, 0xAB, 0xFF}
	s := HexCompact(in)
	if s != "001fabff" {
		t.Fatalf("HexCompact = %q", s)
	}
	out, err := ParseHex(s)
	if err != nil {
		t.Fatalf("ParseHex failed: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Fatalf("round trip mismatch: %x != %x", in, out)
	}
}

func TestParseHexSeparators(t *testing.T) {
	for _, s := range []string{"4c:00:12", "4c 00 12", "4C-00-12", "4c0012"} {
		out, err := ParseHex(s)
		if err != nil {
			t.Fatalf("ParseHex(%q) failed: %v", s, err)
		}
		if !bytes.Equal(out, []byte{0x4C, 0x00, 0x12}) {
			t.Fatalf("ParseHex(%q) = %x", s, out)
		}
	}
}

func TestParseHexErrors(t *testing.T) {
	if _, err := ParseHex("4c0"); err == nil {
		t.Fatal("expected error for odd length")
	}
	if _, err := ParseHex("zz"); err == nil {
		t.Fatal("expected error for invalid character")
	}
}

func TestSafeName(t *testing.T) {
	if got := SafeName("  "); got != "Unknown" {
		t.Fatalf("SafeName blank = %q", got)
	}
	if got := SafeName("AA:BB:CC:DD:EE:FF"); got != "Unknown" {
		t.Fatalf("SafeName mac = %q", got)
	}
	if got := SafeName(" MyTag "); got != "MyTag" {
		t.Fatalf("SafeName = %q", got)
	}
}
