package identity

import "fmt"

// AddressFor derives the 6-byte device address from the first six key
// bytes. The returned array is ordered least-significant byte first, the
// way the controller stores it: addr[5] is the most significant byte on
// the air.
//
// The two MSBs of the on-air address are forced per network: Apple
// requires a static random address (both set), Google a non-resolvable
// private address (both clear). Receivers recover key bytes 1..5 intact;
// the clobbered bits of key byte 0 ride in the frame instead.
func AddressFor(p Protocol, key []byte) ([6]byte, error) {
	var a [6]byte
	if len(key) < 6 {
		return a, fmt.Errorf("key too short for address: %d bytes", len(key))
	}
	for i := 0; i < 6; i++ {
		a[5-i] = key[i]
	}
	switch p {
	case ProtocolApple:
		a[5] |= 0xC0
	case ProtocolGoogle:
		a[5] &= 0x3F
	default:
		return a, fmt.Errorf("unknown protocol %d", p)
	}
	return a, nil
}

// FormatAddress renders addr in display order, most significant byte
// first ("C0:11:22:33:44:55").
func FormatAddress(a [6]byte) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[5], a[4], a[3], a[2], a[1], a[0])
}
