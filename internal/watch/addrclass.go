package watch

import (
	tg "tinygo.org/x/bluetooth"
)

// classifyAddress labels how an advertiser numbered itself. Finder tags
// are expected to use static random (apple) or non-resolvable private
// (google) addresses; everything else shows up as-is in the records.
func classifyAddress(addr tg.Address) string {
	if !addr.IsRandom() {
		return "public"
	}
	b, err := addr.MAC.MarshalBinary()
	if err != nil || len(b) < 1 {
		return "random"
	}
	return classifyRandomMSB(b[0])
}

// classifyRandomMSB decodes the two top bits of a random address.
func classifyRandomMSB(msb byte) string {
	switch (msb >> 6) & 0x03 {
	case 0:
		return "nrpa"
	case 1:
		return "resolvable"
	case 2:
		return "reserved"
	default:
		return "static"
	}
}
