package identity

import "fmt"

// Key lengths per network.
const (
	AppleKeyLen  = 28
	GoogleKeyLen = 20
)

// Frame lengths including the 2-byte AD prefix (company ID or 16-bit
// service UUID, little-endian).
const (
	AppleFrameLen  = 29
	GoogleFrameLen = 23
)

// Identifiers carried in the frame prefixes.
const (
	AppleCompanyID  uint16 = 0x004C
	FMDNServiceUUID uint16 = 0xFE2C
)

// Fixed payload bytes.
const (
	appleADType     = 0x12 // company-specific Offline Finding type
	applePayloadLen = 0x19 // bytes remaining after this one (25)
	appleStatusByte = 0x00 // maintained, battery full
	googleFrameType = 0x00
)

// Material holds the advertised key for each network. A tag always has
// material for both networks; unprovisioned slots carry compiled-in
// defaults.
type Material struct {
	AppleKey  []byte
	GoogleKey []byte
}

// ProtocolForKeyLen maps a key length to the network that uses it.
func ProtocolForKeyLen(n int) (Protocol, error) {
	switch n {
	case AppleKeyLen:
		return ProtocolApple, nil
	case GoogleKeyLen:
		return ProtocolGoogle, nil
	}
	return 0, fmt.Errorf("no network uses %d-byte keys", n)
}

// Key returns the key for p without copying.
func (m Material) Key(p Protocol) []byte {
	if p == ProtocolApple {
		return m.AppleKey
	}
	return m.GoogleKey
}

// Frame builds the full advertising frame for p from m.
func (m Material) Frame(p Protocol) ([]byte, error) {
	if p == ProtocolApple {
		return AppleFrame(m.AppleKey)
	}
	return GoogleFrame(m.GoogleKey)
}

// AppleFrame builds the 29-byte Offline Finding advertising frame.
//
// Layout: company ID 0x004C (LE), OF type 0x12, payload length 0x19,
// status, key bytes 6..27, the top two bits of key byte 0, and a zero
// hint byte. The first six key bytes travel in the device address, not
// in the frame.
func AppleFrame(key []byte) ([]byte, error) {
	if len(key) != AppleKeyLen {
		return nil, fmt.Errorf("apple key must be %d bytes, got %d", AppleKeyLen, len(key))
	}
	f := make([]byte, AppleFrameLen)
	f[0] = byte(AppleCompanyID & 0xFF)
	f[1] = byte(AppleCompanyID >> 8)
	f[2] = appleADType
	f[3] = applePayloadLen
	f[4] = appleStatusByte
	copy(f[5:27], key[6:28])
	f[27] = (key[0] >> 6) & 0x03
	f[28] = 0x00
	return f, nil
}

// GoogleFrame builds the 23-byte FMDN advertising frame.
//
// Layout: service UUID 0xFE2C (LE), frame type 0x00, then the full
// 20-byte beacon identifier.
func GoogleFrame(key []byte) ([]byte, error) {
	if len(key) != GoogleKeyLen {
		return nil, fmt.Errorf("google key must be %d bytes, got %d", GoogleKeyLen, len(key))
	}
	f := make([]byte, GoogleFrameLen)
	f[0] = byte(FMDNServiceUUID & 0xFF)
	f[1] = byte(FMDNServiceUUID >> 8)
	f[2] = googleFrameType
	copy(f[3:23], key[0:20])
	return f, nil
}
