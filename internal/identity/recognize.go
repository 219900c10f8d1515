package identity

// OfflineFinding is a decoded Offline Finding payload as it appears in
// manufacturer data, after the company ID prefix.
type OfflineFinding struct {
	Status  byte
	KeyTail []byte // key bytes 6..27
	KeyBits byte   // top two bits of key byte 0
	Hint    byte
}

// ParseOfflineFinding decodes manufacturer data carrying an Offline
// Finding payload. The payload excludes the 2-byte company ID.
func ParseOfflineFinding(payload []byte) (OfflineFinding, bool) {
	if len(payload) != AppleFrameLen-2 {
		return OfflineFinding{}, false
	}
	if payload[0] != appleADType || payload[1] != applePayloadLen {
		return OfflineFinding{}, false
	}
	return OfflineFinding{
		Status:  payload[2],
		KeyTail: payload[3:25],
		KeyBits: payload[25] & 0x03,
		Hint:    payload[26],
	}, true
}

// MatchesKey reports whether the payload was derived from key. Only key
// bytes 6..27 and the top bits of byte 0 are visible in the payload;
// bytes 0..5 travel in the device address and are not checked here.
func (of OfflineFinding) MatchesKey(key []byte) bool {
	if len(key) != AppleKeyLen {
		return false
	}
	if of.KeyBits != (key[0]>>6)&0x03 {
		return false
	}
	for i, b := range of.KeyTail {
		if key[6+i] != b {
			return false
		}
	}
	return true
}

// FMDNFrame is a decoded FMDN payload as it appears in service data,
// after the 16-bit service UUID.
type FMDNFrame struct {
	FrameType byte
	Key       []byte
}

// ParseFMDN decodes service data carrying an FMDN payload. The payload
// excludes the UUID.
func ParseFMDN(payload []byte) (FMDNFrame, bool) {
	if len(payload) != GoogleFrameLen-2 {
		return FMDNFrame{}, false
	}
	return FMDNFrame{FrameType: payload[0], Key: payload[1:21]}, true
}

// MatchesKey reports whether the payload carries key.
func (f FMDNFrame) MatchesKey(key []byte) bool {
	if len(key) != GoogleKeyLen || len(f.Key) != GoogleKeyLen {
		return false
	}
	for i := range key {
		if key[i] != f.Key[i] {
			return false
		}
	}
	return true
}
