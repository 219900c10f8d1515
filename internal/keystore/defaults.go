package keystore

import (
	"encoding/hex"

	"hybridtag/internal/identity"
)

// Factory key material, used until a provisioner replaces it. Both keys
// are public sample values, not paired with any real owner account.
const (
	defaultAppleKeyHex  = "58f4bd44906d1a43cbbccbc5061bca9287cc69b91db1d88fccb052ce"
	defaultGoogleKeyHex = "34aaaffb11e8bf854630bd2ce56fa6b06603b20b"
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("keystore: bad built-in key: " + err.Error())
	}
	return b
}

// DefaultMaterial returns a fresh copy of the factory key material.
func DefaultMaterial() identity.Material {
	apple := mustHex(defaultAppleKeyHex)
	google := mustHex(defaultGoogleKeyHex)
	return identity.Material{
		AppleKey:  append([]byte(nil), apple...),
		GoogleKey: append([]byte(nil), google...),
	}
}
