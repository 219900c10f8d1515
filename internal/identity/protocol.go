// Package identity builds the over-the-air identity of the tag: the
// advertising payload and device address derived from the key material of
// each finding network.
package identity

import (
	"fmt"
	"strings"
)

// Protocol selects which finding network the tag presents itself to.
type Protocol uint8

const (
	ProtocolApple Protocol = iota
	ProtocolGoogle
)

func (p Protocol) String() string {
	switch p {
	case ProtocolApple:
		return "apple"
	case ProtocolGoogle:
		return "google"
	default:
		return fmt.Sprintf("protocol(%d)", uint8(p))
	}
}

// Other returns the opposite network.
func (p Protocol) Other() Protocol {
	if p == ProtocolApple {
		return ProtocolGoogle
	}
	return ProtocolApple
}

func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "apple":
		return ProtocolApple, nil
	case "google":
		return ProtocolGoogle, nil
	}
	return 0, fmt.Errorf("unknown protocol %q (expected apple|google)", s)
}
