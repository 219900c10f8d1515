package util

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	macRe = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)
)

func IsMACAddress(s string) bool {
	return macRe.MatchString(strings.TrimSpace(s))
}

func NowTimestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

// BytesToHex renders bytes as space-separated lowercase hex pairs for console
// and log output ("4c 00 12 19 ...").
func BytesToHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, len(b)*3-1)
	for i, v := range b {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, hexdigits[v>>4], hexdigits[v&0x0f])
	}
	return string(out)
}

// HexCompact renders bytes as contiguous lowercase hex, the form accepted
// back by ParseHex.
func HexCompact(b []byte) string {
	return hex.EncodeToString(b)
}

// ParseHex decodes a hex string, tolerating spaces, colons and dashes
// between byte pairs so pasted key material in any common form works.
func ParseHex(s string) ([]byte, error) {
	clean := make([]byte, 0, len(s))
	for _, r := range s {
		switch {
		case r == ' ' || r == ':' || r == '-' || r == '\t':
			continue
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
			clean = append(clean, byte(r))
		default:
			return nil, fmt.Errorf("invalid hex character %q", r)
		}
	}
	out, err := hex.DecodeString(string(clean))
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return out, nil
}

func SafeName(localName string) string {
	name := strings.TrimSpace(localName)
	if name == "" {
		return "Unknown"
	}
	if IsMACAddress(name) {
		return "Unknown"
	}
	return name
}
