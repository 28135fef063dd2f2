package identity

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

// NormalizeMAC returns mac as six lowercase colon-separated octets.
// It accepts colon or hyphen separators (with or without leading zeros),
// Cisco dotted form, and bare 12-digit hex.
func NormalizeMAC(mac string) (string, error) {
	s := strings.TrimSpace(mac)
	if s == "" {
		return "", fmt.Errorf("%w: empty mac", ErrNormalization)
	}

	var octets []string
	switch {
	case strings.ContainsAny(s, ":-"):
		octets = strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '-' })
		if len(octets) != 6 {
			return "", fmt.Errorf("%w: mac %q does not have 6 octets", ErrNormalization, mac)
		}
		for i, o := range octets {
			if len(o) == 1 {
				octets[i] = "0" + o
			}
		}
		s = strings.Join(octets, "")
	case strings.Contains(s, "."):
		hw, err := net.ParseMAC(s)
		if err != nil || len(hw) != 6 {
			return "", fmt.Errorf("%w: invalid mac %q", ErrNormalization, mac)
		}
		return hw.String(), nil
	}

	if len(s) != 12 {
		return "", fmt.Errorf("%w: invalid mac %q", ErrNormalization, mac)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: invalid mac %q", ErrNormalization, mac)
	}
	return net.HardwareAddr(b).String(), nil
}

// IsRandomized reports whether a normalized MAC has the locally
// administered bit set, which is how clients mark randomized addresses.
func IsRandomized(mac string) bool {
	if len(mac) < 2 {
		return false
	}
	b, err := hex.DecodeString(mac[:2])
	if err != nil {
		return false
	}
	return b[0]&0x02 != 0
}
