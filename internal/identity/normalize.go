package identity

import (
	"math"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/HerbHall/apwatch/pkg/models"
)

// Alternate spellings adapters use for the well-known fields.
var fieldAliases = map[string][]string{
	models.FieldMAC:        {"mac", "macaddr", "mac_address", "hwaddr", "lladdr", "station"},
	models.FieldInterface:  {"interface", "iface", "ifname", "device", "dev"},
	models.FieldHostname:   {"hostname", "name"},
	models.FieldIP:         {"ip", "ipaddr", "ipv4", "address"},
	models.FieldIPv6:       {"ipv6", "ip6addr", "ipv6addr"},
	models.FieldDHCPSource: {"dhcp_source"},
	models.FieldSignal:     {"signal", "rssi"},
	models.FieldRxBytes:    {"rx_bytes", "rx"},
	models.FieldTxBytes:    {"tx_bytes", "tx"},
}

// Normalize converts one source's raw records into ObservedClients in input
// order. Records without a valid MAC are dropped and reported in the returned
// errors; the rest of the batch is unaffected.
func Normalize(raw []models.RawRecord, sourceID, scope string, now time.Time) ([]models.ObservedClient, []error) {
	out := make([]models.ObservedClient, 0, len(raw))
	var errs []error

	for _, rec := range raw {
		rawMAC := field(rec, models.FieldMAC)
		mac, err := NormalizeMAC(rawMAC)
		if err != nil {
			errs = append(errs, &NormalizationError{SourceID: sourceID, Value: rawMAC, Reason: "invalid mac"})
			continue
		}

		c := models.ObservedClient{
			MAC:        mac,
			Interface:  NormalizeInterface(field(rec, models.FieldInterface)),
			Hostname:   normalizeHostname(field(rec, models.FieldHostname)),
			IP:         normalizeIP(field(rec, models.FieldIP)),
			IPv6:       normalizeIPv6(field(rec, models.FieldIPv6)),
			DHCPSource: strings.ToLower(field(rec, models.FieldDHCPSource)),
			SourceID:   sourceID,
			Scope:      scope,
			SeenAt:     now,
		}
		if v, ok := parseSignal(field(rec, models.FieldSignal)); ok {
			c.Signal = &v
		}
		if v, ok := parseCounter(field(rec, models.FieldRxBytes)); ok {
			c.RxBytes = &v
		}
		if v, ok := parseCounter(field(rec, models.FieldTxBytes)); ok {
			c.TxBytes = &v
		}
		out = append(out, c)
	}
	return out, errs
}

// NormalizeInterface strips a transport suffix such as "@if7" so the same
// radio or port is recognized under one name.
func NormalizeInterface(iface string) string {
	name, _, _ := strings.Cut(strings.TrimSpace(iface), "@")
	return name
}

func field(rec models.RawRecord, key string) string {
	for _, alias := range fieldAliases[key] {
		if v := strings.TrimSpace(rec[alias]); v != "" {
			return v
		}
	}
	return ""
}

// DHCP lease files use "*" for an unknown hostname.
func normalizeHostname(h string) string {
	if h == "*" || h == "?" {
		return ""
	}
	return h
}

func normalizeIP(s string) string {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return ""
	}
	return addr.String()
}

// normalizeIPv6 accepts a bare address or one with a prefix length, as
// odhcpd writes them. Link-local addresses are dropped; every client has one.
func normalizeIPv6(s string) string {
	if addr, _, ok := strings.Cut(s, "/"); ok {
		s = addr
	}
	a, err := netip.ParseAddr(s)
	if err != nil || !a.Is6() || a.Is4In6() || a.IsLinkLocalUnicast() {
		return ""
	}
	return a.String()
}

// parseSignal accepts "-42", "-42 dBm", and "-42.0".
func parseSignal(s string) (int, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "dBm"))
	if s == "" {
		return 0, false
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Round(f)), true
}

func parseCounter(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
