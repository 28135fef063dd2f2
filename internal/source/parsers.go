package source

import (
	"bufio"
	"cmp"
	"encoding/hex"
	"net"
	"net/netip"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/HerbHall/apwatch/pkg/models"
)

var (
	macPattern    = regexp.MustCompile(`([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}`)
	signalPattern = regexp.MustCompile(`(-?\d+)\s*dBm`)
	hostRowKey    = regexp.MustCompile(`^dhcp\.@host\[(\d+)\]\.(\w+)$`)
)

// Binding kinds reported as dhcp_source.
const (
	leaseDynamic = "dynamic"
	leaseStatic  = "static"
)

// lease is a DHCP binding used to add hostnames and addresses to records.
type lease struct {
	mac      string
	ip       string
	ipv6     string
	hostname string
	source   string
}

func macKey(mac string) string {
	return strings.ToLower(strings.ReplaceAll(mac, "-", ":"))
}

func lines(out string) []string {
	var res []string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			res = append(res, sc.Text())
		}
	}
	return res
}

// parseIwinfoInterfaces reads interface names from `iwinfo` output, where
// each interface block starts at column zero.
func parseIwinfoInterfaces(out string) []string {
	var ifaces []string
	for _, l := range lines(out) {
		if l[0] == ' ' || l[0] == '\t' {
			continue
		}
		name := strings.Fields(l)[0]
		if !slices.Contains(ifaces, name) {
			ifaces = append(ifaces, name)
		}
	}
	return ifaces
}

// parseIwDevInterfaces reads "Interface <name>" lines from `iw dev`.
func parseIwDevInterfaces(out string) []string {
	var ifaces []string
	for _, l := range lines(out) {
		f := strings.Fields(l)
		if len(f) >= 2 && f[0] == "Interface" && !slices.Contains(ifaces, f[1]) {
			ifaces = append(ifaces, f[1])
		}
	}
	return ifaces
}

// parseAssoclist reads `iwinfo <if> assoclist`. Station lines carry the MAC
// and signal; the indented RX/TX lines that follow are ignored.
func parseAssoclist(out, iface string) []models.RawRecord {
	var recs []models.RawRecord
	for _, l := range lines(out) {
		mac := macPattern.FindString(l)
		if mac == "" {
			continue
		}
		rec := models.RawRecord{models.FieldMAC: mac, models.FieldInterface: iface}
		if m := signalPattern.FindStringSubmatch(l); m != nil {
			rec[models.FieldSignal] = m[1]
		}
		recs = append(recs, rec)
	}
	return recs
}

// parseStationDump reads `iw dev <if> station dump` blocks.
func parseStationDump(out, iface string) []models.RawRecord {
	var recs []models.RawRecord
	var cur models.RawRecord
	for _, l := range lines(out) {
		trimmed := strings.TrimSpace(l)
		if strings.HasPrefix(trimmed, "Station ") {
			mac := macPattern.FindString(trimmed)
			if mac == "" {
				cur = nil
				continue
			}
			cur = models.RawRecord{models.FieldMAC: mac, models.FieldInterface: iface}
			recs = append(recs, cur)
			continue
		}
		if cur == nil {
			continue
		}
		key, val, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		switch strings.TrimSpace(key) {
		case "rx bytes":
			cur[models.FieldRxBytes] = val
		case "tx bytes":
			cur[models.FieldTxBytes] = val
		case "signal":
			if m := signalPattern.FindStringSubmatch(val); m != nil {
				cur[models.FieldSignal] = m[1]
			} else if f := strings.Fields(val); len(f) > 0 {
				cur[models.FieldSignal] = f[0]
			}
		}
	}
	return recs
}

// parseNeighbors reads `ip neigh show` or /proc/net/arp. Entries without a
// link-layer address (FAILED, INCOMPLETE) and zero MACs are skipped.
func parseNeighbors(out string) []models.RawRecord {
	var recs []models.RawRecord
	for _, l := range lines(out) {
		f := strings.Fields(l)
		if len(f) == 0 || f[0] == "IP" {
			continue
		}
		rec := models.RawRecord{}
		if i := slices.Index(f, "lladdr"); i >= 0 && i+1 < len(f) {
			rec[models.FieldMAC] = f[i+1]
			if d := slices.Index(f, "dev"); d >= 0 && d+1 < len(f) {
				rec[models.FieldInterface] = f[d+1]
			}
		} else if len(f) >= 6 && macPattern.MatchString(f[3]) {
			// /proc/net/arp: IP, HW type, Flags, HW address, Mask, Device
			if f[2] == "0x0" {
				continue
			}
			rec[models.FieldMAC] = f[3]
			rec[models.FieldInterface] = f[5]
		} else {
			continue
		}
		if rec[models.FieldMAC] == "00:00:00:00:00:00" {
			continue
		}
		if strings.Contains(f[0], ":") {
			rec[models.FieldIPv6] = f[0]
		} else {
			rec[models.FieldIP] = f[0]
		}
		recs = append(recs, rec)
	}
	return recs
}

// parseDHCPLeases reads dnsmasq's lease file:
// "<expiry> <mac> <ip> <hostname> <client-id>".
func parseDHCPLeases(out string) []lease {
	var leases []lease
	for _, l := range lines(out) {
		f := strings.Fields(l)
		if len(f) < 4 || !macPattern.MatchString(f[1]) {
			continue
		}
		host := f[3]
		if host == "*" {
			host = ""
		}
		leases = append(leases, lease{mac: macKey(f[1]), ip: f[2], hostname: host, source: leaseDynamic})
	}
	return leases
}

// parseODHCPDLeases reads the odhcpd DHCPv6 lease file:
// "# <iface> <duid> <iaid> <hostname> <valid> <id> <plen> <addr/plen>...".
// The MAC comes from a literal MAC token or a link-layer DUID; lines yielding
// neither are skipped.
func parseODHCPDLeases(out string) []lease {
	var leases []lease
	for _, l := range lines(out) {
		f := strings.Fields(l)
		structured := f[0] == "#"
		if structured {
			f = f[1:]
		}
		var le lease
		for i, tok := range f {
			switch {
			case macPattern.MatchString(tok) && len(tok) == 17:
				if le.mac == "" {
					le.mac = macKey(tok)
				}
			case structured && i == 1:
				if mac, ok := duidMAC(tok); ok && le.mac == "" {
					le.mac = mac
				}
			case strings.Contains(tok, ":"):
				if le.ipv6 == "" {
					le.ipv6 = leaseIPv6(tok)
				}
			}
		}
		if structured && len(f) > 3 && f[3] != "-" && f[3] != "*" {
			le.hostname = f[3]
		}
		if le.mac == "" || (le.ipv6 == "" && le.hostname == "") {
			continue
		}
		le.source = leaseDynamic
		leases = append(leases, le)
	}
	return leases
}

// duidMAC extracts the link-layer address from a DUID-LLT or DUID-LL with
// Ethernet hardware type.
func duidMAC(duid string) (string, bool) {
	b, err := hex.DecodeString(duid)
	if err != nil || len(b) < 4 || b[2] != 0 || b[3] != 1 {
		return "", false
	}
	switch {
	case b[0] == 0 && b[1] == 1 && len(b) == 14:
		return net.HardwareAddr(b[8:]).String(), true
	case b[0] == 0 && b[1] == 3 && len(b) == 10:
		return net.HardwareAddr(b[4:]).String(), true
	}
	return "", false
}

func leaseIPv6(tok string) string {
	if addr, _, ok := strings.Cut(tok, "/"); ok {
		tok = addr
	}
	a, err := netip.ParseAddr(tok)
	if err != nil || !a.Is6() {
		return ""
	}
	return a.String()
}

// parseUCIHosts reads static leases from `uci show dhcp`.
func parseUCIHosts(out string) []lease {
	type host struct{ mac, ip, name string }
	hosts := make(map[int]*host)
	var order []int
	for _, l := range lines(out) {
		key, val, ok := strings.Cut(strings.TrimSpace(l), "=")
		if !ok {
			continue
		}
		m := hostRowKey.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		h, ok := hosts[idx]
		if !ok {
			h = &host{}
			hosts[idx] = h
			order = append(order, idx)
		}
		val = strings.Trim(val, `'"`)
		switch m[2] {
		case "mac":
			h.mac = val
		case "ip":
			h.ip = val
		case "name":
			h.name = val
		}
	}
	var leases []lease
	for _, idx := range order {
		h := hosts[idx]
		// A static host may list several MACs separated by spaces.
		for _, mac := range strings.Fields(h.mac) {
			if macPattern.MatchString(mac) {
				leases = append(leases, lease{mac: macKey(mac), ip: h.ip, hostname: h.name, source: leaseStatic})
			}
		}
	}
	return leases
}

// parseGeneric extracts MAC, IPv4 and signal from any line-oriented output.
// It serves custom commands whose format is unknown.
func parseGeneric(out string) []models.RawRecord {
	var recs []models.RawRecord
	for _, l := range lines(out) {
		mac := macPattern.FindString(l)
		if mac == "" {
			continue
		}
		rec := models.RawRecord{models.FieldMAC: mac}
		if m := signalPattern.FindStringSubmatch(l); m != nil {
			rec[models.FieldSignal] = m[1]
		}
		for _, tok := range strings.Fields(l) {
			if strings.Count(tok, ".") == 3 && tok[0] >= '0' && tok[0] <= '9' {
				rec[models.FieldIP] = tok
				break
			}
		}
		recs = append(recs, rec)
	}
	return recs
}

// enrich fills missing hostnames and addresses from leases. For each field
// the earliest lease that has it wins, so a DHCPv6 binding can add an IPv6
// address to a MAC that also holds an IPv4 lease.
func enrich(recs []models.RawRecord, leases []lease) {
	if len(leases) == 0 {
		return
	}
	byMAC := make(map[string]lease, len(leases))
	for _, l := range leases {
		cur, ok := byMAC[l.mac]
		if !ok {
			byMAC[l.mac] = l
			continue
		}
		cur.ip = cmp.Or(cur.ip, l.ip)
		cur.ipv6 = cmp.Or(cur.ipv6, l.ipv6)
		cur.hostname = cmp.Or(cur.hostname, l.hostname)
		cur.source = cmp.Or(cur.source, l.source)
		byMAC[l.mac] = cur
	}
	for _, rec := range recs {
		l, ok := byMAC[macKey(rec[models.FieldMAC])]
		if !ok {
			continue
		}
		fill(rec, models.FieldHostname, l.hostname)
		fill(rec, models.FieldIP, l.ip)
		fill(rec, models.FieldIPv6, l.ipv6)
		fill(rec, models.FieldDHCPSource, l.source)
	}
}

func fill(rec models.RawRecord, key, val string) {
	if rec[key] == "" && val != "" {
		rec[key] = val
	}
}
