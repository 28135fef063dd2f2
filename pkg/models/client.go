package models

import "time"

// RawRecord is one client record exactly as a source adapter produced it.
// Keys are adapter-specific; the snapshot normalizer is the only consumer.
type RawRecord map[string]string

// Well-known RawRecord keys. Adapters may emit others; they are ignored.
const (
	FieldMAC        = "mac"
	FieldInterface  = "interface"
	FieldHostname   = "hostname"
	FieldIP         = "ip"
	FieldIPv6       = "ipv6"
	FieldDHCPSource = "dhcp_source"
	FieldSignal     = "signal"
	FieldRxBytes    = "rx_bytes"
	FieldTxBytes    = "tx_bytes"
)

// ObservedClient is one sighting of a MAC by one source during one poll.
// Optional numeric fields are nil when the source did not report them.
// DHCPSource is "dynamic" or "static" when a DHCP binding supplied the
// hostname or an address.
type ObservedClient struct {
	MAC        string    `json:"mac" example:"aa:bb:cc:dd:ee:01"`
	Interface  string    `json:"interface,omitempty" example:"wlan0"`
	Hostname   string    `json:"hostname,omitempty" example:"tv"`
	IP         string    `json:"ip,omitempty" example:"192.168.1.20"`
	IPv6       string    `json:"ipv6,omitempty" example:"fd00::1e"`
	Signal     *int      `json:"signal,omitempty" example:"-42"`
	RxBytes    *uint64   `json:"rx_bytes,omitempty"`
	TxBytes    *uint64   `json:"tx_bytes,omitempty"`
	DHCPSource string    `json:"dhcp_source,omitempty" example:"dynamic"`
	SourceID   string    `json:"source_id" example:"office-ap"`
	Scope      string    `json:"scope" example:"home"`
	SeenAt     time.Time `json:"seen_at"`
}
