package models

import "time"

// DeviceState is the presence state of a merged device.
type DeviceState string

const (
	DeviceOnline  DeviceState = "online"
	DeviceOffline DeviceState = "offline"
)

// ConnectionType tells whether a device was seen on a radio or a wired port.
type ConnectionType string

const (
	ConnectionWireless ConnectionType = "wireless"
	ConnectionWired    ConnectionType = "wired"
)

// MergedDevice is the consolidated view of one canonical identity after a
// merge cycle. Offline devices keep the attributes of their last sighting.
type MergedDevice struct {
	Identity            CanonicalIdentity `json:"identity"`
	State               DeviceState       `json:"state" example:"online"`
	Provisional         bool              `json:"provisional"`
	Hostname            string            `json:"hostname,omitempty" example:"tv"`
	IP                  string            `json:"ip,omitempty" example:"192.168.1.20"`
	IPv6                string            `json:"ipv6,omitempty" example:"fd00::1e"`
	DHCPSource          string            `json:"dhcp_source,omitempty" example:"dynamic"`
	Interface           string            `json:"interface,omitempty" example:"wlan0"`
	Interfaces          []string          `json:"interfaces,omitempty"`
	MACs                []string          `json:"macs"`
	Signal              *int              `json:"signal,omitempty" example:"-42"`
	RxBytes             *uint64           `json:"rx_bytes,omitempty"`
	TxBytes             *uint64           `json:"tx_bytes,omitempty"`
	ConnectionType      ConnectionType    `json:"connection_type,omitempty" example:"wireless"`
	ContributingSources []string          `json:"contributing_sources"`
	LastSeenAt          time.Time         `json:"last_seen_at"`
}

// Clone returns a deep copy so a device can be modified without touching
// a published table.
func (d MergedDevice) Clone() MergedDevice {
	c := d
	c.Interfaces = append([]string(nil), d.Interfaces...)
	c.MACs = append([]string(nil), d.MACs...)
	c.ContributingSources = append([]string(nil), d.ContributingSources...)
	if d.Signal != nil {
		v := *d.Signal
		c.Signal = &v
	}
	if d.RxBytes != nil {
		v := *d.RxBytes
		c.RxBytes = &v
	}
	if d.TxBytes != nil {
		v := *d.TxBytes
		c.TxBytes = &v
	}
	return c
}
