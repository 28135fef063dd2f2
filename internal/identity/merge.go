package identity

import (
	"cmp"
	"slices"
	"strings"

	"github.com/HerbHall/apwatch/pkg/models"
)

// LookupFunc returns the current resolution of mac in scope. Merge uses it
// to re-key observations and previous devices whose identity has been
// retired by an association since they were resolved.
type LookupFunc func(scope, mac string) (Resolution, bool)

// Interface prefixes that indicate a radio rather than a wired port. "wl"
// also covers "wlan"; ath, wifi and ra are vendor radio names.
var wirelessPrefixes = []string{"wl", "phy", "ath", "wifi", "ra"}

// Merge builds the next device table of one scope from this cycle's resolved
// observations and the previous table.
//
// Observations are applied per identity in (seen_at, source_id) order and
// the last non-empty value of each field wins. Devices in previous that
// nobody reported go offline and keep their attributes. lookup may be nil.
func Merge(resolved []Resolved, previous *Table, lookup LookupFunc) *Table {
	prev := rekeyPrevious(previous, lookup)

	groups := make(map[models.CanonicalIdentity][]Resolved)
	var order []models.CanonicalIdentity
	for _, r := range resolved {
		if lookup != nil {
			if cur, ok := lookup(r.Client.Scope, r.Client.MAC); ok {
				r.Resolution = cur
			}
		}
		if _, ok := groups[r.Identity]; !ok {
			order = append(order, r.Identity)
		}
		groups[r.Identity] = append(groups[r.Identity], r)
	}

	next := make(map[models.CanonicalIdentity]models.MergedDevice, len(prev)+len(groups))
	for _, id := range order {
		var base *models.MergedDevice
		if d, ok := prev[id]; ok {
			base = &d
		}
		next[id] = mergeGroup(id, groups[id], base)
	}
	for id, d := range prev {
		if _, online := next[id]; online {
			continue
		}
		d.State = models.DeviceOffline
		d.ContributingSources = []string{}
		next[id] = d
	}
	return newTable(next)
}

func mergeGroup(id models.CanonicalIdentity, group []Resolved, base *models.MergedDevice) models.MergedDevice {
	slices.SortStableFunc(group, func(a, b Resolved) int {
		if c := a.Client.SeenAt.Compare(b.Client.SeenAt); c != 0 {
			return c
		}
		return strings.Compare(a.Client.SourceID, b.Client.SourceID)
	})

	d := models.MergedDevice{Identity: id}
	if base != nil {
		d = base.Clone()
	}
	d.State = models.DeviceOnline
	d.Provisional = group[len(group)-1].Provisional
	d.ContributingSources = d.ContributingSources[:0]

	for _, r := range group {
		c := r.Client
		apply(&d, c)
		if !slices.Contains(d.ContributingSources, c.SourceID) {
			d.ContributingSources = append(d.ContributingSources, c.SourceID)
		}
	}
	if !slices.Contains(d.MACs, id.PrimaryMAC) {
		d.MACs = append([]string{id.PrimaryMAC}, d.MACs...)
	}
	d.ConnectionType = connectionType(d)
	return d
}

// apply overlays the non-empty fields of c onto d.
func apply(d *models.MergedDevice, c models.ObservedClient) {
	if c.Hostname != "" {
		d.Hostname = c.Hostname
	}
	if c.IP != "" {
		d.IP = c.IP
	}
	if c.IPv6 != "" {
		d.IPv6 = c.IPv6
	}
	if c.DHCPSource != "" {
		d.DHCPSource = c.DHCPSource
	}
	if c.Interface != "" {
		d.Interface = c.Interface
		if !slices.Contains(d.Interfaces, c.Interface) {
			d.Interfaces = append(d.Interfaces, c.Interface)
		}
	}
	if c.Signal != nil {
		v := *c.Signal
		d.Signal = &v
	}
	if c.RxBytes != nil {
		v := *c.RxBytes
		d.RxBytes = &v
	}
	if c.TxBytes != nil {
		v := *c.TxBytes
		d.TxBytes = &v
	}
	if c.MAC != "" && !slices.Contains(d.MACs, c.MAC) {
		d.MACs = append(d.MACs, c.MAC)
	}
	if c.SeenAt.After(d.LastSeenAt) {
		d.LastSeenAt = c.SeenAt
	}
}

// rekeyPrevious moves devices of retired identities onto their current
// identity, folding attributes in last-seen order.
func rekeyPrevious(previous *Table, lookup LookupFunc) map[models.CanonicalIdentity]models.MergedDevice {
	out := make(map[models.CanonicalIdentity]models.MergedDevice)
	if previous == nil {
		return out
	}
	devices := previous.All()
	slices.SortStableFunc(devices, func(a, b models.MergedDevice) int {
		return cmp.Or(a.LastSeenAt.Compare(b.LastSeenAt), strings.Compare(a.Identity.PrimaryMAC, b.Identity.PrimaryMAC))
	})

	for _, d := range devices {
		id := d.Identity
		if lookup != nil {
			if cur, ok := lookup(id.Scope, id.PrimaryMAC); ok {
				id = cur.Identity
				d.Provisional = cur.Provisional
			}
		}
		existing, ok := out[id]
		if !ok {
			d.Identity = id
			out[id] = d
			continue
		}
		out[id] = fold(existing, d)
	}
	return out
}

// fold overlays newer onto older, keeping older's identity and state.
func fold(older, newer models.MergedDevice) models.MergedDevice {
	d := older.Clone()
	apply(&d, models.ObservedClient{
		Hostname:   newer.Hostname,
		IP:         newer.IP,
		IPv6:       newer.IPv6,
		DHCPSource: newer.DHCPSource,
		Signal:     newer.Signal,
		RxBytes:    newer.RxBytes,
		TxBytes:    newer.TxBytes,
		SeenAt:     newer.LastSeenAt,
		Interface:  newer.Interface,
	})
	for _, iface := range newer.Interfaces {
		if !slices.Contains(d.Interfaces, iface) {
			d.Interfaces = append(d.Interfaces, iface)
		}
	}
	for _, mac := range newer.MACs {
		if !slices.Contains(d.MACs, mac) {
			d.MACs = append(d.MACs, mac)
		}
	}
	if newer.State == models.DeviceOnline {
		d.State = models.DeviceOnline
	}
	d.ConnectionType = connectionType(d)
	return d
}

func connectionType(d models.MergedDevice) models.ConnectionType {
	if d.Signal != nil {
		return models.ConnectionWireless
	}
	for _, prefix := range wirelessPrefixes {
		if strings.HasPrefix(d.Interface, prefix) {
			return models.ConnectionWireless
		}
	}
	if d.Interface == "" {
		return ""
	}
	return models.ConnectionWired
}
