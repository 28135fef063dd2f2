package models

import "time"

// CanonicalIdentity is the stable key of one physical device within one
// alias scope. It is comparable and used directly as a map key.
type CanonicalIdentity struct {
	PrimaryMAC string `json:"primary_mac" example:"aa:bb:cc:dd:ee:01"`
	Scope      string `json:"scope" example:"home"`
}

// String returns "scope/primary_mac".
func (c CanonicalIdentity) String() string {
	return c.Scope + "/" + c.PrimaryMAC
}

// IdentityMapping is the persisted record of a confirmed identity and the
// alternate MACs known to belong to the same device.
type IdentityMapping struct {
	PrimaryMAC    string    `json:"primary_mac"`
	Scope         string    `json:"scope"`
	AlternateMACs []string  `json:"alternate_macs"`
	Hostname      string    `json:"hostname,omitempty"`
	IPv4          string    `json:"ipv4,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Identity returns the mapping's canonical key.
func (m IdentityMapping) Identity() CanonicalIdentity {
	return CanonicalIdentity{PrimaryMAC: m.PrimaryMAC, Scope: m.Scope}
}

// PendingMAC is a MAC seen in a scope that is not yet linked to a
// confirmed identity. It is shown as a provisional device meanwhile.
type PendingMAC struct {
	MAC         string    `json:"mac" example:"11:22:33:44:55:66"`
	Scope       string    `json:"scope" example:"home"`
	Hostname    string    `json:"hostname,omitempty"`
	Randomized  bool      `json:"randomized"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}
