package identity

import (
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/HerbHall/apwatch/pkg/models"
)

// Outcome tells how a MAC was resolved.
type Outcome int

const (
	OutcomePrimary        Outcome = iota // confirmed primary MAC
	OutcomeAlternate                     // alternate of a confirmed identity
	OutcomePending                       // already pending, provisional identity
	OutcomeNewPending                    // first sighting, now pending
	OutcomeBootstrapped                  // first sighting in a scope's bootstrap cycle
	OutcomeAutoAssociated                // linked to an identity by hostname
)

func (o Outcome) String() string {
	switch o {
	case OutcomePrimary:
		return "primary"
	case OutcomeAlternate:
		return "alternate"
	case OutcomePending:
		return "pending"
	case OutcomeNewPending:
		return "new_pending"
	case OutcomeBootstrapped:
		return "bootstrapped"
	case OutcomeAutoAssociated:
		return "auto_associated"
	default:
		return "unknown"
	}
}

// Resolution is the identity an observed MAC resolves to.
type Resolution struct {
	Identity    models.CanonicalIdentity
	Provisional bool
	Outcome     Outcome
}

// Resolved pairs an observation with its resolution.
type Resolved struct {
	Resolution
	Client models.ObservedClient
}

// Policy toggles the optional resolution behaviors.
type Policy struct {
	// AutoPromoteInitial makes every MAC seen in the first cycle of a scope
	// with no persisted state a confirmed primary instead of pending.
	AutoPromoteInitial bool
	// AutoAssociateHostname links an unknown MAC to the single confirmed
	// identity whose stored hostname matches it, ignoring case.
	AutoAssociateHostname bool
}

// ScopeState is the persisted mapping state of one alias scope.
type ScopeState struct {
	Identities map[string]models.IdentityMapping // keyed by primary MAC
	Pending    map[string]models.PendingMAC      // keyed by MAC
}

// NewScopeState returns an empty state.
func NewScopeState() ScopeState {
	return ScopeState{
		Identities: make(map[string]models.IdentityMapping),
		Pending:    make(map[string]models.PendingMAC),
	}
}

// Clone returns a deep copy.
func (s ScopeState) Clone() ScopeState {
	c := ScopeState{
		Identities: make(map[string]models.IdentityMapping, len(s.Identities)),
		Pending:    make(map[string]models.PendingMAC, len(s.Pending)),
	}
	for k, m := range s.Identities {
		m.AlternateMACs = slices.Clone(m.AlternateMACs)
		c.Identities[k] = m
	}
	for k, p := range s.Pending {
		c.Pending[k] = p
	}
	return c
}

// scopeIndex is a ScopeState plus the reverse alternate index. A published
// index is never modified; writers work on a clone.
type scopeIndex struct {
	scope string
	state ScopeState
	owner map[string]string // alternate MAC -> primary MAC
}

func newScopeIndex(scope string, st ScopeState) *scopeIndex {
	if st.Identities == nil {
		st.Identities = make(map[string]models.IdentityMapping)
	}
	if st.Pending == nil {
		st.Pending = make(map[string]models.PendingMAC)
	}
	ix := &scopeIndex{scope: scope, state: st, owner: make(map[string]string)}
	for primary, m := range st.Identities {
		for _, alt := range m.AlternateMACs {
			ix.owner[alt] = primary
		}
	}
	return ix
}

func (ix *scopeIndex) clone() *scopeIndex {
	return newScopeIndex(ix.scope, ix.state.Clone())
}

func (ix *scopeIndex) id(mac string) models.CanonicalIdentity {
	return models.CanonicalIdentity{PrimaryMAC: mac, Scope: ix.scope}
}

// lookup resolves mac without changing anything.
func (ix *scopeIndex) lookup(mac string) (Resolution, bool) {
	if _, ok := ix.state.Identities[mac]; ok {
		return Resolution{Identity: ix.id(mac), Outcome: OutcomePrimary}, true
	}
	if primary, ok := ix.owner[mac]; ok {
		return Resolution{Identity: ix.id(primary), Outcome: OutcomeAlternate}, true
	}
	if _, ok := ix.state.Pending[mac]; ok {
		return Resolution{Identity: ix.id(mac), Provisional: true, Outcome: OutcomePending}, true
	}
	return Resolution{}, false
}

// resolve maps c to an identity, creating pending or primary records for an
// unknown MAC. It reports whether the index changed.
func (ix *scopeIndex) resolve(c models.ObservedClient, p Policy, bootstrap bool) (Resolution, bool) {
	if r, ok := ix.lookup(c.MAC); ok {
		return r, ix.touch(r, c)
	}

	if bootstrap {
		ix.state.Identities[c.MAC] = models.IdentityMapping{
			PrimaryMAC: c.MAC,
			Scope:      ix.scope,
			Hostname:   c.Hostname,
			IPv4:       ipv4(c.IP),
			CreatedAt:  c.SeenAt,
		}
		return Resolution{Identity: ix.id(c.MAC), Outcome: OutcomeBootstrapped}, true
	}

	if p.AutoAssociateHostname {
		if primary, ok := ix.uniqueHostnameOwner(c.Hostname); ok {
			m := ix.state.Identities[primary]
			m.AlternateMACs = append(m.AlternateMACs, c.MAC)
			ix.state.Identities[primary] = m
			ix.owner[c.MAC] = primary
			return Resolution{Identity: ix.id(primary), Outcome: OutcomeAutoAssociated}, true
		}
	}

	ix.state.Pending[c.MAC] = models.PendingMAC{
		MAC:         c.MAC,
		Scope:       ix.scope,
		Hostname:    c.Hostname,
		Randomized:  IsRandomized(c.MAC),
		FirstSeenAt: c.SeenAt,
		LastSeenAt:  c.SeenAt,
	}
	return Resolution{Identity: ix.id(c.MAC), Provisional: true, Outcome: OutcomeNewPending}, true
}

// touch records the latest metadata of an already known MAC.
func (ix *scopeIndex) touch(r Resolution, c models.ObservedClient) bool {
	if r.Provisional {
		pm := ix.state.Pending[c.MAC]
		changed := false
		if c.SeenAt.After(pm.LastSeenAt) {
			pm.LastSeenAt = c.SeenAt
			changed = true
		}
		if c.Hostname != "" && c.Hostname != pm.Hostname {
			pm.Hostname = c.Hostname
			changed = true
		}
		if changed {
			ix.state.Pending[c.MAC] = pm
		}
		return changed
	}

	m := ix.state.Identities[r.Identity.PrimaryMAC]
	changed := false
	if c.Hostname != "" && c.Hostname != m.Hostname {
		m.Hostname = c.Hostname
		changed = true
	}
	if v4 := ipv4(c.IP); v4 != "" && v4 != m.IPv4 {
		m.IPv4 = v4
		changed = true
	}
	if changed {
		ix.state.Identities[r.Identity.PrimaryMAC] = m
	}
	return changed
}

func (ix *scopeIndex) uniqueHostnameOwner(hostname string) (string, bool) {
	if hostname == "" {
		return "", false
	}
	match := ""
	for primary, m := range ix.state.Identities {
		if m.Hostname == "" || !strings.EqualFold(m.Hostname, hostname) {
			continue
		}
		if match != "" {
			return "", false
		}
		match = primary
	}
	return match, match != ""
}

// associateResult describes what associate changed.
type associateResult struct {
	retired  *models.CanonicalIdentity // provisional identity of mac, if any
	promoted bool                      // target was pending and is now confirmed
	noop     bool
}

// associate links mac to the identity owned by target. On error the index
// is left untouched.
func (ix *scopeIndex) associate(mac, target string, now time.Time) (associateResult, error) {
	if mac == target {
		return associateResult{}, ErrInvalidAssociation
	}

	_, targetConfirmed := ix.state.Identities[target]
	targetPending, targetIsPending := ix.state.Pending[target]
	if !targetConfirmed && !targetIsPending {
		return associateResult{}, ErrUnknownPrimary
	}

	if owner, ok := ix.owner[mac]; ok {
		if owner == target {
			return associateResult{noop: true}, nil
		}
		return associateResult{}, ErrAlreadyMapped
	}
	if _, ok := ix.state.Identities[mac]; ok {
		return associateResult{}, ErrAlreadyMapped
	}

	var res associateResult
	if targetIsPending {
		delete(ix.state.Pending, target)
		ix.state.Identities[target] = models.IdentityMapping{
			PrimaryMAC: target,
			Scope:      ix.scope,
			Hostname:   targetPending.Hostname,
			CreatedAt:  now,
		}
		res.promoted = true
	}
	if _, ok := ix.state.Pending[mac]; ok {
		delete(ix.state.Pending, mac)
		retired := ix.id(mac)
		res.retired = &retired
	}

	m := ix.state.Identities[target]
	m.AlternateMACs = append(m.AlternateMACs, mac)
	ix.state.Identities[target] = m
	ix.owner[mac] = target
	return res, nil
}

// promote turns a pending MAC into a confirmed primary. Promoting an
// existing primary is a no-op.
func (ix *scopeIndex) promote(mac string, now time.Time) (bool, error) {
	if _, ok := ix.state.Identities[mac]; ok {
		return false, nil
	}
	if _, ok := ix.owner[mac]; ok {
		return false, ErrAlreadyMapped
	}
	pm, ok := ix.state.Pending[mac]
	if !ok {
		return false, ErrNotPending
	}
	delete(ix.state.Pending, mac)
	ix.state.Identities[mac] = models.IdentityMapping{
		PrimaryMAC: mac,
		Scope:      ix.scope,
		Hostname:   pm.Hostname,
		CreatedAt:  now,
	}
	return true, nil
}

func (ix *scopeIndex) pending() []models.PendingMAC {
	out := make([]models.PendingMAC, 0, len(ix.state.Pending))
	for _, p := range ix.state.Pending {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b models.PendingMAC) int {
		if c := a.FirstSeenAt.Compare(b.FirstSeenAt); c != 0 {
			return c
		}
		return strings.Compare(a.MAC, b.MAC)
	})
	return out
}

func (ix *scopeIndex) mappings() []models.IdentityMapping {
	out := make([]models.IdentityMapping, 0, len(ix.state.Identities))
	for _, m := range ix.state.Identities {
		m.AlternateMACs = slices.Clone(m.AlternateMACs)
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b models.IdentityMapping) int {
		return strings.Compare(a.PrimaryMAC, b.PrimaryMAC)
	})
	return out
}

func ipv4(s string) string {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return ""
	}
	return addr.String()
}
