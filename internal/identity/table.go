package identity

import (
	"slices"
	"strings"
	"sync"

	"github.com/HerbHall/apwatch/pkg/models"
)

// Table is an immutable device table of one scope, keyed by identity.
type Table struct {
	devices map[models.CanonicalIdentity]models.MergedDevice
}

func newTable(devices map[models.CanonicalIdentity]models.MergedDevice) *Table {
	return &Table{devices: devices}
}

// NewTable builds a table from devices, for seeding and tests.
func NewTable(devices ...models.MergedDevice) *Table {
	m := make(map[models.CanonicalIdentity]models.MergedDevice, len(devices))
	for _, d := range devices {
		m[d.Identity] = d
	}
	return newTable(m)
}

// OfflineTable builds a table with one offline device per confirmed mapping,
// carrying the attributes saved with it. It seeds a scope after a restart so
// known devices are listed before any source reports them again.
func OfflineTable(mappings []models.IdentityMapping) *Table {
	m := make(map[models.CanonicalIdentity]models.MergedDevice, len(mappings))
	for _, im := range mappings {
		id := im.Identity()
		m[id] = models.MergedDevice{
			Identity:            id,
			State:               models.DeviceOffline,
			Hostname:            im.Hostname,
			IP:                  im.IPv4,
			MACs:                append([]string{im.PrimaryMAC}, im.AlternateMACs...),
			ContributingSources: []string{},
		}
	}
	return newTable(m)
}

// Get returns the device for id.
func (t *Table) Get(id models.CanonicalIdentity) (models.MergedDevice, bool) {
	if t == nil {
		return models.MergedDevice{}, false
	}
	d, ok := t.devices[id]
	if !ok {
		return models.MergedDevice{}, false
	}
	return d.Clone(), true
}

// Len returns the number of devices.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.devices)
}

// Count returns how many devices are in state.
func (t *Table) Count(state models.DeviceState) int {
	if t == nil {
		return 0
	}
	n := 0
	for _, d := range t.devices {
		if d.State == state {
			n++
		}
	}
	return n
}

// All returns copies of every device ordered by primary MAC.
func (t *Table) All() []models.MergedDevice {
	if t == nil {
		return []models.MergedDevice{}
	}
	out := make([]models.MergedDevice, 0, len(t.devices))
	for _, d := range t.devices {
		out = append(out, d.Clone())
	}
	slices.SortFunc(out, func(a, b models.MergedDevice) int {
		return strings.Compare(a.Identity.PrimaryMAC, b.Identity.PrimaryMAC)
	})
	return out
}

// Transitions lists devices whose state differs between prev and next.
// Devices new in next count as having come online.
func Transitions(prev, next *Table) (online, offline []models.MergedDevice) {
	for _, d := range next.All() {
		before, existed := prev.Get(d.Identity)
		switch {
		case d.State == models.DeviceOnline && (!existed || before.State != models.DeviceOnline):
			online = append(online, d)
		case d.State == models.DeviceOffline && existed && before.State == models.DeviceOnline:
			offline = append(offline, d)
		}
	}
	return online, offline
}

// Tables holds the published table of every scope. Swap replaces a scope's
// table in one step, so readers see either the old or the new table.
type Tables struct {
	mu      sync.RWMutex
	byScope map[string]*Table
}

// NewTables returns an empty set.
func NewTables() *Tables {
	return &Tables{byScope: make(map[string]*Table)}
}

// Swap publishes t as scope's current table and returns the one it replaced.
func (ts *Tables) Swap(scope string, t *Table) *Table {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	old := ts.byScope[scope]
	ts.byScope[scope] = t
	return old
}

// Get returns scope's current table, or nil.
func (ts *Tables) Get(scope string) *Table {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.byScope[scope]
}

// Devices returns the devices of scope, or of every scope when scope is
// empty, ordered by scope then primary MAC.
func (ts *Tables) Devices(scope string) []models.MergedDevice {
	if scope != "" {
		return ts.Get(scope).All()
	}
	ts.mu.RLock()
	scopes := make([]string, 0, len(ts.byScope))
	for s := range ts.byScope {
		scopes = append(scopes, s)
	}
	tables := make(map[string]*Table, len(ts.byScope))
	for s, t := range ts.byScope {
		tables[s] = t
	}
	ts.mu.RUnlock()

	slices.Sort(scopes)
	out := []models.MergedDevice{}
	for _, s := range scopes {
		out = append(out, tables[s].All()...)
	}
	return out
}

// Scopes returns the scopes that have a published table.
func (ts *Tables) Scopes() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]string, 0, len(ts.byScope))
	for s := range ts.byScope {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}
