package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/HerbHall/apwatch/internal/identity"
	"github.com/HerbHall/apwatch/pkg/models"
	"github.com/HerbHall/apwatch/pkg/plugin"
)

// Compile-time interface guard.
var _ identity.Backend = (*MappingStore)(nil)

// MappingStore persists identity mappings in the shared SQLite database.
// Saving a scope replaces all of its rows in one transaction.
type MappingStore struct {
	store plugin.Store
}

// NewMappingStore creates a MappingStore. The tracker migrations must have
// been applied.
func NewMappingStore(store plugin.Store) *MappingStore {
	return &MappingStore{store: store}
}

// Load reads every scope.
func (s *MappingStore) Load(ctx context.Context) (map[string]identity.ScopeState, error) {
	db := s.store.DB()
	states := make(map[string]identity.ScopeState)
	get := func(scope string) identity.ScopeState {
		st, ok := states[scope]
		if !ok {
			st = identity.NewScopeState()
			states[scope] = st
		}
		return st
	}

	rows, err := db.QueryContext(ctx, `
		SELECT scope, primary_mac, hostname, ipv4, created_at
		FROM tracker_identities`)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	for rows.Next() {
		var m models.IdentityMapping
		var created string
		if err := rows.Scan(&m.Scope, &m.PrimaryMAC, &m.Hostname, &m.IPv4, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		if m.CreatedAt, err = parseTime(created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("identity %s/%s: %w", m.Scope, m.PrimaryMAC, err)
		}
		m.AlternateMACs = []string{}
		get(m.Scope).Identities[m.PrimaryMAC] = m
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, `
		SELECT scope, mac, primary_mac
		FROM tracker_alternates
		ORDER BY scope, primary_mac, position`)
	if err != nil {
		return nil, fmt.Errorf("query alternates: %w", err)
	}
	for rows.Next() {
		var scope, mac, primary string
		if err := rows.Scan(&scope, &mac, &primary); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan alternate: %w", err)
		}
		st := get(scope)
		m, ok := st.Identities[primary]
		if !ok {
			continue
		}
		m.AlternateMACs = append(m.AlternateMACs, mac)
		st.Identities[primary] = m
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, `
		SELECT scope, mac, hostname, randomized, first_seen, last_seen
		FROM tracker_pending`)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	for rows.Next() {
		var p models.PendingMAC
		var first, last string
		if err := rows.Scan(&p.Scope, &p.MAC, &p.Hostname, &p.Randomized, &first, &last); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		if p.FirstSeenAt, err = parseTime(first); err != nil {
			rows.Close()
			return nil, fmt.Errorf("pending %s/%s: %w", p.Scope, p.MAC, err)
		}
		if p.LastSeenAt, err = parseTime(last); err != nil {
			rows.Close()
			return nil, fmt.Errorf("pending %s/%s: %w", p.Scope, p.MAC, err)
		}
		get(p.Scope).Pending[p.MAC] = p
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return states, nil
}

// SaveScope replaces the stored rows of scope with st.
func (s *MappingStore) SaveScope(ctx context.Context, scope string, st identity.ScopeState) error {
	return s.store.Tx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"tracker_alternates", "tracker_identities", "tracker_pending"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE scope = ?`, scope); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		primaries := make([]string, 0, len(st.Identities))
		for primary := range st.Identities {
			primaries = append(primaries, primary)
		}
		slices.Sort(primaries)
		for _, primary := range primaries {
			m := st.Identities[primary]
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tracker_identities (scope, primary_mac, hostname, ipv4, created_at)
				VALUES (?, ?, ?, ?, ?)`,
				scope, primary, m.Hostname, m.IPv4, formatTime(m.CreatedAt),
			); err != nil {
				return fmt.Errorf("insert identity %s: %w", primary, err)
			}
			for i, mac := range m.AlternateMACs {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO tracker_alternates (scope, mac, primary_mac, position)
					VALUES (?, ?, ?, ?)`,
					scope, mac, primary, i,
				); err != nil {
					return fmt.Errorf("insert alternate %s: %w", mac, err)
				}
			}
		}

		for mac, p := range st.Pending {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tracker_pending (scope, mac, hostname, randomized, first_seen, last_seen)
				VALUES (?, ?, ?, ?, ?, ?)`,
				scope, mac, p.Hostname, p.Randomized, formatTime(p.FirstSeenAt), formatTime(p.LastSeenAt),
			); err != nil {
				return fmt.Errorf("insert pending %s: %w", mac, err)
			}
		}
		return nil
	})
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate rows: %w", err)
	}
	return rows.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
