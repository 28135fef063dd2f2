package tracker

import (
	"database/sql"

	"github.com/HerbHall/apwatch/pkg/plugin"
)

// migrations returns the tracker module's database migrations.
func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create tracker tables (identities, alternates, pending)",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE tracker_identities (
						scope       TEXT NOT NULL,
						primary_mac TEXT NOT NULL,
						hostname    TEXT NOT NULL DEFAULT '',
						ipv4        TEXT NOT NULL DEFAULT '',
						created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						PRIMARY KEY (scope, primary_mac)
					)`,
					`CREATE TABLE tracker_alternates (
						scope       TEXT NOT NULL,
						mac         TEXT NOT NULL,
						primary_mac TEXT NOT NULL,
						position    INTEGER NOT NULL DEFAULT 0,
						PRIMARY KEY (scope, mac),
						FOREIGN KEY (scope, primary_mac) REFERENCES tracker_identities(scope, primary_mac) ON DELETE CASCADE
					)`,
					`CREATE INDEX idx_tracker_alternates_primary ON tracker_alternates(scope, primary_mac)`,
					`CREATE TABLE tracker_pending (
						scope      TEXT NOT NULL,
						mac        TEXT NOT NULL,
						hostname   TEXT NOT NULL DEFAULT '',
						randomized INTEGER NOT NULL DEFAULT 0,
						first_seen DATETIME NOT NULL,
						last_seen  DATETIME NOT NULL,
						PRIMARY KEY (scope, mac)
					)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
