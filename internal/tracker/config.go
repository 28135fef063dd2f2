package tracker

import (
	"fmt"
	"time"

	"github.com/HerbHall/apwatch/internal/source"
	"github.com/HerbHall/apwatch/pkg/plugin"
)

// Persistence backends for identity mappings.
const (
	PersistenceSQLite = "sqlite"
	PersistenceFile   = "file"
)

// TrackerConfig holds the tracker module configuration.
type TrackerConfig struct {
	Persistence           string          `mapstructure:"persistence"`
	StateFile             string          `mapstructure:"state_file"`
	PollInterval          time.Duration   `mapstructure:"poll_interval"`
	PollTimeout           time.Duration   `mapstructure:"poll_timeout"`
	AutoPromoteInitial    bool            `mapstructure:"auto_promote_initial"`
	AutoAssociateHostname bool            `mapstructure:"auto_associate_hostname"`
	EventBuffer           int             `mapstructure:"event_buffer"`
	Sources               []source.Config `mapstructure:"sources"`
}

// DefaultConfig returns the default configuration for the tracker module.
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		Persistence:  PersistenceSQLite,
		StateFile:    "./data/known_devices.yaml",
		PollInterval: 60 * time.Second,
		PollTimeout:  30 * time.Second,
		EventBuffer:  256,
	}
}

// LoadConfig overlays the keys set in c onto the defaults and validates the
// result. Sources get the module-wide interval and timeout unless they
// override them.
func LoadConfig(c plugin.Config) (TrackerConfig, error) {
	cfg := DefaultConfig()
	if c != nil {
		if c.IsSet("persistence") {
			cfg.Persistence = c.GetString("persistence")
		}
		if c.IsSet("state_file") {
			cfg.StateFile = c.GetString("state_file")
		}
		if d := c.GetDuration("poll_interval"); d > 0 {
			cfg.PollInterval = d
		}
		if d := c.GetDuration("poll_timeout"); d > 0 {
			cfg.PollTimeout = d
		}
		if c.IsSet("auto_promote_initial") {
			cfg.AutoPromoteInitial = c.GetBool("auto_promote_initial")
		}
		if c.IsSet("auto_associate_hostname") {
			cfg.AutoAssociateHostname = c.GetBool("auto_associate_hostname")
		}
		if v := c.GetInt("event_buffer"); v > 0 {
			cfg.EventBuffer = v
		}
		if c.IsSet("sources") {
			if err := c.UnmarshalKey("sources", &cfg.Sources); err != nil {
				return cfg, fmt.Errorf("decode sources: %w", err)
			}
		}
	}
	for i := range cfg.Sources {
		cfg.Sources[i].ApplyDefaults(cfg.PollInterval, cfg.PollTimeout)
	}
	return cfg, cfg.validate()
}

func (c TrackerConfig) validate() error {
	switch c.Persistence {
	case PersistenceSQLite:
	case PersistenceFile:
		if c.StateFile == "" {
			return fmt.Errorf("persistence %q requires state_file", PersistenceFile)
		}
	default:
		return fmt.Errorf("unknown persistence %q (want %q or %q)", c.Persistence, PersistenceSQLite, PersistenceFile)
	}
	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		s := &c.Sources[i]
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate source id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}
