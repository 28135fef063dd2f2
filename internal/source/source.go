// Package source implements the read-only adapters that fetch connected
// client records from routers and access points.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/apwatch/pkg/models"
	"go.uber.org/zap"
)

// ErrSourceUnavailable wraps every poll failure: unreachable host, bad
// credentials, timeout, or no usable command.
var ErrSourceUnavailable = errors.New("source unavailable")

// Adapter types.
const (
	TypeUbus = "ubus"
	TypeSSH  = "ssh"
)

// Adapter fetches one snapshot of connected clients from a single device.
type Adapter interface {
	Poll(ctx context.Context) ([]models.RawRecord, error)
	Close() error
}

// Config describes one configured source.
type Config struct {
	ID        string        `mapstructure:"id" json:"id"`
	Scope     string        `mapstructure:"scope" json:"scope"`
	Type      string        `mapstructure:"type" json:"type"`
	Host      string        `mapstructure:"host" json:"host"`
	Port      int           `mapstructure:"port" json:"port,omitempty"`
	Username  string        `mapstructure:"username" json:"username,omitempty"`
	Password  string        `mapstructure:"password" json:"-"`
	UseSSL    bool          `mapstructure:"use_ssl" json:"use_ssl,omitempty"`
	VerifySSL bool          `mapstructure:"verify_ssl" json:"verify_ssl,omitempty"`
	Commands  []string      `mapstructure:"commands" json:"commands,omitempty"`
	Enrich    *bool         `mapstructure:"dhcp_enrichment" json:"dhcp_enrichment,omitempty"`
	Interval  time.Duration `mapstructure:"interval" json:"interval,omitempty"`
	Timeout   time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
}

// ApplyDefaults fills unset fields. The alias scope defaults to the source ID.
func (c *Config) ApplyDefaults(interval, timeout time.Duration) {
	if c.Scope == "" {
		c.Scope = c.ID
	}
	if c.Interval <= 0 {
		c.Interval = interval
	}
	if c.Timeout <= 0 {
		c.Timeout = timeout
	}
	if c.Username == "" {
		c.Username = "root"
	}
	if c.Port == 0 {
		switch {
		case c.Type == TypeSSH:
			c.Port = 22
		case c.UseSSL:
			c.Port = 443
		default:
			c.Port = 80
		}
	}
	if c.Type == TypeSSH && len(c.Commands) == 0 {
		c.Commands = append([]string(nil), DefaultCommands...)
	}
	if c.Enrich == nil {
		enrich := true
		c.Enrich = &enrich
	}
}

// Validate reports the first configuration problem.
func (c *Config) Validate() error {
	switch {
	case c.ID == "":
		return errors.New("source id is required")
	case c.Host == "":
		return fmt.Errorf("source %q: host is required", c.ID)
	case c.Type != TypeUbus && c.Type != TypeSSH:
		return fmt.Errorf("source %q: unknown type %q (want %q or %q)", c.ID, c.Type, TypeUbus, TypeSSH)
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("source %q: port %d out of range", c.ID, c.Port)
	}
	return nil
}

func (c *Config) enrich() bool {
	return c.Enrich == nil || *c.Enrich
}

// New builds the adapter for cfg.
func New(cfg Config, logger *zap.Logger) (Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("source", cfg.ID), zap.String("type", cfg.Type))
	switch cfg.Type {
	case TypeSSH:
		return NewSSH(cfg, logger), nil
	default:
		return NewUbus(cfg, logger), nil
	}
}

func unavailable(id string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, id, err)
}
