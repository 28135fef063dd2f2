package influx

import "time"

// Config holds InfluxDB writer configuration.
type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	Token         string        `mapstructure:"token"` //nolint:gosec // G101: config field name, not a credential
	Org           string        `mapstructure:"org"`
	Bucket        string        `mapstructure:"bucket"`
	BatchSize     uint          `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// DefaultConfig returns sensible defaults for the InfluxDB writer.
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		URL:           "http://localhost:8086",
		Org:           "apwatch",
		Bucket:        "presence",
		BatchSize:     100,
		FlushInterval: 10 * time.Second,
	}
}
