package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides: APW_SERVER_PORT=9090.
const EnvPrefix = "APW"

// Load reads apwatch.yaml (or the file at path) and environment overrides on
// top of built-in defaults. A missing default config file is not an error.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("apwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/apwatch")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

// SetDefaults registers the default value of every known key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_only", false)
	v.SetDefault("server.dev_mode", false)
	v.SetDefault("server.rate_limit.rps", 20.0)
	v.SetDefault("server.rate_limit.burst", 40)
	v.SetDefault("server.rate_limit.refresh_interval", "5s")
	v.SetDefault("server.rate_limit.trust_forwarded", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "./data/apwatch.db")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("plugins.tracker.persistence", "sqlite")
	v.SetDefault("plugins.tracker.state_file", "./data/known_devices.yaml")
	v.SetDefault("plugins.tracker.poll_interval", "60s")
	v.SetDefault("plugins.tracker.poll_timeout", "30s")
	v.SetDefault("plugins.tracker.auto_promote_initial", false)
	v.SetDefault("plugins.tracker.auto_associate_hostname", false)
	v.SetDefault("plugins.tracker.event_buffer", 256)

	v.SetDefault("plugins.mqtt.broker_url", "")
	v.SetDefault("plugins.mqtt.client_id", "apwatch")
	v.SetDefault("plugins.mqtt.topic_prefix", "apwatch")
	v.SetDefault("plugins.mqtt.qos", 1)
	v.SetDefault("plugins.mqtt.retain", false)
	v.SetDefault("plugins.mqtt.timeout", "10s")
	v.SetDefault("plugins.mqtt.ha_discovery", false)
	v.SetDefault("plugins.mqtt.ha_discovery_prefix", "homeassistant")

	v.SetDefault("plugins.influx.enabled", false)
	v.SetDefault("plugins.influx.url", "http://localhost:8086")
	v.SetDefault("plugins.influx.org", "apwatch")
	v.SetDefault("plugins.influx.bucket", "presence")
	v.SetDefault("plugins.influx.batch_size", 100)
	v.SetDefault("plugins.influx.flush_interval", "10s")

	v.SetDefault("plugins.webhook.enabled", true)
	v.SetDefault("plugins.webhook.url", "")
	v.SetDefault("plugins.webhook.timeout", "10s")
	v.SetDefault("plugins.webhook.cycles", false)
}
