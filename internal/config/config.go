// Package config loads the daemon and client configuration from a YAML
// file, layering file values over built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "2s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration shared by loadsyncd and loadsync-tail.
type Config struct {
	Hub    HubConfig    `yaml:"hub"`
	Client ClientConfig `yaml:"client"`
	Auth   AuthConfig   `yaml:"auth"`
}

// HubConfig configures the websocket daemon.
type HubConfig struct {
	Addr string `yaml:"addr"`
}

// ClientConfig configures the realtime client.
type ClientConfig struct {
	URL                  string   `yaml:"url"`
	ReconnectDelay       Duration `yaml:"reconnect_delay"`
	ReconnectJitter      float64  `yaml:"reconnect_jitter"`
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts"`
}

// AuthConfig configures upgrade-token validation. When disabled the daemon
// accepts any upgrade and relies on the in-band handshake alone.
type AuthConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Issuer      string `yaml:"issuer"`
	ExpiryHours int    `yaml:"expiry_hours"`
	SeedFile    string `yaml:"seed_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Hub: HubConfig{
			Addr: ":8090",
		},
		Client: ClientConfig{
			URL:                  "ws://localhost:8090/ws",
			ReconnectDelay:       Duration(2 * time.Second),
			ReconnectJitter:      0.25,
			MaxReconnectAttempts: 10,
		},
		Auth: AuthConfig{
			Issuer:      "loadsync",
			ExpiryHours: 24,
		},
	}
}

// Load reads the config file at path over the defaults. A missing path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Hub.Addr == "" {
		return fmt.Errorf("hub.addr must not be empty")
	}
	if c.Client.URL == "" {
		return fmt.Errorf("client.url must not be empty")
	}
	if c.Client.ReconnectJitter < 0 || c.Client.ReconnectJitter > 1 {
		return fmt.Errorf("client.reconnect_jitter must be in [0, 1], got %v", c.Client.ReconnectJitter)
	}
	if c.Client.MaxReconnectAttempts < 0 {
		return fmt.Errorf("client.max_reconnect_attempts must not be negative")
	}
	if c.Auth.Enabled && c.Auth.Issuer == "" {
		return fmt.Errorf("auth.issuer must be set when auth is enabled")
	}
	return nil
}
