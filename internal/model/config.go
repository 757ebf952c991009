package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ChannelConfig holds settings for the realtime channel connection.
type ChannelConfig struct {
	// URL is the websocket endpoint of the realtime mailbox service.
	URL string `mapstructure:"url" yaml:"url"`

	// MinBackoffSec is the initial reconnect delay in seconds.
	MinBackoffSec int `mapstructure:"min_backoff_sec" yaml:"min_backoff_sec"`

	// MaxBackoffSec caps the reconnect delay in seconds.
	MaxBackoffSec int `mapstructure:"max_backoff_sec" yaml:"max_backoff_sec"`

	// UnreachableAfter is how many consecutive failed reconnect
	// attempts trigger a single "server unreachable" notice.
	UnreachableAfter int `mapstructure:"unreachable_after" yaml:"unreachable_after"`
}

// RESTConfig holds settings for the account/category REST endpoints.
type RESTConfig struct {
	// BaseURL is the root URL of the account service.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// CacheConfig holds settings for the in-memory mailbox cache.
type CacheConfig struct {
	// TTLSec is how long (in seconds) a cache entry stays fresh.
	TTLSec int `mapstructure:"ttl_sec" yaml:"ttl_sec"`
}

// SessionConfig holds settings for the local session-identity store.
type SessionConfig struct {
	// DBPath is the path of the SQLite session database.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Channel ChannelConfig `mapstructure:"channel" yaml:"channel"`
	REST    RESTConfig    `mapstructure:"rest" yaml:"rest"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailboxd/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailboxd", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Channel: ChannelConfig{
			MinBackoffSec:    1,
			MaxBackoffSec:    10,
			UnreachableAfter: 5,
		},
		Cache: CacheConfig{
			TTLSec: 300,
		},
		Session: SessionConfig{
			DBPath: filepath.Join(
				filepath.Dir(DefaultConfigPath()), "session.db",
			),
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("channel.min_backoff_sec", 1)
	v.SetDefault("channel.max_backoff_sec", 10)
	v.SetDefault("channel.unreachable_after", 5)
	v.SetDefault("cache.ttl_sec", 300)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("channel", cfg.Channel)
	v.Set("rest", cfg.REST)
	v.Set("cache", cfg.Cache)
	v.Set("session", cfg.Session)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
