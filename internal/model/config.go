package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// AccountConfig holds the static configuration for a single mail account.
type AccountConfig struct {
	// Name is the user-defined label shown in the account bar.
	Name string `mapstructure:"name" yaml:"name"`

	// Email is the account address and the login username.
	Email string `mapstructure:"email" yaml:"email"`

	// Server is the IMAP host. An empty value means "not configured".
	Server string `mapstructure:"server" yaml:"server"`

	Port int `mapstructure:"port" yaml:"port"`

	// UseTLS selects implicit TLS; StartTLS upgrades a plaintext
	// connection. With neither set the connection is plaintext.
	UseTLS   bool `mapstructure:"use_tls" yaml:"use_tls"`
	StartTLS bool `mapstructure:"starttls" yaml:"starttls"`
}

// Account converts the configuration into a disconnected Account.
func (c AccountConfig) Account() Account {
	return Account{
		Name:     c.Name,
		Email:    c.Email,
		Server:   c.Server,
		Port:     c.Port,
		UseTLS:   c.UseTLS,
		StartTLS: c.StartTLS,
	}
}

// CacheConfig controls the header cache.
type CacheConfig struct {
	TTLSec int `mapstructure:"ttl_sec" yaml:"ttl_sec"`
}

// SyncConfig controls command processing.
type SyncConfig struct {
	OperationTimeoutSec int    `mapstructure:"operation_timeout_sec" yaml:"operation_timeout_sec"`
	FetchLimit          int    `mapstructure:"fetch_limit" yaml:"fetch_limit"`
	CleanupSchedule     string `mapstructure:"cleanup_schedule" yaml:"cleanup_schedule"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Accounts []AccountConfig `mapstructure:"accounts" yaml:"accounts"`
	Cache    CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Sync     SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Log      LogConfig       `mapstructure:"log" yaml:"log"`
}

// CacheTTL returns the cache duration as a time.Duration.
func (c *AppConfig) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSec) * time.Second
}

// OperationTimeout returns the per-command network timeout.
func (c *AppConfig) OperationTimeout() time.Duration {
	return time.Duration(c.Sync.OperationTimeoutSec) * time.Second
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailcross/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailcross", "config.yaml")
}

// DefaultDBPath returns the default location of the account database.
func DefaultDBPath() string {
	return filepath.Join(filepath.Dir(DefaultConfigPath()), "accounts.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Accounts: []AccountConfig{},
		Cache: CacheConfig{
			TTLSec: 300,
		},
		Sync: SyncConfig{
			OperationTimeoutSec: 30,
			FetchLimit:          50,
			CleanupSchedule:     "@every 1m",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("cache.ttl_sec", 300)
	v.SetDefault("sync.operation_timeout_sec", 30)
	v.SetDefault("sync.fetch_limit", 50)
	v.SetDefault("sync.cleanup_schedule", "@every 1m")
	v.SetDefault("log.level", "info")

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

	for i := range cfg.Accounts {
		if cfg.Accounts[i].Port != 0 {
			continue
		}
		// Standard IMAP ports when none is given.
		if cfg.Accounts[i].UseTLS {
			cfg.Accounts[i].Port = 993
		} else {
			cfg.Accounts[i].Port = 143
		}
	}

	if cfg.Cache.TTLSec <= 0 {
		cfg.Cache.TTLSec = 300
	}
	if cfg.Sync.OperationTimeoutSec <= 0 {
		cfg.Sync.OperationTimeoutSec = 30
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

	v.Set("accounts", cfg.Accounts)
	v.Set("cache", cfg.Cache)
	v.Set("sync", cfg.Sync)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
