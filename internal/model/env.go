package model

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

// EnvConfig holds process-level overrides read from the environment.
// Zero values mean "not set" and leave the file configuration alone.
type EnvConfig struct {
	ConfigPath       string        `env:"MAILCROSS_CONFIG"`
	DBPath           string        `env:"MAILCROSS_DB"`
	LogLevel         string        `env:"MAILCROSS_LOG_LEVEL"`
	LogFile          string        `env:"MAILCROSS_LOG_FILE"`
	CacheTTL         time.Duration `env:"MAILCROSS_CACHE_TTL"`
	OperationTimeout time.Duration `env:"MAILCROSS_OPERATION_TIMEOUT"`
}

// LoadEnv parses MAILCROSS_* variables.
func LoadEnv() (*EnvConfig, error) {
	var cfg EnvConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}

// Apply overlays the environment values onto a file configuration.
func (e *EnvConfig) Apply(cfg *AppConfig) {
	if e.LogLevel != "" {
		cfg.Log.Level = e.LogLevel
	}
	if e.LogFile != "" {
		cfg.Log.File = e.LogFile
	}
	if e.CacheTTL > 0 {
		cfg.Cache.TTLSec = wholeSeconds(e.CacheTTL)
	}
	if e.OperationTimeout > 0 {
		cfg.Sync.OperationTimeoutSec = wholeSeconds(e.OperationTimeout)
	}
}

// wholeSeconds rounds d up so a positive sub-second value stays positive.
func wholeSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}
