package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds the process environment overrides. They win over the file.
type Env struct {
	ConfigPath string `env:"UFC_CONFIG" envDefault:"config.yaml"`
	LogLevel   string `env:"UFC_LOG_LEVEL"`
	LogFormat  string `env:"UFC_LOG_FORMAT"`
	DryRun     *bool  `env:"UFC_DRY_RUN"`
}

// ParseEnv loads overrides from environment variables.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// Apply copies every set override onto cfg.
func (e Env) Apply(cfg *Config) {
	if e.LogLevel != "" {
		cfg.Observability.Logging.Level = e.LogLevel
	}
	if e.LogFormat != "" {
		cfg.Observability.Logging.Format = e.LogFormat
	}
	if e.DryRun != nil {
		cfg.DryRun = *e.DryRun
	}
}
