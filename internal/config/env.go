package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Env holds process-level overrides read from GOSSIPTRACE_* variables.
type Env struct {
	ConfigPath   string `env:"GOSSIPTRACE_CONFIG"`
	DBPath       string `env:"GOSSIPTRACE_DB_PATH"`
	AppName      string `env:"GOSSIPTRACE_APP_NAME" envDefault:"gossiptrace"`
	DevMode      *bool  `env:"GOSSIPTRACE_DEV_MODE"`
	OTLPEndpoint string `env:"GOSSIPTRACE_OTEL_ENDPOINT"`
}

// ParseEnv loads overrides from the process environment.
func ParseEnv() (Env, error) {
	var out Env
	if err := env.Parse(&out); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return out, nil
}

// ParseEnvFrom loads overrides from an explicit variable map.
func ParseEnvFrom(vars map[string]string) (Env, error) {
	var out Env
	if err := env.ParseWithOptions(&out, env.Options{Environment: vars}); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return out, nil
}

// Apply layers non-empty overrides onto a loaded file config.
func (e Env) Apply(cfg Config) Config {
	if v := strings.TrimSpace(e.DBPath); v != "" {
		cfg.Database.Path = v
	}
	if v := strings.TrimSpace(e.OTLPEndpoint); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	return cfg
}
