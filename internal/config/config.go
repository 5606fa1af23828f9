package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config interface {
	EnvConfig
	CorsConfig
	RelayConfig
	ProviderConfig
	LifecycleConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Relay
	Providers
	Lifecycle
}

// New returns a config populated with defaults only.
func New() Config {
	c := mainConfig{}
	_ = env.Parse(&c)
	return c
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	c := mainConfig{}
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("[config Load] failed to parse environment: %w", err)
	}
	return c, nil
}
