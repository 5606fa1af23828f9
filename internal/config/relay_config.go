package config

import "time"

type RelayConfig interface {
	GetBaseURL() string
	GetJWTSecret() string
	GetSessionTokenExpiry() time.Duration
	GetDatabaseDriver() string
	GetDatabaseDSN() string
	GetSealKey() string
	GetAuthFlowTimeout() time.Duration
}

type Relay struct {
	BaseURL            string        `env:"BASE_URL" envDefault:"http://localhost:8080"`
	JWTSecret          string        `env:"RELAY_JWT_SECRET" envDefault:"change-me-in-production"`
	SessionTokenExpiry time.Duration `env:"RELAY_SESSION_EXPIRY" envDefault:"12h"`
	DatabaseDriver     string        `env:"DATABASE_DRIVER" envDefault:"sqlite3"`
	DatabaseDSN        string        `env:"DATABASE_DSN" envDefault:"./data/accounts.db"`
	SealKey            string        `env:"TOKEN_SEAL_KEY" envDefault:"change-me-in-production"`
	AuthFlowTimeout    time.Duration `env:"AUTH_FLOW_TIMEOUT" envDefault:"15m"`
}

var _ RelayConfig = Relay{}

// GetBaseURL returns the public base URL of the relay (e.g., "https://relay.example.com")
func (r Relay) GetBaseURL() string {
	return r.BaseURL
}

func (r Relay) GetJWTSecret() string {
	return r.JWTSecret
}

func (r Relay) GetSessionTokenExpiry() time.Duration {
	return r.SessionTokenExpiry
}

// GetDatabaseDriver is "sqlite3" or "postgres"
func (r Relay) GetDatabaseDriver() string {
	return r.DatabaseDriver
}

func (r Relay) GetDatabaseDSN() string {
	return r.DatabaseDSN
}

func (r Relay) GetSealKey() string {
	return r.SealKey
}

func (r Relay) GetAuthFlowTimeout() time.Duration {
	return r.AuthFlowTimeout
}
