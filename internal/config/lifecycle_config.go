package config

import "time"

type LifecycleConfig interface {
	GetRelayURL() string
	GetRelayToken() string
	GetLeadTimeCeiling() time.Duration
	GetDegradedRefreshAfter() time.Duration
	GetDefaultTokenWindow() time.Duration
	GetRefreshRetryDelay() time.Duration
	GetMaxRetries() int
	GetRetryBackoff() time.Duration
	GetRelayTimeout() time.Duration
	GetCacheBackend() string
	GetCachePath() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
}

type Lifecycle struct {
	RelayURL           string        `env:"RELAY_URL" envDefault:"http://localhost:8080"`
	RelayToken         string        `env:"RELAY_TOKEN"`
	LeadTimeCeiling    time.Duration `env:"REFRESH_LEAD_CEILING" envDefault:"24h"`
	DegradedRefresh    time.Duration `env:"REFRESH_DEGRADED_AFTER" envDefault:"2m"`
	DefaultTokenWindow time.Duration `env:"DEFAULT_TOKEN_WINDOW" envDefault:"1h"`
	RefreshRetryDelay  time.Duration `env:"REFRESH_RETRY_DELAY" envDefault:"1m"`
	MaxRetries         int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryBackoff       time.Duration `env:"RETRY_BACKOFF" envDefault:"500ms"`
	RelayTimeout       time.Duration `env:"RELAY_TIMEOUT" envDefault:"15s"`
	CacheBackend       string        `env:"CACHE_BACKEND" envDefault:"sqlite"`
	CachePath          string        `env:"CACHE_PATH" envDefault:"./data/profile-cache.db"`
	RedisAddr          string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword      string        `env:"REDIS_PASSWORD"`
	RedisDB            int           `env:"REDIS_DB" envDefault:"0"`
}

var _ LifecycleConfig = Lifecycle{}

func (l Lifecycle) GetRelayURL() string {
	return l.RelayURL
}

func (l Lifecycle) GetRelayToken() string {
	return l.RelayToken
}

// GetLeadTimeCeiling caps the refresh lead; the actual lead is min(10% of lifetime, ceiling)
func (l Lifecycle) GetLeadTimeCeiling() time.Duration {
	return l.LeadTimeCeiling
}

func (l Lifecycle) GetDegradedRefreshAfter() time.Duration {
	return l.DegradedRefresh
}

func (l Lifecycle) GetDefaultTokenWindow() time.Duration {
	return l.DefaultTokenWindow
}

func (l Lifecycle) GetRefreshRetryDelay() time.Duration {
	return l.RefreshRetryDelay
}

func (l Lifecycle) GetMaxRetries() int {
	return l.MaxRetries
}

func (l Lifecycle) GetRetryBackoff() time.Duration {
	return l.RetryBackoff
}

func (l Lifecycle) GetRelayTimeout() time.Duration {
	return l.RelayTimeout
}

// GetCacheBackend is "sqlite", "redis" or "memory"
func (l Lifecycle) GetCacheBackend() string {
	return l.CacheBackend
}

func (l Lifecycle) GetCachePath() string {
	return l.CachePath
}

func (l Lifecycle) GetRedisAddr() string {
	return l.RedisAddr
}

func (l Lifecycle) GetRedisPassword() string {
	return l.RedisPassword
}

func (l Lifecycle) GetRedisDB() int {
	return l.RedisDB
}
