package query

import (
	"errors"
	"time"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/config"
)

const (
	defaultCacheTTL        = 30 * time.Second
	defaultCacheMaxEntries = 256
)

var errNegativeCacheSetting = errors.New("query cache TTL and max entries must not be negative")

// Config holds query cache configuration. A zero TTL or entry limit disables caching.
type Config struct {
	CacheTTL        time.Duration
	CacheMaxEntries int
}

// LoadConfig loads query configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		CacheTTL:        config.GetEnvDuration("QUERY_CACHE_TTL", defaultCacheTTL),
		CacheMaxEntries: config.GetEnvInt("QUERY_CACHE_MAX_ENTRIES", defaultCacheMaxEntries),
	}
}

// DefaultConfig returns the default cache settings.
func DefaultConfig() *Config {
	return &Config{CacheTTL: defaultCacheTTL, CacheMaxEntries: defaultCacheMaxEntries}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.CacheTTL < 0 || c.CacheMaxEntries < 0 {
		return errNegativeCacheSetting
	}

	return nil
}

func (c *Config) cacheEnabled() bool {
	return c.CacheTTL > 0 && c.CacheMaxEntries > 0
}
