// Package middleware provides HTTP middleware components for the reports API.
package middleware

import (
	"time"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for two tiers:
//   - Global: applied to all requests
//   - Per-client: applied per client key (X-Client-ID header, else remote IP)
//
// Burst capacity allows temporary bursts above sustained rate.
// If burst fields are 0, they are computed automatically as 2 × rate.
type Config struct {
	GlobalRPS int // Default: 100
	ClientRPS int // Default: 20

	// 0 = computed by computeBurstCapacity()
	GlobalBurst int
	ClientBurst int

	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxClients      int           // Default: 10,000
}

// LoadConfig loads middleware config from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS: config.GetEnvInt("REPORTS_GLOBAL_RPS", defaultGlobalRPS),
		ClientRPS: config.GetEnvInt("REPORTS_CLIENT_RPS", defaultClientRPS),

		GlobalBurst: config.GetEnvInt("REPORTS_GLOBAL_BURST", 0),
		ClientBurst: config.GetEnvInt("REPORTS_CLIENT_BURST", 0),

		CleanupInterval: config.GetEnvDuration(
			"REPORTS_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("REPORTS_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:  config.GetEnvInt("REPORTS_RATE_LIMIT_MAX_CLIENTS", defaultMaxClients),
	}
}
