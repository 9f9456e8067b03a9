package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/config"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
	defaultPingTimeout     = 5 * time.Second
	defaultMaxRecords      = 0
)

var (
	// ErrDatabaseURLEmpty is returned when the database url is an empty string.
	ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")
)

// Config holds record store configuration. DATABASE_URL selects the PostgreSQL
// backend; without it the in-memory backend is used.
type Config struct {
	databaseURL     string
	MaxOpenConns    int           // Maximum number of open connections
	MaxIdleConns    int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of connections
	ConnMaxIdleTime time.Duration // Maximum idle time for connections
	PingTimeout     time.Duration // Timeout of connection health checks
	MaxRecords      int           // In-memory quota per dataset type, 0 for none
}

// LoadConfig loads storage configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		databaseURL:     config.GetEnvStr("DATABASE_URL", ""),
		MaxOpenConns:    config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:    config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime: config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
		PingTimeout:     config.GetEnvDuration("DATABASE_PING_TIMEOUT", defaultPingTimeout),
		MaxRecords:      config.GetEnvInt("STORE_MAX_RECORDS_PER_DATASET", defaultMaxRecords),
	}
}

// NewConfig returns a configuration for databaseURL with default pool settings.
func NewConfig(databaseURL string) *Config {
	return &Config{
		databaseURL:     databaseURL,
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
		PingTimeout:     defaultPingTimeout,
	}
}

// UsePostgres reports whether a database URL is configured.
func (c *Config) UsePostgres() bool {
	return strings.TrimSpace(c.databaseURL) != ""
}

// Validate checks that the PostgreSQL configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	return nil
}

// MaskDatabaseURL returns the database URL with its password replaced by ***.
func (c *Config) MaskDatabaseURL() string {
	schemeEnd := strings.Index(c.databaseURL, "://")
	if schemeEnd == -1 {
		return c.databaseURL
	}

	afterScheme := c.databaseURL[schemeEnd+3:]

	at := strings.LastIndex(afterScheme, "@")
	if at == -1 {
		return c.databaseURL
	}

	username, password, found := strings.Cut(afterScheme[:at], ":")
	if !found || password == "" {
		return c.databaseURL
	}

	return c.databaseURL[:schemeEnd] + "://" + username + ":***" + afterScheme[at:]
}
