package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/config"
)

const (
	defaultTopic           = "report-uploads"
	defaultGroupID         = "reports-ingester"
	defaultMaxMessageBytes = 32 << 20
	defaultMaxWait         = 500 * time.Millisecond
	defaultRetryAttempts   = 3
	defaultRetryBackoff    = time.Second
	defaultLogLevel        = slog.LevelInfo
)

var (
	errNoBrokers     = errors.New("INGEST_KAFKA_BROKERS cannot be empty")
	errEmptyTopic    = errors.New("INGEST_KAFKA_TOPIC cannot be empty")
	errEmptyGroupID  = errors.New("INGEST_KAFKA_GROUP_ID cannot be empty")
	errInvalidLimits = errors.New("message size, retry attempts and backoff must be positive")
)

// Config holds the ingester configuration.
type Config struct {
	Brokers         []string
	Topic           string
	GroupID         string
	MaxMessageBytes int
	MaxWait         time.Duration
	// RetryAttempts bounds how often a message is retried after a storage failure
	// before the ingester stops without committing it.
	RetryAttempts int
	RetryBackoff  time.Duration
	LogLevel      slog.Level
}

// LoadConfig loads the ingester configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Brokers:         config.GetEnvList("INGEST_KAFKA_BROKERS", []string{"localhost:9092"}),
		Topic:           strings.TrimSpace(config.GetEnvStr("INGEST_KAFKA_TOPIC", defaultTopic)),
		GroupID:         strings.TrimSpace(config.GetEnvStr("INGEST_KAFKA_GROUP_ID", defaultGroupID)),
		MaxMessageBytes: config.GetEnvInt("INGEST_MAX_MESSAGE_BYTES", defaultMaxMessageBytes),
		MaxWait:         config.GetEnvDuration("INGEST_KAFKA_MAX_WAIT", defaultMaxWait),
		RetryAttempts:   config.GetEnvInt("INGEST_RETRY_ATTEMPTS", defaultRetryAttempts),
		RetryBackoff:    config.GetEnvDuration("INGEST_RETRY_BACKOFF", defaultRetryBackoff),
		LogLevel:        config.GetEnvLogLevel("REPORTS_LOG_LEVEL", defaultLogLevel),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errNoBrokers
	}

	if c.Topic == "" {
		return errEmptyTopic
	}

	if c.GroupID == "" {
		return errEmptyGroupID
	}

	if c.MaxMessageBytes <= 0 || c.RetryAttempts <= 0 || c.RetryBackoff <= 0 {
		return errInvalidLimits
	}

	return nil
}
