package storage

import (
	"fmt"
	"log/slog"
)

// Open returns the backend selected by cfg: PostgreSQL when DATABASE_URL is set, the
// in-memory store otherwise. The PostgreSQL schema must already be migrated.
func Open(cfg *Config, index DateIndex, logger *slog.Logger) (RecordStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if !cfg.UsePostgres() {
		logger.Info("Using in-memory record store",
			slog.Int("max_records_per_dataset", cfg.MaxRecords),
		)

		return NewMemoryStore(index, WithMaxRecords(cfg.MaxRecords), WithMemoryLogger(logger)), nil
	}

	conn, err := NewConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store, err := NewPostgresStore(conn, index, WithPostgresLogger(logger))
	if err != nil {
		_ = conn.Close()

		return nil, err
	}

	logger.Info("Using PostgreSQL record store",
		slog.String("database_url", cfg.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", cfg.MaxOpenConns),
		slog.Int("database_max_idle_conns", cfg.MaxIdleConns),
		slog.Duration("database_conn_max_lifetime", cfg.ConnMaxLifetime),
		slog.Duration("database_conn_max_idle_time", cfg.ConnMaxIdleTime),
	)

	return store, nil
}
