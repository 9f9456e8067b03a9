package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type (
	// MigrationRunner defines the interface for running database migrations.
	MigrationRunner interface {
		// Up applies all pending migrations
		Up() error

		// Down rolls back the last migration
		Down() error

		// Status reports the current version and whether migrations are pending
		Status() error

		// Version reports the current migration version
		Version() error

		// Drop drops all tables (destructive operation)
		Drop() error

		// Close closes any open connections
		Close() error
	}

	// Runner implements MigrationRunner using golang-migrate.
	Runner struct {
		config     *Config
		migrate    *migrate.Migrate
		db         *sql.DB
		migrations *EmbeddedMigrations
		logger     *slog.Logger
	}

	// migrateLogger adapts slog to the migrate.Logger interface.
	migrateLogger struct {
		logger *slog.Logger
	}
)

var _ migrate.Logger = (*migrateLogger)(nil)

// NewMigrationRunner validates the embedded migrations, connects to the database and
// prepares a golang-migrate instance over the iofs source.
func NewMigrationRunner(ctx context.Context, config *Config, logger *slog.Logger) (*Runner, error) {
	logger.Info("Initializing migration runner", slog.String("config", config.String()))

	migrations := NewEmbeddedMigrations(nil)
	if err := migrations.Validate(); err != nil {
		return nil, fmt.Errorf("embedded migration validation failed: %w", err)
	}

	db, err := sql.Open("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: config.MigrationTable,
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	source, err := iofs.New(migrations.FS(), ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{logger: logger}

	return &Runner{
		config:     config,
		migrate:    m,
		db:         db,
		migrations: migrations,
		logger:     logger,
	}, nil
}

// Up applies all pending migrations.
func (r *Runner) Up() error {
	if err := r.migrations.Validate(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	err := r.migrate.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("No new migrations to apply")

		return nil
	}

	if err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}

	r.logger.Info("All migrations applied successfully")

	return nil
}

// Down rolls back the last migration.
func (r *Runner) Down() error {
	if err := r.migrations.Validate(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	err := r.migrate.Steps(-1)
	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("No migrations to roll back")

		return nil
	}

	if err != nil {
		return fmt.Errorf("migration down failed: %w", err)
	}

	r.logger.Info("Last migration rolled back successfully")

	return nil
}

// Status reports the current version, dirtiness and pending migration count.
func (r *Runner) Status() error {
	current, dirty, err := r.currentVersion()
	if err != nil {
		return err
	}

	available := r.migrations.MaxVersion()

	r.logger.Info("Migration status",
		slog.Int("database_version", current),
		slog.Int("available_version", available),
		slog.Bool("dirty", dirty),
		slog.String("state", compatibility(current, available)))

	return nil
}

// Version reports the current migration version.
func (r *Runner) Version() error {
	current, dirty, err := r.currentVersion()
	if err != nil {
		return err
	}

	r.logger.Info("Current version", slog.Int("version", current), slog.Bool("dirty", dirty))

	return nil
}

// Drop drops all tables.
func (r *Runner) Drop() error {
	r.logger.Warn("Dropping all tables")

	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop operation failed: %w", err)
	}

	r.logger.Info("All tables dropped successfully")

	return nil
}

// Close closes the migrate instance and the database connection.
func (r *Runner) Close() error {
	var errs []error

	if r.migrate != nil {
		sourceErr, dbErr := r.migrate.Close()
		if sourceErr != nil {
			errs = append(errs, fmt.Errorf("source close error: %w", sourceErr))
		}

		if dbErr != nil {
			errs = append(errs, fmt.Errorf("database close error: %w", dbErr))
		}
	}

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database connection close error: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (r *Runner) currentVersion() (int, bool, error) {
	ver, dirty, err := r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return int(ver), dirty, nil // #nosec G115 - version numbers are small
}

// compatibility describes how the database schema relates to the embedded migrations.
func compatibility(current, available int) string {
	switch {
	case current == available:
		return "up to date"
	case current < available:
		return fmt.Sprintf("%d migration(s) pending", available-current)
	default:
		return "database schema newer than migrator"
	}
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}

func (l *migrateLogger) Verbose() bool {
	return l.logger.Enabled(context.Background(), slog.LevelDebug)
}
