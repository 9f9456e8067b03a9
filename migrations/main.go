// Package main provides the database migration CLI for the reports service.
//
// Migrations are embedded at build time and applied with golang-migrate, supporting
// up/down/status/version/drop commands without external files.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/config"
)

// Build-time version information, set with -ldflags.
var (
	version   = "1.0.0-dev"
	gitCommit = "unknown"
	buildTime = "unknown"
	name      = "migrator"
)

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
	)

	flag.Parse()

	if *showVersion {
		printVersionInfo(os.Stdout)
		os.Exit(0)
	}

	if *showHelp || flag.NArg() < 1 {
		printUsage(os.Stdout)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	cfg, err := LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	runner, err := NewMigrationRunner(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to create migration runner", slog.String("error", err.Error()))
		os.Exit(1)
	}

	err = executeCommand(flag.Arg(0), runner, os.Stdin, os.Stdout)
	_ = runner.Close()

	if err != nil {
		logger.Error("Migration failed", slog.String("command", flag.Arg(0)), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// executeCommand runs the named command. drop asks for confirmation on in.
func executeCommand(command string, runner MigrationRunner, in io.Reader, out io.Writer) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "version":
		return runner.Version()
	case "drop":
		_, _ = fmt.Fprint(out, "WARNING: This will drop all report tables. Are you sure? (y/N): ")

		response, _ := bufio.NewReader(in).ReadString('\n')
		if strings.EqualFold(strings.TrimSpace(response), "y") {
			return runner.Drop()
		}

		_, _ = fmt.Fprintln(out, "Operation cancelled.")

		return nil
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printVersionInfo(out io.Writer) {
	_, _ = fmt.Fprintf(out, "%s v%s\n", name, version)
	_, _ = fmt.Fprintf(out, "Git Commit: %s\n", gitCommit)
	_, _ = fmt.Fprintf(out, "Build Time: %s\n", buildTime)
}

func printUsage(out io.Writer) {
	_, _ = fmt.Fprintf(out, `%s v%s - database migrations for the reports service

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up      Apply all pending migrations
    down    Roll back the last migration
    status  Show migration status
    version Show current migration version
    drop    Drop all tables (requires confirmation)

OPTIONS:
    --help     Show this help message
    --version  Show version information

ENVIRONMENT VARIABLES:
    DATABASE_URL     PostgreSQL connection string (required)
    MIGRATION_TABLE  Migration tracking table (default: schema_migrations)
    LOG_LEVEL        debug, info, warn or error (default: info)
`, name, version, name)
}
