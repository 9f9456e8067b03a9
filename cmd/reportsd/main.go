// Package main provides the financial reports HTTP service.
//
// The service ingests CSV and XLSX report uploads into per-dataset record stores and
// serves filtered queries and aggregations over them.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/api"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/api/middleware"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/ingestion"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/query"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/schema"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/storage"
)

const name = "reportsd"

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, api.Version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting financial reports service",
		slog.String("service", name),
		slog.String("version", api.Version),
	)

	if err := serverConfig.Validate(); err != nil {
		logger.Error("Invalid server configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	overrides, err := schema.LoadOverridesFromEnv()
	if err != nil {
		logger.Error("Failed to load schema overrides", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry := schema.NewRegistry(overrides.Option())

	queryConfig := query.LoadConfig()
	if err := queryConfig.Validate(); err != nil {
		logger.Error("Invalid query configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store, err := storage.Open(storage.LoadConfig(), registry, logger)
	if err != nil {
		logger.Error("Failed to open record store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Rate limiter shutdown is handled by server.shutdown().
	middlewareConfig := middleware.LoadConfig()
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("global_burst", middlewareConfig.GlobalBurst),
		slog.Int("client_rps", middlewareConfig.ClientRPS),
		slog.Int("client_burst", middlewareConfig.ClientBurst),
	)

	server, err := api.NewServer(serverConfig, api.Dependencies{
		Registry:    registry,
		Store:       store,
		Pipeline:    ingestion.NewPipeline(registry, store, ingestion.WithLogger(logger)),
		Query:       query.NewService(store, registry, query.WithConfig(queryConfig), query.WithLogger(logger)),
		RateLimiter: rateLimiter,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("Failed to create server", slog.String("error", err.Error()))

		_ = store.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	if err := server.Start(); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Financial reports service stopped")
}
