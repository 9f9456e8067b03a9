// Package main provides the Kafka ingestion service for financial report uploads.
//
// Each message on the upload topic carries one report file: the key names the dataset
// type, the value holds the CSV or XLSX bytes, and the file-name, mode and format
// headers describe the upload. Messages run through the same pipeline as HTTP uploads
// and share its record store.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/ingestion"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/schema"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/storage"
)

// Build-time version information, set with -ldflags.
var (
	version = "1.0.0-dev"
	name    = "ingester"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Ingester stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Ingester stopped")
}

func run(cfg *Config, logger *slog.Logger) error {
	overrides, err := schema.LoadOverridesFromEnv()
	if err != nil {
		return err
	}

	registry := schema.NewRegistry(overrides.Option())

	store, err := storage.Open(storage.LoadConfig(), registry, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close record store", slog.String("error", err.Error()))
		}
	}()

	consumer := NewConsumer(newReader(cfg), ingestion.NewPipeline(registry, store, ingestion.WithLogger(logger)), cfg, logger)

	defer func() {
		if err := consumer.Close(); err != nil {
			logger.Error("Failed to close Kafka reader", slog.String("error", err.Error()))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting ingester",
		slog.String("service", name),
		slog.String("version", version),
		slog.Any("brokers", cfg.Brokers),
		slog.String("topic", cfg.Topic),
		slog.String("group_id", cfg.GroupID),
	)

	return consumer.Run(ctx)
}

// newReader creates a consumer-group reader with explicit commits.
func newReader(cfg *Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MaxBytes:       cfg.MaxMessageBytes,
		MaxWait:        cfg.MaxWait,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})
}
