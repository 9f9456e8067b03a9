package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/ingestion"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/storage"
)

// Message headers understood by the ingester. The message key carries the dataset type
// and the value the raw file bytes.
const (
	headerFileName = "file-name"
	headerMode     = "mode"
	headerFormat   = "format"
)

// errInvalidMessage marks messages that can never be ingested, whatever the retry.
var errInvalidMessage = errors.New("invalid upload message")

type (
	// messageReader is the subset of *kafka.Reader the consumer needs.
	messageReader interface {
		FetchMessage(ctx context.Context) (kafka.Message, error)
		CommitMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	// ingester runs one upload through the pipeline; *ingestion.Pipeline implements it.
	ingester interface {
		Ingest(ctx context.Context, upload ingestion.Upload) (*ingestion.Result, error)
	}

	// Consumer ingests upload messages and commits each offset once its upload is
	// settled: committed to the store, or permanently rejected.
	Consumer struct {
		reader   messageReader
		pipeline ingester
		logger   *slog.Logger
		attempts int
		backoff  time.Duration
	}

	// outcome summarizes how one message was settled.
	outcome struct {
		datasetType dataset.Type
		fileName    string
		accepted    int
		rejected    int
		err         error
	}
)

// NewConsumer creates a consumer reading from reader.
func NewConsumer(reader messageReader, pipeline ingester, cfg *Config, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		reader:   reader,
		pipeline: pipeline,
		logger:   logger,
		attempts: cfg.RetryAttempts,
		backoff:  cfg.RetryBackoff,
	}
}

// Run consumes messages until ctx is cancelled or a message keeps failing on storage.
// A cancelled ctx returns nil. A message that exhausts its retries is left uncommitted
// so the group redelivers it after restart.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("failed to fetch message: %w", err)
		}

		result := c.handle(ctx, msg)

		if isTransient(result.err) {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("giving up on offset %d of partition %d: %w", msg.Offset, msg.Partition, result.err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("failed to commit offset %d: %w", msg.Offset, err)
		}
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// handle ingests one message, retrying storage failures with a linear backoff.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) outcome {
	upload, err := decodeUpload(msg)
	if err != nil {
		c.logOutcome(msg, outcome{err: err})

		return outcome{err: err}
	}

	out := outcome{datasetType: upload.DatasetType, fileName: upload.FileName}

	for attempt := 1; ; attempt++ {
		result, err := c.pipeline.Ingest(ctx, upload)
		out.err = err

		if result != nil {
			out.accepted = len(result.Accepted)
			out.rejected = result.RejectedRowCount
		}

		if !isTransient(err) || attempt >= c.attempts || ctx.Err() != nil {
			break
		}

		c.logger.Warn("Ingest failed on storage, retrying",
			slog.String("dataset_type", upload.DatasetType.String()),
			slog.String("file_name", upload.FileName),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}

	c.logOutcome(msg, out)

	return out
}

func (c *Consumer) logOutcome(msg kafka.Message, out outcome) {
	attrs := []slog.Attr{
		slog.String("topic", msg.Topic),
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
		slog.String("dataset_type", out.datasetType.String()),
		slog.String("file_name", out.fileName),
		slog.Int("accepted", out.accepted),
		slog.Int("rejected", out.rejected),
	}

	switch {
	case out.err == nil:
		c.logger.LogAttrs(context.Background(), slog.LevelInfo, "Upload message ingested", attrs...)
	case isTransient(out.err):
		attrs = append(attrs, slog.String("error", out.err.Error()))
		c.logger.LogAttrs(context.Background(), slog.LevelError, "Upload message not committed", attrs...)
	default:
		attrs = append(attrs, slog.String("error", out.err.Error()))
		c.logger.LogAttrs(context.Background(), slog.LevelWarn, "Upload message rejected", attrs...)
	}
}

// decodeUpload builds an upload from a message: key = dataset type, value = file bytes.
func decodeUpload(msg kafka.Message) (ingestion.Upload, error) {
	dt, err := dataset.ParseType(strings.TrimSpace(string(msg.Key)))
	if err != nil {
		return ingestion.Upload{}, fmt.Errorf("%w: %w", errInvalidMessage, err)
	}

	upload := ingestion.Upload{DatasetType: dt, Content: msg.Value}

	var mode string

	for _, h := range msg.Headers {
		switch strings.ToLower(h.Key) {
		case headerFileName:
			upload.FileName = strings.TrimSpace(string(h.Value))
		case headerMode:
			mode = string(h.Value)
		case headerFormat:
			upload.Format = strings.TrimSpace(string(h.Value))
		}
	}

	upload.Mode, err = ingestion.ParseMode(mode)
	if err != nil {
		return ingestion.Upload{}, fmt.Errorf("%w: %w", errInvalidMessage, err)
	}

	return upload, nil
}

// isTransient reports whether err may succeed on redelivery. Structural failures,
// rejected uploads, bad messages and quota errors are settled for good.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return errors.Is(err, storage.ErrStorage) && !errors.Is(err, storage.ErrQuotaExceeded)
}
