package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/ingestion"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/schema"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/storage"
)

const lendingCSV = "Date,Amount,Product,Account ID\n" +
	"15/01/2024,1000,Personal,A-1\n" +
	"16/01/2024,,Personal,A-2\n" +
	"17/02/2024,\"£2,500.50\",Mortgage,A-3\n"

// fakeReader serves a fixed list of messages, then cancels the run.
type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	onDrain   func()
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()

	if len(f.messages) > 0 {
		msg := f.messages[0]
		f.messages = f.messages[1:]
		f.mu.Unlock()

		return msg, nil
	}

	f.mu.Unlock()

	if f.onDrain != nil {
		f.onDrain()
	}

	<-ctx.Done()

	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}

	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true

	return nil
}

// scriptedIngester returns the queued errors in order, then succeeds.
type scriptedIngester struct {
	errs  []error
	calls int
}

func (s *scriptedIngester) Ingest(_ context.Context, _ ingestion.Upload) (*ingestion.Result, error) {
	s.calls++

	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]

		return &ingestion.Result{State: ingestion.StateRejected}, err
	}

	return &ingestion.Result{State: ingestion.StatePersisted}, nil
}

func uploadMessage(offset int64, key, fileName, content string, headers ...kafka.Header) kafka.Message {
	return kafka.Message{
		Topic:   defaultTopic,
		Offset:  offset,
		Key:     []byte(key),
		Value:   []byte(content),
		Headers: append([]kafka.Header{{Key: headerFileName, Value: []byte(fileName)}}, headers...),
	}
}

func testConfig() *Config {
	return &Config{
		Brokers:         []string{"localhost:9092"},
		Topic:           defaultTopic,
		GroupID:         defaultGroupID,
		MaxMessageBytes: defaultMaxMessageBytes,
		RetryAttempts:   3,
		RetryBackoff:    time.Millisecond,
	}
}

func TestConsumer_IngestsAndCommits(t *testing.T) {
	registry := schema.NewRegistry()
	store := storage.NewMemoryStore(registry)
	pipeline := ingestion.NewPipeline(registry, store, ingestion.WithLogger(slog.New(slog.DiscardHandler)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		messages: []kafka.Message{
			uploadMessage(1, "lending-volume", "jan.csv", lendingCSV),
			uploadMessage(2, "no-such-dataset", "x.csv", lendingCSV),
			uploadMessage(3, "lending-volume", "empty.csv", ""),
			uploadMessage(4, "lending-volume", "jan.csv", lendingCSV,
				kafka.Header{Key: headerMode, Value: []byte("sideways")}),
		},
		onDrain: cancel,
	}

	consumer := NewConsumer(reader, pipeline, testConfig(), slog.New(slog.DiscardHandler))

	require.NoError(t, consumer.Run(ctx))

	assert.Equal(t, []int64{1, 2, 3, 4}, reader.committed, "ingested and permanently rejected messages are committed")

	meta, err := store.Metadata(context.Background(), dataset.LendingVolume)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.RecordCount)
	assert.Equal(t, "jan.csv", meta.FileName)

	require.NoError(t, consumer.Close())
	assert.True(t, reader.closed)
}

func TestConsumer_RetriesStorageFailures(t *testing.T) {
	storageErr := &storage.StorageError{Op: "commit", DatasetType: dataset.LendingVolume, Err: errors.New("connection reset")}

	t.Run("recovers within the retry budget", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		reader := &fakeReader{
			messages: []kafka.Message{uploadMessage(7, "lending-volume", "jan.csv", lendingCSV)},
			onDrain:  cancel,
		}
		pipeline := &scriptedIngester{errs: []error{storageErr, storageErr}}

		consumer := NewConsumer(reader, pipeline, testConfig(), slog.New(slog.DiscardHandler))

		require.NoError(t, consumer.Run(ctx))
		assert.Equal(t, 3, pipeline.calls)
		assert.Equal(t, []int64{7}, reader.committed)
	})

	t.Run("stops without committing when retries run out", func(t *testing.T) {
		reader := &fakeReader{
			messages: []kafka.Message{uploadMessage(8, "lending-volume", "jan.csv", lendingCSV)},
		}
		pipeline := &scriptedIngester{errs: []error{storageErr, storageErr, storageErr}}

		consumer := NewConsumer(reader, pipeline, testConfig(), slog.New(slog.DiscardHandler))

		err := consumer.Run(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, storage.ErrStorage)
		assert.Equal(t, 3, pipeline.calls)
		assert.Empty(t, reader.committed)
	})

	t.Run("quota errors are not retried", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		quotaErr := &storage.StorageError{Op: "commit", Err: storage.ErrQuotaExceeded}
		reader := &fakeReader{
			messages: []kafka.Message{uploadMessage(9, "lending-volume", "jan.csv", lendingCSV)},
			onDrain:  cancel,
		}
		pipeline := &scriptedIngester{errs: []error{quotaErr}}

		consumer := NewConsumer(reader, pipeline, testConfig(), slog.New(slog.DiscardHandler))

		require.NoError(t, consumer.Run(ctx))
		assert.Equal(t, 1, pipeline.calls)
		assert.Equal(t, []int64{9}, reader.committed)
	})
}

func TestDecodeUpload(t *testing.T) {
	msg := uploadMessage(1, " Call_Center ", " feb.xlsx ", "data",
		kafka.Header{Key: "Mode", Value: []byte("replace")},
		kafka.Header{Key: headerFormat, Value: []byte("xlsx")},
	)

	upload, err := decodeUpload(msg)
	require.NoError(t, err)
	assert.Equal(t, dataset.CallCenter, upload.DatasetType)
	assert.Equal(t, "feb.xlsx", upload.FileName)
	assert.Equal(t, ingestion.ModeReplace, upload.Mode)
	assert.Equal(t, "xlsx", upload.Format)
	assert.Equal(t, []byte("data"), upload.Content)

	_, err = decodeUpload(uploadMessage(1, "", "a.csv", "x"))
	require.ErrorIs(t, err, errInvalidMessage)
	assert.ErrorIs(t, err, dataset.ErrUnknownDatasetType)

	upload, err = decodeUpload(kafka.Message{Key: []byte("arrears")})
	require.NoError(t, err)
	assert.Equal(t, ingestion.ModeAppend, upload.Mode, "mode defaults to append")
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"storage failure", &storage.StorageError{Op: "commit", Err: errors.New("boom")}, true},
		{"quota exceeded", &storage.StorageError{Op: "commit", Err: storage.ErrQuotaExceeded}, false},
		{"cancelled", context.Canceled, true},
		{"rejected", ingestion.ErrRejected, false},
		{"invalid message", errInvalidMessage, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}
