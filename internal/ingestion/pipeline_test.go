package ingestion_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/ingestion"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/schema"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/storage"
)

var fixedNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

// failingStore fails every commit.
type failingStore struct {
	err error
}

func (f *failingStore) Commit(
	_ context.Context,
	_ dataset.Type,
	_ []dataset.Record,
	_ dataset.Metadata,
	_ bool,
) (*dataset.Metadata, error) {
	return nil, f.err
}

func (f *failingStore) Metadata(_ context.Context, dt dataset.Type) (*dataset.Metadata, error) {
	return &dataset.Metadata{DatasetType: dt}, nil
}

func newPipeline(t *testing.T) (*ingestion.Pipeline, *storage.MemoryStore) {
	t.Helper()

	registry := schema.NewRegistry()
	store := storage.NewMemoryStore(registry)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))

	return ingestion.NewPipeline(registry, store,
		ingestion.WithLogger(logger),
		ingestion.WithClock(func() time.Time { return fixedNow }),
	), store
}

func csvUpload(dt dataset.Type, content string) ingestion.Upload {
	return ingestion.Upload{
		DatasetType: dt,
		FileName:    "upload.csv",
		Content:     []byte(content),
	}
}

func TestIngest_PartialAcceptance(t *testing.T) {
	ctx := context.Background()
	pipeline, store := newPipeline(t)

	content := "Date,Amount,Product\n" +
		"15/01/2024,1000,Personal\n" +
		"16/01/2024,,Personal\n" +
		"17/01/2024,\"£2,500.50\",Mortgage\n"

	result, err := pipeline.Ingest(ctx, csvUpload(dataset.LendingVolume, content))
	require.NoError(t, err)

	assert.Equal(t, ingestion.StatePersisted, result.State)
	assert.Equal(t, []ingestion.State{
		ingestion.StateReceived,
		ingestion.StateParsed,
		ingestion.StateColumnMapped,
		ingestion.StateValidated,
		ingestion.StatePersisted,
	}, result.Trail)

	require.Len(t, result.Accepted, 2)
	assert.Equal(t, 1, result.RejectedRowCount)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, 3, result.Errors[0].RowIndex)
	assert.Equal(t, "amount", result.Errors[0].FieldName)
	assert.Equal(t, ingestion.KindRequired, result.Errors[0].Kind)

	first := result.Accepted[0]
	assert.Equal(t, 2, first.RowIndex)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), first.Fields["date"])
	assert.InDelta(t, 1000.0, first.Fields["amount"], 0)
	assert.Equal(t, fixedNow, first.ProcessedAt)
	assert.InDelta(t, 2500.50, result.Accepted[1].Fields["amount"], 1e-9)

	require.NotNil(t, result.Metadata)
	assert.Equal(t, 2, result.Metadata.RecordCount)
	assert.Equal(t, "upload.csv", result.Metadata.FileName)
	assert.Equal(t, int64(len(content)), result.Metadata.FileSize)
	assert.NotEmpty(t, result.Metadata.Checksum)

	stored, err := store.GetAll(ctx, dataset.LendingVolume)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestIngest_DerivedFields(t *testing.T) {
	ctx := context.Background()
	pipeline, store := newPipeline(t)

	content := "Date,Account ID,Total Due,Payment Received\n" +
		"31/01/2024,ACC-1,500,120.50\n"

	result, err := pipeline.Ingest(ctx, csvUpload(dataset.Arrears, content))
	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)

	assert.InDelta(t, 379.50, result.Accepted[0].Fields["outstanding_balance"], 1e-9)

	stored, err := store.GetAll(ctx, dataset.Arrears)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.InDelta(t, 379.50, stored[0].Fields["outstanding_balance"], 1e-9)
}

func TestIngest_AppendIsIdempotentForIdentifiedRows(t *testing.T) {
	ctx := context.Background()
	pipeline, store := newPipeline(t)

	content := "Date,Account ID,Total Due\n" +
		"31/01/2024,ACC-1,500\n" +
		"31/01/2024,ACC-2,250\n"

	_, err := pipeline.Ingest(ctx, csvUpload(dataset.Arrears, content))
	require.NoError(t, err)

	result, err := pipeline.Ingest(ctx, csvUpload(dataset.Arrears, content))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Metadata.RecordCount)

	var duplicateUpload bool

	for _, w := range result.Warnings {
		if w.Kind == ingestion.KindDuplicateUpload {
			duplicateUpload = true
		}
	}

	assert.True(t, duplicateUpload, "re-uploading the same file is flagged")

	stats, err := store.Stats(ctx, dataset.Arrears)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RecordCount)
}

func TestIngest_DuplicateRowsKeepLast(t *testing.T) {
	ctx := context.Background()
	pipeline, _ := newPipeline(t)

	content := "Date,Account ID,Total Due\n" +
		"31/01/2024,ACC-1,500\n" +
		"31/01/2024,acc-1,650\n"

	result, err := pipeline.Ingest(ctx, csvUpload(dataset.Arrears, content))
	require.NoError(t, err)

	require.Len(t, result.Accepted, 1)
	assert.InDelta(t, 650.0, result.Accepted[0].Fields["total_due"], 0)
	assert.Equal(t, 3, result.Accepted[0].RowIndex)

	var superseded []int

	for _, w := range result.Warnings {
		if w.Kind == ingestion.KindDuplicateRow {
			superseded = append(superseded, w.RowIndex)
		}
	}

	assert.Equal(t, []int{2}, superseded)
}

func TestIngest_ReplaceMode(t *testing.T) {
	ctx := context.Background()
	pipeline, store := newPipeline(t)

	_, err := pipeline.Ingest(ctx, csvUpload(dataset.LendingVolume,
		"Date,Amount\n01/01/2024,1\n02/01/2024,2\n03/01/2024,3\n"))
	require.NoError(t, err)

	upload := csvUpload(dataset.LendingVolume, "Date,Amount\n01/02/2024,10\n")
	upload.Mode = ingestion.ModeReplace

	result, err := pipeline.Ingest(ctx, upload)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Metadata.RecordCount)

	all, err := store.GetAll(ctx, dataset.LendingVolume)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.InDelta(t, 10.0, all[0].Fields["amount"], 0)
}

func TestIngest_StructuralFailures(t *testing.T) {
	tests := []struct {
		name    string
		upload  ingestion.Upload
		wantErr error
	}{
		{
			name:    "empty file",
			upload:  csvUpload(dataset.LendingVolume, ""),
			wantErr: ingestion.ErrEmptyFile,
		},
		{
			name:    "header only",
			upload:  csvUpload(dataset.LendingVolume, "Date,Amount\n"),
			wantErr: ingestion.ErrEmptyFile,
		},
		{
			name:    "header collision",
			upload:  csvUpload(dataset.LendingVolume, "Amount,Loan Amount\n1,2\n"),
			wantErr: ingestion.ErrHeaderCollision,
		},
		{
			name: "unsupported format",
			upload: ingestion.Upload{
				DatasetType: dataset.LendingVolume,
				FileName:    "report.pdf",
				Content:     []byte("%PDF"),
			},
			wantErr: ingestion.ErrUnsupportedFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipeline, store := newPipeline(t)

			result, err := pipeline.Ingest(context.Background(), tt.upload)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			require.NotNil(t, result)
			assert.Equal(t, ingestion.StateRejected, result.State)
			assert.Empty(t, result.Accepted)

			stats, err := store.Stats(context.Background(), dataset.LendingVolume)
			require.NoError(t, err)
			assert.Equal(t, 0, stats.RecordCount)
		})
	}
}

func TestIngest_StructuralErrorsAreTyped(t *testing.T) {
	pipeline, _ := newPipeline(t)

	_, err := pipeline.Ingest(context.Background(), csvUpload(dataset.LendingVolume, ""))

	var structural *ingestion.StructuralError
	require.True(t, errors.As(err, &structural))
	assert.ErrorIs(t, err, ingestion.ErrStructural)
}

func TestIngest_NoValidRows(t *testing.T) {
	pipeline, store := newPipeline(t)

	content := "Date,Amount\n" +
		"not a date,1\n" +
		"31/02/2024,2\n"

	result, err := pipeline.Ingest(context.Background(), csvUpload(dataset.LendingVolume, content))
	require.Error(t, err)
	assert.ErrorIs(t, err, ingestion.ErrRejected)
	assert.ErrorIs(t, err, ingestion.ErrNoValidRows)

	assert.Equal(t, ingestion.StateRejected, result.State)
	assert.Equal(t, 2, result.RejectedRowCount)
	assert.Len(t, result.Errors, 2)

	meta, err := store.Metadata(context.Background(), dataset.LendingVolume)
	require.NoError(t, err)
	assert.Empty(t, meta.FileName, "rejected uploads leave metadata untouched")
}

func TestIngest_UnknownDatasetType(t *testing.T) {
	pipeline, _ := newPipeline(t)

	result, err := pipeline.Ingest(context.Background(), csvUpload(dataset.Type("budget"), "Date\n01/01/2024\n"))
	require.ErrorIs(t, err, dataset.ErrUnknownDatasetType)
	assert.Equal(t, ingestion.StateRejected, result.State)
}

func TestIngest_Cancelled(t *testing.T) {
	pipeline, store := newPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := pipeline.Ingest(ctx, csvUpload(dataset.LendingVolume, "Date,Amount\n01/01/2024,1\n"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ingestion.StateRejected, result.State)

	stats, err := store.Stats(context.Background(), dataset.LendingVolume)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.RecordCount)
}

func TestIngest_StoreFailure(t *testing.T) {
	boom := errors.New("disk full")
	pipeline := ingestion.NewPipeline(schema.NewRegistry(), &failingStore{err: boom},
		ingestion.WithLogger(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))))

	result, err := pipeline.Ingest(context.Background(), csvUpload(dataset.LendingVolume, "Date,Amount\n01/01/2024,1\n"))
	require.ErrorIs(t, err, boom)

	assert.Equal(t, ingestion.StateRejected, result.State)
	assert.Contains(t, result.Trail, ingestion.StateValidated)
	assert.Empty(t, result.Accepted)
}

func TestIngest_BlankRowsAreSkipped(t *testing.T) {
	pipeline, _ := newPipeline(t)

	content := "Date,Amount\n01/01/2024,1\n,\n02/01/2024,2\n"

	result, err := pipeline.Ingest(context.Background(), csvUpload(dataset.LendingVolume, content))
	require.NoError(t, err)

	assert.Len(t, result.Accepted, 2)
	assert.Equal(t, 0, result.RejectedRowCount)
	assert.Equal(t, 4, result.Accepted[1].RowIndex)
}

func TestIngest_RowNumbersFollowSourceLines(t *testing.T) {
	pipeline, _ := newPipeline(t)

	content := "Date,Amount,Product\n" +
		"01/01/2024,1,Car\n" +
		"\n" +
		"02/01/2024,,Car\n" +
		"03/01/2024,3,\"Car\nPlus\"\n" +
		"04/01/2024,lots,Car\n"

	result, err := pipeline.Ingest(context.Background(), csvUpload(dataset.LendingVolume, content))
	require.NoError(t, err)

	require.Len(t, result.Errors, 2)
	assert.Equal(t, 4, result.Errors[0].RowIndex, "the blank line still counts")
	assert.Equal(t, 7, result.Errors[1].RowIndex, "a quoted line break still counts")

	require.Len(t, result.Accepted, 2)
	assert.Equal(t, 2, result.Accepted[0].RowIndex)
	assert.Equal(t, 5, result.Accepted[1].RowIndex)
}

func TestIngest_LargeFileChecksContext(t *testing.T) {
	pipeline, _ := newPipeline(t)

	var b strings.Builder

	b.WriteString("Date,Amount\n")

	for range 2000 {
		b.WriteString("01/01/2024,1\n")
	}

	result, err := pipeline.Ingest(context.Background(), csvUpload(dataset.LendingVolume, b.String()))
	require.NoError(t, err)
	assert.Len(t, result.Accepted, 2000)
}
