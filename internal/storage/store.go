// Package storage persists dataset records. Two backends implement RecordStore: an
// in-memory store and a PostgreSQL store. Both keep each dataset type in its own
// namespace, serialize writers per dataset type, and apply every write atomically
// together with the dataset metadata.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/ingestion"
)

// RecordStore is the dataset-keyed record collection.
//
// Reads may run concurrently with each other and with writes but never observe a
// partially applied write. Every write recomputes Metadata.RecordCount from the live
// record count. Failures are returned as *StorageError.
type RecordStore interface {
	// Put upserts records by id; an existing record with the same id is replaced wholesale.
	Put(ctx context.Context, dt dataset.Type, records []dataset.Record) error

	// Merge applies explicit partial updates: for an existing id the given fields are
	// shallow-merged over the stored ones. If any id is not stored the whole batch is
	// rejected with ErrRecordNotFound and nothing is applied.
	Merge(ctx context.Context, dt dataset.Type, records []dataset.Record) error

	// Commit writes an ingested batch and its upload metadata in one unit.
	Commit(
		ctx context.Context,
		dt dataset.Type,
		records []dataset.Record,
		meta dataset.Metadata,
		replace bool,
	) (*dataset.Metadata, error)

	// GetAll returns every record of a dataset ordered by primary date, then id.
	GetAll(ctx context.Context, dt dataset.Type) ([]dataset.Record, error)

	// GetByDateRange returns records whose primary date lies in [start, end], both
	// bounds inclusive, ordered by date then id. Records without a date never match.
	GetByDateRange(ctx context.Context, dt dataset.Type, start, end time.Time) ([]dataset.Record, error)

	// DeleteByIDs removes the given ids and returns how many existed.
	DeleteByIDs(ctx context.Context, dt dataset.Type, ids []string) (int, error)

	// Clear removes every record of a dataset type.
	Clear(ctx context.Context, dt dataset.Type) error

	// Stats summarizes a dataset.
	Stats(ctx context.Context, dt dataset.Type) (*dataset.Stats, error)

	// Metadata returns the dataset metadata; never-written datasets report zero records.
	Metadata(ctx context.Context, dt dataset.Type) (*dataset.Metadata, error)

	// HealthCheck reports whether the backend can serve requests.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// WriteListener is notified after every successful write to a dataset type, before the
// writer releases the dataset. Query caches use it for invalidation.
type WriteListener interface {
	DatasetWritten(dt dataset.Type)
}

// DateIndex resolves the primary date field used to index a dataset type.
// *schema.Registry implements it.
type DateIndex interface {
	PrimaryDate(dt dataset.Type) (string, error)
}

var (
	_ RecordStore     = (*MemoryStore)(nil)
	_ RecordStore     = (*PostgresStore)(nil)
	_ ingestion.Store = (*MemoryStore)(nil)
	_ ingestion.Store = (*PostgresStore)(nil)
)

func validateBatch(dt dataset.Type, records []dataset.Record) error {
	for i := range records {
		if records[i].ID == "" {
			return fmt.Errorf("%w: record %d has no id", ErrInvalidRecord, i)
		}

		if records[i].DatasetType != "" && records[i].DatasetType != dt {
			return fmt.Errorf("%w: record %s belongs to %s", ErrInvalidRecord, records[i].ID, records[i].DatasetType)
		}
	}

	return nil
}

func checkType(dt dataset.Type) error {
	if !dt.Valid() {
		return fmt.Errorf("%w: %q", dataset.ErrUnknownDatasetType, dt)
	}

	return nil
}
