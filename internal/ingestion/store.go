package ingestion

import (
	"context"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
)

// Store is what the pipeline needs from persistence. Implementations live in
// internal/storage.
type Store interface {
	// Commit writes one validated batch and the dataset metadata as a single unit under
	// the dataset's writer lock. With replace=false records are upserted by id (an
	// existing record with the same id is replaced wholesale); with replace=true the
	// dataset's previous records are removed first. The returned metadata carries the
	// live record count after the write.
	//
	// A cancelled ctx, or any failure, leaves the dataset untouched.
	Commit(ctx context.Context, dt dataset.Type, records []dataset.Record, meta dataset.Metadata, replace bool) (*dataset.Metadata, error)

	// Metadata returns the current metadata of a dataset. A dataset that has never been
	// written returns zero-valued metadata with RecordCount 0, not an error.
	Metadata(ctx context.Context, dt dataset.Type) (*dataset.Metadata, error)
}
