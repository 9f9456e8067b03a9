package storage

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
)

type (
	// MemoryStore is an in-process RecordStore.
	//
	// Each dataset type is held as an immutable snapshot. Writers serialize on the
	// dataset's writer lock, build a new snapshot off to the side, and publish it with a
	// pointer swap, so readers never see a half-applied batch and a cancelled or failed
	// write leaves the previous snapshot in place.
	MemoryStore struct {
		mu        sync.RWMutex
		snapshots map[dataset.Type]*snapshot
		locks     *datasetLocks
		index     DateIndex
		listeners []WriteListener
		logger    *slog.Logger
		now       func() time.Time
		// maxRecords caps records per dataset type; 0 means unlimited.
		maxRecords int
		closed     bool
	}

	// MemoryStoreOption configures optional MemoryStore behavior.
	MemoryStoreOption func(*MemoryStore)

	snapshot struct {
		records map[string]dataset.Record
		// byDate holds ids of dated records sorted by (date, id); undated ids follow in id order.
		byDate  []dateEntry
		undated []string
		meta    dataset.Metadata
	}

	dateEntry struct {
		date time.Time
		id   string
	}
)

// WithWriteListener registers a listener notified after every successful write.
func WithWriteListener(l WriteListener) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.listeners = append(s.listeners, l)
	}
}

// WithMaxRecords caps the number of records per dataset type. Writes that would exceed
// the cap fail with ErrQuotaExceeded.
func WithMaxRecords(n int) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.maxRecords = n
	}
}

// WithMemoryLogger sets the store logger.
func WithMemoryLogger(logger *slog.Logger) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.logger = logger
	}
}

// WithMemoryClock overrides the time source for metadata timestamps.
func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory store. index supplies the primary date
// field of each dataset type.
func NewMemoryStore(index DateIndex, opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		snapshots: make(map[dataset.Type]*snapshot),
		locks:     newDatasetLocks(),
		index:     index,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// AddWriteListener registers a listener after construction.
func (s *MemoryStore) AddWriteListener(l WriteListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners = append(s.listeners, l)
}

// Put implements RecordStore.
func (s *MemoryStore) Put(ctx context.Context, dt dataset.Type, records []dataset.Record) error {
	_, err := s.write(ctx, "put", dt, func(current map[string]dataset.Record, meta *dataset.Metadata) error {
		for _, r := range records {
			current[r.ID] = normalizeRecord(dt, r)
		}

		return nil
	}, records)

	return err
}

// Merge implements RecordStore. Nil field values in an update are ignored.
func (s *MemoryStore) Merge(ctx context.Context, dt dataset.Type, records []dataset.Record) error {
	_, err := s.write(ctx, "merge", dt, func(current map[string]dataset.Record, meta *dataset.Metadata) error {
		for _, r := range records {
			existing, ok := current[r.ID]
			if !ok {
				return fmt.Errorf("%w: %s", ErrRecordNotFound, r.ID)
			}

			current[r.ID] = mergeRecord(dt, existing, r)
		}

		return nil
	}, records)

	return err
}

// Commit implements RecordStore and ingestion.Store.
func (s *MemoryStore) Commit(
	ctx context.Context,
	dt dataset.Type,
	records []dataset.Record,
	meta dataset.Metadata,
	replace bool,
) (*dataset.Metadata, error) {
	return s.write(ctx, "commit", dt, func(current map[string]dataset.Record, m *dataset.Metadata) error {
		if replace {
			clear(current)
		}

		for _, r := range records {
			current[r.ID] = normalizeRecord(dt, r)
		}

		m.UploadedAt = meta.UploadedAt
		m.FileName = meta.FileName
		m.FileSize = meta.FileSize
		m.Checksum = meta.Checksum

		return nil
	}, records)
}

// DeleteByIDs implements RecordStore.
func (s *MemoryStore) DeleteByIDs(ctx context.Context, dt dataset.Type, ids []string) (int, error) {
	deleted := 0

	_, err := s.write(ctx, "delete", dt, func(current map[string]dataset.Record, meta *dataset.Metadata) error {
		for _, id := range ids {
			if _, ok := current[id]; ok {
				delete(current, id)
				deleted++
			}
		}

		return nil
	}, nil)
	if err != nil {
		return 0, err
	}

	return deleted, nil
}

// Clear implements RecordStore. Upload details in the metadata are reset as well.
func (s *MemoryStore) Clear(ctx context.Context, dt dataset.Type) error {
	_, err := s.write(ctx, "clear", dt, func(current map[string]dataset.Record, meta *dataset.Metadata) error {
		clear(current)
		*meta = dataset.Metadata{DatasetType: dt}

		return nil
	}, nil)

	return err
}

// GetAll implements RecordStore.
func (s *MemoryStore) GetAll(ctx context.Context, dt dataset.Type) ([]dataset.Record, error) {
	snap, err := s.read(ctx, "get_all", dt)
	if err != nil || snap == nil {
		return []dataset.Record{}, err
	}

	out := make([]dataset.Record, 0, len(snap.records))
	for _, e := range snap.byDate {
		out = append(out, snap.records[e.id].Clone())
	}

	for _, id := range snap.undated {
		out = append(out, snap.records[id].Clone())
	}

	return out, nil
}

// GetByDateRange implements RecordStore. Both bounds are inclusive.
func (s *MemoryStore) GetByDateRange(
	ctx context.Context,
	dt dataset.Type,
	start, end time.Time,
) ([]dataset.Record, error) {
	snap, err := s.read(ctx, "get_by_date_range", dt)
	if err != nil || snap == nil || end.Before(start) {
		return []dataset.Record{}, err
	}

	lo := sort.Search(len(snap.byDate), func(i int) bool { return !snap.byDate[i].date.Before(start) })
	hi := sort.Search(len(snap.byDate), func(i int) bool { return snap.byDate[i].date.After(end) })

	out := make([]dataset.Record, 0, max(hi-lo, 0))
	for _, e := range snap.byDate[lo:hi] {
		out = append(out, snap.records[e.id].Clone())
	}

	return out, nil
}

// Stats implements RecordStore.
func (s *MemoryStore) Stats(ctx context.Context, dt dataset.Type) (*dataset.Stats, error) {
	snap, err := s.read(ctx, "stats", dt)
	if err != nil {
		return nil, err
	}

	stats := &dataset.Stats{DatasetType: dt}
	if snap == nil {
		return stats, nil
	}

	stats.RecordCount = len(snap.records)
	stats.LastUpdate = snap.meta.LastModified

	if n := len(snap.byDate); n > 0 {
		first, last := snap.byDate[0].date, snap.byDate[n-1].date
		stats.DateRange = dataset.DateRange{Start: &first, End: &last}
	}

	return stats, nil
}

// Metadata implements RecordStore and ingestion.Store.
func (s *MemoryStore) Metadata(ctx context.Context, dt dataset.Type) (*dataset.Metadata, error) {
	snap, err := s.read(ctx, "metadata", dt)
	if err != nil {
		return nil, err
	}

	if snap == nil {
		return &dataset.Metadata{DatasetType: dt}, nil
	}

	meta := snap.meta

	return &meta, nil
}

// HealthCheck implements RecordStore.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return newStorageError("health_check", "", ErrStoreClosed)
	}

	return nil
}

// Close implements RecordStore. Data is discarded.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.snapshots = make(map[dataset.Type]*snapshot)

	return nil
}

func (s *MemoryStore) read(ctx context.Context, op string, dt dataset.Type) (*snapshot, error) {
	if err := checkType(dt); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, newStorageError(op, dt, ErrStoreClosed)
	}

	return s.snapshots[dt], nil
}

// write runs mutate against a private copy of the dataset and publishes it when mutate
// succeeds, the quota holds and ctx is still live.
func (s *MemoryStore) write(
	ctx context.Context,
	op string,
	dt dataset.Type,
	mutate func(current map[string]dataset.Record, meta *dataset.Metadata) error,
	batch []dataset.Record,
) (*dataset.Metadata, error) {
	if err := checkType(dt); err != nil {
		return nil, err
	}

	if err := validateBatch(dt, batch); err != nil {
		return nil, newStorageError(op, dt, err)
	}

	unlock := s.locks.lock(dt)
	defer unlock()

	s.mu.RLock()
	closed, prev := s.closed, s.snapshots[dt]
	s.mu.RUnlock()

	if closed {
		return nil, newStorageError(op, dt, ErrStoreClosed)
	}

	records := make(map[string]dataset.Record)
	meta := dataset.Metadata{DatasetType: dt}

	if prev != nil {
		records = maps.Clone(prev.records)
		meta = prev.meta
	}

	if err := mutate(records, &meta); err != nil {
		return nil, newStorageError(op, dt, err)
	}

	if s.maxRecords > 0 && len(records) > s.maxRecords {
		return nil, newStorageError(op, dt, ErrQuotaExceeded)
	}

	next, err := s.buildSnapshot(dt, records)
	if err != nil {
		return nil, newStorageError(op, dt, err)
	}

	meta.DatasetType = dt
	meta.RecordCount = len(records)
	meta.LastModified = s.now()
	next.meta = meta

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.snapshots[dt] = next
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l.DatasetWritten(dt)
	}

	s.logger.Debug("Dataset written",
		slog.String("op", op),
		slog.String("dataset_type", string(dt)),
		slog.Int("record_count", meta.RecordCount))

	return &meta, nil
}

func (s *MemoryStore) buildSnapshot(dt dataset.Type, records map[string]dataset.Record) (*snapshot, error) {
	field, err := s.index.PrimaryDate(dt)
	if err != nil {
		return nil, err
	}

	snap := &snapshot{records: records}

	for id, r := range records {
		if d, ok := r.Time(field); ok {
			snap.byDate = append(snap.byDate, dateEntry{date: d, id: id})
		} else {
			snap.undated = append(snap.undated, id)
		}
	}

	sort.Slice(snap.byDate, func(i, j int) bool {
		a, b := snap.byDate[i], snap.byDate[j]
		if a.date.Equal(b.date) {
			return a.id < b.id
		}

		return a.date.Before(b.date)
	})
	slices.Sort(snap.undated)

	return snap, nil
}

// normalizeRecord copies r for storage, stamping the dataset type.
func normalizeRecord(dt dataset.Type, r dataset.Record) dataset.Record {
	c := r.Clone()
	c.DatasetType = dt

	for k, v := range c.Fields {
		if v == nil {
			delete(c.Fields, k)
		}
	}

	return c
}

// mergeRecord shallow-merges update over existing. Scalar metadata of the update wins
// when set.
func mergeRecord(dt dataset.Type, existing, update dataset.Record) dataset.Record {
	merged := existing.Clone()

	for k, v := range update.Fields {
		if v != nil {
			merged.Fields[k] = v
		}
	}

	if update.RowIndex != 0 {
		merged.RowIndex = update.RowIndex
	}

	if !update.ProcessedAt.IsZero() {
		merged.ProcessedAt = update.ProcessedAt
	}

	merged.DatasetType = dt

	return merged
}
