package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
)

type (
	// PostgresStore implements RecordStore on PostgreSQL.
	//
	// Records live in dataset_records keyed by (dataset_type, id) with the primary date
	// copied into an indexed column; metadata lives in dataset_metadata. Every write runs
	// in one transaction that first takes a transaction-scoped advisory lock on the
	// dataset type, which serializes writers across processes, and finishes by
	// recomputing record_count from the live rows.
	PostgresStore struct {
		conn      *Connection
		index     DateIndex
		logger    *slog.Logger
		now       func() time.Time
		listeners []WriteListener
		closeOnce sync.Once
	}

	// PostgresStoreOption configures optional PostgresStore behavior.
	PostgresStoreOption func(*PostgresStore)
)

// WithPostgresWriteListener registers a listener notified after every committed write.
func WithPostgresWriteListener(l WriteListener) PostgresStoreOption {
	return func(s *PostgresStore) {
		s.listeners = append(s.listeners, l)
	}
}

// WithPostgresLogger sets the store logger.
func WithPostgresLogger(logger *slog.Logger) PostgresStoreOption {
	return func(s *PostgresStore) {
		s.logger = logger
	}
}

// NewPostgresStore creates a PostgreSQL-backed record store. The schema must already be
// migrated (see migrations/).
func NewPostgresStore(conn *Connection, index DateIndex, opts ...PostgresStoreOption) (*PostgresStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	s := &PostgresStore{
		conn:   conn,
		index:  index,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// AddWriteListener registers a listener after construction. It must be called before
// the store is shared between goroutines.
func (s *PostgresStore) AddWriteListener(l WriteListener) {
	s.listeners = append(s.listeners, l)
}

// Put implements RecordStore.
func (s *PostgresStore) Put(ctx context.Context, dt dataset.Type, records []dataset.Record) error {
	_, err := s.inTx(ctx, "put", dt, records, func(tx *sql.Tx, dateField string) error {
		return upsertRecords(ctx, tx, dt, dateField, records)
	})

	return err
}

// Merge implements RecordStore. Fields are merged with the jsonb || operator, so keys
// in the update replace stored keys and all other stored keys are kept. A zero row
// index or processing time in an update keeps the stored value.
func (s *PostgresStore) Merge(ctx context.Context, dt dataset.Type, records []dataset.Record) error {
	_, err := s.inTx(ctx, "merge", dt, records, func(tx *sql.Tx, dateField string) error {
		return mergeRecords(ctx, tx, dt, dateField, records)
	})

	return err
}

// Commit implements RecordStore and ingestion.Store.
func (s *PostgresStore) Commit(
	ctx context.Context,
	dt dataset.Type,
	records []dataset.Record,
	meta dataset.Metadata,
	replace bool,
) (*dataset.Metadata, error) {
	return s.inTx(ctx, "commit", dt, records, func(tx *sql.Tx, dateField string) error {
		if replace {
			if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_records WHERE dataset_type = $1`, dt); err != nil {
				return err
			}

			if err := copyRecords(ctx, tx, dt, dateField, records); err != nil {
				return err
			}
		} else if err := upsertRecords(ctx, tx, dt, dateField, records); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO dataset_metadata (dataset_type, uploaded_at, file_name, file_size, checksum)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (dataset_type) DO UPDATE
			SET uploaded_at = EXCLUDED.uploaded_at,
			    file_name = EXCLUDED.file_name,
			    file_size = EXCLUDED.file_size,
			    checksum = EXCLUDED.checksum`,
			dt, nullTime(meta.UploadedAt), meta.FileName, meta.FileSize, meta.Checksum)

		return err
	})
}

// DeleteByIDs implements RecordStore.
func (s *PostgresStore) DeleteByIDs(ctx context.Context, dt dataset.Type, ids []string) (int, error) {
	var deleted int64

	_, err := s.inTx(ctx, "delete", dt, nil, func(tx *sql.Tx, _ string) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM dataset_records WHERE dataset_type = $1 AND id = ANY($2)`,
			dt, pq.Array(ids))
		if err != nil {
			return err
		}

		deleted, err = res.RowsAffected()

		return err
	})
	if err != nil {
		return 0, err
	}

	return int(deleted), nil
}

// Clear implements RecordStore. Upload details in the metadata are reset as well.
func (s *PostgresStore) Clear(ctx context.Context, dt dataset.Type) error {
	_, err := s.inTx(ctx, "clear", dt, nil, func(tx *sql.Tx, _ string) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_records WHERE dataset_type = $1`, dt); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE dataset_metadata
			SET uploaded_at = NULL, file_name = '', file_size = 0, checksum = ''
			WHERE dataset_type = $1`, dt)

		return err
	})

	return err
}

// GetAll implements RecordStore.
func (s *PostgresStore) GetAll(ctx context.Context, dt dataset.Type) ([]dataset.Record, error) {
	if err := checkType(dt); err != nil {
		return nil, err
	}

	return s.queryRecords(ctx, "get_all", dt, `
		SELECT id, fields, row_index, processed_at
		FROM dataset_records
		WHERE dataset_type = $1
		ORDER BY primary_date ASC NULLS LAST, id ASC`, dt)
}

// GetByDateRange implements RecordStore. Both bounds are inclusive.
func (s *PostgresStore) GetByDateRange(
	ctx context.Context,
	dt dataset.Type,
	start, end time.Time,
) ([]dataset.Record, error) {
	if err := checkType(dt); err != nil {
		return nil, err
	}

	return s.queryRecords(ctx, "get_by_date_range", dt, `
		SELECT id, fields, row_index, processed_at
		FROM dataset_records
		WHERE dataset_type = $1 AND primary_date BETWEEN $2 AND $3
		ORDER BY primary_date ASC, id ASC`, dt, start.UTC(), end.UTC())
}

// Stats implements RecordStore.
func (s *PostgresStore) Stats(ctx context.Context, dt dataset.Type) (*dataset.Stats, error) {
	if err := checkType(dt); err != nil {
		return nil, err
	}

	var (
		count      int
		first      sql.NullTime
		last       sql.NullTime
		lastUpdate sql.NullTime
	)

	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(r.id), MIN(r.primary_date), MAX(r.primary_date),
		       (SELECT last_modified FROM dataset_metadata WHERE dataset_type = $1)
		FROM dataset_records r
		WHERE r.dataset_type = $1`, dt).Scan(&count, &first, &last, &lastUpdate)
	if err != nil {
		return nil, s.wrap(ctx, "stats", dt, err)
	}

	stats := &dataset.Stats{DatasetType: dt, RecordCount: count}

	if first.Valid && last.Valid {
		start, end := first.Time.UTC(), last.Time.UTC()
		stats.DateRange = dataset.DateRange{Start: &start, End: &end}
	}

	if lastUpdate.Valid {
		stats.LastUpdate = lastUpdate.Time.UTC()
	}

	return stats, nil
}

// Metadata implements RecordStore and ingestion.Store.
func (s *PostgresStore) Metadata(ctx context.Context, dt dataset.Type) (*dataset.Metadata, error) {
	if err := checkType(dt); err != nil {
		return nil, err
	}

	meta, err := scanMetadata(dt, s.conn.QueryRowContext(ctx, `
		SELECT `+metadataColumns+`
		FROM dataset_metadata
		WHERE dataset_type = $1`, dt))
	if errors.Is(err, sql.ErrNoRows) {
		return &dataset.Metadata{DatasetType: dt}, nil
	}

	if err != nil {
		return nil, s.wrap(ctx, "metadata", dt, err)
	}

	return meta, nil
}

const metadataColumns = "last_modified, uploaded_at, file_name, file_size, record_count, checksum"

func scanMetadata(dt dataset.Type, row *sql.Row) (*dataset.Metadata, error) {
	meta := &dataset.Metadata{DatasetType: dt}

	var uploadedAt sql.NullTime

	if err := row.Scan(&meta.LastModified, &uploadedAt, &meta.FileName, &meta.FileSize,
		&meta.RecordCount, &meta.Checksum); err != nil {
		return nil, err
	}

	meta.LastModified = meta.LastModified.UTC()
	if uploadedAt.Valid {
		meta.UploadedAt = uploadedAt.Time.UTC()
	}

	return meta, nil
}

// HealthCheck implements RecordStore.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if s.conn == nil {
		return ErrNoDatabaseConnection
	}

	return s.conn.HealthCheck(ctx)
}

// Close implements RecordStore and closes the underlying pool.
func (s *PostgresStore) Close() error {
	var err error

	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})

	return err
}

// inTx runs fn in a transaction holding the dataset's advisory lock and refreshes the
// dataset metadata in the same transaction. The returned metadata is the committed
// state; listeners are notified after commit.
func (s *PostgresStore) inTx(
	ctx context.Context,
	op string,
	dt dataset.Type,
	batch []dataset.Record,
	fn func(tx *sql.Tx, dateField string) error,
) (*dataset.Metadata, error) {
	if err := checkType(dt); err != nil {
		return nil, err
	}

	if err := validateBatch(dt, batch); err != nil {
		return nil, newStorageError(op, dt, err)
	}

	dateField, err := s.index.PrimaryDate(dt)
	if err != nil {
		return nil, newStorageError(op, dt, err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.wrap(ctx, op, dt, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "dataset:"+string(dt)); err != nil {
		return nil, s.wrap(ctx, op, dt, err)
	}

	if err := fn(tx, dateField); err != nil {
		return nil, s.wrap(ctx, op, dt, err)
	}

	meta, err := scanMetadata(dt, tx.QueryRowContext(ctx, `
		INSERT INTO dataset_metadata (dataset_type, last_modified, record_count)
		VALUES ($1, $2, (SELECT COUNT(*) FROM dataset_records WHERE dataset_type = $1))
		ON CONFLICT (dataset_type) DO UPDATE
		SET last_modified = EXCLUDED.last_modified,
		    record_count = EXCLUDED.record_count
		RETURNING `+metadataColumns, dt, s.now()))
	if err != nil {
		return nil, s.wrap(ctx, op, dt, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, s.wrap(ctx, op, dt, err)
	}

	for _, l := range s.listeners {
		l.DatasetWritten(dt)
	}

	s.logger.Debug("Dataset written",
		slog.String("op", op),
		slog.String("dataset_type", string(dt)),
		slog.Int("batch_size", len(batch)))

	return meta, nil
}

func (s *PostgresStore) queryRecords(
	ctx context.Context,
	op string,
	dt dataset.Type,
	query string,
	args ...any,
) ([]dataset.Record, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap(ctx, op, dt, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	records := []dataset.Record{}

	for rows.Next() {
		var (
			rec    dataset.Record
			fields []byte
		)

		if err := rows.Scan(&rec.ID, &fields, &rec.RowIndex, &rec.ProcessedAt); err != nil {
			return nil, s.wrap(ctx, op, dt, err)
		}

		if rec.Fields, err = decodeFields(fields); err != nil {
			return nil, s.wrap(ctx, op, dt, fmt.Errorf("record %s: %w", rec.ID, err))
		}

		rec.DatasetType = dt
		rec.ProcessedAt = rec.ProcessedAt.UTC()
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, s.wrap(ctx, op, dt, err)
	}

	return records, nil
}

// wrap converts a driver error into a StorageError. Cancellation is returned as is so
// callers can tell it apart from backend failures.
func (s *PostgresStore) wrap(ctx context.Context, op string, dt dataset.Type, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if isDatabaseConnectionError(err) {
		s.logger.Error("Database connection error",
			slog.String("op", op),
			slog.String("dataset_type", string(dt)),
			slog.String("error", err.Error()))
	}

	return newStorageError(op, dt, err)
}

func upsertRecords(
	ctx context.Context,
	tx *sql.Tx,
	dt dataset.Type,
	dateField string,
	records []dataset.Record,
) error {
	if len(records) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dataset_records (dataset_type, id, fields, row_index, primary_date, processed_at)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6)
		ON CONFLICT (dataset_type, id) DO UPDATE
		SET fields = EXCLUDED.fields,
		    primary_date = EXCLUDED.primary_date,
		    row_index = EXCLUDED.row_index,
		    processed_at = EXCLUDED.processed_at`)
	if err != nil {
		return err
	}

	defer func() {
		_ = stmt.Close()
	}()

	for _, r := range records {
		fields, err := encodeFields(r.Fields)
		if err != nil {
			return err
		}

		if _, err := stmt.ExecContext(ctx, dt, r.ID, string(fields), r.RowIndex,
			primaryDate(r, dateField), processedAt(r)); err != nil {
			return fmt.Errorf("record %s: %w", r.ID, err)
		}
	}

	return nil
}

// mergeRecords applies partial updates to stored records. Every id must already exist;
// the rows are locked before the first update so the check holds until commit.
func mergeRecords(
	ctx context.Context,
	tx *sql.Tx,
	dt dataset.Type,
	dateField string,
	records []dataset.Record,
) error {
	if len(records) == 0 {
		return nil
	}

	ids := idsOf(records)

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM dataset_records
		WHERE dataset_type = $1 AND id = ANY($2)
		FOR UPDATE`, dt, pq.Array(ids))
	if err != nil {
		return err
	}

	stored := make(map[string]struct{}, len(ids))

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()

			return err
		}

		stored[id] = struct{}{}
	}

	if err := rows.Close(); err != nil {
		return err
	}

	for _, id := range ids {
		if _, ok := stored[id]; !ok {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE dataset_records
		SET fields = fields || $3::jsonb,
		    row_index = CASE WHEN $4::int = 0 THEN row_index ELSE $4::int END,
		    processed_at = COALESCE($5, processed_at)
		WHERE dataset_type = $1 AND id = $2`)
	if err != nil {
		return err
	}

	defer func() {
		_ = stmt.Close()
	}()

	for _, r := range records {
		fields, err := encodeFields(r.Fields)
		if err != nil {
			return err
		}

		if _, err := stmt.ExecContext(ctx, dt, r.ID, string(fields), r.RowIndex, nullTime(r.ProcessedAt.UTC())); err != nil {
			return fmt.Errorf("record %s: %w", r.ID, err)
		}
	}

	// Refresh the indexed date from the merged document. Stored dates are UTC instants,
	// so the calendar day is taken in UTC whatever the session time zone is.
	_, err = tx.ExecContext(ctx, `
		UPDATE dataset_records
		SET primary_date = ((fields -> $3::text ->> 'd')::timestamptz AT TIME ZONE 'UTC')::date
		WHERE dataset_type = $1 AND id = ANY($2)`,
		dt, pq.Array(ids), dateField)

	return err
}

// copyRecords bulk-loads a batch with COPY. Ids in the batch must be unique and absent
// from the table.
func copyRecords(ctx context.Context, tx *sql.Tx, dt dataset.Type, dateField string, records []dataset.Record) error {
	if len(records) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("dataset_records",
		"dataset_type", "id", "fields", "row_index", "primary_date", "processed_at"))
	if err != nil {
		return err
	}

	for _, r := range records {
		fields, err := encodeFields(r.Fields)
		if err != nil {
			_ = stmt.Close()

			return err
		}

		if _, err := stmt.ExecContext(ctx, string(dt), r.ID, string(fields), r.RowIndex,
			primaryDate(r, dateField), processedAt(r)); err != nil {
			_ = stmt.Close()

			return fmt.Errorf("record %s: %w", r.ID, err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()

		return err
	}

	return stmt.Close()
}

func primaryDate(r dataset.Record, field string) any {
	if d, ok := r.Time(field); ok {
		return d.UTC()
	}

	return nil
}

func processedAt(r dataset.Record) time.Time {
	if r.ProcessedAt.IsZero() {
		return time.Now().UTC()
	}

	return r.ProcessedAt.UTC()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func idsOf(records []dataset.Record) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}

	return ids
}
