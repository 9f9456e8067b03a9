package ingestion

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/schema"
)

// cancelCheckInterval is how many rows are validated between context checks.
const cancelCheckInterval = 256

// KindDuplicateRow marks a row superseded by a later row with the same identity.
const KindDuplicateRow ErrorKind = "duplicate_row"

// Mode selects how an accepted batch is combined with the existing dataset.
type Mode string

// Ingestion modes.
const (
	// ModeAppend upserts the batch into the dataset by record id.
	ModeAppend Mode = "append"
	// ModeReplace swaps the dataset contents for the batch.
	ModeReplace Mode = "replace"
)

// ErrInvalidMode is returned by ParseMode for unknown mode names.
var ErrInvalidMode = errors.New("invalid ingestion mode")

// ParseMode parses a mode name; the empty string means ModeAppend.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAppend, nil
	case ModeAppend, ModeReplace:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Upload is one file submitted for ingestion.
type Upload struct {
	DatasetType dataset.Type
	FileName    string
	Content     []byte
	// Format is "csv" or "xlsx"; empty means detect from FileName.
	Format string
	Mode   Mode
}

// Result reports the outcome of one ingest.
type Result struct {
	Accepted         []dataset.Record  `json:"accepted"`
	RejectedRowCount int               `json:"rejectedRowCount"`
	Errors           []ValidationError `json:"errors"`
	Warnings         []ValidationError `json:"warnings"`
	State            State             `json:"state"`
	Trail            []State           `json:"trail"`
	Metadata         *dataset.Metadata `json:"metadata,omitempty"`
}

// Pipeline runs uploads through parse, column mapping, validation, derivation and commit.
type Pipeline struct {
	registry *schema.Registry
	store    Store
	logger   *slog.Logger
	now      func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the logger used for ingest summaries.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithClock overrides the time source used for ProcessedAt and metadata timestamps.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		p.now = now
	}
}

// NewPipeline creates a Pipeline writing to store.
func NewPipeline(registry *schema.Registry, store Store, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		registry: registry,
		store:    store,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Ingest processes one upload.
//
// The returned Result is always non-nil and reports the final state. The error is:
//   - a *StructuralError for empty, unreadable or colliding files (nothing persisted)
//   - ErrRejected wrapping ErrNoValidRows when every row failed validation
//   - ctx.Err() when cancelled before the commit completed (nothing persisted)
//   - the store error when the commit failed (nothing persisted)
//
// Rows failing validation are excluded from the batch and reported in Result.Errors;
// the remaining rows and the dataset metadata are committed together.
func (p *Pipeline) Ingest(ctx context.Context, upload Upload) (*Result, error) {
	start := time.Now()
	lc := newLifecycle()
	result := &Result{}

	err := p.ingest(ctx, upload, lc, result)
	if err != nil {
		lc.reject()
	}

	result.State = lc.state
	result.Trail = lc.trail

	p.logSummary(upload, result, err, time.Since(start))

	return result, err
}

func (p *Pipeline) ingest(ctx context.Context, upload Upload, lc *lifecycle, result *Result) error {
	s, err := p.registry.Schema(upload.DatasetType)
	if err != nil {
		return err
	}

	format, err := DetectFormat(upload.Format, upload.FileName)
	if err != nil {
		return err
	}

	table, err := ReadTable(upload.Content, format)
	if err != nil {
		return err
	}

	result.Warnings = append(result.Warnings, table.Warnings...)

	if len(table.Rows) == 0 {
		return newStructuralError(ErrEmptyFile, "no data rows")
	}

	if err := lc.advance(StateParsed); err != nil {
		return err
	}

	mapping, mapWarnings, err := MapColumns(table.Header, s)
	if err != nil {
		return err
	}

	result.Warnings = append(result.Warnings, mapWarnings...)

	if err := lc.advance(StateColumnMapped); err != nil {
		return err
	}

	records, err := p.validateRows(ctx, s, mapping, table, result)
	if err != nil {
		return err
	}

	if err := lc.advance(StateValidated); err != nil {
		return err
	}

	if len(records) == 0 {
		return fmt.Errorf("%w: %w: %d rows failed validation", ErrRejected, ErrNoValidRows, result.RejectedRowCount)
	}

	checksum := blake2b.Sum256(upload.Content)
	digest := hex.EncodeToString(checksum[:])

	if err := p.checkDuplicateUpload(ctx, upload.DatasetType, digest, result); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	now := p.now()
	meta := dataset.Metadata{
		DatasetType:  upload.DatasetType,
		LastModified: now,
		UploadedAt:   now,
		FileName:     upload.FileName,
		FileSize:     int64(len(upload.Content)),
		Checksum:     digest,
	}

	committed, err := p.store.Commit(ctx, upload.DatasetType, records, meta, upload.Mode == ModeReplace)
	if err != nil {
		return err
	}

	result.Accepted = records
	result.Metadata = committed

	return lc.advance(StatePersisted)
}

// validateRows validates every data row and returns the records to commit. Rows that
// resolve to the same record id keep the last occurrence; earlier ones are reported.
func (p *Pipeline) validateRows(
	ctx context.Context,
	s *schema.Schema,
	mapping *ColumnMapping,
	table *Table,
	result *Result,
) ([]dataset.Record, error) {
	validator := NewValidator(s, mapping)
	dateColumns := xlsxDateColumns(s, mapping, table.Format)
	processedAt := p.now()

	records := make([]dataset.Record, 0, len(table.Rows))
	positions := make(map[string]int, len(table.Rows)) // record id -> index in records

	for i, cells := range table.Rows {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		row := table.Line(i)

		for _, col := range dateColumns {
			if col < len(cells) {
				cells[col] = excelSerialDate(cells[col])
			}
		}

		outcome := validator.ValidateRow(row, cells)
		result.Warnings = append(result.Warnings, outcome.Warnings...)

		if outcome.Blank {
			continue
		}

		if !outcome.Valid() {
			result.RejectedRowCount++
			result.Errors = append(result.Errors, outcome.Errors...)

			continue
		}

		ApplyDerived(s, outcome.Fields)

		rec := dataset.Record{
			ID:          RecordID(s, outcome.Fields),
			DatasetType: s.DatasetType,
			Fields:      outcome.Fields,
			RowIndex:    row,
			ProcessedAt: processedAt,
		}

		if prev, seen := positions[rec.ID]; seen {
			result.Warnings = append(result.Warnings, rowWarning(records[prev].RowIndex, "", KindDuplicateRow,
				"row is superseded by row %d with the same identity", row))
			records[prev] = rec

			continue
		}

		positions[rec.ID] = len(records)
		records = append(records, rec)
	}

	return records, nil
}

func (p *Pipeline) checkDuplicateUpload(ctx context.Context, dt dataset.Type, digest string, result *Result) error {
	current, err := p.store.Metadata(ctx, dt)
	if err != nil {
		return err
	}

	if current != nil && current.Checksum == digest && current.RecordCount > 0 {
		result.Warnings = append(result.Warnings, rowWarning(HeaderRow, "", KindDuplicateUpload,
			"identical file was already uploaded as %q", current.FileName))
	}

	return nil
}

// xlsxDateColumns lists the columns whose raw spreadsheet serials need converting.
func xlsxDateColumns(s *schema.Schema, mapping *ColumnMapping, format Format) []int {
	if format != FormatXLSX {
		return nil
	}

	var cols []int

	for i, c := range mapping.Columns {
		if !c.Mapped {
			continue
		}

		if def, ok := s.Field(c.Name); ok && def.Type == schema.TypeDate {
			cols = append(cols, i)
		}
	}

	return cols
}

func (p *Pipeline) logSummary(upload Upload, result *Result, err error, elapsed time.Duration) {
	attrs := []any{
		slog.String("dataset_type", string(upload.DatasetType)),
		slog.String("file_name", upload.FileName),
		slog.String("state", string(result.State)),
		slog.Int("accepted", len(result.Accepted)),
		slog.Int("rejected", result.RejectedRowCount),
		slog.Int("warnings", len(result.Warnings)),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		p.logger.Warn("Upload rejected", attrs...)

		return
	}

	p.logger.Info("Upload ingested", attrs...)
}
