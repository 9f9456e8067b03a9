package ingestion

import (
	"errors"
	"fmt"
)

// Sentinel errors for file-level outcomes. Use errors.Is to classify pipeline errors.
var (
	// ErrStructural marks a file-level problem that aborts the whole file.
	ErrStructural = errors.New("structural error")

	// ErrEmptyFile indicates a file with no header row or no data rows.
	ErrEmptyFile = errors.New("file is empty")

	// ErrHeaderCollision indicates two raw headers resolving to the same column.
	ErrHeaderCollision = errors.New("header collision")

	// ErrMalformedFile indicates bytes that cannot be parsed in the declared format.
	ErrMalformedFile = errors.New("malformed file")

	// ErrUnsupportedFormat indicates an upload format with no reader.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrRejected marks an ingest that ended in the Rejected state.
	ErrRejected = errors.New("upload rejected")

	// ErrNoValidRows indicates that every data row failed validation.
	ErrNoValidRows = errors.New("no valid rows")
)

// StructuralError aborts ingestion of a whole file; nothing from the file is persisted.
type StructuralError struct {
	// Cause is one of ErrEmptyFile, ErrHeaderCollision, ErrMalformedFile or ErrUnsupportedFormat.
	Cause  error
	Detail string
}

func newStructuralError(cause error, format string, args ...any) *StructuralError {
	return &StructuralError{Cause: cause, Detail: fmt.Sprintf(format, args...)}
}

func (e *StructuralError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", ErrStructural, e.Cause)
	}

	return fmt.Sprintf("%s: %s: %s", ErrStructural, e.Cause, e.Detail)
}

// Unwrap exposes both ErrStructural and the specific cause to errors.Is.
func (e *StructuralError) Unwrap() []error {
	return []error{ErrStructural, e.Cause}
}

// Severity distinguishes row errors, which exclude the row, from warnings, which do not.
type Severity string

// Severity values.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ErrorKind classifies a row diagnostic.
type ErrorKind string

// Row diagnostic kinds.
const (
	KindRequired        ErrorKind = "required"
	KindType            ErrorKind = "type"
	KindRange           ErrorKind = "range"
	KindUnmappedColumn  ErrorKind = "unmapped_column"
	KindExtraCells      ErrorKind = "extra_cells"
	KindBlankRow        ErrorKind = "blank_row"
	KindDuplicateUpload ErrorKind = "duplicate_upload"
	KindEncoding        ErrorKind = "encoding"
)

// HeaderRow is the source row number of the header line.
const HeaderRow = 1

// ValidationError is a per-row diagnostic. With SeverityError it is a row validation
// error and the row is excluded; with SeverityWarning it is a row warning and the row
// is still committed. RowIndex is the 1-based source row including the header row.
type ValidationError struct {
	RowIndex  int       `json:"rowIndex"`
	FieldName string    `json:"fieldName,omitempty"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Kind      ErrorKind `json:"kind"`
}

func (e ValidationError) Error() string {
	if e.FieldName == "" {
		return fmt.Sprintf("row %d: %s", e.RowIndex, e.Message)
	}

	return fmt.Sprintf("row %d: %s: %s", e.RowIndex, e.FieldName, e.Message)
}

func rowError(row int, field string, kind ErrorKind, format string, args ...any) ValidationError {
	return ValidationError{
		RowIndex:  row,
		FieldName: field,
		Message:   fmt.Sprintf(format, args...),
		Severity:  SeverityError,
		Kind:      kind,
	}
}

func rowWarning(row int, field string, kind ErrorKind, format string, args ...any) ValidationError {
	w := rowError(row, field, kind, format, args...)
	w.Severity = SeverityWarning

	return w
}
