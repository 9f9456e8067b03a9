package ingestion

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

// Format is the container format of an upload.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DetectFormat resolves the upload format from an explicit format name or, when that
// is empty, from the file extension. Unknown extensions default to CSV.
func DetectFormat(declared, fileName string) (Format, error) {
	name := strings.ToLower(strings.TrimSpace(declared))
	if name == "" {
		name = strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	}

	switch name {
	case "", "csv", "txt", "text/csv", "text/plain":
		return FormatCSV, nil
	case "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return FormatXLSX, nil
	default:
		return "", newStructuralError(ErrUnsupportedFormat, "%q", name)
	}
}

// Table is a parsed upload: one header row followed by data rows.
type Table struct {
	Header []string
	Rows   [][]string
	// Lines holds the 1-based source line each row starts on. CSV rows can span lines
	// and blank lines are skipped, so the row index alone does not locate a row.
	Lines  []int
	Format Format
	// Warnings are file-level anomalies found while decoding.
	Warnings []ValidationError
}

// ReadTable parses content in the given format.
func ReadTable(content []byte, format Format) (*Table, error) {
	switch format {
	case FormatCSV:
		return readCSV(content)
	case FormatXLSX:
		return readXLSX(content)
	default:
		return nil, newStructuralError(ErrUnsupportedFormat, "%q", format)
	}
}

// readCSV parses RFC 4180 text: comma delimiter, quotes escaped by doubling. A UTF-8
// byte order mark is dropped; content that is not valid UTF-8 is decoded as
// Windows-1252, which is what spreadsheet exports on Windows produce.
func readCSV(content []byte) (*Table, error) {
	table := &Table{Format: FormatCSV}

	content = bytes.TrimPrefix(content, utf8BOM)
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, newStructuralError(ErrEmptyFile, "no content")
	}

	if !utf8.Valid(content) {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(content)
		if err != nil {
			return nil, newStructuralError(ErrMalformedFile, "content is neither UTF-8 nor Windows-1252")
		}

		content = decoded
		table.Warnings = append(table.Warnings, rowWarning(HeaderRow, "", KindEncoding,
			"file is not UTF-8; decoded as Windows-1252"))
	}

	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, newStructuralError(ErrEmptyFile, "no header row")
	}

	if err != nil {
		return nil, newStructuralError(ErrMalformedFile, "%s", err.Error())
	}

	table.Header = header

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, newStructuralError(ErrMalformedFile, "%s", err.Error())
		}

		line, _ := r.FieldPos(0)
		table.Rows = append(table.Rows, record)
		table.Lines = append(table.Lines, line)
	}

	return table, nil
}

// Line returns the source row number of Rows[i]. Without recorded lines, rows are taken
// to follow the header one per line, as in a worksheet.
func (t *Table) Line(i int) int {
	if i < len(t.Lines) {
		return t.Lines[i]
	}

	return i + HeaderRow + 1
}

// readXLSX reads the first worksheet. Cell values are read raw so date cells arrive as
// Excel serial numbers; see excelSerialDate.
func readXLSX(content []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content), excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, newStructuralError(ErrMalformedFile, "cannot open workbook: %s", err.Error())
	}

	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, newStructuralError(ErrEmptyFile, "workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, newStructuralError(ErrMalformedFile, "cannot read sheet %q: %s", sheets[0], err.Error())
	}

	if len(rows) == 0 {
		return nil, newStructuralError(ErrEmptyFile, "sheet %q is empty", sheets[0])
	}

	return &Table{Header: rows[0], Rows: rows[1:], Format: FormatXLSX}, nil
}

// excelSerialDate converts a raw spreadsheet date serial ("45322") into an ISO date
// string. Values that are not serials are returned unchanged.
func excelSerialDate(raw string) string {
	serial, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || serial <= 0 {
		return raw
	}

	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return raw
	}

	return t.Format(time.DateOnly)
}
