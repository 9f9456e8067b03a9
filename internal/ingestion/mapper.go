package ingestion

import (
	"strings"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/schema"
)

// Column is one uploaded column after mapping.
type Column struct {
	// Raw is the header as uploaded, trimmed.
	Raw string
	// Name is the canonical field name, or Raw when the header is unmapped.
	Name string
	// Mapped is false for passthrough columns.
	Mapped bool
	// Ignored columns carry values the pipeline computes itself.
	Ignored bool
}

// ColumnMapping is the reconciled header row of a file.
type ColumnMapping struct {
	Columns []Column
}

// Canonical returns the raw header → canonical field mapping for mapped columns.
func (m *ColumnMapping) Canonical() map[string]string {
	out := make(map[string]string, len(m.Columns))
	for _, c := range m.Columns {
		if c.Mapped {
			out[c.Raw] = c.Name
		}
	}

	return out
}

// Has reports whether a canonical field has a column in the file.
func (m *ColumnMapping) Has(field string) bool {
	for _, c := range m.Columns {
		if c.Mapped && c.Name == field {
			return true
		}
	}

	return false
}

// MapColumns reconciles raw headers with the canonical fields of s.
//
// Each header is resolved through the schema synonym table (see schema.Schema.Resolve).
// Unresolved headers pass through under their trimmed raw name and produce a warning
// on the header row; blank headers are ignored with a warning. Two headers landing on
// the same name is a StructuralError: the file is rejected rather than losing a column.
func MapColumns(headers []string, s *schema.Schema) (*ColumnMapping, []ValidationError, error) {
	if len(headers) == 0 {
		return nil, nil, newStructuralError(ErrEmptyFile, "no header row")
	}

	mapping := &ColumnMapping{Columns: make([]Column, 0, len(headers))}
	owner := make(map[string]string, len(headers)) // target name -> raw header that claimed it

	var warnings []ValidationError

	for i, h := range headers {
		raw := strings.TrimSpace(h)
		if raw == "" {
			mapping.Columns = append(mapping.Columns, Column{Ignored: true})
			warnings = append(warnings, rowWarning(HeaderRow, "", KindUnmappedColumn,
				"column %d has no header and its values are ignored", i+1))

			continue
		}

		col := Column{Raw: raw, Name: raw}
		if name, ok := s.Resolve(raw); ok {
			col.Name = name
			col.Mapped = true
		}

		if prev, taken := owner[col.Name]; taken {
			return nil, nil, newStructuralError(ErrHeaderCollision,
				"columns %q and %q both map to %q", prev, raw, col.Name)
		}

		owner[col.Name] = raw

		if !col.Mapped && isDerived(s, raw) {
			col.Ignored = true
			warnings = append(warnings, rowWarning(HeaderRow, raw, KindUnmappedColumn,
				"column %q is a computed field and is recalculated from its inputs", raw))
		} else if !col.Mapped {
			warnings = append(warnings, rowWarning(HeaderRow, raw, KindUnmappedColumn,
				"column %q does not match any %s field and is kept unvalidated", raw, s.DatasetType))
		}

		mapping.Columns = append(mapping.Columns, col)
	}

	if len(owner) == 0 {
		return nil, nil, newStructuralError(ErrEmptyFile, "header row has no column names")
	}

	return mapping, warnings, nil
}

func isDerived(s *schema.Schema, name string) bool {
	key := schema.NormalizeHeader(name)

	for _, d := range s.Derived() {
		if key == schema.NormalizeHeader(d.Field.Name) || key == schema.NormalizeHeader(d.Field.Label) {
			return true
		}
	}

	return false
}
