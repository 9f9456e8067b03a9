package ingestion

import (
	"strings"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/schema"
)

// Validator validates and coerces data rows against one schema and column mapping.
// A Validator holds no mutable state and is safe for concurrent use.
type Validator struct {
	schema  *schema.Schema
	mapping *ColumnMapping
	// missing holds required fields with no column in the file.
	missing []schema.FieldDefinition
}

// NewValidator creates a Validator for rows laid out as mapping describes.
func NewValidator(s *schema.Schema, mapping *ColumnMapping) *Validator {
	v := &Validator{schema: s, mapping: mapping}

	for _, f := range s.Fields() {
		if f.Required && !mapping.Has(f.Name) {
			v.missing = append(v.missing, f)
		}
	}

	return v
}

// RowOutcome is the result of validating one data row.
type RowOutcome struct {
	Fields   map[string]any
	Errors   []ValidationError
	Warnings []ValidationError
	Blank    bool
}

// Valid reports whether the row can be committed.
func (o RowOutcome) Valid() bool {
	return !o.Blank && len(o.Errors) == 0
}

// ValidateRow coerces the cells of one data row. row is the 1-based source row number
// (the first data row is row 2).
//
// Required fields are checked before coercion, so an empty required cell reports a
// KindRequired error rather than a type error. Every field is checked; the row
// collects all of its errors, not only the first. Unmapped columns are kept as trimmed
// strings under their raw header.
func (v *Validator) ValidateRow(row int, cells []string) RowOutcome {
	out := RowOutcome{Fields: make(map[string]any, len(v.mapping.Columns))}

	if isBlank(cells) {
		out.Blank = true
		out.Warnings = append(out.Warnings, rowWarning(row, "", KindBlankRow, "blank row skipped"))

		return out
	}

	for _, f := range v.missing {
		out.Errors = append(out.Errors, rowError(row, f.Name, KindRequired,
			"%s is required but the file has no %s column", f.Label, f.Label))
	}

	for i, col := range v.mapping.Columns {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}

		switch {
		case col.Ignored:
			continue
		case !col.Mapped:
			if value := strings.TrimSpace(cell); value != "" {
				out.Fields[col.Name] = value
			}
		default:
			def, _ := v.schema.Field(col.Name)

			value, verr := Coerce(def, cell, row)
			if verr != nil {
				out.Errors = append(out.Errors, *verr)

				continue
			}

			if value != nil {
				out.Fields[col.Name] = value
			}
		}
	}

	if extra := len(cells) - len(v.mapping.Columns); extra > 0 && !isBlank(cells[len(v.mapping.Columns):]) {
		out.Warnings = append(out.Warnings, rowWarning(row, "", KindExtraCells,
			"row has %d more cells than the header; extra cells ignored", extra))
	}

	return out
}

// ApplyDerived appends the schema's computed fields. A rule whose inputs are missing
// is skipped and the field stays absent.
func ApplyDerived(s *schema.Schema, fields map[string]any) {
	for _, d := range s.Derived() {
		if value, ok := d.Compute(fields); ok {
			fields[d.Field.Name] = value
		}
	}
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}

	return true
}
