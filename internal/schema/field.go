// Package schema owns the per-dataset field definitions and the header synonym tables
// used to reconcile uploaded column names with canonical field names.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// FieldType is the declared type of a canonical field.
type FieldType string

// Supported field types.
const (
	TypeString     FieldType = "string"
	TypeNumber     FieldType = "number"
	TypeCurrency   FieldType = "currency"
	TypePercentage FieldType = "percentage"
	TypeDate       FieldType = "date"
	TypeCategory   FieldType = "category"
)

// ErrInvalidFieldType is returned when a field type name is not recognized.
var ErrInvalidFieldType = errors.New("invalid field type")

// ParseFieldType parses a field type name (case-insensitive).
func ParseFieldType(s string) (FieldType, error) {
	switch ft := FieldType(strings.ToLower(strings.TrimSpace(s))); ft {
	case TypeString, TypeNumber, TypeCurrency, TypePercentage, TypeDate, TypeCategory:
		return ft, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFieldType, s)
	}
}

// Numeric reports whether values of this type coerce to float64.
func (t FieldType) Numeric() bool {
	return t == TypeNumber || t == TypeCurrency || t == TypePercentage
}

// FieldDefinition describes one canonical field of a dataset schema.
type FieldDefinition struct {
	Name     string    `json:"name"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	// Synonyms are alternative header names accepted for this field. The canonical
	// name and the label always match and need not be listed.
	Synonyms []string `json:"synonyms,omitempty"`
	// Searchable fields take part in free-text filtering.
	Searchable bool `json:"searchable,omitempty"`
}

// DerivedField is a field computed from already-coerced fields of the same record.
// Compute returns false when an input is missing, in which case the field is omitted.
type DerivedField struct {
	Field   FieldDefinition
	Inputs  []string
	Compute func(fields map[string]any) (any, bool)
}
