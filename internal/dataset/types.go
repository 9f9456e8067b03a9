// Package dataset defines the value types shared by the ingestion, storage and query layers:
// dataset types, records, per-dataset metadata and store statistics.
package dataset

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Type identifies one of the fixed report categories. Each type owns a disjoint
// record namespace in the store and exactly one schema in the registry.
type Type string

// Supported dataset types.
const (
	LendingVolume Type = "lending-volume"
	Arrears       Type = "arrears"
	Liquidations  Type = "liquidations"
	CallCenter    Type = "call-center"
	Complaints    Type = "complaints"
)

// ErrUnknownDatasetType is returned when a dataset type is not one of the supported types.
var ErrUnknownDatasetType = errors.New("unknown dataset type")

// All returns every supported dataset type in a stable order.
func All() []Type {
	return []Type{LendingVolume, Arrears, Liquidations, CallCenter, Complaints}
}

// ParseType resolves a dataset type name. Matching is case-insensitive and accepts
// underscores in place of hyphens ("call_center").
func ParseType(s string) (Type, error) {
	normalized := Type(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))

	for _, t := range All() {
		if t == normalized {
			return t, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownDatasetType, s)
}

// Valid reports whether t is a supported dataset type.
func (t Type) Valid() bool {
	return slices.Contains(All(), t)
}

func (t Type) String() string {
	return string(t)
}

// Record is one validated, typed row of a dataset.
//
// Field values are string (string/category fields and unmapped columns), float64
// (number/currency/percentage) or time.Time (dates, UTC midnight).
type Record struct {
	ID          string         `json:"id"`
	DatasetType Type           `json:"datasetType"`
	Fields      map[string]any `json:"fields"`
	RowIndex    int            `json:"rowIndex"`
	ProcessedAt time.Time      `json:"processedAt"`
}

// Clone returns a copy of r whose field map can be mutated independently.
func (r Record) Clone() Record {
	r.Fields = maps.Clone(r.Fields)
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}

	return r
}

// Time returns the date stored in field, if any.
func (r Record) Time(field string) (time.Time, bool) {
	t, ok := r.Fields[field].(time.Time)

	return t, ok
}

// Number returns the numeric value stored in field, if any.
func (r Record) Number(field string) (float64, bool) {
	switch v := r.Fields[field].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Text returns the string form of the value stored in field. Dates format as 2006-01-02.
func (r Record) Text(field string) (string, bool) {
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return "", false
	}

	switch val := v.(type) {
	case string:
		return val, true
	case time.Time:
		return val.Format(time.DateOnly), true
	default:
		return fmt.Sprint(val), true
	}
}

// CloneRecords deep-copies a slice of records.
func CloneRecords(records []Record) []Record {
	out := make([]Record, len(records))
	for i := range records {
		out[i] = records[i].Clone()
	}

	return out
}

// Metadata describes the current contents of a dataset and the upload that last changed it.
type Metadata struct {
	DatasetType  Type      `json:"datasetType"`
	LastModified time.Time `json:"lastModified"`
	UploadedAt   time.Time `json:"uploadedAt,omitzero"`
	FileName     string    `json:"fileName,omitempty"`
	FileSize     int64     `json:"fileSize,omitempty"`
	RecordCount  int       `json:"recordCount"`
	Checksum     string    `json:"checksum,omitempty"`
}

// DateRange is an inclusive range of calendar dates. A nil bound is open.
type DateRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Contains reports whether t falls inside the range, bounds included.
func (r DateRange) Contains(t time.Time) bool {
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}

	if r.End != nil && t.After(*r.End) {
		return false
	}

	return true
}

// Stats summarizes a dataset in the store.
type Stats struct {
	DatasetType Type      `json:"datasetType"`
	RecordCount int       `json:"recordCount"`
	DateRange   DateRange `json:"dateRange"`
	LastUpdate  time.Time `json:"lastUpdate,omitzero"`
}
