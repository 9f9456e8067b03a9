package schema

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
)

// Schema is the immutable field layout of one dataset type.
type Schema struct {
	DatasetType dataset.Type
	// PrimaryDate is the date field used for date-range queries and month buckets.
	PrimaryDate string
	// IdentityFields make a record id stable across re-uploads when all are present.
	IdentityFields []string

	fields  []FieldDefinition
	derived []DerivedField
	byName  map[string]int
	lookup  map[string]string // normalized header -> canonical field name
}

// Fields returns the declared (non-derived) fields in schema order.
func (s *Schema) Fields() []FieldDefinition {
	return slices.Clone(s.fields)
}

// Derived returns the derived field rules in evaluation order.
func (s *Schema) Derived() []DerivedField {
	return slices.Clone(s.derived)
}

// Field returns a declared or derived field by canonical name.
func (s *Schema) Field(name string) (FieldDefinition, bool) {
	if i, ok := s.byName[name]; ok {
		return s.fields[i], true
	}

	for _, d := range s.derived {
		if d.Field.Name == name {
			return d.Field, true
		}
	}

	return FieldDefinition{}, false
}

// RequiredFields returns the names of required fields in schema order.
func (s *Schema) RequiredFields() []string {
	var names []string

	for _, f := range s.fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}

	return names
}

// SearchableFields returns the fields consulted by free-text filters.
func (s *Schema) SearchableFields() []string {
	var names []string

	for _, f := range s.fields {
		if f.Searchable {
			names = append(names, f.Name)
		}
	}

	return names
}

// Resolve maps a raw header to its canonical field name. The header is normalized with
// NormalizeHeader; when several fields list the same synonym, the earliest field in
// schema order wins.
func (s *Schema) Resolve(header string) (string, bool) {
	name, ok := s.lookup[NormalizeHeader(header)]

	return name, ok
}

// index builds the name and synonym lookups. Later entries never overwrite earlier ones.
func (s *Schema) index() {
	s.byName = make(map[string]int, len(s.fields))
	s.lookup = make(map[string]string)

	for i, f := range s.fields {
		s.byName[f.Name] = i
	}

	for _, f := range s.fields {
		candidates := append([]string{f.Name, f.Label}, f.Synonyms...)
		for _, c := range candidates {
			key := NormalizeHeader(c)
			if key == "" {
				continue
			}

			if _, taken := s.lookup[key]; !taken {
				s.lookup[key] = f.Name
			}
		}
	}
}

// Registry holds one schema per dataset type.
type Registry struct {
	schemas map[dataset.Type]*Schema
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	synonyms map[dataset.Type]map[string][]string
}

// WithSynonyms appends extra header synonyms to built-in fields. Unknown dataset types and
// fields are logged and skipped.
func WithSynonyms(extra map[dataset.Type]map[string][]string) RegistryOption {
	return func(o *registryOptions) {
		for dt, fields := range extra {
			if o.synonyms[dt] == nil {
				o.synonyms[dt] = make(map[string][]string)
			}

			for field, syns := range fields {
				o.synonyms[dt][field] = append(o.synonyms[dt][field], syns...)
			}
		}
	}
}

// NewRegistry builds the registry of built-in schemas for every dataset type.
func NewRegistry(opts ...RegistryOption) *Registry {
	o := &registryOptions{synonyms: make(map[dataset.Type]map[string][]string)}
	for _, opt := range opts {
		opt(o)
	}

	r := &Registry{schemas: make(map[dataset.Type]*Schema)}

	for _, s := range builtinSchemas() {
		applySynonyms(s, o.synonyms[s.DatasetType])
		s.index()
		r.schemas[s.DatasetType] = s
	}

	for dt := range o.synonyms {
		if _, ok := r.schemas[dt]; !ok {
			slog.Warn("Ignoring synonyms for unknown dataset type", slog.String("dataset_type", string(dt)))
		}
	}

	return r
}

func applySynonyms(s *Schema, extra map[string][]string) {
	for field, syns := range extra {
		idx := slices.IndexFunc(s.fields, func(f FieldDefinition) bool { return f.Name == field })
		if idx < 0 {
			slog.Warn("Ignoring synonyms for unknown field",
				slog.String("dataset_type", string(s.DatasetType)),
				slog.String("field", field))

			continue
		}

		s.fields[idx].Synonyms = append(slices.Clone(s.fields[idx].Synonyms), syns...)
	}
}

// Schema returns the schema for a dataset type.
func (r *Registry) Schema(dt dataset.Type) (*Schema, error) {
	s, ok := r.schemas[dt]
	if !ok {
		return nil, fmt.Errorf("%w: %q", dataset.ErrUnknownDatasetType, dt)
	}

	return s, nil
}

// Schemas returns every schema ordered like dataset.All.
func (r *Registry) Schemas() []*Schema {
	out := make([]*Schema, 0, len(r.schemas))
	for _, dt := range dataset.All() {
		if s, ok := r.schemas[dt]; ok {
			out = append(out, s)
		}
	}

	return out
}

// PrimaryDate returns the primary date field of a dataset type. It lets stores build
// their date index without depending on the rest of the schema.
func (r *Registry) PrimaryDate(dt dataset.Type) (string, error) {
	s, err := r.Schema(dt)
	if err != nil {
		return "", err
	}

	return s.PrimaryDate, nil
}
