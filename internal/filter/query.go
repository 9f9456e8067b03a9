package filter

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/config"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/ingestion"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/schema"
)

// Reserved query parameters.
const (
	ParamFrom      = "from"
	ParamTo        = "to"
	ParamDateField = "date_field"
	ParamText      = "q"
	minPrefix      = "min_"
	maxPrefix      = "max_"
)

// ParseQuery builds a Spec from URL query parameters:
//
//	from, to         date range on date_field (default: primary date)
//	q                free-text search over searchable fields
//	min_<f>, max_<f> numeric range on field f
//	<f>=a,b          category membership on string or category field f
//
// Empty parameters are ignored.
//
// Predicates are emitted in schema field order so equal queries yield equal specs.
// Parameters that name no schema field are ignored.
func ParseQuery(values url.Values, s *schema.Schema) (Spec, error) {
	var spec Spec

	if values.Has(ParamFrom) || values.Has(ParamTo) {
		from, err := parseBound(values.Get(ParamFrom))
		if err != nil {
			return Spec{}, fmt.Errorf("%s: %w", ParamFrom, err)
		}

		to, err := parseBound(values.Get(ParamTo))
		if err != nil {
			return Spec{}, fmt.Errorf("%s: %w", ParamTo, err)
		}

		if from != nil || to != nil {
			spec = spec.With(DateRange{Field: values.Get(ParamDateField), From: from, To: to})
		}
	}

	for _, def := range fieldsOf(s) {
		switch {
		case def.Type.Numeric():
			p, ok, err := numericParam(values, def.Name)
			if err != nil {
				return Spec{}, err
			}

			if ok {
				spec = spec.With(p)
			}
		case def.Type != schema.TypeDate:
			set := config.ParseCommaSeparatedList(strings.Join(values[def.Name], ","))
			if len(set) > 0 {
				spec = spec.With(CategorySet{Field: def.Name, Values: set})
			}
		}
	}

	if q := strings.TrimSpace(values.Get(ParamText)); q != "" {
		spec = spec.With(Text{Query: q})
	}

	if err := Validate(spec, s); err != nil {
		return Spec{}, err
	}

	return spec, nil
}

func numericParam(values url.Values, field string) (NumericRange, bool, error) {
	p := NumericRange{Field: field}

	for _, bound := range []struct {
		key  string
		dest **float64
	}{
		{minPrefix + field, &p.Min},
		{maxPrefix + field, &p.Max},
	} {
		raw := values.Get(bound.key)
		if raw == "" {
			continue
		}

		n, err := ingestion.ParseNumber(raw)
		if err != nil {
			return p, false, fmt.Errorf("%s: %w: %w", bound.key, ErrInvalidPredicate, err)
		}

		*bound.dest = &n
	}

	return p, p.Min != nil || p.Max != nil, nil
}

func fieldsOf(s *schema.Schema) []schema.FieldDefinition {
	defs := s.Fields()
	for _, d := range s.Derived() {
		defs = append(defs, d.Field)
	}

	return defs
}
