package filter

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/schema"
)

// Matcher reports whether a record passes a composed filter.
type Matcher func(dataset.Record) bool

// Compose builds a Matcher evaluating every predicate of spec in order, stopping at the
// first that fails. Records missing a filtered field fail that predicate.
func Compose(spec Spec, s *schema.Schema) Matcher {
	if spec.Empty() {
		return func(dataset.Record) bool { return true }
	}

	checks := make([]Matcher, 0, len(spec.Predicates))
	for _, p := range spec.Predicates {
		checks = append(checks, compile(p, s))
	}

	return func(r dataset.Record) bool {
		for _, check := range checks {
			if !check(r) {
				return false
			}
		}

		return true
	}
}

// Apply returns the records accepted by match, preserving order. The result is never nil.
func Apply(records []dataset.Record, match Matcher) []dataset.Record {
	out := make([]dataset.Record, 0, len(records))

	for _, r := range records {
		if match(r) {
			out = append(out, r)
		}
	}

	return out
}

// Validate checks that every predicate of spec names a field of s with a compatible type.
func Validate(spec Spec, s *schema.Schema) error {
	for i, p := range spec.Predicates {
		if err := validate(p, s); err != nil {
			return fmt.Errorf("predicate %d (%s): %w", i, p.Kind(), err)
		}
	}

	return nil
}

// DateBounds returns the bounds of the first date-range predicate on the primary date,
// which a store can serve from its date index. Bounds are truncated to UTC midnight of
// their calendar day, the same day the matcher compares against.
func DateBounds(spec Spec, s *schema.Schema) (from, to *time.Time, ok bool) {
	for _, p := range spec.Predicates {
		if dr, isRange := p.(DateRange); isRange && dateField(dr, s) == s.PrimaryDate {
			return calendarDay(dr.From), calendarDay(dr.To), true
		}
	}

	return nil, nil, false
}

func compile(p Predicate, s *schema.Schema) Matcher {
	switch v := p.(type) {
	case DateRange:
		return compileDateRange(v, s)
	case CategorySet:
		return compileCategorySet(v)
	case NumericRange:
		return compileNumericRange(v)
	case Text:
		return compileText(v, s)
	default:
		panic(fmt.Sprintf("filter: unhandled predicate %T", p))
	}
}

func compileDateRange(p DateRange, s *schema.Schema) Matcher {
	field := dateField(p, s)
	from, to := calendarDay(p.From), calendarDay(p.To)

	return func(r dataset.Record) bool {
		t, ok := r.Time(field)
		if !ok {
			return false
		}

		day := *calendarDay(&t)

		if from != nil && day.Before(*from) {
			return false
		}

		return to == nil || !day.After(*to)
	}
}

func compileCategorySet(p CategorySet) Matcher {
	allowed := make(map[string]struct{}, len(p.Values))
	for _, v := range p.Values {
		allowed[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}

	return func(r dataset.Record) bool {
		v, ok := r.Text(p.Field)
		if !ok {
			return false
		}

		_, hit := allowed[strings.ToLower(strings.TrimSpace(v))]

		return hit
	}
}

func compileNumericRange(p NumericRange) Matcher {
	return func(r dataset.Record) bool {
		n, ok := r.Number(p.Field)
		if !ok || math.IsNaN(n) {
			return false
		}

		if p.Min != nil && n < *p.Min {
			return false
		}

		return p.Max == nil || n <= *p.Max
	}
}

func compileText(p Text, s *schema.Schema) Matcher {
	needle := strings.ToLower(strings.TrimSpace(p.Query))
	if needle == "" {
		return func(dataset.Record) bool { return true }
	}

	fields := p.Fields
	if len(fields) == 0 {
		fields = s.SearchableFields()
	}

	return func(r dataset.Record) bool {
		for _, f := range fields {
			if v, ok := r.Text(f); ok && strings.Contains(strings.ToLower(v), needle) {
				return true
			}
		}

		return false
	}
}

func validate(p Predicate, s *schema.Schema) error {
	switch v := p.(type) {
	case DateRange:
		return requireType(s, dateField(v, s), func(t schema.FieldType) bool { return t == schema.TypeDate })
	case CategorySet:
		if len(v.Values) == 0 {
			return fmt.Errorf("%w: no values for %q", ErrInvalidPredicate, v.Field)
		}

		return requireType(s, v.Field, func(t schema.FieldType) bool { return !t.Numeric() && t != schema.TypeDate })
	case NumericRange:
		return requireType(s, v.Field, schema.FieldType.Numeric)
	case Text:
		for _, f := range v.Fields {
			if _, ok := s.Field(f); !ok {
				return fmt.Errorf("%w: %q", ErrUnknownField, f)
			}
		}

		return nil
	default:
		return fmt.Errorf("%w: %T", ErrInvalidPredicate, p)
	}
}

func requireType(s *schema.Schema, field string, ok func(schema.FieldType) bool) error {
	def, found := s.Field(field)
	if !found {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	if !ok(def.Type) {
		return fmt.Errorf("%w: field %q has type %s", ErrInvalidPredicate, field, def.Type)
	}

	return nil
}

func dateField(p DateRange, s *schema.Schema) string {
	if p.Field != "" {
		return p.Field
	}

	return s.PrimaryDate
}

func calendarDay(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	return &day
}
