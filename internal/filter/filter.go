// Package filter composes record predicates for dataset queries.
//
// A Spec is an ordered list of independent predicates combined with logical AND. The
// predicate kinds form a closed set: DateRange, CategorySet, NumericRange and Text. An
// empty Spec matches every record.
package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/ingestion"
)

var (
	// ErrUnknownField is returned when a predicate names a field the schema does not define.
	ErrUnknownField = errors.New("unknown field")
	// ErrInvalidPredicate is returned for predicates that cannot apply to their field.
	ErrInvalidPredicate = errors.New("invalid predicate")
)

// Kind identifies a predicate variant.
type Kind string

// Predicate kinds.
const (
	KindDateRange    Kind = "date_range"
	KindCategorySet  Kind = "category"
	KindNumericRange Kind = "numeric_range"
	KindText         Kind = "text"
)

// Predicate is one filter clause. Only the types in this package implement it.
type Predicate interface {
	Kind() Kind
	isPredicate()
}

type (
	// DateRange keeps records whose date field falls within [From, To], compared as
	// calendar dates. Field defaults to the schema's primary date. A nil bound is open.
	DateRange struct {
		Field string
		From  *time.Time
		To    *time.Time
	}

	// CategorySet keeps records whose field value equals one of Values, ignoring case.
	CategorySet struct {
		Field  string
		Values []string
	}

	// NumericRange keeps records whose numeric field lies within [Min, Max]. A nil bound
	// is open.
	NumericRange struct {
		Field string
		Min   *float64
		Max   *float64
	}

	// Text keeps records where any of Fields contains Query as a case-insensitive
	// substring. Fields defaults to the schema's searchable fields.
	Text struct {
		Query  string
		Fields []string
	}
)

func (DateRange) Kind() Kind    { return KindDateRange }
func (CategorySet) Kind() Kind  { return KindCategorySet }
func (NumericRange) Kind() Kind { return KindNumericRange }
func (Text) Kind() Kind         { return KindText }

func (DateRange) isPredicate()    {}
func (CategorySet) isPredicate()  {}
func (NumericRange) isPredicate() {}
func (Text) isPredicate()         {}

// Spec is an AND-composed list of predicates.
type Spec struct {
	Predicates []Predicate
}

// NewSpec returns a Spec holding predicates in order.
func NewSpec(predicates ...Predicate) Spec {
	return Spec{Predicates: predicates}
}

// Empty reports whether the spec matches everything.
func (s Spec) Empty() bool {
	return len(s.Predicates) == 0
}

// With returns a copy of s with p appended.
func (s Spec) With(p Predicate) Spec {
	out := make([]Predicate, 0, len(s.Predicates)+1)
	out = append(out, s.Predicates...)

	return Spec{Predicates: append(out, p)}
}

// clause is the wire form of a predicate. Dates accept DD/MM/YYYY or ISO layouts.
type clause struct {
	Kind   Kind     `json:"kind"`
	Field  string   `json:"field,omitempty"`
	From   string   `json:"from,omitempty"`
	To     string   `json:"to,omitempty"`
	Values []string `json:"values,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Query  string   `json:"query,omitempty"`
	Fields []string `json:"fields,omitempty"`
}

type wireSpec struct {
	Predicates []clause `json:"predicates"`
}

// MarshalJSON encodes the spec as {"predicates":[{"kind":...}, ...]}.
func (s Spec) MarshalJSON() ([]byte, error) {
	out := wireSpec{Predicates: make([]clause, 0, len(s.Predicates))}

	for _, p := range s.Predicates {
		switch v := p.(type) {
		case DateRange:
			out.Predicates = append(out.Predicates, clause{
				Kind: KindDateRange, Field: v.Field, From: formatDate(v.From), To: formatDate(v.To),
			})
		case CategorySet:
			out.Predicates = append(out.Predicates, clause{Kind: KindCategorySet, Field: v.Field, Values: v.Values})
		case NumericRange:
			out.Predicates = append(out.Predicates, clause{Kind: KindNumericRange, Field: v.Field, Min: v.Min, Max: v.Max})
		case Text:
			out.Predicates = append(out.Predicates, clause{Kind: KindText, Query: v.Query, Fields: v.Fields})
		}
	}

	return json.Marshal(out)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (s *Spec) UnmarshalJSON(data []byte) error {
	var in wireSpec
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	s.Predicates = make([]Predicate, 0, len(in.Predicates))

	for i, c := range in.Predicates {
		p, err := c.predicate()
		if err != nil {
			return fmt.Errorf("predicate %d: %w", i, err)
		}

		s.Predicates = append(s.Predicates, p)
	}

	return nil
}

func (c clause) predicate() (Predicate, error) {
	switch c.Kind {
	case KindDateRange:
		from, err := parseBound(c.From)
		if err != nil {
			return nil, err
		}

		to, err := parseBound(c.To)
		if err != nil {
			return nil, err
		}

		return DateRange{Field: c.Field, From: from, To: to}, nil
	case KindCategorySet:
		return CategorySet{Field: c.Field, Values: c.Values}, nil
	case KindNumericRange:
		return NumericRange{Field: c.Field, Min: c.Min, Max: c.Max}, nil
	case KindText:
		return Text{Query: c.Query, Fields: c.Fields}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPredicate, c.Kind)
	}
}

func parseBound(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}

	t, err := ingestion.ParseDate(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPredicate, err)
	}

	return &t, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}

	return t.Format(time.DateOnly)
}
