// Package aggregation groups records and reduces each group to a number, and derives
// trend statistics from ordered series.
package aggregation

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
)

// GroupByMonth buckets records by the calendar month of their date field.
const GroupByMonth = "month"

// Keys used for records that cannot be placed in a group by value.
const (
	KeyAll     = "all"
	KeyUnknown = "unknown"
)

const percent = 100

// ErrInvalidSpec is returned for aggregation specs that cannot be evaluated.
var ErrInvalidSpec = errors.New("invalid aggregation spec")

// Reducer names how a group is reduced to one number.
type Reducer string

// Reducers.
const (
	// ReducerSum adds Field over the group.
	ReducerSum Reducer = "sum"
	// ReducerCount counts the rows in the group.
	ReducerCount Reducer = "count"
	// ReducerAvg is the mean of Field over rows that have it, 0 for none.
	ReducerAvg Reducer = "avg"
	// ReducerRate is the percentage of rows whose RateField is one of RateValues.
	ReducerRate Reducer = "rate"
)

// Spec describes one group-and-reduce.
type Spec struct {
	// GroupBy is a field name, GroupByMonth, or empty for a single group.
	GroupBy string `json:"groupBy,omitempty"`
	// DateField is bucketed when GroupBy is GroupByMonth.
	DateField  string   `json:"dateField,omitempty"`
	Reducer    Reducer  `json:"reducer"`
	Field      string   `json:"field,omitempty"`
	RateField  string   `json:"rateField,omitempty"`
	RateValues []string `json:"rateValues,omitempty"`
}

// Validate checks that the spec names everything its reducer needs.
func (s Spec) Validate() error {
	switch s.Reducer {
	case ReducerSum, ReducerAvg:
		if s.Field == "" {
			return fmt.Errorf("%w: %s requires a field", ErrInvalidSpec, s.Reducer)
		}
	case ReducerCount:
	case ReducerRate:
		if s.RateField == "" || len(s.RateValues) == 0 {
			return fmt.Errorf("%w: rate requires rateField and rateValues", ErrInvalidSpec)
		}
	default:
		return fmt.Errorf("%w: unknown reducer %q", ErrInvalidSpec, s.Reducer)
	}

	if s.GroupBy == GroupByMonth && s.DateField == "" {
		return fmt.Errorf("%w: month grouping requires a date field", ErrInvalidSpec)
	}

	return nil
}

// Group is one reduced group.
type Group struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
	// Count is the number of rows in the group.
	Count int `json:"count"`
}

// Result holds the groups in output order: ascending by period for month grouping,
// first appearance otherwise.
type Result struct {
	GroupBy string  `json:"groupBy,omitempty"`
	Reducer Reducer `json:"reducer"`
	Groups  []Group `json:"groups"`
}

// Map returns the group values keyed by group key.
func (r *Result) Map() map[string]float64 {
	out := make(map[string]float64, len(r.Groups))
	for _, g := range r.Groups {
		out[g.Key] = g.Value
	}

	return out
}

// Value returns the value of the group with key, if present.
func (r *Result) Value(key string) (float64, bool) {
	for _, g := range r.Groups {
		if g.Key == key {
			return g.Value, true
		}
	}

	return 0, false
}

type accumulator struct {
	key      string
	rows     int
	values   int
	sum      decimal.Decimal
	matching int
}

// GroupAndReduce groups records per spec and reduces every group. Sums are accumulated
// exactly, so the result does not depend on record order.
func GroupAndReduce(records []dataset.Record, spec Spec) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	rateValues := make(map[string]struct{}, len(spec.RateValues))
	for _, v := range spec.RateValues {
		rateValues[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}

	var (
		order  []*accumulator
		groups = make(map[string]*accumulator)
	)

	for _, r := range records {
		key := groupKey(r, spec)

		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{key: key}
			groups[key] = acc
			order = append(order, acc)
		}

		acc.rows++

		// Non-finite values cannot be summed exactly and count as absent.
		if n, ok := r.Number(spec.Field); ok && spec.Field != "" && !math.IsNaN(n) && !math.IsInf(n, 0) {
			acc.values++
			acc.sum = acc.sum.Add(decimal.NewFromFloat(n))
		}

		if spec.Reducer == ReducerRate {
			if v, ok := r.Text(spec.RateField); ok {
				if _, hit := rateValues[strings.ToLower(strings.TrimSpace(v))]; hit {
					acc.matching++
				}
			}
		}
	}

	if spec.GroupBy == GroupByMonth {
		slices.SortStableFunc(order, func(a, b *accumulator) int {
			return compareMonthKeys(a.key, b.key)
		})
	}

	result := &Result{GroupBy: spec.GroupBy, Reducer: spec.Reducer, Groups: make([]Group, 0, len(order))}
	for _, acc := range order {
		result.Groups = append(result.Groups, Group{Key: acc.key, Value: reduce(acc, spec.Reducer), Count: acc.rows})
	}

	return result, nil
}

func reduce(acc *accumulator, reducer Reducer) float64 {
	switch reducer {
	case ReducerSum:
		return acc.sum.InexactFloat64()
	case ReducerCount:
		return float64(acc.rows)
	case ReducerAvg:
		if acc.values == 0 {
			return 0
		}

		return acc.sum.Div(decimal.NewFromInt(int64(acc.values))).InexactFloat64()
	case ReducerRate:
		if acc.rows == 0 {
			return 0
		}

		return decimal.NewFromInt(int64(acc.matching)).
			Mul(decimal.NewFromInt(percent)).
			Div(decimal.NewFromInt(int64(acc.rows))).
			InexactFloat64()
	default:
		return 0
	}
}

func groupKey(r dataset.Record, spec Spec) string {
	switch spec.GroupBy {
	case "":
		return KeyAll
	case GroupByMonth:
		t, ok := r.Time(spec.DateField)
		if !ok {
			return KeyUnknown
		}

		return t.Format("2006-01")
	default:
		v, ok := r.Text(spec.GroupBy)
		if !ok || strings.TrimSpace(v) == "" {
			return KeyUnknown
		}

		return v
	}
}

// compareMonthKeys orders 2006-01 keys ascending with KeyUnknown last.
func compareMonthKeys(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == KeyUnknown:
		return 1
	case b == KeyUnknown:
		return -1
	default:
		return strings.Compare(a, b)
	}
}
