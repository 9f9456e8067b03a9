package aggregation

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
)

func record(date time.Time, amount float64, product, status string) dataset.Record {
	fields := map[string]any{"amount": amount}
	if !date.IsZero() {
		fields["date"] = date
	}

	if product != "" {
		fields["product"] = product
	}

	if status != "" {
		fields["status"] = status
	}

	return dataset.Record{Fields: fields}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestGroupAndReduce_SingleKey(t *testing.T) {
	records := []dataset.Record{
		record(day(2024, 1, 1), 100, "Personal", ""),
		record(day(2024, 1, 2), 200, "Personal", ""),
		record(day(2024, 1, 3), 300, "Personal", ""),
		record(day(2024, 1, 4), 400, "Personal", ""),
	}

	sum, err := GroupAndReduce(records, Spec{GroupBy: "product", Reducer: ReducerSum, Field: "amount"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"Personal": 1000}, sum.Map())

	avg, err := GroupAndReduce(records, Spec{GroupBy: "product", Reducer: ReducerAvg, Field: "amount"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"Personal": 250}, avg.Map())

	count, err := GroupAndReduce(records, Spec{Reducer: ReducerCount})
	require.NoError(t, err)
	assert.Equal(t, []Group{{Key: KeyAll, Value: 4, Count: 4}}, count.Groups)
}

func TestGroupAndReduce_FieldGroupsKeepFirstAppearance(t *testing.T) {
	records := []dataset.Record{
		record(day(2024, 1, 1), 1, "Mortgage", ""),
		record(day(2024, 1, 2), 2, "Car", ""),
		record(day(2024, 1, 3), 3, "Mortgage", ""),
		record(day(2024, 1, 4), 4, "", ""),
	}

	result, err := GroupAndReduce(records, Spec{GroupBy: "product", Reducer: ReducerSum, Field: "amount"})
	require.NoError(t, err)

	assert.Equal(t, []Group{
		{Key: "Mortgage", Value: 4, Count: 2},
		{Key: "Car", Value: 2, Count: 1},
		{Key: KeyUnknown, Value: 4, Count: 1},
	}, result.Groups)
}

func TestGroupAndReduce_MonthBucketsAscending(t *testing.T) {
	records := []dataset.Record{
		record(day(2024, 3, 9), 30, "", ""),
		record(time.Time{}, 99, "", ""),
		record(day(2023, 12, 31), 5, "", ""),
		record(day(2024, 1, 15), 10, "", ""),
		record(day(2024, 1, 31), 15, "", ""),
	}

	result, err := GroupAndReduce(records, Spec{
		GroupBy:   GroupByMonth,
		DateField: "date",
		Reducer:   ReducerSum,
		Field:     "amount",
	})
	require.NoError(t, err)

	keys := make([]string, 0, len(result.Groups))
	for _, g := range result.Groups {
		keys = append(keys, g.Key)
	}

	assert.Equal(t, []string{"2023-12", "2024-01", "2024-03", KeyUnknown}, keys)

	jan, ok := result.Value("2024-01")
	require.True(t, ok)
	assert.InDelta(t, 25.0, jan, 0)
}

func TestGroupAndReduce_Rate(t *testing.T) {
	records := []dataset.Record{
		record(day(2024, 1, 1), 1, "Car", "Approved"),
		record(day(2024, 1, 2), 1, "Car", "declined"),
		record(day(2024, 1, 3), 1, "Car", "APPROVED"),
		record(day(2024, 1, 4), 1, "Car", ""),
	}

	result, err := GroupAndReduce(records, Spec{
		GroupBy:    "product",
		Reducer:    ReducerRate,
		RateField:  "status",
		RateValues: []string{"approved"},
	})
	require.NoError(t, err)
	assert.InDelta(t, 50.0, result.Map()["Car"], 1e-9)
}

func TestGroupAndReduce_AvgWithoutValuesIsZero(t *testing.T) {
	records := []dataset.Record{{Fields: map[string]any{"product": "Car"}}}

	result, err := GroupAndReduce(records, Spec{GroupBy: "product", Reducer: ReducerAvg, Field: "amount"})
	require.NoError(t, err)
	assert.Equal(t, []Group{{Key: "Car", Value: 0, Count: 1}}, result.Groups)
}

func TestGroupAndReduce_NonFiniteValuesAreSkipped(t *testing.T) {
	records := []dataset.Record{
		record(day(2024, 1, 1), 100, "Car", ""),
		record(day(2024, 1, 2), math.Inf(1), "Car", ""),
		record(day(2024, 1, 3), math.NaN(), "Car", ""),
		record(day(2024, 1, 4), 300, "Car", ""),
	}

	var result *Result

	require.NotPanics(t, func() {
		var err error
		result, err = GroupAndReduce(records, Spec{GroupBy: "product", Reducer: ReducerAvg, Field: "amount"})
		require.NoError(t, err)
	})
	assert.Equal(t, []Group{{Key: "Car", Value: 200, Count: 4}}, result.Groups)
}

func TestGroupAndReduce_Empty(t *testing.T) {
	result, err := GroupAndReduce(nil, Spec{Reducer: ReducerCount})
	require.NoError(t, err)
	assert.NotNil(t, result.Groups)
	assert.Empty(t, result.Groups)
}

func TestGroupAndReduce_SumIsPermutationInvariant(t *testing.T) {
	amounts := []float64{0.1, 0.2, 0.3, 1e9, 12.345, 0.7, 3.3333, 1e-3, 42}

	records := make([]dataset.Record, 0, len(amounts)*3)
	for i, a := range amounts {
		for _, product := range []string{"Car", "Personal", "Mortgage"} {
			records = append(records, record(day(2024, time.Month(i%12+1), 1), a, product, ""))
		}
	}

	spec := Spec{GroupBy: "product", Reducer: ReducerSum, Field: "amount"}

	want, err := GroupAndReduce(records, spec)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 2)) //nolint:gosec // deterministic shuffle

	for range 20 {
		shuffled := append([]dataset.Record(nil), records...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		got, err := GroupAndReduce(shuffled, spec)
		require.NoError(t, err)
		assert.Equal(t, want.Map(), got.Map())
	}
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name  string
		spec  Spec
		valid bool
	}{
		{name: "count", spec: Spec{Reducer: ReducerCount}, valid: true},
		{name: "sum without field", spec: Spec{Reducer: ReducerSum}},
		{name: "avg without field", spec: Spec{Reducer: ReducerAvg}},
		{name: "rate without values", spec: Spec{Reducer: ReducerRate, RateField: "status"}},
		{name: "unknown reducer", spec: Spec{Reducer: "median", Field: "amount"}},
		{name: "month without date field", spec: Spec{Reducer: ReducerCount, GroupBy: GroupByMonth}},
		{
			name:  "rate",
			spec:  Spec{Reducer: ReducerRate, RateField: "status", RateValues: []string{"open"}},
			valid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.valid {
				assert.NoError(t, err)

				return
			}

			assert.ErrorIs(t, err, ErrInvalidSpec)

			_, err = GroupAndReduce(nil, tt.spec)
			assert.ErrorIs(t, err, ErrInvalidSpec)
		})
	}
}
