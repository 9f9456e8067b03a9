package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
)

func TestRegistry_HasSchemaForEveryDatasetType(t *testing.T) {
	r := NewRegistry()

	for _, dt := range dataset.All() {
		s, err := r.Schema(dt)
		require.NoError(t, err, dt)
		assert.Equal(t, dt, s.DatasetType)
		assert.NotEmpty(t, s.Fields())

		primary, ok := s.Field(s.PrimaryDate)
		require.True(t, ok, "primary date field must be declared for %s", dt)
		assert.Equal(t, TypeDate, primary.Type)

		for _, id := range s.IdentityFields {
			_, ok := s.Field(id)
			assert.True(t, ok, "identity field %s must be declared for %s", id, dt)
		}
	}

	assert.Len(t, r.Schemas(), len(dataset.All()))

	_, err := r.Schema("payroll")
	require.ErrorIs(t, err, dataset.ErrUnknownDatasetType)
}

func TestSchema_Resolve(t *testing.T) {
	s, err := NewRegistry().Schema(dataset.LendingVolume)
	require.NoError(t, err)

	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Amount", "amount", true},
		{"amount", "amount", true},
		{"loan_amount", "amount", true},
		{"  LOAN AMOUNT ", "amount", true},
		{"Date", "date", true},
		{"Product Type", "product", true},
		{"Approval %", "approval_rate", true},
		{"Account ID", "account_id", true},
		{"Broker", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, ok := s.Resolve(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchema_ResolveFirstFieldWins(t *testing.T) {
	s := &Schema{
		DatasetType: dataset.LendingVolume,
		fields: []FieldDefinition{
			{Name: "first", Synonyms: []string{"shared"}},
			{Name: "second", Synonyms: []string{"shared"}},
		},
	}
	s.index()

	got, ok := s.Resolve("Shared")
	require.True(t, ok)
	assert.Equal(t, "first", got)
}

func TestSchema_FieldListsAreCopies(t *testing.T) {
	s, err := NewRegistry().Schema(dataset.Arrears)
	require.NoError(t, err)

	fields := s.Fields()
	fields[0].Name = "mutated"

	assert.Equal(t, "date", s.Fields()[0].Name)
	assert.Equal(t, []string{"date", "total_due"}, s.RequiredFields())
	assert.Contains(t, s.SearchableFields(), "customer_name")
}

func TestDerivedFields(t *testing.T) {
	r := NewRegistry()

	arrears, err := r.Schema(dataset.Arrears)
	require.NoError(t, err)

	derived := arrears.Derived()
	require.Len(t, derived, 1)

	v, ok := derived[0].Compute(map[string]any{"total_due": 500.0, "payment_received": 120.0})
	require.True(t, ok)
	assert.InDelta(t, 380.0, v, 1e-9)

	_, ok = derived[0].Compute(map[string]any{"total_due": 500.0})
	assert.False(t, ok)

	f, ok := arrears.Field("outstanding_balance")
	require.True(t, ok)
	assert.Equal(t, TypeCurrency, f.Type)

	complaints, err := r.Schema(dataset.Complaints)
	require.NoError(t, err)

	received := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v, ok = complaints.Derived()[0].Compute(map[string]any{
		"received_date": received,
		"resolved_date": received.AddDate(0, 0, 14),
	})
	require.True(t, ok)
	assert.InDelta(t, 14.0, v, 1e-9)
}

func TestWithSynonyms(t *testing.T) {
	r := NewRegistry(WithSynonyms(map[dataset.Type]map[string][]string{
		dataset.Arrears: {
			"total_due": {"Arrears Balance Owed"},
			"no_such":   {"ignored"},
		},
		"payroll": {"amount": {"pay"}},
	}))

	s, err := r.Schema(dataset.Arrears)
	require.NoError(t, err)

	got, ok := s.Resolve("arrears balance owed")
	require.True(t, ok)
	assert.Equal(t, "total_due", got)

	// Other registries are unaffected by the extra synonyms.
	other, err := NewRegistry().Schema(dataset.Arrears)
	require.NoError(t, err)

	_, ok = other.Resolve("arrears balance owed")
	assert.False(t, ok)
}

func TestParseFieldType(t *testing.T) {
	ft, err := ParseFieldType(" Currency ")
	require.NoError(t, err)
	assert.Equal(t, TypeCurrency, ft)
	assert.True(t, ft.Numeric())
	assert.False(t, TypeDate.Numeric())

	_, err = ParseFieldType("money")
	require.ErrorIs(t, err, ErrInvalidFieldType)
}
