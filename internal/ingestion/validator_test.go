package ingestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
)

func TestValidateRow_CollectsAllErrors(t *testing.T) {
	s := mustSchema(t, dataset.LendingVolume)

	mapping, _, err := MapColumns([]string{"Date", "Amount", "Approval Rate"}, s)
	require.NoError(t, err)

	v := NewValidator(s, mapping)

	outcome := v.ValidateRow(4, []string{"31/02/2024", "", "120"})
	assert.False(t, outcome.Valid())
	require.Len(t, outcome.Errors, 3)

	kinds := map[string]ErrorKind{}
	for _, e := range outcome.Errors {
		assert.Equal(t, 4, e.RowIndex)
		kinds[e.FieldName] = e.Kind
	}

	assert.Equal(t, map[string]ErrorKind{
		"date":          KindType,
		"amount":        KindRequired,
		"approval_rate": KindRange,
	}, kinds)
}

func TestValidateRow_ValidRowWithPassthrough(t *testing.T) {
	s := mustSchema(t, dataset.LendingVolume)

	mapping, _, err := MapColumns([]string{"Date", "Amount", "Product", "Broker"}, s)
	require.NoError(t, err)

	outcome := NewValidator(s, mapping).ValidateRow(2, []string{"31/01/2024", "£1,000", " Personal ", " Acme "})
	require.True(t, outcome.Valid())

	assert.Equal(t, map[string]any{
		"date":    time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		"amount":  1000.0,
		"product": "Personal",
		"Broker":  "Acme",
	}, outcome.Fields)
}

func TestValidateRow_ShortAndLongRows(t *testing.T) {
	s := mustSchema(t, dataset.LendingVolume)

	mapping, _, err := MapColumns([]string{"Date", "Amount", "Product"}, s)
	require.NoError(t, err)

	v := NewValidator(s, mapping)

	short := v.ValidateRow(2, []string{"31/01/2024", "10"})
	require.True(t, short.Valid())
	assert.NotContains(t, short.Fields, "product")

	long := v.ValidateRow(3, []string{"31/01/2024", "10", "Car", "surplus"})
	require.True(t, long.Valid())
	require.Len(t, long.Warnings, 1)
	assert.Equal(t, KindExtraCells, long.Warnings[0].Kind)
}

func TestValidateRow_BlankRow(t *testing.T) {
	s := mustSchema(t, dataset.LendingVolume)

	mapping, _, err := MapColumns([]string{"Date", "Amount"}, s)
	require.NoError(t, err)

	outcome := NewValidator(s, mapping).ValidateRow(5, []string{" ", ""})
	assert.True(t, outcome.Blank)
	assert.False(t, outcome.Valid())
	assert.Empty(t, outcome.Errors)
	require.Len(t, outcome.Warnings, 1)
	assert.Equal(t, KindBlankRow, outcome.Warnings[0].Kind)
}

func TestValidateRow_MissingRequiredColumn(t *testing.T) {
	s := mustSchema(t, dataset.LendingVolume)

	mapping, _, err := MapColumns([]string{"Date", "Product"}, s)
	require.NoError(t, err)

	outcome := NewValidator(s, mapping).ValidateRow(2, []string{"31/01/2024", "Car"})
	require.Len(t, outcome.Errors, 1)
	assert.Equal(t, "amount", outcome.Errors[0].FieldName)
	assert.Equal(t, KindRequired, outcome.Errors[0].Kind)
}

func TestApplyDerived_MissingInputOmitsField(t *testing.T) {
	s := mustSchema(t, dataset.Arrears)

	complete := map[string]any{"total_due": 300.0, "payment_received": 50.0}
	ApplyDerived(s, complete)
	assert.InDelta(t, 250.0, complete["outstanding_balance"], 1e-9)

	partial := map[string]any{"total_due": 300.0}
	ApplyDerived(s, partial)
	assert.NotContains(t, partial, "outstanding_balance")
}
