package ingestion

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/schema"
)

func TestParseDate_UKFormats(t *testing.T) {
	want := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	for _, input := range []string{"31/01/2024", "31-01-2024", "31.01.2024", " 31/1/2024 ", "2024-01-31", "2024-01-31T10:15:00Z"} {
		t.Run(input, func(t *testing.T) {
			got, err := ParseDate(input)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestParseDate_RoundTrip(t *testing.T) {
	day := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	for range 800 {
		formatted := day.Format("02/01/2006")

		got, err := ParseDate(formatted)
		require.NoError(t, err, formatted)
		assert.Equal(t, formatted, got.Format("02/01/2006"))

		day = day.AddDate(0, 0, 1)
	}
}

func TestParseDate_Invalid(t *testing.T) {
	for _, input := range []string{
		"31/02/2024",
		"29/02/2023",
		"00/01/2024",
		"01/13/2024",
		"31/04/2024",
		"31/01-2024",
		"01/31/24",
		"yesterday",
		"",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseDate(input)
			assert.ErrorIs(t, err, ErrInvalidDate)
		})
	}

	leap, err := ParseDate("29/02/2024")
	require.NoError(t, err)
	assert.Equal(t, time.February, leap.Month())
}

func TestParseCurrency(t *testing.T) {
	for _, input := range []string{"£1,234", "1234.00", "$ 1,234", "€1234", "¥1,234.0", " 1 234 "} {
		t.Run(input, func(t *testing.T) {
			got, err := ParseCurrency(input)
			require.NoError(t, err)
			assert.InDelta(t, 1234.0, got, 1e-9)
		})
	}

	neg, err := ParseCurrency("(12.50)")
	require.NoError(t, err)
	assert.InDelta(t, -12.5, neg, 1e-9)

	for _, input := range []string{"£", "12abc", "N/A", "1.2.3", "1e400", "£1e400", "(1e400)"} {
		_, err := ParseCurrency(input)
		assert.ErrorIs(t, err, ErrInvalidCurrency, input)
	}
}

func TestParseNumber(t *testing.T) {
	got, err := ParseNumber("1,234,567.5")
	require.NoError(t, err)
	assert.InDelta(t, 1234567.5, got, 1e-9)

	for _, input := range []string{"NaN", "Inf", "-Inf", "1e400", "abc", ""} {
		_, err := ParseNumber(input)
		assert.ErrorIs(t, err, ErrInvalidNumber, input)
	}
}

func TestParsePercentage(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"0", 0},
		{"0%", 0},
		{"100", 100},
		{"100%", 100},
		{"12.5 %", 12.5},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePercentage(tt.input)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	for _, input := range []string{"100.01", "-0.5", "150%"} {
		_, err := ParsePercentage(input)
		assert.ErrorIs(t, err, ErrOutOfRange, input)
	}

	_, err := ParsePercentage("half")
	assert.ErrorIs(t, err, ErrInvalidPercentage)
}

func TestCoerce_RequiredBeforeType(t *testing.T) {
	def := schema.FieldDefinition{Name: "amount", Label: "Amount", Type: schema.TypeCurrency, Required: true}

	_, verr := Coerce(def, "   ", 3)
	require.NotNil(t, verr)
	assert.Equal(t, KindRequired, verr.Kind)
	assert.Equal(t, 3, verr.RowIndex)
	assert.Equal(t, "amount", verr.FieldName)
	assert.Equal(t, SeverityError, verr.Severity)

	_, verr = Coerce(def, "lots", 4)
	require.NotNil(t, verr)
	assert.Equal(t, KindType, verr.Kind)
}

func TestCoerce_OptionalEmptyIsAbsent(t *testing.T) {
	def := schema.FieldDefinition{Name: "payment_received", Type: schema.TypeCurrency}

	value, verr := Coerce(def, "", 2)
	assert.Nil(t, verr)
	assert.Nil(t, value)
}

func TestCoerce_Types(t *testing.T) {
	tests := []struct {
		fieldType schema.FieldType
		raw       string
		want      any
	}{
		{schema.TypeString, "  Jane Doe ", "Jane Doe"},
		{schema.TypeCategory, "Personal Loan", "Personal Loan"},
		{schema.TypeNumber, "1,000", 1000.0},
		{schema.TypeCurrency, "£2,500.50", 2500.5},
		{schema.TypePercentage, "45%", 45.0},
		{schema.TypeDate, "01/02/2024", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.fieldType, tt.raw), func(t *testing.T) {
			value, verr := Coerce(schema.FieldDefinition{Name: "f", Type: tt.fieldType}, tt.raw, 2)
			require.Nil(t, verr)
			assert.Equal(t, tt.want, value)
		})
	}
}

func TestCoerce_PercentageOutOfRangeIsRangeError(t *testing.T) {
	_, verr := Coerce(schema.FieldDefinition{Name: "approval_rate", Type: schema.TypePercentage}, "101", 5)
	require.NotNil(t, verr)
	assert.Equal(t, KindRange, verr.Kind)
}

func TestCoerce_OverflowingCurrencyIsTypeError(t *testing.T) {
	_, verr := Coerce(schema.FieldDefinition{Name: "amount", Type: schema.TypeCurrency}, "1e400", 7)
	require.NotNil(t, verr)
	assert.Equal(t, KindType, verr.Kind)
	assert.Equal(t, 7, verr.RowIndex)
}

func TestCheckNumeric(t *testing.T) {
	rate := schema.FieldDefinition{Name: "approval_rate", Label: "Approval Rate", Type: schema.TypePercentage}
	amount := schema.FieldDefinition{Name: "amount", Label: "Amount", Type: schema.TypeCurrency}

	require.NoError(t, CheckNumeric(rate, 0))
	require.NoError(t, CheckNumeric(rate, 100))
	require.NoError(t, CheckNumeric(amount, -5e9))

	assert.ErrorIs(t, CheckNumeric(rate, 150), ErrOutOfRange)
	assert.ErrorIs(t, CheckNumeric(rate, -0.1), ErrOutOfRange)
	assert.ErrorIs(t, CheckNumeric(amount, math.Inf(1)), ErrInvalidNumber)
	assert.ErrorIs(t, CheckNumeric(amount, math.NaN()), ErrInvalidNumber)
	assert.ErrorIs(t, CheckNumeric(schema.FieldDefinition{Name: "product", Type: schema.TypeCategory}, 1),
		schema.ErrInvalidFieldType)
}
