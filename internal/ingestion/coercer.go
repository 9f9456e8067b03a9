package ingestion

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/schema"
)

// Coercion errors. Each parser wraps one of these with the offending input.
var (
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidCurrency   = errors.New("invalid currency amount")
	ErrInvalidNumber     = errors.New("invalid number")
	ErrInvalidPercentage = errors.New("invalid percentage")
	ErrOutOfRange        = errors.New("value out of range")
)

const (
	percentMin = 0
	percentMax = 100
)

// DD/MM/YYYY, DD-MM-YYYY or DD.MM.YYYY with the same separator twice.
var ukDatePattern = regexp.MustCompile(`^(\d{1,2})([/.\-])(\d{1,2})([/.\-])(\d{4})$`)

var isoLayouts = []string{
	time.DateOnly,
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	time.DateTime,
}

var currencyStripper = strings.NewReplacer("£", "", "$", "", "€", "", "¥", "", ",", "")

// ParseDate parses a UK day-first date, falling back to ISO 8601. The result is the
// calendar date at midnight UTC. Impossible dates such as 31/02/2024 are rejected.
func ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)

	if m := ukDatePattern.FindStringSubmatch(s); m != nil {
		if m[2] != m[4] {
			return time.Time{}, fmt.Errorf("%w: %q mixes separators", ErrInvalidDate, raw)
		}

		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[3])
		year, _ := strconv.Atoi(m[5])

		return calendarDate(raw, year, month, day)
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q is not DD/MM/YYYY or ISO 8601", ErrInvalidDate, raw)
}

func calendarDate(raw string, year, month, day int) (time.Time, error) {
	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("%w: %q has month %d", ErrInvalidDate, raw, month)
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)

	// time.Date normalizes overflow (31/02 → 02/03), so compare back.
	if day < 1 || t.Day() != day || int(t.Month()) != month {
		return time.Time{}, fmt.Errorf("%w: %q is not a calendar date", ErrInvalidDate, raw)
	}

	return t, nil
}

// ParseCurrency strips £ $ € ¥ symbols, thousands separators and whitespace and parses
// the remaining decimal. Accounting negatives like "(12.50)" are accepted.
//
// Example:
//
//	ParseCurrency("£1,234")  // 1234
//	ParseCurrency("1234.00") // 1234
func ParseCurrency(raw string) (float64, error) {
	s := strings.Join(strings.Fields(currencyStripper.Replace(raw)), "")

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	if s == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
	}

	if negative {
		d = d.Neg()
	}

	f, _ := d.Float64()
	if math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q exceeds the representable range", ErrInvalidCurrency, raw)
	}

	return f, nil
}

// ParseNumber strips thousands separators and whitespace and parses a finite float.
func ParseNumber(raw string) (float64, error) {
	s := strings.NewReplacer(",", "", "_", "").Replace(strings.Join(strings.Fields(raw), ""))
	if s == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}

	return f, nil
}

// ParsePercentage accepts "12.5%" or "12.5" and requires the value to lie in [0, 100].
// Values outside the range are an error, never clamped.
func ParsePercentage(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPercentage, raw)
	}

	if d.LessThan(decimal.NewFromInt(percentMin)) || d.GreaterThan(decimal.NewFromInt(percentMax)) {
		return 0, fmt.Errorf("%w: %q must be between %d and %d", ErrOutOfRange, raw, percentMin, percentMax)
	}

	f, _ := d.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPercentage, raw)
	}

	return f, nil
}

// CheckNumeric applies the range rules of a numeric field to an already-typed value:
// the value must be finite, and a percentage must lie in [0, 100].
func CheckNumeric(def schema.FieldDefinition, f float64) error {
	if !def.Type.Numeric() {
		return fmt.Errorf("%w: %s is not numeric", schema.ErrInvalidFieldType, def.Type)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%w: %s must be a finite number", ErrInvalidNumber, def.Label)
	}

	if def.Type == schema.TypePercentage && (f < percentMin || f > percentMax) {
		return fmt.Errorf("%w: %v must be between %d and %d", ErrOutOfRange, f, percentMin, percentMax)
	}

	return nil
}

// Coerce converts one raw cell into the typed value for def.
//
// Empty values are checked before parsing: a required field yields a KindRequired
// error, an optional one yields (nil, nil) and the field is left out of the record.
func Coerce(def schema.FieldDefinition, raw string, row int) (any, *ValidationError) {
	value := strings.TrimSpace(raw)

	if value == "" {
		if def.Required {
			e := rowError(row, def.Name, KindRequired, "%s is required", def.Label)

			return nil, &e
		}

		return nil, nil
	}

	var (
		out any
		err error
	)

	switch def.Type {
	case schema.TypeDate:
		out, err = ParseDate(value)
	case schema.TypeCurrency:
		out, err = ParseCurrency(value)
	case schema.TypeNumber:
		out, err = ParseNumber(value)
	case schema.TypePercentage:
		out, err = ParsePercentage(value)
	case schema.TypeString, schema.TypeCategory:
		out = value
	default:
		err = fmt.Errorf("%w: %s", schema.ErrInvalidFieldType, def.Type)
	}

	if err != nil {
		kind := KindType
		if errors.Is(err, ErrOutOfRange) {
			kind = KindRange
		}

		e := rowError(row, def.Name, kind, "%s", err.Error())

		return nil, &e
	}

	return out, nil
}
