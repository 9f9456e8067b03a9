package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldCodecRoundTrip(t *testing.T) {
	fields := map[string]any{
		"date":    time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		"amount":  1234.5,
		"count":   3,
		"product": "2024-01-31",
		"absent":  nil,
	}

	data, err := encodeFields(fields)
	require.NoError(t, err)

	got, err := decodeFields(data)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"date":    time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		"amount":  1234.5,
		"count":   3.0,
		"product": "2024-01-31",
	}, got)
}

func TestEncodeFieldsRejectsUnsupportedTypes(t *testing.T) {
	_, err := encodeFields(map[string]any{"nested": []string{"x"}})
	require.ErrorIs(t, err, ErrInvalidRecord)
}
