package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// fieldValue is the JSONB encoding of one typed record field. Exactly one member is
// set, which keeps dates distinguishable from strings after a round trip.
type fieldValue struct {
	S *string    `json:"s,omitempty"`
	N *float64   `json:"n,omitempty"`
	D *time.Time `json:"d,omitempty"`
}

func encodeFields(fields map[string]any) ([]byte, error) {
	out := make(map[string]fieldValue, len(fields))

	for k, v := range fields {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			out[k] = fieldValue{S: &val}
		case float64:
			out[k] = fieldValue{N: &val}
		case int:
			f := float64(val)
			out[k] = fieldValue{N: &f}
		case int64:
			f := float64(val)
			out[k] = fieldValue{N: &f}
		case time.Time:
			utc := val.UTC()
			out[k] = fieldValue{D: &utc}
		default:
			return nil, fmt.Errorf("%w: field %q has unsupported type %T", ErrInvalidRecord, k, v)
		}
	}

	return json.Marshal(out)
}

func decodeFields(data []byte) (map[string]any, error) {
	var raw map[string]fieldValue
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	fields := make(map[string]any, len(raw))

	for k, v := range raw {
		switch {
		case v.D != nil:
			fields[k] = v.D.UTC()
		case v.N != nil:
			fields[k] = *v.N
		case v.S != nil:
			fields[k] = *v.S
		}
	}

	return fields, nil
}
