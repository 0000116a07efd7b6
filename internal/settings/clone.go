package settings

import (
	"encoding/json"
	"fmt"
)

// Clone returns a deep copy of a blob. Nested maps and slices are copied;
// scalars are shared.
func Clone(b Blob) Blob {
	if b == nil {
		return nil
	}
	return cloneValue(b).(Blob)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, val := range t {
			out[k] = val
		}
		return out
	default:
		return v
	}
}

// Decode converts a blob into a typed settings struct through its JSON form.
func Decode[T any](b Blob) (T, error) {
	var out T
	data, err := json.Marshal(b)
	if err != nil {
		return out, fmt.Errorf("encode settings: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode settings: %w", err)
	}
	return out, nil
}

// Encode converts a typed settings struct into a blob.
func Encode(v any) (Blob, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	var out Blob
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return out, nil
}
