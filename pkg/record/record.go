// Package record defines the unit of data that flows between pipeline stages: an unstructured
// map-based record that can hold nested maps, slices and JSON primitives. Records are treated as
// immutable snapshots between stages; a stage that needs a modified record builds a new one.
//
// Record identity is structural: two records are the same record iff their canonical JSON
// representations are equal. The canonical key doubles as the map key wherever a stage needs to
// index records (distinct counting, join indexes, window eviction).
package record

import (
	"encoding/json"
	"fmt"
)

// Record represents an unstructured record as map[string]any. Values can be embedded maps, slices
// and primitives (int64, float64, string, bool, nil).
type Record = map[string]any

// New creates an empty record.
func New() Record { return make(Record) }

// Key creates a deterministic JSON representation for record identity. This is the function that
// defines record equality.
func Key(rec Record) (string, error) {
	bytes, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record to JSON: %w", err)
	}
	return string(bytes), nil
}

// KeyAny creates a deterministic JSON representation for an arbitrary value. Used wherever a
// non-record value (a group key, a join key) must serve as a map key.
func KeyAny(val any) (string, error) {
	bytes, err := json.Marshal(val)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value to JSON: %w", err)
	}
	return string(bytes), nil
}

// Same reports whether two records are equal using canonical JSON comparison.
func Same(a, b Record) (bool, error) {
	keyA, err := Key(a)
	if err != nil {
		return false, fmt.Errorf("failed to compute key for first record: %w", err)
	}
	keyB, err := Key(b)
	if err != nil {
		return false, fmt.Errorf("failed to compute key for second record: %w", err)
	}
	return keyA == keyB, nil
}

// DeepCopy creates a deep copy of a record.
func DeepCopy(rec Record) Record {
	copied, ok := deepCopyValue(rec).(Record)
	if !ok {
		return New()
	}
	return copied
}

// CopyValue creates a deep copy of any record value (nested maps, slices, primitives).
func CopyValue(val any) any { return deepCopyValue(val) }

// deepCopyValue copies a record or any nested structure.
func deepCopyValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for k, subVal := range v {
			result[k] = deepCopyValue(subVal)
		}
		return result

	case []any:
		result := make([]any, len(v))
		for i, subVal := range v {
			result[i] = deepCopyValue(subVal)
		}
		return result

	default:
		// Primitives can be copied directly.
		return v
	}
}

// FromPairs creates a record from key-value pairs.
func FromPairs(pairs ...any) (Record, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("FromPairs requires an even number of arguments (key-value pairs)")
	}

	rec := New()
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("key at position %d must be a string", i)
		}
		rec[key] = pairs[i+1]
	}

	return rec, nil
}
