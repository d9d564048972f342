package expr

import (
	"fmt"
	"strconv"

	"github.com/forward/river/pkg/record"
)

// AsBool converts a value to a boolean.
func AsBool(val any) (bool, error) {
	b, ok := val.(bool)
	if !ok {
		return false, fmt.Errorf("expected boolean, got %#v of type %T", val, val)
	}
	return b, nil
}

// AsString converts a value to a string.
func AsString(val any) (string, error) {
	switch v := val.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("expected string, got %#v of type %T", val, val)
	}
}

// AsFloat converts a value to a float64, with best-effort numeric coercion for strings.
func AsFloat(val any) (float64, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to a number: %w", v, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected number, got %#v of type %T", val, val)
	}
}

// AsInt converts a value to an int64.
func AsInt(val any) (int64, error) {
	switch v := val.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("expected integer, got %#v of type %T", val, val)
	}
}

// AsRecord converts a value to a record.
func AsRecord(val any) (record.Record, error) {
	rec, ok := val.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected map, got %#v of type %T", val, val)
	}
	return rec, nil
}

// valueEqual compares two values structurally. Numbers compare across int/float representations.
func valueEqual(a, b any) (bool, error) {
	fa, errA := AsFloat(a)
	fb, errB := AsFloat(b)
	if errA == nil && errB == nil {
		return fa == fb, nil
	}

	keyA, err := record.KeyAny(a)
	if err != nil {
		return false, err
	}
	keyB, err := record.KeyAny(b)
	if err != nil {
		return false, err
	}
	return keyA == keyB, nil
}

// compareValues orders two values. Numbers order numerically, strings lexicographically.
func compareValues(a, b any) (int, error) {
	fa, errA := AsFloat(a)
	fb, errB := AsFloat(b)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1, nil
		case fa > fb:
			return 1, nil
		default:
			return 0, nil
		}
	}

	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		switch {
		case sa < sb:
			return -1, nil
		case sa > sb:
			return 1, nil
		default:
			return 0, nil
		}
	}

	return 0, fmt.Errorf("cannot order %T against %T", a, b)
}
