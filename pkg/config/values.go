package config

import (
	"fmt"
	"math"
	"time"
)

// Decoders for section values. JSON numbers arrive as float64, YAML
// numbers as int or float64, environment overrides already converted.

func toBool(key string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("invalid value type for %s: expected bool, got %T", key, v)
	}
	return b, nil
}

func toString(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("invalid value type for %s: expected string, got %T", key, v)
	}
	return s, nil
}

func toInt(key string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("invalid value for %s: %v is not an integer", key, n)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("invalid value type for %s: expected integer, got %T", key, v)
}

func toFloat(key string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("invalid value type for %s: expected number, got %T", key, v)
}

// toDuration accepts "10s" style strings or a number of nanoseconds.
func toDuration(key string, v any) (time.Duration, error) {
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", key, err)
		}
		return parsed, nil
	case float64:
		return time.Duration(d), nil
	case int:
		return time.Duration(d), nil
	case int64:
		return time.Duration(d), nil
	}
	return 0, fmt.Errorf("invalid value type for %s: expected string or number, got %T", key, v)
}

func toStrings(key string, v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid item in %s: expected string, got %T", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("invalid value type for %s: expected list of strings, got %T", key, v)
}
