package transform

import (
	"fmt"
	"strconv"
)

// Option values arrive decoded from YAML, so numbers may be int, int64, uint64
// or float64 and lists are []any.

func optString(opts map[string]any, key, def string) (string, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("option %q: expected string, got %T", key, v)
	}
	return s, nil
}

func optInt(opts map[string]any, key string) (int64, bool, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), true, nil
	case int64:
		return n, true, nil
	case uint64:
		return int64(n), true, nil
	case float64:
		return int64(n), true, nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("option %q: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, false, fmt.Errorf("option %q: expected integer, got %T", key, v)
	}
}

func optBool(opts map[string]any, key string, def bool) (bool, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("option %q: expected bool, got %T", key, v)
	}
	return b, nil
}

func optStrings(opts map[string]any, key string, def []string) ([]string, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return def, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("option %q: expected list of strings, got %T element", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return []string{list}, nil
	default:
		return nil, fmt.Errorf("option %q: expected list of strings, got %T", key, v)
	}
}

func optStringMap(opts map[string]any, key string) (map[string]string, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("option %q: expected mapping, got %T", key, v)
	}
	out := make(map[string]string, len(raw))
	for k, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("option %q: value for %q must be a string", key, k)
		}
		out[k] = s
	}
	return out, nil
}
