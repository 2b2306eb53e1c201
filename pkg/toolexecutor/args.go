package toolexecutor

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Value returns the first present argument among keys.
func (c Call) Value(keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := c.Arguments[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// String returns the first non-empty string argument among keys. Numbers
// are formatted so a ZIP sent as 43537 still reads as "43537".
func (c Call) String(keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := c.Arguments[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch val := v.(type) {
		case string:
			s = strings.TrimSpace(val)
		case float64:
			s = strconv.FormatFloat(val, 'f', -1, 64)
		case json.Number:
			s = val.String()
		case int:
			s = strconv.Itoa(val)
		case int64:
			s = strconv.FormatInt(val, 10)
		default:
			continue
		}
		if s != "" {
			return s, true
		}
	}
	return "", false
}

// Number parses a numeric argument given as a JSON number or numeric string.
// Missing, non-numeric and non-finite values are validation errors.
func (c Call) Number(key string) (float64, error) {
	v, ok := c.Arguments[key]
	if !ok || v == nil {
		return 0, Invalid("%s is required", key)
	}

	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, Invalid("%s must be a number", key)
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, Invalid("%s must be a number", key)
		}
		f = parsed
	default:
		return 0, Invalid("%s must be a number", key)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, Invalid("%s must be a finite number", key)
	}
	return f, nil
}

// Object returns a map argument.
func (c Call) Object(key string) (map[string]interface{}, bool) {
	m, ok := c.Arguments[key].(map[string]interface{})
	return m, ok
}
