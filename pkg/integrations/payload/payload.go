// Package payload reads typed fields out of the loosely typed maps handed to
// trigger and action handlers.
package payload

import (
	"fmt"
	"strconv"
	"time"
)

// FieldError reports a missing or mistyped payload field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("payload field %q: %s", e.Field, e.Reason)
}

// String returns a required, non-empty string field.
func String(p map[string]any, key string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", &FieldError{Field: key, Reason: "is required"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &FieldError{Field: key, Reason: fmt.Sprintf("must be a string, got %T", v)}
	}
	if s == "" {
		return "", &FieldError{Field: key, Reason: "must not be empty"}
	}
	return s, nil
}

// StringOr returns an optional string field, or def when absent.
func StringOr(p map[string]any, key, def string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &FieldError{Field: key, Reason: fmt.Sprintf("must be a string, got %T", v)}
	}
	if s == "" {
		return def, nil
	}
	return s, nil
}

// IntOr returns an optional integer field. Numeric strings are accepted since
// substituted values always arrive as text.
func IntOr(p map[string]any, key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, &FieldError{Field: key, Reason: "must be a whole number"}
		}
		return int(n), nil
	case string:
		if n == "" {
			return def, nil
		}
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, &FieldError{Field: key, Reason: fmt.Sprintf("not a number: %q", n)}
		}
		return i, nil
	default:
		return 0, &FieldError{Field: key, Reason: fmt.Sprintf("must be a number, got %T", v)}
	}
}

// DurationOr returns an optional duration field written as a Go duration
// string ("30s") or as a number of seconds.
func DurationOr(p map[string]any, key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch d := v.(type) {
	case string:
		if d == "" {
			return def, nil
		}
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, &FieldError{Field: key, Reason: err.Error()}
		}
		return parsed, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	default:
		return 0, &FieldError{Field: key, Reason: fmt.Sprintf("must be a duration, got %T", v)}
	}
}

// Without returns a shallow copy of p minus the named keys.
func Without(p map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}
