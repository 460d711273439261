package common

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// HasAny returns true if s contains any of the substrings.
func HasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Fold normalizes s for case-insensitive keyword matching: NFKC (full-width
// and compatibility forms collapse) followed by Unicode case folding.
func Fold(s string) string {
	if s == "" {
		return s
	}
	return cases.Fold().String(norm.NFKC.String(s))
}

// Fields is a loosely-typed upstream record.
type Fields map[string]any

// FirstPresent returns the first value among names that is present and not
// blank. Strings are trimmed; numbers are kept as-is.
func (f Fields) FirstPresent(names ...string) (any, string, bool) {
	for _, name := range names {
		v, ok := f[name]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr {
			if strings.TrimSpace(s) == "" {
				continue
			}
			return strings.TrimSpace(s), name, true
		}
		return v, name, true
	}
	return nil, "", false
}

// FirstString is FirstPresent rendered as a string; "" when nothing matched.
func (f Fields) FirstString(names ...string) string {
	v, _, ok := f.FirstPresent(names...)
	if !ok {
		return ""
	}
	return strings.TrimSpace(ToString(v))
}

// FirstNumber returns the first candidate that parses as a number.
func (f Fields) FirstNumber(names ...string) (float64, string, bool) {
	for _, name := range names {
		v, ok := f[name]
		if !ok || v == nil {
			continue
		}
		if n, ok := ToFloat(v); ok {
			return n, name, true
		}
	}
	return 0, "", false
}

// ToString renders a decoded JSON scalar.
func ToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// ToFloat converts a decoded JSON scalar to float64.
func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case json.Number:
		n, err := t.Float64()
		return n, err == nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return n, err == nil
	default:
		return 0, false
	}
}
