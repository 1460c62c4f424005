package conditions

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}

// numericPair coerces both operands to float64. A numeric string is accepted
// when the other side is a number.
func numericPair(a, b any) (float64, float64, bool) {
	x, okA := toFloat(a)
	y, okB := toFloat(b)

	switch {
	case okA && okB:
		return x, y, true
	case okA:
		if s, ok := b.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return x, f, true
			}
		}
	case okB:
		if s, ok := a.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f, y, true
			}
		}
	}

	return 0, 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}

		return parsed, true
	default:
		return time.Time{}, false
	}
}

func equal(actual, expected any) bool {
	if x, y, ok := numericPair(actual, expected); ok {
		return x == y
	}

	if ta, ok := toTime(actual); ok {
		if te, ok := toTime(expected); ok {
			return ta.Equal(te)
		}
	}

	return reflect.DeepEqual(actual, expected)
}

// order returns -1, 0 or 1, and false when the operands cannot be ordered.
func order(actual, expected any) (int, bool) {
	if x, y, ok := numericPair(actual, expected); ok {
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		default:
			return 0, true
		}
	}

	if ta, ok := toTime(actual); ok {
		if te, ok := toTime(expected); ok {
			return ta.Compare(te), true
		}
	}

	sa, okA := actual.(string)
	se, okE := expected.(string)

	if okA && okE {
		return strings.Compare(sa, se), true
	}

	return 0, false
}

func contains(actual, expected any) bool {
	switch a := actual.(type) {
	case string:
		return strings.Contains(a, fmt.Sprint(expected))
	case map[string]any:
		_, ok := a[fmt.Sprint(expected)]

		return ok
	}

	return memberOf(expected, actual)
}

// memberOf reports whether v equals an element of list. list may be any slice.
func memberOf(v, list any) bool {
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}

	for i := range rv.Len() {
		if equal(v, rv.Index(i).Interface()) {
			return true
		}
	}

	return false
}

func isList(v any) bool {
	if v == nil {
		return false
	}

	kind := reflect.ValueOf(v).Kind()

	return kind == reflect.Slice || kind == reflect.Array
}
