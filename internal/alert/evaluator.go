package alert

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Matches reports whether every condition holds against the payload (AND-only,
// no grouping). A condition whose field is absent or null evaluates false, so
// a rule can never fire on missing data. Pure function, safe for concurrent use.
func Matches(conditions []Condition, payload map[string]any) bool {
	for _, cond := range conditions {
		if !matchCondition(cond, payload) {
			return false
		}
	}
	return len(conditions) > 0
}

func matchCondition(cond Condition, payload map[string]any) bool {
	value, ok := payload[cond.Field]
	if !ok || value == nil {
		return false
	}

	switch cond.Operator {
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual:
		left, lok := toFloat(value)
		right, rok := toFloat(cond.Value)
		if !lok || !rok {
			// Failed numeric parse is a non-match, never an error.
			return false
		}
		return compareNumeric(cond.Operator, left, right)
	case OpEqual:
		return strictEqual(value, cond.Value)
	case OpNotEqual:
		return !strictEqual(value, cond.Value)
	case OpContains:
		return strings.Contains(stringify(value), stringify(cond.Value))
	case OpNotContains:
		return !strings.Contains(stringify(value), stringify(cond.Value))
	default:
		return false
	}
}

func compareNumeric(op Operator, left, right float64) bool {
	switch op {
	case OpGreaterThan:
		return left > right
	case OpGreaterOrEqual:
		return left >= right
	case OpLessThan:
		return left < right
	case OpLessOrEqual:
		return left <= right
	default:
		return false
	}
}

// strictEqual matches on both type and value. Numeric values are an exception:
// JSON decoding turns every number into float64, so all numeric types compare
// by value.
func strictEqual(a, b any) bool {
	af, aok := numericValue(a)
	bf, bok := numericValue(b)
	if aok || bok {
		return aok && bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

// numericValue converts genuine numeric types only; strings stay strings here
// (unlike toFloat, which also parses numeric strings for ordering operators).
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	if f, ok := numericValue(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
