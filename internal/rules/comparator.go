// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package rules

import (
	"fmt"
	"strings"
)

// Compare evaluates a single typed comparison. It is total: no input pair
// panics or errors. Type-mismatched comparisons degrade to false (or the
// appropriate negation) so that one malformed condition cannot abort
// evaluation of a whole rule set.
//
// Semantics per operator:
//   - eq/neq: numbers compared numerically, strings exactly, booleans by
//     identity; values of mismatched kinds are never equal
//   - gt/gte/lt/lte: numeric ordering; false if actual is not a number,
//     even when it is a numeric-looking string
//   - in/not_in: membership in expected, which must be an array; false
//     (fail-closed) when it is not
//   - contains/not_contains: case-insensitive substring on string-coerced
//     operands
func Compare(actual any, op Operator, expected any) bool {
	switch op {
	case OpEq:
		return valuesEqual(actual, expected)
	case OpNeq:
		return !valuesEqual(actual, expected)
	case OpGt:
		return compareNumeric(actual, expected, func(a, b float64) bool { return a > b })
	case OpGte:
		return compareNumeric(actual, expected, func(a, b float64) bool { return a >= b })
	case OpLt:
		return compareNumeric(actual, expected, func(a, b float64) bool { return a < b })
	case OpLte:
		return compareNumeric(actual, expected, func(a, b float64) bool { return a <= b })
	case OpIn:
		return CompareArray(actual, expected)
	case OpNotIn:
		arr, ok := toArray(expected)
		if !ok {
			return false
		}
		return !arrayContains(arr, actual)
	case OpContains:
		return containsFold(actual, expected)
	case OpNotContains:
		return !containsFold(actual, expected)
	default:
		return false
	}
}

// CompareArray reports whether actual is a member of expected. It returns
// false whenever expected is not an array, for any actual. It is the helper
// behind in/not_in and is reusable for any array-typed field.
func CompareArray(actual, expected any) bool {
	arr, ok := toArray(expected)
	if !ok {
		return false
	}
	return arrayContains(arr, actual)
}

// valuesEqual implements structural equality on primitive values. Numbers of
// different Go kinds (int vs float64 from JSON decoding) compare numerically.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}

	return false
}

// compareNumeric applies cmp to actual and expected as float64. Non-numeric
// operands make the comparison false; numeric-looking strings do not count.
func compareNumeric(actual, expected any, cmp func(a, b float64) bool) bool {
	fa, ok := toFloat(actual)
	if !ok {
		return false
	}
	fb, ok := toFloat(expected)
	if !ok {
		return false
	}
	return cmp(fa, fb)
}

// toFloat converts numeric Go kinds to float64. Strings are deliberately
// excluded: the numeric operators must stay false for "5" vs 3.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
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
	}
	return 0, false
}

// toArray normalizes the array-typed shapes a condition value can arrive in:
// []any from JSON decoding, or typed slices from template compilation.
func toArray(v any) ([]any, bool) {
	switch arr := v.(type) {
	case []any:
		return arr, true
	case []string:
		out := make([]any, len(arr))
		for i, s := range arr {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(arr))
		for i, f := range arr {
			out[i] = f
		}
		return out, true
	case []int:
		out := make([]any, len(arr))
		for i, n := range arr {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

// arrayContains reports whether needle is structurally equal to any element.
func arrayContains(arr []any, needle any) bool {
	for _, elem := range arr {
		if valuesEqual(needle, elem) {
			return true
		}
	}
	return false
}

// containsFold performs a case-insensitive substring test on the string
// coercions of both operands.
func containsFold(actual, expected any) bool {
	haystack := strings.ToLower(coerceString(actual))
	needle := strings.ToLower(coerceString(expected))
	return strings.Contains(haystack, needle)
}

// coerceString renders any primitive as a string for substring comparison.
func coerceString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
