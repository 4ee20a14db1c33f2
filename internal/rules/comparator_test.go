// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package rules

import "testing"

func TestCompareEquality(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		op       Operator
		expected any
		want     bool
	}{
		{"string eq match", "US", OpEq, "US", true},
		{"string eq mismatch", "US", OpEq, "CA", false},
		{"string eq is case sensitive", "US", OpEq, "us", false},
		{"number eq across kinds", 3, OpEq, 3.0, true},
		{"number eq mismatch", 3, OpEq, 4, false},
		{"bool eq match", true, OpEq, true, true},
		{"bool eq mismatch", true, OpEq, false, false},
		{"mixed kinds never equal", "3", OpEq, 3, false},
		{"nil eq nil", nil, OpEq, nil, true},
		{"nil eq value", nil, OpEq, "x", false},
		{"string neq", "US", OpNeq, "CA", true},
		{"number neq equal values", 5.0, OpNeq, 5, false},
		{"mixed kinds neq", "3", OpNeq, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.actual, tt.op, tt.expected); got != tt.want {
				t.Errorf("Compare(%v, %s, %v) = %v, want %v", tt.actual, tt.op, tt.expected, got, tt.want)
			}
		})
	}
}

func TestCompareNumericOrdering(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		op       Operator
		expected any
		want     bool
	}{
		{"gt true", 600.0, OpGt, 500, true},
		{"gt false on equal", 500.0, OpGt, 500, false},
		{"gte true on equal", 500.0, OpGte, 500, true},
		{"lt true", 2, OpLt, 3, true},
		{"lte false", 4, OpLte, 3, false},
		{"int actual float expected", 4, OpGt, 3.5, true},

		// Numeric operators are fail-closed for non-numeric actual,
		// including numeric-looking strings.
		{"gt string actual", "600", OpGt, 500, false},
		{"gt bool actual", true, OpGt, 0, false},
		{"gt nil actual", nil, OpGt, 0, false},
		{"lt string actual", "1", OpLt, 5, false},
		{"gt non-numeric expected", 600.0, OpGt, "500", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.actual, tt.op, tt.expected); got != tt.want {
				t.Errorf("Compare(%v, %s, %v) = %v, want %v", tt.actual, tt.op, tt.expected, got, tt.want)
			}
		})
	}
}

func TestCompareMembership(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		op       Operator
		expected any
		want     bool
	}{
		{"in match", "US", OpIn, []any{"US", "CA"}, true},
		{"in no match", "DE", OpIn, []any{"US", "CA"}, false},
		{"in typed string slice", "US", OpIn, []string{"US", "CA"}, true},
		{"in numeric slice cross-kind", 3, OpIn, []float64{1, 2, 3}, true},
		{"not_in match", "DE", OpNotIn, []any{"US", "CA"}, true},
		{"not_in member", "US", OpNotIn, []any{"US", "CA"}, false},

		// Fail-closed: a non-array expected makes both in and not_in false,
		// never an error. not_in must not degrade to "always true".
		{"in non-array expected", "US", OpIn, "US", false},
		{"not_in non-array expected", "DE", OpNotIn, "US", false},
		{"in nil expected", "US", OpIn, nil, false},
		{"not_in nil expected", "US", OpNotIn, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.actual, tt.op, tt.expected); got != tt.want {
				t.Errorf("Compare(%v, %s, %v) = %v, want %v", tt.actual, tt.op, tt.expected, got, tt.want)
			}
		})
	}
}

func TestCompareContains(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		op       Operator
		expected any
		want     bool
	}{
		{"substring", "Plex Web", OpContains, "Web", true},
		{"case insensitive", "PLEX", OpContains, "plex", true},
		{"case insensitive reversed", "plex web", OpContains, "PLEX", true},
		{"no match", "Jellyfin", OpContains, "plex", false},
		{"coerced number", 12345, OpContains, "234", true},
		{"not_contains match", "Jellyfin", OpNotContains, "plex", true},
		{"not_contains present", "Plex Web", OpNotContains, "web", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.actual, tt.op, tt.expected); got != tt.want {
				t.Errorf("Compare(%v, %s, %v) = %v, want %v", tt.actual, tt.op, tt.expected, got, tt.want)
			}
		})
	}
}

func TestCompareUnknownOperator(t *testing.T) {
	if Compare(1, Operator("matches"), 1) {
		t.Error("unknown operator must evaluate false, not panic or match")
	}
}

// TestCompareTotality drives every operator across a grid of hostile operand
// pairs; the contract is that Compare never panics.
func TestCompareTotality(t *testing.T) {
	ops := []Operator{OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn, OpContains, OpNotContains}
	values := []any{nil, "str", "42", 42, 42.5, true, []any{1, "a"}, []string{"x"}, map[string]any{"k": "v"}, struct{}{}}

	for _, op := range ops {
		for _, actual := range values {
			for _, expected := range values {
				func() {
					defer func() {
						if r := recover(); r != nil {
							t.Errorf("Compare(%v, %s, %v) panicked: %v", actual, op, expected, r)
						}
					}()
					Compare(actual, op, expected)
				}()
			}
		}
	}
}

func TestCompareArray(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		expected any
		want     bool
	}{
		{"member", "CA", []any{"US", "CA"}, true},
		{"non-member", "DE", []any{"US", "CA"}, false},
		{"empty array", "US", []any{}, false},
		{"non-array string", "US", "US", false},
		{"non-array number", 1, 1, false},
		{"non-array nil", "US", nil, false},
		{"non-array map", "US", map[string]any{"US": true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompareArray(tt.actual, tt.expected); got != tt.want {
				t.Errorf("CompareArray(%v, %v) = %v, want %v", tt.actual, tt.expected, got, tt.want)
			}
		})
	}
}
