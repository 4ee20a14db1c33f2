// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package rules

import (
	"reflect"
	"testing"

	"github.com/tomtom215/streamwarden/internal/models"
)

// countryCond matches when the subject session's country equals c.
func countryCond(c string) Condition {
	return Condition{Field: FieldCountry, Operator: OpEq, Value: c}
}

func evalTestContext() *EvalContext {
	return &EvalContext{
		Session: testSession("1"), // country US, WAN
		Now:     fieldsTestNow,
	}
}

func TestEvaluateMatchedGroups(t *testing.T) {
	tests := []struct {
		name        string
		groups      []ConditionGroup
		wantMatched bool
		wantGroups  []int
	}{
		{
			name: "only first group matches",
			groups: []ConditionGroup{
				{Conditions: []Condition{countryCond("US")}},
				{Conditions: []Condition{countryCond("CA")}},
			},
			wantMatched: true,
			wantGroups:  []int{0},
		},
		{
			name: "only second group matches",
			groups: []ConditionGroup{
				{Conditions: []Condition{countryCond("CA")}},
				{Conditions: []Condition{countryCond("US")}},
			},
			wantMatched: true,
			wantGroups:  []int{1},
		},
		{
			name: "both groups match",
			groups: []ConditionGroup{
				{Conditions: []Condition{countryCond("US")}},
				{Conditions: []Condition{{Field: FieldIsLocalNetwork, Operator: OpEq, Value: false}}},
			},
			wantMatched: true,
			wantGroups:  []int{0, 1},
		},
		{
			name: "no group matches",
			groups: []ConditionGroup{
				{Conditions: []Condition{countryCond("CA")}},
				{Conditions: []Condition{countryCond("DE")}},
			},
			wantMatched: false,
			wantGroups:  []int{},
		},
		{
			name:        "zero groups never match",
			groups:      nil,
			wantMatched: false,
			wantGroups:  []int{},
		},
		{
			name: "AND within group: one false condition fails the group",
			groups: []ConditionGroup{
				{Conditions: []Condition{
					countryCond("US"),
					{Field: FieldIsLocalNetwork, Operator: OpEq, Value: true},
				}},
			},
			wantMatched: false,
			wantGroups:  []int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &Rule{
				ID:         "r1",
				Name:       "test rule",
				Enabled:    true,
				Conditions: ConditionSet{Groups: tt.groups},
				Actions:    defaultViolationActions(),
			}

			res := Evaluate(rule, evalTestContext())

			if res.Matched != tt.wantMatched {
				t.Errorf("Matched = %v, want %v", res.Matched, tt.wantMatched)
			}
			if !reflect.DeepEqual(res.MatchedGroups, tt.wantGroups) {
				t.Errorf("MatchedGroups = %v, want %v", res.MatchedGroups, tt.wantGroups)
			}
			if res.RuleID != "r1" || res.RuleName != "test rule" {
				t.Errorf("result identity = (%s, %s)", res.RuleID, res.RuleName)
			}
			if tt.wantMatched && len(res.Actions) == 0 {
				t.Error("matched result must carry the rule's actions")
			}
			if !tt.wantMatched && len(res.Actions) != 0 {
				t.Error("unmatched result must not carry actions")
			}
		})
	}
}

func TestEvaluateFailClosed(t *testing.T) {
	ctx := evalTestContext()

	t.Run("unknown field fails its group, not the rule set", func(t *testing.T) {
		rule := &Rule{
			ID: "r2", Name: "unknown field",
			Conditions: ConditionSet{Groups: []ConditionGroup{
				{Conditions: []Condition{{Field: "no_such_field", Operator: OpEq, Value: 1}}},
				{Conditions: []Condition{countryCond("US")}},
			}},
		}

		res := Evaluate(rule, ctx)
		if !res.Matched || !reflect.DeepEqual(res.MatchedGroups, []int{1}) {
			t.Errorf("expected group 1 to still match, got %+v", res)
		}
	})

	t.Run("absent signal fails the condition", func(t *testing.T) {
		// No user record: inactive_days is absent.
		rule := &Rule{
			ID: "r3", Name: "absent signal",
			Conditions: ConditionSet{Groups: []ConditionGroup{
				{Conditions: []Condition{{Field: FieldInactiveDays, Operator: OpGte, Value: 0}}},
			}},
		}

		if res := Evaluate(rule, ctx); res.Matched {
			t.Error("absent signal must fail every comparison, even gte 0")
		}
	})

	t.Run("type-mismatched value fails quietly", func(t *testing.T) {
		rule := &Rule{
			ID: "r4", Name: "mismatch",
			Conditions: ConditionSet{Groups: []ConditionGroup{
				{Conditions: []Condition{{Field: FieldCountry, Operator: OpGt, Value: 10}}},
			}},
		}

		if res := Evaluate(rule, ctx); res.Matched {
			t.Error("numeric operator on string field must be false")
		}
	})
}

func TestEvaluateAgainstRichContext(t *testing.T) {
	// Two active sessions on different devices, far apart: both the
	// simultaneous-locations and concurrent-streams archetypes fire, and
	// both matched groups are reported.
	subject := testSession("1")
	peer := testSession("2", at(lonLat, lonLon))
	ec := &EvalContext{
		Session:        subject,
		ActiveSessions: []*models.Session{subject, peer},
		Now:            fieldsTestNow,
	}

	rule := &Rule{
		ID: "r5", Name: "multi group",
		Conditions: ConditionSet{Groups: []ConditionGroup{
			{Conditions: []Condition{{
				Field: FieldActiveSessionDistanceKm, Operator: OpGte, Value: 100,
				Params: map[string]any{ParamExcludeSameDevice: true},
			}}},
			{Conditions: []Condition{{
				Field: FieldConcurrentStreams, Operator: OpGt, Value: 1,
			}}},
		}},
	}

	res := Evaluate(rule, ec)
	if !reflect.DeepEqual(res.MatchedGroups, []int{0, 1}) {
		t.Errorf("expected all matching groups reported, got %v", res.MatchedGroups)
	}
}
