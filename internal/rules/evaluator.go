// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package rules

// Evaluate runs a rule against a context and reports which condition groups
// matched. Groups combine with OR semantics; conditions within a group with
// AND semantics.
//
// Every group is evaluated even after one has matched, so MatchedGroups is
// complete and a caller can explain exactly why a rule fired when several
// independent conditions are simultaneously true. Within a group, evaluation
// short-circuits on the first false condition.
//
// Evaluation never errors: unknown fields, absent signals, and
// type-mismatched comparisons all degrade to a false condition per the
// fail-closed comparator contract. Structural problems (such as an empty
// condition group, which would be vacuously true here) are the province of
// ValidateRule at rule-load time, not of this hot path.
func Evaluate(rule *Rule, ec *EvalContext) EvaluationResult {
	result := EvaluationResult{
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		MatchedGroups: []int{},
	}

	for i, group := range rule.Conditions.Groups {
		if evaluateGroup(group, ec) {
			result.MatchedGroups = append(result.MatchedGroups, i)
		}
	}

	result.Matched = len(result.MatchedGroups) > 0
	if result.Matched {
		result.Actions = rule.Actions.Actions
	}

	return result
}

// evaluateGroup reports whether every condition in the group holds.
func evaluateGroup(group ConditionGroup, ec *EvalContext) bool {
	for _, cond := range group.Conditions {
		if !evaluateCondition(cond, ec) {
			return false
		}
	}
	return true
}

// evaluateCondition resolves the field and applies the comparator. A field
// that is unknown, or known but without a computed value, fails the
// condition rather than erroring.
func evaluateCondition(cond Condition, ec *EvalContext) bool {
	actual, known := ResolveField(cond.Field, ec, cond.Params)
	if !known || actual == nil {
		return false
	}
	return Compare(actual, cond.Operator, cond.Value)
}
