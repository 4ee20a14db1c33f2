// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package rules

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/tomtom215/streamwarden/internal/models"
)

// Structural rule errors surfaced at load time. Evaluation itself never
// errors; anything caught here would otherwise degrade to silent false (or,
// for an empty group, silent match-everything) in production.
var (
	ErrEmptyGroup      = errors.New("condition group has no conditions")
	ErrUnknownField    = errors.New("unknown condition field")
	ErrUnknownOp       = errors.New("unknown operator")
	ErrUnknownAction   = errors.New("unknown action type")
	ErrInvalidSeverity = errors.New("invalid severity")
)

// validate is the package-level validator instance; validator.Validate is
// safe for concurrent use and caches struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateRule checks a rule's structural invariants at load time:
//
//   - ID and name present
//   - no empty condition groups (an empty group would match everything)
//   - every condition field is registered and every operator recognized
//   - every action type is a known variant with a valid severity
//
// A rule with zero groups passes validation: it is structurally sound and
// simply never matches.
func ValidateRule(r *Rule) error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			if verrs[0].Tag() == "min" {
				return fmt.Errorf("rule %q: %w", r.ID, ErrEmptyGroup)
			}
			return fmt.Errorf("rule %q: field %s failed %q validation", r.ID, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("rule %q: %w", r.ID, err)
	}

	for gi, group := range r.Conditions.Groups {
		for ci, cond := range group.Conditions {
			if !KnownField(cond.Field) {
				return fmt.Errorf("rule %q group %d condition %d: %w: %s", r.ID, gi, ci, ErrUnknownField, cond.Field)
			}
			if !KnownOperator(cond.Operator) {
				return fmt.Errorf("rule %q group %d condition %d: %w: %s", r.ID, gi, ci, ErrUnknownOp, cond.Operator)
			}
		}
	}

	for ai, action := range r.Actions.Actions {
		if !KnownActionType(action.Type) {
			return fmt.Errorf("rule %q action %d: %w: %s", r.ID, ai, ErrUnknownAction, action.Type)
		}
		if action.Severity != "" && !models.ValidSeverity(action.Severity) {
			return fmt.Errorf("rule %q action %d: %w: %s", r.ID, ai, ErrInvalidSeverity, action.Severity)
		}
	}

	return nil
}

// ValidateRules validates a rule set, reporting the first structural error.
func ValidateRules(set []*Rule) error {
	for _, r := range set {
		if err := ValidateRule(r); err != nil {
			return err
		}
	}
	return nil
}
