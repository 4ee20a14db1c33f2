// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package rules

import (
	"context"
	"sync"
)

// StaticSource is an in-memory rule source: a fixed set of validated rules
// served to every server/user scope. It backs the configuration-driven
// classic templates; a database-backed source can replace it behind the same
// engine interface.
type StaticSource struct {
	mu    sync.RWMutex
	rules []*Rule
}

// NewStaticSource creates a source from the given rules. Every rule must
// pass ValidateRule; this is the authoring-time validation boundary.
func NewStaticSource(set ...*Rule) (*StaticSource, error) {
	if err := ValidateRules(set); err != nil {
		return nil, err
	}
	return &StaticSource{rules: set}, nil
}

// ActiveRules returns the enabled rules for the given scope.
func (s *StaticSource) ActiveRules(_ context.Context, _ string, _ int) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]*Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.Enabled {
			active = append(active, r)
		}
	}
	return active, nil
}

// Rules returns every rule in the source, enabled or not.
func (s *StaticSource) Rules() []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// SetEnabled toggles a rule by ID. Returns false if the ID is unknown.
func (s *StaticSource) SetEnabled(id string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rules {
		if r.ID == id {
			r.Enabled = enabled
			return true
		}
	}
	return false
}
