// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package violations stores the detection findings rules produce and
// supports the acknowledge workflow operators use to triage them.
package violations

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/streamwarden/internal/models"
)

// ErrNotFound indicates the referenced violation does not exist.
var ErrNotFound = errors.New("violations: not found")

// ErrAlreadyAcknowledged indicates a second acknowledge of the same violation.
var ErrAlreadyAcknowledged = errors.New("violations: already acknowledged")

// Filter narrows a violation listing. Zero values mean "any".
type Filter struct {
	ServerID     string
	UserID       int
	RuleID       string
	Severity     models.Severity
	Acknowledged *bool
	Since        time.Time
	Limit        int
}

// Store is the persistence boundary for violations.
type Store interface {
	Save(ctx context.Context, v *models.Violation) error
	List(ctx context.Context, f Filter) ([]*models.Violation, error)
	Get(ctx context.Context, id string) (*models.Violation, error)
	Acknowledge(ctx context.Context, id, by string) (*models.Violation, error)

	// HasOpen reports whether an unacknowledged violation already exists
	// for the rule/user pair. Executors consult it to deduplicate.
	HasOpen(ctx context.Context, ruleID, serverID string, userID int) (bool, error)
}

// MemoryStore is an in-memory Store. It is the default backend; violations
// are operational findings, not records of account, and surviving a restart
// is not required for the detection loop to stay correct.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*models.Violation
	order []string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*models.Violation)}
}

// Save records a violation. Saving an existing ID overwrites it.
func (s *MemoryStore) Save(_ context.Context, v *models.Violation) error {
	if v.ID == "" {
		return errors.New("violations: missing ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *v
	if _, exists := s.byID[v.ID]; !exists {
		s.order = append(s.order, v.ID)
	}
	s.byID[v.ID] = &stored
	return nil
}

// List returns matching violations, newest first.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]*models.Violation, error) {
	s.mu.RLock()
	out := make([]*models.Violation, 0, len(s.order))
	for _, id := range s.order {
		v := s.byID[id]
		if !matches(v, f) {
			continue
		}
		cp := *v
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Get returns one violation by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*models.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

// Acknowledge marks a violation triaged. Acknowledging twice is an error so
// the API can tell an operator their acknowledgment raced with another.
func (s *MemoryStore) Acknowledge(_ context.Context, id, by string) (*models.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if v.Acknowledged {
		return nil, ErrAlreadyAcknowledged
	}

	now := time.Now().UTC()
	v.Acknowledged = true
	v.AcknowledgedBy = strings.TrimSpace(by)
	v.AcknowledgedAt = &now

	cp := *v
	return &cp, nil
}

// HasOpen reports whether an unacknowledged violation exists for the
// rule/user pair.
func (s *MemoryStore) HasOpen(_ context.Context, ruleID, serverID string, userID int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.byID {
		if !v.Acknowledged && v.RuleID == ruleID && v.ServerID == serverID && v.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func matches(v *models.Violation, f Filter) bool {
	if f.ServerID != "" && v.ServerID != f.ServerID {
		return false
	}
	if f.UserID != 0 && v.UserID != f.UserID {
		return false
	}
	if f.RuleID != "" && v.RuleID != f.RuleID {
		return false
	}
	if f.Severity != "" && v.Severity != f.Severity {
		return false
	}
	if f.Acknowledged != nil && v.Acknowledged != *f.Acknowledged {
		return false
	}
	if !f.Since.IsZero() && v.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}
