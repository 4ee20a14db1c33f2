// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/streamwarden/internal/models"
	"github.com/tomtom215/streamwarden/internal/notify"
	"github.com/tomtom215/streamwarden/internal/rules"
	"github.com/tomtom215/streamwarden/internal/tracker"
	"github.com/tomtom215/streamwarden/internal/violations"
)

var engineTestNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func engineTestSession() *models.Session {
	return &models.Session{
		ID:         "sess-1",
		ServerID:   "srv-1",
		SessionKey: "K",
		RatingKey:  "100",
		UserID:     42,
		Username:   "alice",
		Country:    "RU",
		State:      models.StatePlaying,
		StartedAt:  engineTestNow.Add(-time.Minute),
		LastSeenAt: engineTestNow,
	}
}

// staticProvider returns a fixed context or error.
type staticProvider struct {
	ec  *rules.EvalContext
	err error
}

func (p *staticProvider) BuildContext(_ context.Context, _ *models.Session) (*rules.EvalContext, error) {
	return p.ec, p.err
}

// recordingPublisher captures published outcomes.
type recordingPublisher struct {
	mu       sync.Mutex
	outcomes []*Outcome
}

func (p *recordingPublisher) PublishOutcome(o *Outcome) {
	p.mu.Lock()
	p.outcomes = append(p.outcomes, o)
	p.mu.Unlock()
}

func countryRule(id string, country string) *rules.Rule {
	return &rules.Rule{
		ID:      id,
		Name:    "Geo Restriction",
		Enabled: true,
		Conditions: rules.ConditionSet{
			Groups: []rules.ConditionGroup{{
				Conditions: []rules.Condition{{
					Field:    rules.FieldCountry,
					Operator: rules.OpEq,
					Value:    country,
				}},
			}},
		},
		Actions: rules.ActionSet{
			Actions: []rules.Action{{
				Type:     rules.ActionCreateViolation,
				Severity: models.SeverityWarning,
			}},
		},
	}
}

func newTestEngine(t *testing.T, store violations.Store, ruleSet ...*rules.Rule) (*Engine, *recordingPublisher) {
	t.Helper()
	source, err := rules.NewStaticSource(ruleSet...)
	if err != nil {
		t.Fatalf("rule source: %v", err)
	}
	session := engineTestSession()
	provider := &staticProvider{ec: &rules.EvalContext{
		Session:        session,
		User:           &models.ServerUser{ServerID: "srv-1", UserID: 42, Username: "alice"},
		Server:         &models.Server{ID: "srv-1"},
		ActiveSessions: []*models.Session{session},
		Now:            engineTestNow,
	}}
	pub := &recordingPublisher{}
	return New(source, provider, NewSink(store, nil, nil), pub), pub
}

func TestHandleEventMatchCreatesViolation(t *testing.T) {
	store := violations.NewMemoryStore()
	eng, pub := newTestEngine(t, store, countryRule("geo", "RU"))

	event := &tracker.SessionEvent{Type: tracker.EventCreated, Session: engineTestSession()}
	outcomes, err := eng.HandleEvent(t.Context(), event)
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outcomes))
	}

	o := outcomes[0]
	if !o.Result.Matched || o.Result.RuleID != "geo" {
		t.Errorf("result = %+v", o.Result)
	}
	if len(o.ActionResults) != 1 || !o.ActionResults[0].Success {
		t.Errorf("action results = %+v", o.ActionResults)
	}

	stored, _ := store.List(t.Context(), violations.Filter{})
	if len(stored) != 1 {
		t.Fatalf("violations stored = %d, want 1", len(stored))
	}
	if stored[0].RuleID != "geo" || stored[0].SessionID != "sess-1" {
		t.Errorf("stored violation = %+v", stored[0])
	}

	if len(pub.outcomes) != 1 {
		t.Errorf("published outcomes = %d, want 1", len(pub.outcomes))
	}
}

func TestHandleEventNoMatch(t *testing.T) {
	store := violations.NewMemoryStore()
	eng, pub := newTestEngine(t, store, countryRule("geo", "DE"))

	event := &tracker.SessionEvent{Type: tracker.EventCreated, Session: engineTestSession()}
	outcomes, err := eng.HandleEvent(t.Context(), event)
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(outcomes) != 0 {
		t.Errorf("outcomes = %d, want 0", len(outcomes))
	}
	if len(pub.outcomes) != 0 {
		t.Error("non-match was published")
	}
}

func TestHandleEventContextFailureAborts(t *testing.T) {
	source, _ := rules.NewStaticSource(countryRule("geo", "RU"))
	provider := &staticProvider{err: errors.New("collaborator down")}
	eng := New(source, provider, NewSink(violations.NewMemoryStore(), nil, nil), nil)

	event := &tracker.SessionEvent{Type: tracker.EventCreated, Session: engineTestSession()}
	if _, err := eng.HandleEvent(t.Context(), event); err == nil {
		t.Fatal("context build failure did not abort the cycle")
	}
}

func TestHandleEventDeduplicatesOpenViolations(t *testing.T) {
	store := violations.NewMemoryStore()
	eng, _ := newTestEngine(t, store, countryRule("geo", "RU"))
	ctx := t.Context()

	event := &tracker.SessionEvent{Type: tracker.EventUpdated, Session: engineTestSession()}
	eng.HandleEvent(ctx, event)
	outcomes, err := eng.HandleEvent(ctx, event)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outcomes))
	}
	ar := outcomes[0].ActionResults[0]
	if !ar.Skipped || ar.SkipReason == "" {
		t.Errorf("repeat match action = %+v, want skip with reason", ar)
	}

	stored, _ := store.List(ctx, violations.Filter{})
	if len(stored) != 1 {
		t.Errorf("violations stored = %d, want 1", len(stored))
	}
}

func TestSinkWithoutChannelsFailsActions(t *testing.T) {
	sink := NewSink(violations.NewMemoryStore(), nil, nil)
	ctx := t.Context()

	if err := sink.Notify(ctx, &rules.Notification{RuleID: "r"}); !errors.Is(err, ErrNoNotifier) {
		t.Errorf("notify without dispatcher: err = %v", err)
	}
	if err := sink.KillSession(ctx, "srv-1", "K", "abuse"); !errors.Is(err, ErrNoTerminator) {
		t.Errorf("kill without terminator: err = %v", err)
	}
}

func TestNotifyActionFailsWithNoEnabledChannels(t *testing.T) {
	sink := NewSink(violations.NewMemoryStore(), notify.NewDispatcher(), nil)
	x := rules.NewExecutor(sink)

	session := engineTestSession()
	ec := &rules.EvalContext{Session: session, Now: engineTestNow}
	res := &rules.EvaluationResult{RuleID: "r-1", RuleName: "Geo Restriction", Matched: true}

	got := x.Execute(t.Context(), ec, res, rules.Action{Type: rules.ActionNotify})
	if got.Success {
		t.Error("notify with no enabled channels reported success")
	}
	if got.Skipped {
		t.Error("undelivered notification reported as skipped, want failure")
	}
	if got.ErrorMessage == "" {
		t.Error("failed notify carried no error message")
	}
}

func TestTrackerProviderBuildContext(t *testing.T) {
	tr := tracker.New(tracker.DefaultConfig())
	ctx := t.Context()

	ev, err := tr.OnPoll(ctx, tracker.Poll{
		ServerID:   "srv-1",
		SessionKey: "K",
		RatingKey:  "100",
		UserID:     42,
		Username:   "alice",
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}

	p := NewTrackerProvider(tr)
	p.RegisterServer(&models.Server{ID: "srv-1", Name: "den", Kind: "plex"})

	ec, err := p.BuildContext(ctx, ev.Session)
	if err != nil {
		t.Fatalf("build context: %v", err)
	}
	if ec.Session.ID != ev.Session.ID {
		t.Error("context subject mismatch")
	}
	if len(ec.ActiveSessions) != 1 || ec.ActiveSessions[0].ID != ev.Session.ID {
		t.Errorf("active sessions = %d, want subject included", len(ec.ActiveSessions))
	}
	if ec.Server.Name != "den" {
		t.Errorf("server = %+v, want registered identity", ec.Server)
	}
	if ec.User == nil || ec.User.Username != "alice" {
		t.Errorf("user = %+v", ec.User)
	}
	// The subject is the user's only recorded session; it must not count
	// as its own prior activity.
	if ec.User.LastSessionAt != nil {
		t.Errorf("last-session time = %v, want nil for first-ever session", *ec.User.LastSessionAt)
	}
	if ec.Now.IsZero() {
		t.Error("context clock not set")
	}
}

func TestTrackerProviderIncludesFinalizedSubject(t *testing.T) {
	tr := tracker.New(tracker.DefaultConfig())
	ctx := t.Context()

	ev, _ := tr.OnPoll(ctx, tracker.Poll{ServerID: "srv-1", SessionKey: "K", RatingKey: "100", UserID: 42})
	split, _ := tr.OnPoll(ctx, tracker.Poll{ServerID: "srv-1", SessionKey: "K", RatingKey: "101", UserID: 42})
	if split.Type != tracker.EventSplit {
		t.Fatalf("expected split, got %v", split.Type)
	}

	p := NewTrackerProvider(tr)
	ec, err := p.BuildContext(ctx, split.Previous)
	if err != nil {
		t.Fatalf("build context: %v", err)
	}

	// The finalized predecessor is no longer active but must still appear
	// as the context subject in ActiveSessions.
	found := false
	for _, s := range ec.ActiveSessions {
		if s.ID == ev.Session.ID {
			found = true
		}
	}
	if !found {
		t.Error("finalized subject absent from its own context")
	}

	if _, err := p.BuildContext(ctx, nil); !errors.Is(err, ErrNilSession) {
		t.Errorf("nil session: err = %v", err)
	}
}

func TestTrackerProviderDormantUserTripsInactivityRule(t *testing.T) {
	tr := tracker.New(tracker.DefaultConfig())
	ctx := t.Context()

	// The user last streamed 60 days ago, then went quiet.
	tr.History().Record(&models.Session{
		ID:        "sess-old",
		ServerID:  "srv-1",
		UserID:    42,
		StartedAt: engineTestNow.AddDate(0, 0, -60),
	})

	ev, err := tr.OnPoll(ctx, tracker.Poll{
		ServerID:   "srv-1",
		SessionKey: "K",
		RatingKey:  "100",
		UserID:     42,
		Username:   "alice",
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}

	p := NewTrackerProvider(tr)
	p.clock = func() time.Time { return engineTestNow }

	ec, err := p.BuildContext(ctx, ev.Session)
	if err != nil {
		t.Fatalf("build context: %v", err)
	}
	if ec.User.LastSessionAt == nil {
		t.Fatal("prior activity missing from context")
	}
	if !ec.User.LastSessionAt.Equal(engineTestNow.AddDate(0, 0, -60)) {
		t.Errorf("last-session time = %v, want the dormant session's start", *ec.User.LastSessionAt)
	}

	res := rules.Evaluate(rules.NewAccountInactivityTemplate(30, rules.UnitDays), ec)
	if !res.Matched {
		t.Error("60-day dormant user did not match the 30-day inactivity rule")
	}
}
