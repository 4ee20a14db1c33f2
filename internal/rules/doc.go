// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package rules implements the condition/action rule system at the heart of
// Streamwarden's abuse detection.
//
// A Rule is a set of condition groups combined with OR semantics; conditions
// within a group are combined with AND semantics. Each condition names a
// field, an operator, and an expected value. Fields are resolved against an
// EvalContext (the subject session plus its active and recent peer sessions)
// by the field registry in fields.go, and compared by the fail-closed
// comparator in comparator.go.
//
// Rules that match produce a list of tagged actions (create_violation,
// notify, kill_session) which the Executor runs against an injected
// ActionSink, capturing a structured ActionResult per action. One action's
// failure never blocks the others.
//
// The six classic violation archetypes (impossible travel, simultaneous
// locations, device velocity, concurrent streams, geo restriction, account
// inactivity) are compiled into this generic shape by templates.go.
package rules
