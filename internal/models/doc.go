// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package models holds the shared domain types: logical playback sessions,
// server and user identities, and recorded rule violations. It has no
// dependencies on other internal packages so every layer can share it.
package models
