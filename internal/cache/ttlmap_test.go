// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestShardedTTLMapBasic(t *testing.T) {
	m := NewShardedTTLMap[string](time.Minute)

	if _, ok := m.Get("absent"); ok {
		t.Error("expected absent key")
	}

	m.Apply("k", func(cur string, exists bool) (string, bool) {
		if exists {
			t.Error("expected no existing value")
		}
		return "v1", true
	})

	if v, ok := m.Get("k"); !ok || v != "v1" {
		t.Errorf("Get = (%q, %v), want (v1, true)", v, ok)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}

	m.Apply("k", func(cur string, exists bool) (string, bool) {
		if !exists || cur != "v1" {
			t.Errorf("expected existing v1, got (%q, %v)", cur, exists)
		}
		return "v2", true
	})
	if v, _ := m.Get("k"); v != "v2" {
		t.Errorf("expected v2 after update, got %q", v)
	}

	if v, ok := m.Delete("k"); !ok || v != "v2" {
		t.Errorf("Delete = (%q, %v), want (v2, true)", v, ok)
	}
	if _, ok := m.Get("k"); ok {
		t.Error("expected key gone after delete")
	}
}

func TestShardedTTLMapExpiry(t *testing.T) {
	m := NewShardedTTLMap[int](10 * time.Millisecond)

	m.Apply("k", func(int, bool) (int, bool) { return 42, true })
	time.Sleep(30 * time.Millisecond)

	if _, ok := m.Get("k"); ok {
		t.Error("expected expired entry to read as absent")
	}

	m.Apply("k", func(cur int, exists bool) (int, bool) {
		if exists {
			t.Error("expired entry must not be visible to Apply")
		}
		return 1, true
	})
}

func TestShardedTTLMapSweep(t *testing.T) {
	m := NewShardedTTLMap[int](10 * time.Millisecond)

	for i := 0; i < 5; i++ {
		m.Apply(fmt.Sprintf("k%d", i), func(int, bool) (int, bool) { return i, true })
	}
	time.Sleep(30 * time.Millisecond)
	m.Apply("fresh", func(int, bool) (int, bool) { return 99, true })

	evicted := m.Sweep()
	if len(evicted) != 5 {
		t.Errorf("expected 5 evicted values, got %d", len(evicted))
	}
	if v, ok := m.Get("fresh"); !ok || v != 99 {
		t.Error("fresh entry must survive sweep")
	}
}

func TestShardedTTLMapApplyDelete(t *testing.T) {
	m := NewShardedTTLMap[int](time.Minute)
	m.Apply("k", func(int, bool) (int, bool) { return 1, true })
	m.Apply("k", func(int, bool) (int, bool) { return 0, false })

	if _, ok := m.Get("k"); ok {
		t.Error("keep=false must delete the entry")
	}
}

// TestShardedTTLMapSerializedApply verifies the per-key ordering guarantee:
// concurrent increments through Apply never lose updates.
func TestShardedTTLMapSerializedApply(t *testing.T) {
	m := NewShardedTTLMap[int](time.Minute)

	const goroutines = 50
	const increments = 100

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < increments; i++ {
				m.Apply("counter", func(cur int, _ bool) (int, bool) {
					return cur + 1, true
				})
			}
		}()
	}
	wg.Wait()

	if v, _ := m.Get("counter"); v != goroutines*increments {
		t.Errorf("lost updates: counter = %d, want %d", v, goroutines*increments)
	}
}

func TestShardedTTLMapRange(t *testing.T) {
	m := NewShardedTTLMap[int](time.Minute)
	for i := 0; i < 10; i++ {
		m.Apply(fmt.Sprintf("k%d", i), func(int, bool) (int, bool) { return i, true })
	}

	seen := 0
	m.Range(func(string, int) bool {
		seen++
		return true
	})
	if seen != 10 {
		t.Errorf("Range visited %d entries, want 10", seen)
	}
}
