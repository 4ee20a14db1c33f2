// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package cache provides data structures tuned for Streamwarden's access
// patterns: keyed session-tracking state with TTL eviction under concurrent
// polling from many servers.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

// defaultShardCount spreads keys to keep lock contention low when several
// media servers are polled simultaneously. Must be a power of two.
const defaultShardCount = 32

// entry is a stored value with its expiry deadline.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// shard is an independently locked partition of the map.
type shard[V any] struct {
	mu    sync.Mutex
	items map[string]entry[V]
}

// ShardedTTLMap is a concurrent map with per-entry TTL and sharded locking.
//
// Keys hash to one of N shards, each guarded by its own mutex, so entries
// for different servers and session keys never contend on a global lock.
// Apply runs its callback while holding the key's shard lock, which gives
// callers at-most-one-in-flight-decision-per-key serialization: two
// concurrent updates for the same key can never both observe the same
// starting value.
//
// Expiry is lazy on read plus explicit via Sweep; callers that need eviction
// callbacks run Sweep on a timer.
type ShardedTTLMap[V any] struct {
	shards []*shard[V]
	ttl    time.Duration
}

// NewShardedTTLMap creates a map whose entries expire ttl after their last
// write. A non-positive ttl defaults to 10 minutes.
func NewShardedTTLMap[V any](ttl time.Duration) *ShardedTTLMap[V] {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	shards := make([]*shard[V], defaultShardCount)
	for i := range shards {
		shards[i] = &shard[V]{items: make(map[string]entry[V])}
	}
	return &ShardedTTLMap[V]{shards: shards, ttl: ttl}
}

// shardFor picks the shard for a key by FNV-1a hash.
func (m *ShardedTTLMap[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()&(defaultShardCount-1)]
}

// Get returns the live value for key. Expired entries read as absent.
func (m *ShardedTTLMap[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok || time.Now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Apply runs fn under the key's shard lock. fn receives the current live
// value (zero value and false when absent or expired) and returns the value
// to store plus whether to keep the entry. Returning keep=false deletes it.
// The entry's TTL is refreshed on every keep.
func (m *ShardedTTLMap[V]) Apply(key string, fn func(cur V, exists bool) (V, bool)) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.items[key]
	if ok && now.After(e.expiresAt) {
		delete(s.items, key)
		ok = false
	}

	var cur V
	if ok {
		cur = e.value
	}

	next, keep := fn(cur, ok)
	if !keep {
		delete(s.items, key)
		return
	}
	s.items[key] = entry[V]{value: next, expiresAt: now.Add(m.ttl)}
}

// Delete removes key and returns its live value, if any.
func (m *ShardedTTLMap[V]) Delete(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	delete(s.items, key)
	if time.Now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Len counts live entries across all shards.
func (m *ShardedTTLMap[V]) Len() int {
	now := time.Now()
	total := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for _, e := range s.items {
			if !now.After(e.expiresAt) {
				total++
			}
		}
		s.mu.Unlock()
	}
	return total
}

// Sweep removes every expired entry and returns the evicted values. Callers
// use the return to finalize state owned by the evicted entries.
func (m *ShardedTTLMap[V]) Sweep() []V {
	now := time.Now()
	var evicted []V
	for _, s := range m.shards {
		s.mu.Lock()
		for key, e := range s.items {
			if now.After(e.expiresAt) {
				evicted = append(evicted, e.value)
				delete(s.items, key)
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// Range calls fn for every live entry. fn must not call back into the map
// for the same shard; it runs under the shard lock.
func (m *ShardedTTLMap[V]) Range(fn func(key string, value V) bool) {
	now := time.Now()
	for _, s := range m.shards {
		s.mu.Lock()
		for key, e := range s.items {
			if now.After(e.expiresAt) {
				continue
			}
			if !fn(key, e.value) {
				s.mu.Unlock()
				return
			}
		}
		s.mu.Unlock()
	}
}
