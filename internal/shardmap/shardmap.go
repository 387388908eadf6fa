// Package shardmap provides a string-keyed concurrent map whose values are
// mutated under a per-key lock.
//
// Keys are spread across a fixed number of shards, each guarded by its own
// mutex. Compute callbacks run while the owning shard is locked, which makes a
// read-modify-write of one key atomic with respect to every other operation on
// the same key. Callbacks must not call back into the same Map.
package shardmap

import (
	"hash/maphash"
	"sort"
	"sync"
)

const defaultShards = 32

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

// Map is a sharded map from string keys to values of type V.
type Map[V any] struct {
	seed   maphash.Seed
	shards []*shard[V]
}

// New creates a Map with the default shard count.
func New[V any]() *Map[V] {
	return NewWithShards[V](defaultShards)
}

// NewWithShards creates a Map with n shards. Values below one are raised to one.
func NewWithShards[V any](n int) *Map[V] {
	if n < 1 {
		n = 1
	}
	m := &Map[V]{
		seed:   maphash.MakeSeed(),
		shards: make([]*shard[V], n),
	}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	h := maphash.String(m.seed, key)
	return m.shards[h%uint64(len(m.shards))]
}

// Load returns the value stored under key.
func (m *Map[V]) Load(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok
}

// PutIfAbsent stores v under key unless the key is already present. It
// returns the value held after the call and whether v was inserted.
func (m *Map[V]) PutIfAbsent(key string, v V) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.items[key]; ok {
		return cur, false
	}
	s.items[key] = v
	return v, true
}

// ComputeIfAbsent calls create while the key's shard is locked, but only
// when key is missing. create may decline the insert by returning false.
// The returned bool reports whether a value was inserted.
func (m *Map[V]) ComputeIfAbsent(key string, create func() (V, bool)) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.items[key]; ok {
		return cur, false
	}
	v, ok := create()
	if !ok {
		var zero V
		return zero, false
	}
	s.items[key] = v
	return v, true
}

// ComputeIfPresent calls fn with the current value while the key's shard is
// locked. When fn returns false the entry is removed. The result reports
// whether the key was present.
func (m *Map[V]) ComputeIfPresent(key string, fn func(v V) (keep bool)) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if !ok {
		return false
	}
	if !fn(v) {
		delete(s.items, key)
	}
	return true
}

// Delete removes key and reports whether it was present.
func (m *Map[V]) Delete(key string) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return false
	}
	delete(s.items, key)
	return true
}

// Len returns the number of entries. Concurrent writers may make the result
// stale by the time it is returned.
func (m *Map[V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}

// Keys returns a sorted snapshot of the keys.
func (m *Map[V]) Keys() []string {
	keys := make([]string, 0)
	for _, s := range m.shards {
		s.mu.Lock()
		for k := range s.items {
			keys = append(keys, k)
		}
		s.mu.Unlock()
	}
	sort.Strings(keys)
	return keys
}

// Range calls fn for each entry of a per-shard snapshot until fn returns
// false. fn runs without any shard lock held.
func (m *Map[V]) Range(fn func(key string, v V) bool) {
	for _, s := range m.shards {
		s.mu.Lock()
		snapshot := make(map[string]V, len(s.items))
		for k, v := range s.items {
			snapshot[k] = v
		}
		s.mu.Unlock()
		for k, v := range snapshot {
			if !fn(k, v) {
				return
			}
		}
	}
}
