// Package pending keeps short-lived entries that are claimed exactly once,
// such as file-transfer offers waiting for the peer's answer.
package pending

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value V
	timer *time.Timer
}

// Table maps keys to values that expire after a fixed time-to-live unless
// they are taken first. A zero or negative TTL disables expiry.
type Table[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[K]*entry[V]
	closed  bool
	onEvict func(K, V)
}

// Option configures a Table.
type Option[K comparable, V any] func(*Table[K, V])

// WithEvictHook registers fn to be called, without the table lock held, for
// every entry that expires.
func WithEvictHook[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(t *Table[K, V]) {
		t.onEvict = fn
	}
}

// New creates an empty Table.
func New[K comparable, V any](ttl time.Duration, opts ...Option[K, V]) *Table[K, V] {
	t := &Table[K, V]{
		ttl:     ttl,
		entries: make(map[K]*entry[V]),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Put stores v under key, replacing and re-arming any previous entry. It
// returns false when the table has been closed.
func (t *Table[K, V]) Put(key K, v V) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	if old, ok := t.entries[key]; ok && old.timer != nil {
		old.timer.Stop()
	}
	e := &entry[V]{value: v}
	if t.ttl > 0 {
		e.timer = time.AfterFunc(t.ttl, func() { t.expire(key, e) })
	}
	t.entries[key] = e
	return true
}

// Take removes and returns the entry stored under key.
func (t *Table[K, V]) Take(key K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	delete(t.entries, key)
	if e.timer != nil {
		e.timer.Stop()
	}
	return e.value, true
}

// Len returns the number of live entries.
func (t *Table[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close drops every entry and rejects later puts.
func (t *Table[K, V]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for k, e := range t.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(t.entries, k)
	}
}

func (t *Table[K, V]) expire(key K, e *entry[V]) {
	t.mu.Lock()
	cur, ok := t.entries[key]
	// the key may have been taken and re-put since this timer was armed
	if !ok || cur != e {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	hook := t.onEvict
	t.mu.Unlock()

	if hook != nil {
		hook(key, e.value)
	}
}
