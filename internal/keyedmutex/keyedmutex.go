// Package keyedmutex provides mutual exclusion per logical key. Two calls
// with equal keys never run concurrently; calls with different keys proceed
// independently. Idle keys are reclaimed, so the table stays bounded by the
// number of keys currently held or contended.
package keyedmutex

import (
	"sync"
	"sync/atomic"
)

// Mutex is a table of reference-counted lock handles keyed by K.
// The zero value is not usable; call New.
type Mutex[K comparable] struct {
	handles sync.Map // K -> *handle
}

type handle struct {
	mu sync.Mutex
	// refs counts the holder plus waiters. A handle that has reached zero is
	// mid-teardown and must never be re-entered: its owner is about to
	// compare-and-delete it from the table, and entering it anyway could let
	// a later caller obtain a different handle for the same key.
	refs atomic.Int64
}

func newHandle() *handle {
	h := &handle{}
	h.refs.Store(1)
	return h
}

// enter registers the caller as a waiter. It fails if the handle has already
// reached zero references.
func (h *handle) enter() bool {
	for {
		n := h.refs.Load()
		if n == 0 {
			return false
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func New[K comparable]() *Mutex[K] {
	return &Mutex[K]{}
}

// Do runs fn while holding exclusive ownership of key. The release always
// runs, even if fn panics.
func (m *Mutex[K]) Do(key K, fn func()) {
	h := m.acquire(key)
	h.mu.Lock()
	defer m.release(key, h)
	fn()
}

func (m *Mutex[K]) acquire(key K) *handle {
	for {
		v, loaded := m.handles.LoadOrStore(key, newHandle())
		h := v.(*handle)
		if !loaded || h.enter() {
			return h
		}
		// Stale handle: its last holder is between the zero-crossing and the
		// table removal. Make sure it is gone, then retry with a fresh one.
		m.handles.CompareAndDelete(key, h)
	}
}

func (m *Mutex[K]) release(key K, h *handle) {
	h.mu.Unlock()
	if h.refs.Add(-1) == 0 {
		// Remove only if the table still points at this exact handle; a
		// blind delete could evict a successor created by acquire above.
		m.handles.CompareAndDelete(key, h)
	}
}

// Len reports the number of keys currently in the table. It is a snapshot
// intended for tests and diagnostics.
func (m *Mutex[K]) Len() int {
	n := 0
	m.handles.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
