// Package inflight tracks which assessments have an analysis running and
// serializes read-modify-write cycles per assessment id.
package inflight

import (
	"context"
	"sync"
	"sync/atomic"
)

// Tracker records assessment ids with a running analysis.
type Tracker interface {
	// Begin atomically marks id as running. It returns false, leaving the
	// tracker unchanged, when id is already running.
	Begin(ctx context.Context, id string) bool

	// Done clears the running mark for id.
	Done(ctx context.Context, id string)

	// Running reports whether id has an analysis in flight.
	Running(ctx context.Context, id string) bool

	// Reset clears every mark and returns how many were held.
	Reset(ctx context.Context) int

	Size() int64
}

type inMemoryTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
	size    atomic.Int64
}

// NewTracker creates an empty in-memory tracker.
func NewTracker() Tracker {
	return &inMemoryTracker{running: make(map[string]struct{})}
}

func (t *inMemoryTracker) Begin(_ context.Context, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.running[id]; exists {
		return false
	}
	t.running[id] = struct{}{}
	t.size.Add(1)
	return true
}

func (t *inMemoryTracker) Done(_ context.Context, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.running[id]; exists {
		delete(t.running, id)
		t.size.Add(-1)
	}
}

func (t *inMemoryTracker) Running(_ context.Context, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, exists := t.running[id]
	return exists
}

func (t *inMemoryTracker) Reset(context.Context) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.running)
	clear(t.running)
	t.size.Store(0)
	return n
}

func (t *inMemoryTracker) Size() int64 {
	return t.size.Load()
}

// KeyLock hands out one mutex per key. Entries are reference counted and
// dropped once no goroutine holds or waits on them.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyLock creates an empty KeyLock.
func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[string]*keyEntry)}
}

// Lock blocks until key is held and returns the matching unlock func.
func (k *KeyLock) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (k *KeyLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
