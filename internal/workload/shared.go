package workload

import (
	"sync"
	"sync/atomic"
)

// Shared is the scenario-wide coordination space.
//
// Load scripts tend to grow ad hoc globals ("has the cache been
// invalidated yet?") that race across VUs. Shared replaces them with two
// primitives with defined happens-before semantics: Once runs a function
// in exactly one VU while others that ask later observe its completion,
// and flags are plain atomics.
type Shared struct {
	mu    sync.Mutex
	onces map[string]*onceEntry
	flags sync.Map // string -> *atomic.Bool

	counters sync.Map // string -> *atomic.Int64
}

type onceEntry struct {
	once sync.Once
	done atomic.Bool
}

// NewShared creates an empty coordination space.
func NewShared() *Shared {
	return &Shared{onces: make(map[string]*onceEntry)}
}

// Once runs fn at most once per key across all VUs of the scenario.
// It returns true for the caller that ran fn. Callers that arrive while
// fn is still running block until it completes, so every return implies
// fn has finished.
func (sh *Shared) Once(key string, fn func()) bool {
	sh.mu.Lock()
	entry, ok := sh.onces[key]
	if !ok {
		entry = &onceEntry{}
		sh.onces[key] = entry
	}
	sh.mu.Unlock()

	ran := false
	entry.once.Do(func() {
		fn()
		entry.done.Store(true)
		ran = true
	})
	return ran
}

// Done reports whether Once has completed for the key.
func (sh *Shared) Done(key string) bool {
	sh.mu.Lock()
	entry, ok := sh.onces[key]
	sh.mu.Unlock()
	return ok && entry.done.Load()
}

// SetFlag sets a named boolean flag.
func (sh *Shared) SetFlag(name string, v bool) {
	b, _ := sh.flags.LoadOrStore(name, new(atomic.Bool))
	b.(*atomic.Bool).Store(v)
}

// Flag reads a named boolean flag; unset flags are false.
func (sh *Shared) Flag(name string) bool {
	b, ok := sh.flags.Load(name)
	return ok && b.(*atomic.Bool).Load()
}

// AddCount adds to a named shared counter and returns the new value.
// Useful for workloads that partition work across VUs.
func (sh *Shared) AddCount(name string, delta int64) int64 {
	c, _ := sh.counters.LoadOrStore(name, new(atomic.Int64))
	return c.(*atomic.Int64).Add(delta)
}

// Count reads a named shared counter; unset counters are zero.
func (sh *Shared) Count(name string) int64 {
	c, ok := sh.counters.Load(name)
	if !ok {
		return 0
	}
	return c.(*atomic.Int64).Load()
}
