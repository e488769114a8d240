// Package singleflight deduplicates concurrent identical summary builds,
// keyed by the same canonical key input the summary cache hashes. The
// pending map is keyed by the xxhash of the canonical string rather than
// the string itself; these keys never leave the process.
package singleflight

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/weatherlake/summary-core/internal/core/observability"
)

type call[T any] struct {
	wg  sync.WaitGroup
	val T
	err error
}

// Group coalesces concurrent Do calls sharing the same key into one
// execution of fn.
type Group[T any] struct {
	mu      sync.Mutex
	pending map[uint64]*call[T]
}

// New builds an empty Group.
func New[T any]() *Group[T] {
	return &Group[T]{pending: make(map[uint64]*call[T])}
}

// Do executes fn for key, or joins an already in-flight call for the same
// key. The entry is removed once fn returns, regardless of outcome.
func (g *Group[T]) Do(key string, fn func() (T, error)) (T, error) {
	h := xxhash.Sum64String(key)

	g.mu.Lock()
	if c, ok := g.pending[h]; ok {
		g.mu.Unlock()
		if observability.Enabled() {
			observability.IncSingleFlightCoalesced()
		}
		c.wg.Wait()
		return c.val, c.err
	}

	c := &call[T]{}
	c.wg.Add(1)
	g.pending[h] = c
	g.mu.Unlock()

	c.val, c.err = fn()
	c.wg.Done()

	g.mu.Lock()
	delete(g.pending, h)
	g.mu.Unlock()

	return c.val, c.err
}
