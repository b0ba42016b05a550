// Package correlate tracks calls waiting for a single result delivered by
// someone else, keyed by a correlation key.
package correlate

import (
	"context"
	"sync"

	"github.com/IvanBrykalov/tierbus/fault"
)

// Table holds the pending calls.
//
// Concurrency notes:
//   - Reserve creates the record under the table lock together with whatever
//     produced the key, so a Resolve for that key can never arrive first.
//   - Resolve publishes (val, err) before close(done), so a waiter that
//     observes done reads the final values.
//   - A waiter whose ctx ends removes its own record; a later Resolve for
//     that key reports false.
type Table[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done chan struct{} // closed when val/err are published
	val  V
	err  error
}

// Ticket is the caller's handle on one pending call.
type Ticket[K comparable, V any] struct {
	key K
	c   *call[V]
	t   *Table[K, V]
}

// Key returns the correlation key.
func (tk *Ticket[K, V]) Key() K { return tk.key }

// Reserve runs fn under the table lock and registers a pending call for the
// key it returns. If fn fails nothing is registered.
func (t *Table[K, V]) Reserve(fn func() (K, error)) (*Ticket[K, V], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key, err := fn()
	if err != nil {
		return nil, err
	}
	if t.m == nil {
		t.m = make(map[K]*call[V])
	}
	c := &call[V]{done: make(chan struct{})}
	t.m[key] = c
	return &Ticket[K, V]{key: key, c: c, t: t}, nil
}

// Resolve completes the call registered under key and removes the record.
// It reports whether a pending call existed.
func (t *Table[K, V]) Resolve(key K, v V, err error) bool {
	t.mu.Lock()
	c, ok := t.m[key]
	if ok {
		delete(t.m, key)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	c.val, c.err = v, err
	close(c.done)
	return true
}

// Has reports whether key is pending.
func (t *Table[K, V]) Has(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.m[key]
	return ok
}

// Len returns the number of pending calls.
func (t *Table[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}

// FailAll resolves every pending call with err.
func (t *Table[K, V]) FailAll(err error) int {
	t.mu.Lock()
	pending := t.m
	t.m = nil
	t.mu.Unlock()

	var zero V
	for _, c := range pending {
		c.val, c.err = zero, err
		close(c.done)
	}
	return len(pending)
}

// Wait blocks until the call is resolved or ctx ends. On ctx end the record
// is removed and the error matches fault.ErrCancelledByCaller, unless a
// resolver already claimed it, in which case its result is returned.
func (tk *Ticket[K, V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-tk.c.done:
		return tk.c.val, tk.c.err
	case <-ctx.Done():
	}

	tk.t.mu.Lock()
	cur, ok := tk.t.m[tk.key]
	if ok && cur == tk.c {
		delete(tk.t.m, tk.key)
	}
	tk.t.mu.Unlock()

	if !ok || cur != tk.c {
		// Resolve or FailAll took the record first; its result is on the way.
		<-tk.c.done
		return tk.c.val, tk.c.err
	}
	var zero V
	return zero, fault.Cancelled(ctx.Err())
}
