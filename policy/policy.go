// Package policy defines the pluggable controller that steers the fast-tier
// target capacity of a tiered cache.
package policy

// Bounds are the inclusive limits of the fast-tier target.
type Bounds struct {
	Min int
	Max int
}

// Clamp returns n limited to [Min, Max].
func (b Bounds) Clamp(n int) int {
	if n < b.Min {
		return b.Min
	}
	if n > b.Max {
		return b.Max
	}
	return n
}

// Contains reports whether n lies within [Min, Max].
func (b Bounds) Contains(n int) bool { return n >= b.Min && n <= b.Max }

// Window summarizes the accesses observed over the trailing windows.
type Window struct {
	FastHits     uint64 // reads served by the fast tier
	OverflowHits uint64 // reads served by the overflow tier (promotions)
	Misses       uint64 // reads that found nothing
	Writes       uint64 // adds and updates
}

// Reads returns the number of read accesses in the window.
func (w Window) Reads() uint64 { return w.FastHits + w.OverflowHits + w.Misses }

// Total returns the number of accesses in the window.
func (w Window) Total() uint64 { return w.Reads() + w.Writes }

// Hooks expose tier occupancy to a controller. Implementations are provided
// by the cache.
type Hooks interface {
	// FastLen returns the number of entries resident in the fast tier.
	FastLen() int
	// OverflowLen returns the number of entries resident in the overflow tier.
	OverflowLen() int
}

// Controller is a cache-local instance bound to its bounds and hooks.
// Next is invoked under the cache lock.
//
// Semantics:
//   - Next receives the current target and the trailing access window and
//     returns the new target. Returning a value outside the bounds is a
//     programming error; the cache panics.
//   - Returning the current target means "no change".
type Controller interface {
	Next(target int, w Window) int
}

// Policy is a factory that creates cache-local controllers.
type Policy interface {
	New(b Bounds, h Hooks) Controller
}
