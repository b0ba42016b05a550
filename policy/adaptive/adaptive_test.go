package adaptive

import (
	"testing"

	"github.com/IvanBrykalov/tierbus/policy"
)

// --- test doubles ---

type mockHooks struct {
	fast     int
	overflow int
}

func (h *mockHooks) FastLen() int     { return h.fast }
func (h *mockHooks) OverflowLen() int { return h.overflow }

// --- tests ---

// Overflow-heavy reads should grow the target toward Max.
func TestAdaptive_GrowsOnOverflowHits(t *testing.T) {
	t.Parallel()

	h := &mockHooks{fast: 10, overflow: 90}
	c := Default().New(policy.Bounds{Min: 10, Max: 100}, h)

	got := c.Next(10, policy.Window{FastHits: 50, OverflowHits: 50})
	if got != 55 {
		t.Fatalf("want 55 (half the gap), got %d", got)
	}
	got = c.Next(99, policy.Window{OverflowHits: 10})
	if got != 100 {
		t.Fatalf("want Max, got %d", got)
	}
}

// Mostly-idle fast tier should shrink the target toward Min.
func TestAdaptive_ShrinksWhenIdle(t *testing.T) {
	t.Parallel()

	h := &mockHooks{fast: 100}
	c := Default().New(policy.Bounds{Min: 20, Max: 100}, h)

	got := c.Next(100, policy.Window{Writes: 200, FastHits: 1})
	if got != 80 {
		t.Fatalf("want 80 (a quarter of the gap), got %d", got)
	}
	got = c.Next(21, policy.Window{Writes: 10})
	if got != 20 {
		t.Fatalf("want Min, got %d", got)
	}
}

// An under-filled fast tier gives its slack back at once.
func TestAdaptive_ShrinksToOccupancy(t *testing.T) {
	t.Parallel()

	h := &mockHooks{fast: 30}
	c := Default().New(policy.Bounds{Min: 10, Max: 100}, h)

	if got := c.Next(100, policy.Window{Writes: 5}); got != 30 {
		t.Fatalf("want occupancy 30, got %d", got)
	}
	h.fast = 2
	if got := c.Next(30, policy.Window{Writes: 5}); got != 10 {
		t.Fatalf("want Min 10, got %d", got)
	}
}

// Balanced or empty windows hold the target.
func TestAdaptive_Holds(t *testing.T) {
	t.Parallel()

	c := Default().New(policy.Bounds{Min: 10, Max: 100}, &mockHooks{fast: 50})

	if got := c.Next(50, policy.Window{}); got != 50 {
		t.Fatalf("empty window must hold, got %d", got)
	}
	if got := c.Next(50, policy.Window{FastHits: 90, OverflowHits: 5, Writes: 5}); got != 50 {
		t.Fatalf("warm fast tier must hold, got %d", got)
	}
}

// The controller never leaves the bounds, whatever it is fed.
func TestAdaptive_StaysInBounds(t *testing.T) {
	t.Parallel()

	b := policy.Bounds{Min: 3, Max: 17}
	c := New(0.5, 0.5).New(b, &mockHooks{fast: 8})
	windows := []policy.Window{
		{OverflowHits: 1},
		{Writes: 1},
		{FastHits: 1},
		{Misses: 3},
		{FastHits: 1, OverflowHits: 1, Misses: 1, Writes: 1},
	}
	target := b.Max
	for i := 0; i < 200; i++ {
		target = c.Next(target, windows[i%len(windows)])
		if !b.Contains(target) {
			t.Fatalf("step %d: target %d outside %+v", i, target, b)
		}
	}
}

func TestNew_InvalidThresholdsFallBack(t *testing.T) {
	t.Parallel()

	p := New(-1, 2).(adaptivePolicy)
	if p.raiseAbove != DefaultRaiseAbove || p.idleBelow != DefaultIdleBelow {
		t.Fatalf("defaults not applied: %+v", p)
	}
}
