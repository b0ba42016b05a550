package cache

import (
	"sync"

	"github.com/IvanBrykalov/tierbus/internal/util"
	"github.com/IvanBrykalov/tierbus/policy"
)

// access classifies one cache operation for the controller.
type access int

const (
	accessFastHit access = iota
	accessOverflowHit
	accessMiss
	accessWrite
	accessKinds
)

// metadata keeps per-window access counts plus lifetime totals. It only
// steers the target; nothing about correctness depends on it.
//
// Counters for the open window are atomics so readers holding the cache read
// lock can record concurrently. Closing a window (rotate) swaps them into a
// ring of the last N windows under mu.
type metadata struct {
	cur    [accessKinds]util.PaddedAtomicUint64
	total  [accessKinds]util.PaddedAtomicUint64
	ops    util.PaddedAtomicUint64
	window uint64

	mu   sync.Mutex
	ring []policy.Window
	pos  int
}

func newMetadata(window, windows int) *metadata {
	n := util.NextPow2(uint64(windows))
	return &metadata{
		window: uint64(window),
		ring:   make([]policy.Window, n),
	}
}

// record counts one access and reports whether it closed the open window.
func (m *metadata) record(a access) bool {
	m.cur[a].Add(1)
	m.total[a].Add(1)
	return m.ops.Add(1)%m.window == 0
}

// rotate closes the open window and returns the sum of the trailing windows.
func (m *metadata) rotate() policy.Window {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ring[m.pos] = policy.Window{
		FastHits:     m.cur[accessFastHit].Swap(0),
		OverflowHits: m.cur[accessOverflowHit].Swap(0),
		Misses:       m.cur[accessMiss].Swap(0),
		Writes:       m.cur[accessWrite].Swap(0),
	}
	m.pos = (m.pos + 1) & (len(m.ring) - 1)

	var sum policy.Window
	for _, w := range m.ring {
		sum.FastHits += w.FastHits
		sum.OverflowHits += w.OverflowHits
		sum.Misses += w.Misses
		sum.Writes += w.Writes
	}
	return sum
}

// reset drops all window history (lifetime totals are kept).
func (m *metadata) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.ring {
		m.ring[i] = policy.Window{}
	}
	for i := range m.cur {
		m.cur[i].Store(0)
	}
}

func (m *metadata) totals() (fastHits, overflowHits, misses, writes uint64) {
	return m.total[accessFastHit].Load(), m.total[accessOverflowHit].Load(),
		m.total[accessMiss].Load(), m.total[accessWrite].Load()
}
