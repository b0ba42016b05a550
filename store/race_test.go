package store

import (
	"math/rand"
	"runtime"
	"sync"
	"testing"
	"time"
)

// A mixed workload of concurrent Add/Get/Update/Remove/traversal.
// Should pass under `-race` and keep the chain strictly ordered.
func TestRace_Mixed(t *testing.T) {
	s := New[int]()

	workers := 4 * runtime.GOMAXPROCS(0)
	deadline := time.Now().Add(500 * time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			for time.Now().Before(deadline) {
				last := s.LastID()
				target := int64(1)
				if last > 0 {
					target = 1 + r.Int63n(last)
				}
				switch r.Intn(100) {
				case 0, 1, 2, 3, 4, 5, 6, 7, 8, 9: // ~10% Remove
					_, _ = s.Remove(target)
				case 10, 11, 12, 13, 14: // ~5% Update
					_, _ = s.Update(target, r.Int())
				case 15: // ~1% traversal
					s.Ascend(func(Entry[int]) bool { return true })
				case 16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29: // ~14% Add
					_, _ = s.Add(r.Int())
				default: // Get
					_, _ = s.Get(target)
				}
			}
		}(w)
	}
	wg.Wait()

	var prev int64
	n := 0
	s.Ascend(func(e Entry[int]) bool {
		if e.ID <= prev {
			t.Fatalf("order broken: %d after %d", e.ID, prev)
		}
		prev = e.ID
		n++
		return true
	})
	if n != s.Len() {
		t.Fatalf("traversal saw %d entries, Len()=%d", n, s.Len())
	}
}
