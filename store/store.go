package store

import (
	"sync"

	"github.com/IvanBrykalov/tierbus/fault"
	"github.com/IvanBrykalov/tierbus/internal/util"
)

// Entry is an id/value pair. Values returned by a Store are copies; mutating
// them does not change the stored entry.
type Entry[V any] struct {
	ID    int64
	Value V
}

// Store is a single-tier ordered container keyed by a monotonic id.
// All methods are safe for concurrent use by multiple goroutines.
type Store[V any] struct {
	// ---- guarded by mu ----
	mu    sync.RWMutex
	index map[int64]int32 // id -> slot
	slots []slot[V]
	free  []int32
	head  int32 // oldest id
	tail  int32 // newest id
	len   int

	// Highest id assigned or inserted. Written under mu, readable without it.
	_    util.CacheLinePad
	last util.PaddedAtomicInt64
}

// Option configures a Store.
type Option func(*config)

type config struct {
	seed int64
	hint int
}

// WithSeed sets the first id handed out by Add (default 1).
func WithSeed(id int64) Option { return func(c *config) { c.seed = id } }

// WithCapacityHint pre-sizes the index and arena.
func WithCapacityHint(n int) Option { return func(c *config) { c.hint = n } }

// New constructs an empty Store.
func New[V any](opts ...Option) *Store[V] {
	cfg := config{seed: 1}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.hint < 0 {
		cfg.hint = 0
	}
	s := &Store[V]{
		index: make(map[int64]int32, cfg.hint),
		slots: make([]slot[V], 0, cfg.hint),
		head:  nilSlot,
		tail:  nilSlot,
	}
	s.last.Store(cfg.seed - 1)
	return s
}

// Add assigns the next id, appends v at the tail and returns the new entry.
// Id assignment and tail linkage happen under one lock, so id order always
// equals position order.
func (s *Store[V]) Add(v V) (Entry[V], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.last.Add(1)
	_, live := s.index[id]
	fault.Invariant(!live, "store: fresh id %d already live", id)

	i := s.alloc()
	s.slots[i].id = id
	s.slots[i].val = v
	s.linkAfter(s.tail, i)
	s.index[id] = i
	return Entry[V]{ID: id, Value: v}, nil
}

// Insert places a pre-built entry at its id-ordered position. It is used to
// relocate entries between stores and fails with ErrIDCollision if the id is
// already live. The id counter is advanced past e.ID so Add never reissues it.
func (s *Store[V]) Insert(e Entry[V]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, live := s.index[e.ID]; live {
		return fault.Collision(e.ID)
	}
	at := s.positionFor(e.ID)
	i := s.alloc()
	s.slots[i].id = e.ID
	s.slots[i].val = e.Value
	s.linkAfter(at, i)
	s.index[e.ID] = i
	if e.ID > s.last.Load() {
		s.last.Store(e.ID)
	}
	return nil
}

// Get returns the value stored under id or ErrEntryNotFound.
func (s *Store[V]) Get(id int64) (V, error) {
	e, ok := s.Lookup(id)
	if !ok {
		var zero V
		return zero, fault.NotFound(id)
	}
	return e.Value, nil
}

// Lookup returns the entry stored under id and whether it is live.
func (s *Store[V]) Lookup(id int64) (Entry[V], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return Entry[V]{}, false
	}
	return Entry[V]{ID: id, Value: s.slots[i].val}, true
}

// Contains reports whether id is live.
func (s *Store[V]) Contains(id int64) bool {
	s.mu.RLock()
	_, ok := s.index[id]
	s.mu.RUnlock()
	return ok
}

// Remove detaches and returns the entry stored under id.
func (s *Store[V]) Remove(id int64) (Entry[V], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return Entry[V]{}, fault.NotFound(id)
	}
	e := Entry[V]{ID: id, Value: s.slots[i].val}
	s.unlink(i)
	delete(s.index, id)
	s.release(i)
	return e, nil
}

// Update replaces the value stored under id; id and position are unchanged.
func (s *Store[V]) Update(id int64, v V) (Entry[V], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return Entry[V]{}, fault.NotFound(id)
	}
	s.slots[i].val = v
	return Entry[V]{ID: id, Value: v}, nil
}

// Len returns the number of live entries.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.len
}

// Clear drops every entry. Ids are not reset.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index = make(map[int64]int32)
	clear(s.slots)
	s.slots = s.slots[:0]
	s.free = s.free[:0]
	s.head, s.tail = nilSlot, nilSlot
	s.len = 0
}

// HeadID returns the oldest live id.
func (s *Store[V]) HeadID() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.head == nilSlot {
		return 0, false
	}
	return s.slots[s.head].id, true
}

// TailID returns the newest live id.
func (s *Store[V]) TailID() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tail == nilSlot {
		return 0, false
	}
	return s.slots[s.tail].id, true
}

// LastID returns the highest id ever assigned or inserted, live or not.
func (s *Store[V]) LastID() int64 { return s.last.Load() }

// Next returns the live id that follows id in order.
func (s *Store[V]) Next(id int64) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok || s.slots[i].next == nilSlot {
		return 0, false
	}
	return s.slots[s.slots[i].next].id, true
}

// Prev returns the live id that precedes id in order.
func (s *Store[V]) Prev(id int64) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok || s.slots[i].prev == nilSlot {
		return 0, false
	}
	return s.slots[s.slots[i].prev].id, true
}

// Ascend calls fn for each entry from head to tail until fn returns false.
// fn runs under the read lock and must not call back into the Store.
func (s *Store[V]) Ascend(fn func(Entry[V]) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := s.head; i != nilSlot; i = s.slots[i].next {
		if !fn(Entry[V]{ID: s.slots[i].id, Value: s.slots[i].val}) {
			return
		}
	}
}

// Descend calls fn for each entry from tail to head until fn returns false.
// fn runs under the read lock and must not call back into the Store.
func (s *Store[V]) Descend(fn func(Entry[V]) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := s.tail; i != nilSlot; i = s.slots[i].prev {
		if !fn(Entry[V]{ID: s.slots[i].id, Value: s.slots[i].val}) {
			return
		}
	}
}
