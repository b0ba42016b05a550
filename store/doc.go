// Package store provides Store, a single-tier ordered container keyed by a
// monotonic int64 id.
//
// Design
//
//   - Ids: each Store owns its own counter. Add hands out seed, seed+1, ...
//     and never reuses an id, even after Remove or Clear.
//
//   - Storage: an index-addressed arena. A map gives id -> slot lookups and
//     every slot carries prev/next slot indexes forming the head (oldest) to
//     tail (newest) chain. Freed slots are recycled; ids are not.
//
//   - Order: head-to-tail traversal always yields strictly increasing ids.
//     Insert places relocated entries at their ordered position instead of
//     the tail.
//
//   - Concurrency: one RWMutex per store. Lookups take the read lock,
//     mutations the write lock. Id assignment and linkage happen under the
//     same write lock.
//
// Basic usage
//
//	s := store.New[string]()
//	e, _ := s.Add("hello")
//	v, err := s.Get(e.ID) // "hello", nil
//	_, _ = s.Remove(e.ID)
//	_, err = s.Get(e.ID) // errors.Is(err, fault.ErrEntryNotFound)
package store
