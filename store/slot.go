package store

// nilSlot marks an absent link (no prev/next, empty head/tail).
const nilSlot int32 = -1

// slot is an arena cell owned by a Store. Links are slot indexes, not
// pointers, so a freed cell can be handed to a later entry without any
// outstanding alias observing it.
type slot[V any] struct {
	id  int64
	val V

	// Ordered links: head is the oldest id, tail the newest.
	prev int32
	next int32
}

// alloc returns a free slot index, growing the arena when none is free.
func (s *Store[V]) alloc() int32 {
	if n := len(s.free); n > 0 {
		i := s.free[n-1]
		s.free = s.free[:n-1]
		return i
	}
	s.slots = append(s.slots, slot[V]{prev: nilSlot, next: nilSlot})
	return int32(len(s.slots) - 1)
}

// release clears the slot and returns it to the free list.
func (s *Store[V]) release(i int32) {
	s.slots[i] = slot[V]{prev: nilSlot, next: nilSlot}
	s.free = append(s.free, i)
}

// linkAfter inserts slot i right after slot at (nilSlot = new head).
func (s *Store[V]) linkAfter(at, i int32) {
	n := &s.slots[i]
	n.prev = at
	if at == nilSlot {
		n.next = s.head
		if s.head != nilSlot {
			s.slots[s.head].prev = i
		}
		s.head = i
	} else {
		n.next = s.slots[at].next
		if n.next != nilSlot {
			s.slots[n.next].prev = i
		}
		s.slots[at].next = i
	}
	if n.next == nilSlot {
		s.tail = i
	}
	s.len++
}

// unlink detaches slot i from the ordered chain in O(1).
func (s *Store[V]) unlink(i int32) {
	n := &s.slots[i]
	if n.prev != nilSlot {
		s.slots[n.prev].next = n.next
	} else {
		s.head = n.next
	}
	if n.next != nilSlot {
		s.slots[n.next].prev = n.prev
	} else {
		s.tail = n.prev
	}
	n.prev, n.next = nilSlot, nilSlot
	s.len--
}

// positionFor returns the slot after which id must be linked to keep ids
// strictly increasing head-to-tail. Relocated entries usually land at one of the
// ends, so both are checked before walking back from the tail.
func (s *Store[V]) positionFor(id int64) int32 {
	if s.tail == nilSlot || s.slots[s.tail].id < id {
		return s.tail
	}
	if s.slots[s.head].id > id {
		return nilSlot
	}
	at := s.tail
	for at != nilSlot && s.slots[at].id > id {
		at = s.slots[at].prev
	}
	return at
}
