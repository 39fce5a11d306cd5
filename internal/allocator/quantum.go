package allocator

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// offlineOrder marks a quantumSlot as not currently specialized to any size
// order: its partition span exists but is idle and may be re-specialized.
const offlineOrder = int32(-1)

// quantumSlot is one fixed-size span of memory that can be specialized to
// any order a quantumAllocator covers. Specialization (and the reverse,
// offlining) is the only operation guarded by a lock; allocate/deallocate on
// an already-specialized slot go straight through the slot's partition
// registry and stay lock-free (spec.md §4.5).
type quantumSlot struct {
	order  atomic.Int32
	part   *partition
	specMu sync.Mutex
}

// quantumAllocator is a pool of partition slots serving every size order in
// [minOrder, maxOrder] (spec.md §3 "QuantumAllocator", §4.5). Each slot's
// span is spanBytes; a slot specialized to order o holds spanBytes>>o quanta.
type quantumAllocator struct {
	minOrder, maxOrder int
	spanBytes          uintptr

	slots []*quantumSlot

	// activeMu guards membership changes in byOrder (specialize/offline);
	// the hot allocate/deallocate path only reads a loaded snapshot.
	activeMu sync.Mutex
	byOrder  []atomic.Pointer[[]int32] // index 0 == minOrder
}

// newQuantumAllocator wraps a pre-carved pool of slots (their partitions'
// registries already sized to spanBytes at some placeholder order) under a
// single size-order range.
func newQuantumAllocator(minOrder, maxOrder int, spanBytes uintptr, slots []*quantumSlot) *quantumAllocator {
	q := &quantumAllocator{
		minOrder:  minOrder,
		maxOrder:  maxOrder,
		spanBytes: spanBytes,
		slots:     slots,
		byOrder:   make([]atomic.Pointer[[]int32], maxOrder-minOrder+1),
	}

	for i := range q.byOrder {
		empty := []int32{}
		q.byOrder[i].Store(&empty)
	}

	for _, s := range slots {
		s.order.Store(offlineOrder)
	}

	return q
}

func (q *quantumAllocator) covers(order int) bool {
	return order >= q.minOrder && order <= q.maxOrder
}

func (q *quantumAllocator) active(order int) []int32 {
	return *q.byOrder[order-q.minOrder].Load()
}

// specialize brings the first offline slot online at order and publishes it
// to that order's active list. Slots already online are never taken.
func (q *quantumAllocator) specialize(order int) (*quantumSlot, error) {
	for _, s := range q.slots {
		if s.order.CompareAndSwap(offlineOrder, int32(order)) {
			s.specMu.Lock()
			capacity := int(q.spanBytes >> uint(order))
			s.part.respecialize(sizeOfOrder(order), capacity)
			s.specMu.Unlock()

			q.publish(order, s)

			return s, nil
		}
	}

	return nil, fmt.Errorf("allocator: quantum allocator exhausted at order %d", order)
}

// publish appends s to order's active slot list under activeMu, replacing
// the snapshot so concurrent readers never see a partially-built slice.
func (q *quantumAllocator) publish(order int, s *quantumSlot) {
	q.activeMu.Lock()
	defer q.activeMu.Unlock()

	idx := int32(q.slotIndex(s))
	cur := q.active(order)
	next := make([]int32, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, idx)
	q.byOrder[order-q.minOrder].Store(&next)
}

// unpublish removes s from order's active slot list and marks it offline,
// making it eligible for specialize() at a different order.
func (q *quantumAllocator) unpublish(order int, s *quantumSlot) {
	q.activeMu.Lock()
	defer q.activeMu.Unlock()

	idx := int32(q.slotIndex(s))
	cur := q.active(order)

	next := make([]int32, 0, len(cur))
	for _, si := range cur {
		if si != idx {
			next = append(next, si)
		}
	}

	q.byOrder[order-q.minOrder].Store(&next)
	s.order.Store(offlineOrder)
}

func (q *quantumAllocator) slotIndex(s *quantumSlot) int {
	for i, c := range q.slots {
		if c == s {
			return i
		}
	}

	return -1
}

// allocate claims one quantum at order, specializing a fresh slot if every
// currently active one is full.
func (q *quantumAllocator) allocate(order int) (uintptr, error) {
	if !q.covers(order) {
		return 0, fmt.Errorf("allocator: order %d outside quantum allocator range [%d,%d]", order, q.minOrder, q.maxOrder)
	}

	for _, idx := range q.active(order) {
		if addr, ok := q.slots[idx].part.allocate(); ok {
			return addr, nil
		}
	}

	s, err := q.specialize(order)
	if err != nil {
		return 0, err
	}

	addr, ok := s.part.allocate()
	if !ok {
		return 0, fmt.Errorf("allocator: freshly specialized slot at order %d reported full", order)
	}

	return addr, nil
}

// allocateBulkContiguous claims a run of n quanta at order from a single
// slot, specializing a fresh one if none of the active slots fit the run.
func (q *quantumAllocator) allocateBulkContiguous(order, n int) (uintptr, error) {
	if !q.covers(order) {
		return 0, fmt.Errorf("allocator: order %d outside quantum allocator range [%d,%d]", order, q.minOrder, q.maxOrder)
	}

	for _, idx := range q.active(order) {
		if addr, ok := q.slots[idx].part.allocateBulkContiguous(n); ok {
			return addr, nil
		}
	}

	s, err := q.specialize(order)
	if err != nil {
		return 0, err
	}

	addr, ok := s.part.allocateBulkContiguous(n)
	if !ok {
		return 0, fmt.Errorf("allocator: run of %d quanta does not fit a single order-%d slot", n, order)
	}

	return addr, nil
}

// allocateBulkSparse claims up to n quanta at order, possibly spread across
// several slots, returning every address it managed to claim.
func (q *quantumAllocator) allocateBulkSparse(order, n int) ([]uintptr, error) {
	if !q.covers(order) {
		return nil, fmt.Errorf("allocator: order %d outside quantum allocator range [%d,%d]", order, q.minOrder, q.maxOrder)
	}

	out := make([]uintptr, 0, n)

	for len(out) < n {
		got := false

		for _, idx := range q.active(order) {
			need := n - len(out)
			batch := q.slots[idx].part.allocateBulkSparse(need)
			out = append(out, batch...)

			if len(batch) > 0 {
				got = true
			}

			if len(out) == n {
				return out, nil
			}
		}

		if got {
			continue
		}

		if _, err := q.specialize(order); err != nil {
			return out, nil //nolint:nilerr // partial result: caller sees len(out) < n
		}
	}

	return out, nil
}

// findSlot locates the slot whose span contains addr, or ok=false.
func (q *quantumAllocator) findSlot(addr uintptr) (*quantumSlot, bool) {
	for _, s := range q.slots {
		if s.order.Load() == offlineOrder {
			continue
		}

		if _, ok := s.part.indexOf(addr); ok {
			return s, true
		}
	}

	return nil, false
}

// deallocate frees addr, previously allocated at order, and offlines the
// owning slot if it falls empty.
func (q *quantumAllocator) deallocate(order int, addr uintptr) error {
	s, ok := q.findSlot(addr)
	if !ok {
		return fmt.Errorf("allocator: address %#x not owned by this quantum allocator", addr)
	}

	if err := s.part.deallocate(addr); err != nil {
		return err
	}

	if s.part.isEmpty() {
		q.unpublish(order, s)
	}

	return nil
}

// deallocateRun frees the n contiguous quanta starting at addr.
func (q *quantumAllocator) deallocateRun(order int, addr uintptr, n int) error {
	s, ok := q.findSlot(addr)
	if !ok {
		return fmt.Errorf("allocator: address %#x not owned by this quantum allocator", addr)
	}

	if err := s.part.deallocateRun(addr, n); err != nil {
		return err
	}

	if s.part.isEmpty() {
		q.unpublish(order, s)
	}

	return nil
}

// orderOf reports the size order addr is currently allocated at, or
// ok=false if no slot of this quantum allocator owns addr.
func (q *quantumAllocator) orderOf(addr uintptr) (int, bool) {
	s, ok := q.findSlot(addr)
	if !ok {
		return 0, false
	}

	return int(s.order.Load()), true
}
