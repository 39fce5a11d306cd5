package allocator

import (
	"fmt"
	"sort"
	"sync"
)

// slabAllocator serves orders above largestQuantumOrder (64 MiB) directly
// from the OS façade rather than through a Partition/QuantumAllocator pool
// (spec.md §3 "SlabAllocator", §4.6). Every allocation at this scale gets
// its own reservation; freed slabs are recycled by order so a steady-state
// workload doesn't repeatedly reserve and release the same span sizes.
type slabAllocator struct {
	mu          sync.Mutex
	freeByOrder map[int][]uintptr
	live        map[uintptr]int // base -> order
}

func newSlabAllocator() *slabAllocator {
	return &slabAllocator{
		freeByOrder: make(map[int][]uintptr),
		live:        make(map[uintptr]int),
	}
}

// allocate reserves and commits one slab of order's size, recycling a freed
// slab of the same order when one is available.
func (s *slabAllocator) allocate(order int) (uintptr, error) {
	if order <= largestQuantumOrder || order > maxAllocationOrder {
		return 0, fmt.Errorf("allocator: order %d outside slab allocator range (%d,%d]", order, largestQuantumOrder, maxAllocationOrder)
	}

	size := sizeOfOrder(order)

	s.mu.Lock()
	if free := s.freeByOrder[order]; len(free) > 0 {
		addr := free[len(free)-1]
		s.freeByOrder[order] = free[:len(free)-1]
		s.live[addr] = order
		s.mu.Unlock()

		return addr, nil
	}
	s.mu.Unlock()

	addr, err := reserve(size, 0)
	if err != nil {
		return 0, err
	}

	if err := commit(addr, size); err != nil {
		_ = release(addr, size)

		return 0, err
	}

	s.mu.Lock()
	s.live[addr] = order
	s.mu.Unlock()

	return addr, nil
}

// allocateCount claims up to n independent slabs of order, stopping early on
// the first failure.
func (s *slabAllocator) allocateCount(order, n int) []uintptr {
	out := make([]uintptr, 0, n)

	for i := 0; i < n; i++ {
		addr, err := s.allocate(order)
		if err != nil {
			break
		}

		out = append(out, addr)
	}

	return out
}

// allocateBulk is allocateCount under the spec's bulk-allocation name; slab
// allocations are never contiguous with one another, so sparse is the only
// bulk mode at this scale.
func (s *slabAllocator) allocateBulk(order, n int) []uintptr {
	return s.allocateCount(order, n)
}

// orderOf reports the order addr was allocated at.
func (s *slabAllocator) orderOf(addr uintptr) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.live[addr]

	return order, ok
}

// deallocate retires addr, zeroing it and returning it to the per-order free
// list rather than releasing the reservation immediately.
func (s *slabAllocator) deallocate(addr uintptr) error {
	s.mu.Lock()
	order, ok := s.live[addr]
	if !ok {
		s.mu.Unlock()

		return fmt.Errorf("allocator: address %#x is not a live slab", addr)
	}

	delete(s.live, addr)
	s.freeByOrder[order] = append(s.freeByOrder[order], addr)
	s.mu.Unlock()

	return zeroMemory(addr, sizeOfOrder(order), false)
}

// deallocateBulk frees every address in addrs.
func (s *slabAllocator) deallocateBulk(addrs []uintptr) error {
	for _, a := range addrs {
		if err := s.deallocate(a); err != nil {
			return err
		}
	}

	return nil
}

// nextAllocation walks live slabs in address order, returning the first one
// strictly after addr, or ok=false once there are none left.
func (s *slabAllocator) nextAllocation(addr uintptr) (uintptr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addrs := make([]uintptr, 0, len(s.live))
	for a := range s.live {
		addrs = append(addrs, a)
	}

	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	for _, a := range addrs {
		if a > addr {
			return a, true
		}
	}

	return 0, false
}

// slabEntry names one outstanding OS reservation a slabAllocator is
// responsible for releasing.
type slabEntry struct {
	addr  uintptr
	order int
}

// snapshotAll clears the allocator's bookkeeping and returns every slab it
// was holding, live or free, so the caller can release them (typically
// concurrently; see Director.Destroy).
func (s *slabAllocator) snapshotAll() []slabEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]slabEntry, 0, len(s.live))

	for order, addrs := range s.freeByOrder {
		for _, addr := range addrs {
			out = append(out, slabEntry{addr: addr, order: order})
		}
	}

	for addr, order := range s.live {
		out = append(out, slabEntry{addr: addr, order: order})
	}

	s.freeByOrder = make(map[int][]uintptr)
	s.live = make(map[uintptr]int)

	return out
}
