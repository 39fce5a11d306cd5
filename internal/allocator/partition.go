package allocator

import "fmt"

// partition is a fixed-quantum-size span of user memory plus the registry
// tracking which quanta are live (spec.md §3 "Partition", §4.4). All
// bookkeeping (the registry words and, if present, the side-data pool) lives
// off-band: user quanta never carry allocator metadata.
type partition struct {
	base           uintptr
	quantumSize    uintptr
	reg            *registry
	sideData       []byte
	sideDataStride uintptr
}

// newPartition wraps a span of capacity quanta, each quantumSize bytes,
// starting at base. sideData/sideDataStride may be nil/0 if the owning
// QuantumAllocator order carries no per-allocation side channel.
func newPartition(base, quantumSize uintptr, reg *registry, sideData []byte, sideDataStride uintptr) *partition {
	return &partition{
		base:           base,
		quantumSize:    quantumSize,
		reg:            reg,
		sideData:       sideData,
		sideDataStride: sideDataStride,
	}
}

// respecialize re-points a partition at a new quantum size and re-initializes
// its registry to capacity quanta, without touching its backing span,
// registry word slice, or side-data pool (side-data slots are addressed by
// registry bit index, one per minimum-order quantum, and stay valid
// regardless of which order the partition is currently specialized to).
// This is how a QuantumAllocator slot moves between size orders (spec.md
// §4.5 "online/offline re-specialization").
func (p *partition) respecialize(quantumSize uintptr, capacity int) {
	p.quantumSize = quantumSize
	p.reg.reinit(capacity)
}

// capacity returns the number of quanta this partition's span holds.
func (p *partition) capacity() int { return p.reg.bitCount() }

// quantumBytes returns the fixed size of every slot in this partition.
func (p *partition) quantumBytes() uintptr { return p.quantumSize }

// baseAddress returns the address of quantum 0.
func (p *partition) baseAddress() uintptr { return p.base }

// addressOf returns the address backing quantum idx.
func (p *partition) addressOf(idx int) uintptr {
	return p.base + uintptr(idx)*p.quantumSize
}

// indexOf inverts addressOf, reporting whether addr falls within this
// partition's span on a quantum boundary.
func (p *partition) indexOf(addr uintptr) (int, bool) {
	if addr < p.base {
		return 0, false
	}

	off := addr - p.base
	if off%p.quantumSize != 0 {
		return 0, false
	}

	idx := int(off / p.quantumSize)
	if idx >= p.capacity() {
		return 0, false
	}

	return idx, true
}

// allocate claims a single free quantum and returns its address, or ok=false
// if the partition is full.
func (p *partition) allocate() (uintptr, bool) {
	idx := p.reg.findFree()
	if idx == notFound {
		return 0, false
	}

	return p.addressOf(idx), true
}

// deallocate frees the quantum backing addr. It is a caller error to pass an
// address this partition did not hand out via allocate/allocateBulk*.
func (p *partition) deallocate(addr uintptr) error {
	idx, ok := p.indexOf(addr)
	if !ok {
		return fmt.Errorf("allocator: address %#x is not a quantum of this partition", addr)
	}

	p.reg.free(idx)

	return nil
}

// allocateCount claims up to n free quanta, not necessarily contiguous, and
// returns their addresses. It stops early (returning fewer than n) once the
// partition is exhausted.
func (p *partition) allocateCount(n int) []uintptr {
	out := make([]uintptr, 0, n)

	for i := 0; i < n; i++ {
		idx := p.reg.findFree()
		if idx == notFound {
			break
		}

		out = append(out, p.addressOf(idx))
	}

	return out
}

// allocateBulkSparse is allocateCount under the spec's bulk-allocation name:
// n quanta, individually claimed, with no contiguity guarantee.
func (p *partition) allocateBulkSparse(n int) []uintptr {
	return p.allocateCount(n)
}

// allocateBulkContiguous claims a single run of n contiguous quanta and
// returns their base address, or ok=false if no such run is free.
func (p *partition) allocateBulkContiguous(n int) (uintptr, bool) {
	start := p.reg.findFreeRun(n)
	if start == notFound {
		return 0, false
	}

	return p.addressOf(start), true
}

// deallocateBulk frees every address in addrs, each independently. Use
// deallocateRun to free a contiguous-run allocation in one registry pass.
func (p *partition) deallocateBulk(addrs []uintptr) error {
	for _, a := range addrs {
		if err := p.deallocate(a); err != nil {
			return err
		}
	}

	return nil
}

// deallocateRun frees the n contiguous quanta starting at addr, as handed
// out by allocateBulkContiguous.
func (p *partition) deallocateRun(addr uintptr, n int) error {
	idx, ok := p.indexOf(addr)
	if !ok {
		return fmt.Errorf("allocator: address %#x is not a quantum of this partition", addr)
	}

	p.reg.freeRun(idx, n)

	return nil
}

// nextAllocation walks live allocations in address order, returning the
// first one strictly after addr (or after the start of the partition if
// addr is 0), and ok=false once there are no more.
func (p *partition) nextAllocation(addr uintptr) (uintptr, bool) {
	after := -1

	if addr != 0 {
		idx, ok := p.indexOf(addr)
		if !ok {
			return 0, false
		}

		after = idx
	}

	idx := p.reg.nextSet(after)
	if idx == notFound {
		return 0, false
	}

	return p.addressOf(idx), true
}

// sideDataFor returns the off-band metadata slot for addr, or nil if this
// partition carries no side-data pool.
func (p *partition) sideDataFor(addr uintptr) []byte {
	if p.sideData == nil || p.sideDataStride == 0 {
		return nil
	}

	idx, ok := p.indexOf(addr)
	if !ok {
		return nil
	}

	start := uintptr(idx) * p.sideDataStride

	return p.sideData[start : start+p.sideDataStride]
}

// isEmpty reports whether no quanta are currently live. It is a hint, not a
// linearized fact, under concurrent access.
func (p *partition) isEmpty() bool { return p.reg.isEmpty() }

// liveCount is a sampled count of live quanta.
func (p *partition) liveCount() int { return p.reg.count() }
