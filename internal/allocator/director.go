package allocator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sync/errgroup"
)

// ErrDirectorUnusable is returned by every Director operation once a shared
// backing's link has been observed removed out from under it.
var ErrDirectorUnusable = errors.New("allocator: director is no longer usable")

// ErrNotOwned is returned when an address did not come from this Director.
var ErrNotOwned = errors.New("allocator: address not owned by this director")

const (
	shmHeaderSize = 64
	shmMagic      = uint64(0x5142415f53484d31) // "QBA_SHM1"
)

// tier is one of the three contiguous 8-order windows a Director dispatches
// quantum-sized requests to (spec.md §4.5, §4.7).
type tier struct {
	minOrder, maxOrder int
	spanSize           uintptr
	slotCount          int
	qa                 *quantumAllocator
}

// Director is the top-level allocator orchestrator (spec.md §3 "Director",
// §4.7). It owns three QuantumAllocators covering orders [3,26] and a
// SlabAllocator covering (26,48], and dispatches every request to exactly
// one of them by size order — a fixed mapping computed once at
// construction, since a Director's tier boundaries never change after
// create()/attach().
//
// Director is not process-global: callers construct as many as they need,
// and a shared-backing Director can be attached to from multiple processes
// via Attach with identical CreateParams. Only the bulk bookkeeping
// (registries, side-data pools, and user spans) is genuinely shared bytes;
// each process reconstructs its own lightweight Director/quantumAllocator/
// partition wrapper values deterministically from those bytes plus the
// CreateParams both sides agree on, since Go's runtime does not support
// sharing live, method-bearing struct values across process boundaries.
type Director struct {
	params      *CreateParams
	tiers       [3]*tier
	slab        *slabAllocator
	fingerprint [32]byte

	sharedFD   shmHandle
	sharedBase uintptr
	sharedSize uintptr
	watcher    *linkWatcher
	unusable   atomic.Bool

	diag Diagnostics

	// orderCounts[o] tracks live allocation counts at order o, the bookkeeping
	// stats() reports per spec.md §4.7/§6 "Stats slot semantics". Index 0
	// holds nothing itself; Stats() derives the slot-0 sum on read.
	orderCounts [64]atomic.Int64

	// adminBytes is each component's own structural footprint (registries and
	// side-data pools, excluding user-visible span bytes), fixed at
	// construction and reported as stats() slot 1 (spec.md §4.7).
	adminBytes uintptr
}

// Create builds a new Director (spec.md §4.7 "create"). With no options it
// is a private, process-local allocator; WithShared makes it a
// shared-memory allocator other processes can join via Attach.
func Create(opts ...Option) (*Director, error) {
	params, err := resolveCreateParams(opts...)
	if err != nil {
		return nil, err
	}

	fp, err := layoutFingerprint(params)
	if err != nil {
		return nil, err
	}

	d := newDirectorShell(params, fp)

	sizer := newSizingArena()
	if err := d.layout(sizer); err != nil {
		return nil, err
	}

	total := sizer.used()

	var buf []byte

	switch params.Backing {
	case BackingPrivate:
		buf = make([]byte, total)
	case BackingShared:
		fd, err := createShared(params.SharedName, total)
		if err != nil {
			return nil, err
		}

		base, err := mapShared(fd, total, 0)
		if err != nil {
			_ = closeShared(fd)

			return nil, err
		}

		d.sharedFD = fd
		d.sharedBase = base
		d.sharedSize = pageRoundUp(total)
		buf = bytesAt(base, total)
	}

	live := newArena(buf)
	if err := d.layout(live); err != nil {
		return nil, err
	}

	writeHeader(buf, total, d.sharedBase, fp)

	if params.Backing == BackingShared && params.WatchSharedLink != "" {
		w, err := watchSharedLink(params.WatchSharedLink, d.markUnusable, d.diag)
		if err != nil {
			return nil, err
		}

		d.watcher = w
	}

	return d, nil
}

// Attach joins an existing shared-memory Director published under
// params.SharedName (spec.md §7: re-derive component handles from known
// offsets without reinitializing internal state). The caller's CreateParams
// must describe the same layout the creator used; a mismatched layout
// fingerprint is logged via Diagnostics, not rejected, since the spec does
// not mandate a hard version/layout check.
func Attach(opts ...Option) (*Director, error) {
	params, err := resolveCreateParams(opts...)
	if err != nil {
		return nil, err
	}

	if params.Backing != BackingShared {
		return nil, fmt.Errorf("allocator: Attach requires WithShared")
	}

	fd, err := openShared(params.SharedName)
	if err != nil {
		return nil, err
	}

	peek, err := mapShared(fd, shmHeaderSize, 0)
	if err != nil {
		_ = closeShared(fd)

		return nil, err
	}

	magic, total, base, creatorFP := readHeader(bytesAt(peek, shmHeaderSize))

	if err := unmapShared(peek, shmHeaderSize); err != nil {
		_ = closeShared(fd)

		return nil, err
	}

	if magic != shmMagic {
		_ = closeShared(fd)

		return nil, fmt.Errorf("allocator: %q is not a QBA shared-memory segment", params.SharedName)
	}

	mappedBase, err := mapShared(fd, total, base)
	if err != nil {
		_ = closeShared(fd)

		return nil, err
	}

	fp, err := layoutFingerprint(params)
	if err != nil {
		return nil, err
	}

	d := newDirectorShell(params, fp)
	d.sharedFD = fd
	d.sharedBase = mappedBase
	d.sharedSize = pageRoundUp(total)

	if fp != creatorFP {
		d.diag.Warnf("allocator: attached layout fingerprint differs from creator's; proceeding anyway")
	}

	live := newArena(bytesAt(mappedBase, total))
	if err := d.layout(live); err != nil {
		return nil, err
	}

	if params.WatchSharedLink != "" {
		w, err := watchSharedLink(params.WatchSharedLink, d.markUnusable, d.diag)
		if err != nil {
			return nil, err
		}

		d.watcher = w
	}

	return d, nil
}

func newDirectorShell(params *CreateParams, fp [32]byte) *Director {
	d := &Director{
		params:      params,
		slab:        newSlabAllocator(),
		fingerprint: fp,
		diag:        params.Diagnostics,
	}

	d.tiers[0] = &tier{minOrder: smallestSizeOrder, maxOrder: 10, spanSize: params.SmallSpan, slotCount: params.SmallSlots}
	d.tiers[1] = &tier{minOrder: 11, maxOrder: 18, spanSize: params.MediumSpan, slotCount: params.MediumSlots}
	d.tiers[2] = &tier{minOrder: 19, maxOrder: largestQuantumOrder, spanSize: params.LargeSpan, slotCount: params.LargeSlots}

	d.adminBytes = shmHeaderSize
	for _, t := range d.tiers {
		capacity := int(t.spanSize >> uint(t.minOrder))
		perSlot := uintptr(registryWordsNeeded(capacity))*8 + uintptr(capacity)*params.SideDataSize
		d.adminBytes += uintptr(t.slotCount) * perSlot
	}

	return d
}

// layout carves the header, then every tier's registries/side-data/span
// bytes, from a in the same deterministic order every time. When a is a
// sizing arena this only totals bytes; on a live arena it also builds the
// quantumAllocator for each tier.
func (d *Director) layout(a *arena) error {
	if _, _, err := a.allocBytes(shmHeaderSize); err != nil {
		return err
	}

	for _, t := range d.tiers {
		capacity := int(t.spanSize >> uint(t.minOrder))
		nWords := registryWordsNeeded(capacity)

		slots := make([]*quantumSlot, 0, t.slotCount)

		for i := 0; i < t.slotCount; i++ {
			words, _, err := a.allocWords(nWords)
			if err != nil {
				return err
			}

			var sideData []byte

			if d.params.SideDataSize > 0 {
				sideData, _, err = a.allocBytes(capacity * int(d.params.SideDataSize))
				if err != nil {
					return err
				}
			}

			spanBytes, _, err := a.allocBytes(int(t.spanSize))
			if err != nil {
				return err
			}

			if a.isSizing() {
				continue
			}

			reg := newRegistry(words, capacity)
			spanBase := uintptr(unsafe.Pointer(unsafe.SliceData(spanBytes)))
			part := newPartition(spanBase, sizeOfOrder(t.minOrder), reg, sideData, d.params.SideDataSize)
			slots = append(slots, &quantumSlot{part: part})
		}

		if !a.isSizing() {
			t.qa = newQuantumAllocator(t.minOrder, t.maxOrder, t.spanSize, slots)
		}
	}

	return nil
}

func writeHeader(buf []byte, total, base uintptr, fp [32]byte) {
	h := buf[:shmHeaderSize]
	binary.LittleEndian.PutUint64(h[0:8], shmMagic)
	binary.LittleEndian.PutUint64(h[8:16], uint64(total))
	binary.LittleEndian.PutUint64(h[16:24], uint64(base))
	copy(h[24:56], fp[:])
}

func readHeader(h []byte) (magic uint64, total, base uintptr, fp [32]byte) {
	magic = binary.LittleEndian.Uint64(h[0:8])
	total = uintptr(binary.LittleEndian.Uint64(h[8:16]))
	base = uintptr(binary.LittleEndian.Uint64(h[16:24]))
	copy(fp[:], h[24:56])

	return magic, total, base, fp
}

func (d *Director) markUnusable() {
	d.unusable.Store(true)
	d.diag.Errorf("allocator: shared backing %q was removed; director is no longer usable", d.params.SharedName)
}

// quantumAllocatorFor returns the tier covering order, or nil if order falls
// in the slab range or beyond.
func (d *Director) quantumAllocatorFor(order int) *quantumAllocator {
	for _, t := range d.tiers {
		if order <= t.maxOrder {
			return t.qa
		}
	}

	return nil
}

func (d *Director) currentOrder(addr uintptr) (int, bool) {
	if order, ok := d.slab.orderOf(addr); ok {
		return order, true
	}

	for _, t := range d.tiers {
		if order, ok := t.qa.orderOf(addr); ok {
			return order, true
		}
	}

	return 0, false
}

// Allocate claims size bytes and returns their address (spec.md §4.7
// "allocate"). A size of zero returns 0 without claiming anything, matching
// free(0) being a documented no-op.
func (d *Director) Allocate(size uintptr) (uintptr, error) {
	if d.unusable.Load() {
		return 0, ErrDirectorUnusable
	}

	if size == 0 {
		return 0, nil
	}

	order := sizeToOrder(uint64(size))
	if order > maxAllocationOrder {
		return 0, fmt.Errorf("allocator: size %d exceeds the maximum allocation order", size)
	}

	var (
		addr uintptr
		err  error
	)

	if order > largestQuantumOrder {
		addr, err = d.slab.allocate(order)
	} else {
		addr, err = d.quantumAllocatorFor(order).allocate(order)
	}

	if err != nil {
		return 0, err
	}

	d.orderCounts[order].Add(1)

	return addr, nil
}

// AllocateFit claims size bytes, accepting a coarser (already-specialized)
// size order up to degree steps larger when doing so avoids specializing a
// fresh partition slot (spec.md §4.7 "allocate_fit"). degree <= 0 behaves
// exactly like Allocate.
func (d *Director) AllocateFit(size uintptr, degree int) (uintptr, error) {
	if d.unusable.Load() {
		return 0, ErrDirectorUnusable
	}

	if size == 0 || degree <= 0 {
		return d.Allocate(size)
	}

	order := sizeToOrder(uint64(size))
	if order > largestQuantumOrder {
		return d.Allocate(size)
	}

	for o := order; o <= order+degree && o <= largestQuantumOrder; o++ {
		qa := d.quantumAllocatorFor(o)
		if qa == nil {
			break
		}

		for _, idx := range qa.active(o) {
			if addr, ok := qa.slots[idx].part.allocate(); ok {
				d.orderCounts[o].Add(1)

				return addr, nil
			}
		}
	}

	return d.Allocate(size)
}

// AllocateCount claims up to n quanta sized for size, not necessarily
// contiguous with one another (spec.md §4.7 "allocate_count" /
// "allocate_bulk_sparse").
func (d *Director) AllocateCount(size uintptr, n int) ([]uintptr, error) {
	if d.unusable.Load() {
		return nil, ErrDirectorUnusable
	}

	order := sizeToOrder(uint64(size))

	if order > largestQuantumOrder {
		out := d.slab.allocateBulk(order, n)
		d.orderCounts[order].Add(int64(len(out)))

		return out, nil
	}

	out, err := d.quantumAllocatorFor(order).allocateBulkSparse(order, n)
	d.orderCounts[order].Add(int64(len(out)))

	return out, err
}

// AllocateBulkContiguous claims a single run of n quanta sized for size from
// one partition slot (spec.md §4.7 "allocate_bulk_contiguous").
func (d *Director) AllocateBulkContiguous(size uintptr, n int) (uintptr, error) {
	if d.unusable.Load() {
		return 0, ErrDirectorUnusable
	}

	order := sizeToOrder(uint64(size))
	if order > largestQuantumOrder {
		return 0, fmt.Errorf("allocator: contiguous bulk allocation is not available above order %d", largestQuantumOrder)
	}

	addr, err := d.quantumAllocatorFor(order).allocateBulkContiguous(order, n)
	if err != nil {
		return 0, err
	}

	d.orderCounts[order].Add(int64(n))

	return addr, nil
}

// Deallocate frees addr (spec.md §4.7 "deallocate"). Freeing 0 is a no-op.
func (d *Director) Deallocate(addr uintptr) error {
	if addr == 0 {
		return nil
	}

	if d.unusable.Load() {
		return ErrDirectorUnusable
	}

	if order, ok := d.slab.orderOf(addr); ok {
		if d.params.Secure {
			if err := zeroMemory(addr, sizeOfOrder(order), d.params.Backing == BackingShared); err != nil {
				return err
			}
		}

		if err := d.slab.deallocate(addr); err != nil {
			return err
		}

		d.orderCounts[order].Add(-1)

		return nil
	}

	for _, t := range d.tiers {
		order, ok := t.qa.orderOf(addr)
		if !ok {
			continue
		}

		if d.params.Secure {
			if err := zeroMemory(addr, sizeOfOrder(order), d.params.Backing == BackingShared); err != nil {
				return err
			}
		}

		if err := t.qa.deallocate(order, addr); err != nil {
			return err
		}

		d.orderCounts[order].Add(-1)

		return nil
	}

	return fmt.Errorf("%w: %#x", ErrNotOwned, addr)
}

// DeallocateBulk frees every address in addrs.
func (d *Director) DeallocateBulk(addrs []uintptr) error {
	for _, a := range addrs {
		if err := d.Deallocate(a); err != nil {
			return err
		}
	}

	return nil
}

// Reallocate resizes the allocation at addr to newSize, preserving its
// contents up to the smaller of the old and new sizes (spec.md §4.7
// "reallocate"). addr == 0 behaves like Allocate; newSize == 0 behaves like
// Deallocate.
func (d *Director) Reallocate(addr uintptr, newSize uintptr) (uintptr, error) {
	if addr == 0 {
		return d.Allocate(newSize)
	}

	if newSize == 0 {
		return 0, d.Deallocate(addr)
	}

	oldOrder, ok := d.currentOrder(addr)
	if !ok {
		return 0, fmt.Errorf("%w: %#x", ErrNotOwned, addr)
	}

	newOrder := sizeToOrder(uint64(newSize))
	if newOrder == oldOrder {
		return addr, nil
	}

	newAddr, err := d.Allocate(newSize)
	if err != nil {
		return 0, err
	}

	copySize := sizeOfOrder(oldOrder)
	if sizeOfOrder(newOrder) < copySize {
		copySize = sizeOfOrder(newOrder)
	}

	copyMemory(newAddr, addr, copySize)

	if err := d.Deallocate(addr); err != nil {
		return 0, err
	}

	return newAddr, nil
}

// Clear zeros the block backing addr in place, without freeing it (spec.md
// §6 "clear"). addr not owned by this Director is a no-op.
func (d *Director) Clear(addr uintptr) error {
	order, ok := d.currentOrder(addr)
	if !ok {
		return nil
	}

	return zeroMemory(addr, sizeOfOrder(order), d.params.Backing == BackingShared)
}

// Size reports the allocation size backing addr (spec.md §4.7 "size").
func (d *Director) Size(addr uintptr) (uintptr, bool) {
	order, ok := d.currentOrder(addr)
	if !ok {
		return 0, false
	}

	return sizeOfOrder(order), true
}

// Base reports the base address of the allocation containing addr (spec.md
// §4.7 "base"). For quantum-backed allocations addr may be any address
// inside the quantum. Slab allocations are never sub-divided and only a
// slab's own base address is recognised; an interior slab address reports
// ok=false.
func (d *Director) Base(addr uintptr) (uintptr, bool) {
	if _, ok := d.slab.orderOf(addr); ok {
		return addr, true
	}

	for _, t := range d.tiers {
		for _, s := range t.qa.slots {
			if s.order.Load() == offlineOrder {
				continue
			}

			p := s.part
			if addr < p.base || addr-p.base >= uintptr(p.capacity())*p.quantumSize {
				continue
			}

			return p.base + (addr-p.base)/p.quantumSize*p.quantumSize, true
		}
	}

	return 0, false
}

// SideData returns the off-band metadata slot for addr, or nil if none is
// configured or addr isn't a quantum-backed allocation (spec.md §4.7
// "side_data"). Slab (huge) allocations carry no side-data pool.
func (d *Director) SideData(addr uintptr) []byte {
	for _, t := range d.tiers {
		if s, ok := t.qa.findSlot(addr); ok {
			return s.part.sideDataFor(addr)
		}
	}

	return nil
}

// Next walks live allocations in address order, returning the first one
// strictly after addr (or the very first live allocation if addr == 0), or
// ok=false once there are none left (spec.md §4.7 "next").
func (d *Director) Next(addr uintptr) (uintptr, bool) {
	var (
		best  uintptr
		found bool
	)

	consider := func(a uintptr) {
		if a > addr && (!found || a < best) {
			best, found = a, true
		}
	}

	for _, t := range d.tiers {
		for order := t.minOrder; order <= t.maxOrder; order++ {
			for _, idx := range t.qa.active(order) {
				cursor := uintptr(0)

				for {
					next, ok := t.qa.slots[idx].part.nextAllocation(cursor)
					if !ok {
						break
					}

					consider(next)

					cursor = next
				}
			}
		}
	}

	cursor := addr
	for {
		next, ok := d.slab.nextAllocation(cursor)
		if !ok {
			break
		}

		consider(next)

		cursor = next
	}

	return best, found
}

// Stats populates counts and sizes in place (spec.md §4.7 "stats", §6
// "Stats slot semantics"). Slot 0 is the sum of slots [1,63]; slot 1 is the
// Director's own administrative (structural) footprint; slot o in [3,48] is
// the live count/total bytes of allocations at that order. Both arrays are
// zeroed first.
func (d *Director) Stats(counts, sizes *[64]uint64) {
	*counts = [64]uint64{}
	*sizes = [64]uint64{}

	sizes[1] = uint64(d.adminBytes)

	for order := smallestSizeOrder; order <= maxAllocationOrder; order++ {
		c := d.orderCounts[order].Load()
		if c <= 0 {
			continue
		}

		counts[order] = uint64(c)
		sizes[order] = uint64(c) * sizeOfOrder(order)
	}

	for i := 1; i < 64; i++ {
		counts[0] += counts[i]
		sizes[0] += sizes[i]
	}
}

// Version reports this Director's layout version (spec.md §4.7 "version").
func (d *Director) Version() (major, minor, patch uint64) { return version() }

// VersionString reports this Director's layout version as a semver string
// (spec.md §4.7 "version_string").
func (d *Director) VersionString() string { return versionString() }

// Destroy tears the Director down: every outstanding slab reservation is
// released concurrently via errgroup (SPEC_FULL.md §10.7), then the shared
// backing, if any, is unmapped and unlinked. A private Director needs no
// further action beyond this call returning: its single backing buffer is
// ordinary Go-heap memory the garbage collector reclaims on its own.
func (d *Director) Destroy() error {
	if d.watcher != nil {
		if err := d.watcher.stop(); err != nil {
			d.diag.Warnf("allocator: stopping shared link watcher: %v", err)
		}
	}

	entries := d.slab.snapshotAll()

	g := new(errgroup.Group)
	for _, e := range entries {
		e := e
		g.Go(func() error { return release(e.addr, sizeOfOrder(e.order)) })
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("allocator: destroy: releasing slabs: %w", err)
	}

	if d.params.Backing != BackingShared {
		return nil
	}

	if err := unmapShared(d.sharedBase, d.sharedSize); err != nil {
		return fmt.Errorf("allocator: destroy: unmapping shared backing: %w", err)
	}

	if err := closeShared(d.sharedFD); err != nil {
		d.diag.Warnf("allocator: closing shared descriptor: %v", err)
	}

	if err := unlinkShared(d.params.SharedName); err != nil {
		d.diag.Warnf("allocator: unlinking shared backing: %v", err)
	}

	return nil
}
