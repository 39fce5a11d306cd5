package allocator

import "testing"

func newTestPartition(capacity int, quantumSize uintptr, sideDataStride uintptr) *partition {
	words := make([]uint64, registryWordsNeeded(capacity))
	reg := newRegistry(words, capacity)

	var sideData []byte
	if sideDataStride > 0 {
		sideData = make([]byte, uintptr(capacity)*sideDataStride)
	}

	return newPartition(0x1000, quantumSize, reg, sideData, sideDataStride)
}

func TestPartitionAllocateDeallocate(t *testing.T) {
	p := newTestPartition(4, 64, 0)

	addrs := make([]uintptr, 0, 4)
	for i := 0; i < 4; i++ {
		addr, ok := p.allocate()
		if !ok {
			t.Fatalf("allocate() failed at i=%d", i)
		}

		addrs = append(addrs, addr)
	}

	if _, ok := p.allocate(); ok {
		t.Fatal("allocate() on a full partition should fail")
	}

	if err := p.deallocate(addrs[2]); err != nil {
		t.Fatalf("deallocate: %v", err)
	}

	addr, ok := p.allocate()
	if !ok || addr != addrs[2] {
		t.Fatalf("allocate() after freeing = (%#x,%v), want (%#x,true)", addr, ok, addrs[2])
	}
}

func TestPartitionAddressIndexRoundTrip(t *testing.T) {
	p := newTestPartition(16, 128, 0)

	for i := 0; i < 16; i++ {
		addr := p.addressOf(i)

		idx, ok := p.indexOf(addr)
		if !ok || idx != i {
			t.Fatalf("indexOf(addressOf(%d)) = (%d,%v), want (%d,true)", i, idx, ok, i)
		}
	}

	if _, ok := p.indexOf(p.base - 8); ok {
		t.Fatal("indexOf() on an address before the partition base should fail")
	}

	if _, ok := p.indexOf(p.base + 1); ok {
		t.Fatal("indexOf() on a misaligned address should fail")
	}

	if _, ok := p.indexOf(p.addressOf(16)); ok {
		t.Fatal("indexOf() one quantum past capacity should fail")
	}
}

func TestPartitionDeallocateRejectsForeignAddress(t *testing.T) {
	p := newTestPartition(4, 64, 0)

	if err := p.deallocate(0xDEADBEEF); err == nil {
		t.Fatal("deallocate() on an address outside the partition should error")
	}
}

func TestPartitionBulkContiguous(t *testing.T) {
	p := newTestPartition(16, 32, 0)

	base, ok := p.allocateBulkContiguous(5)
	if !ok {
		t.Fatal("allocateBulkContiguous(5) should succeed on an empty partition")
	}

	if _, ok := p.indexOf(base); !ok {
		t.Fatal("indexOf(base) failed")
	}

	if err := p.deallocateRun(base, 5); err != nil {
		t.Fatalf("deallocateRun: %v", err)
	}

	if !p.isEmpty() {
		t.Fatal("partition should be empty after freeing the whole run")
	}
}

func TestPartitionBulkSparse(t *testing.T) {
	p := newTestPartition(4, 32, 0)

	got := p.allocateBulkSparse(10)
	if len(got) != 4 {
		t.Fatalf("allocateBulkSparse(10) on a 4-quantum partition returned %d addresses, want 4", len(got))
	}

	if err := p.deallocateBulk(got); err != nil {
		t.Fatalf("deallocateBulk: %v", err)
	}

	if !p.isEmpty() {
		t.Fatal("partition should be empty after deallocateBulk")
	}
}

func TestPartitionNextAllocation(t *testing.T) {
	p := newTestPartition(8, 16, 0)

	idx2 := 2
	idx5 := 5

	// Claim specific quanta by allocating until we've covered indices 2 and 5;
	// simplest is to allocate everything, then free all but 2 and 5.
	all := p.allocateCount(8)
	if len(all) < 8 {
		t.Fatalf("allocateCount(8) on an 8-quantum partition returned %d", len(all))
	}

	for i, addr := range all {
		if i == idx2 || i == idx5 {
			continue
		}

		if err := p.deallocate(addr); err != nil {
			t.Fatalf("deallocate: %v", err)
		}
	}

	first, ok := p.nextAllocation(0)
	if !ok || first != p.addressOf(idx2) {
		t.Fatalf("nextAllocation(0) = (%#x,%v), want (%#x,true)", first, ok, p.addressOf(idx2))
	}

	second, ok := p.nextAllocation(first)
	if !ok || second != p.addressOf(idx5) {
		t.Fatalf("nextAllocation(first) = (%#x,%v), want (%#x,true)", second, ok, p.addressOf(idx5))
	}

	if _, ok := p.nextAllocation(second); ok {
		t.Fatal("nextAllocation(second) should report no further allocations")
	}
}

func TestPartitionSideData(t *testing.T) {
	const stride = 16

	p := newTestPartition(4, 32, stride)

	addr, ok := p.allocate()
	if !ok {
		t.Fatal("allocate() failed")
	}

	sd := p.sideDataFor(addr)
	if len(sd) != stride {
		t.Fatalf("len(sideDataFor) = %d, want %d", len(sd), stride)
	}

	sd[0] = 0x42

	sd2 := p.sideDataFor(addr)
	if sd2[0] != 0x42 {
		t.Fatal("sideDataFor should return a view over the same backing bytes on repeated calls")
	}
}

func TestPartitionSideDataNilWhenNotConfigured(t *testing.T) {
	p := newTestPartition(4, 32, 0)

	addr, _ := p.allocate()

	if sd := p.sideDataFor(addr); sd != nil {
		t.Fatal("sideDataFor should return nil when the partition carries no side-data pool")
	}
}

func TestPartitionRespecializePreservesSideData(t *testing.T) {
	const stride = 8

	p := newTestPartition(4, 64, stride)

	addr, _ := p.allocate()
	sd := p.sideDataFor(addr)
	sd[0] = 0x7

	p.respecialize(128, 2)

	if p.capacity() != 2 {
		t.Fatalf("capacity() after respecialize = %d, want 2", p.capacity())
	}

	if p.sideData == nil {
		t.Fatal("respecialize should not discard the side-data pool")
	}

	if p.sideData[0] != 0x7 {
		t.Fatal("respecialize should not zero existing side-data bytes")
	}
}

func TestPartitionLiveCountAndIsEmpty(t *testing.T) {
	p := newTestPartition(4, 32, 0)

	if !p.isEmpty() {
		t.Fatal("fresh partition should be empty")
	}

	a, _ := p.allocate()
	b, _ := p.allocate()

	if p.isEmpty() {
		t.Fatal("partition with live quanta should not be empty")
	}

	if got := p.liveCount(); got != 2 {
		t.Fatalf("liveCount() = %d, want 2", got)
	}

	if err := p.deallocate(a); err != nil {
		t.Fatalf("deallocate: %v", err)
	}

	if err := p.deallocate(b); err != nil {
		t.Fatalf("deallocate: %v", err)
	}

	if !p.isEmpty() {
		t.Fatal("partition should be empty again after freeing every quantum")
	}
}
