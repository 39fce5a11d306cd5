package allocator

import "testing"

func TestDirectorCreatePrivateAllocateDeallocate(t *testing.T) {
	d, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer d.Destroy()

	addr, err := d.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate(64): %v", err)
	}

	if addr == 0 {
		t.Fatal("Allocate(64) returned a zero address")
	}

	size, ok := d.Size(addr)
	if !ok || size < 64 {
		t.Fatalf("Size(addr) = (%d,%v), want (>=64,true)", size, ok)
	}

	if err := d.Deallocate(addr); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
}

func TestDirectorAllocateZeroIsNoop(t *testing.T) {
	d, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer d.Destroy()

	addr, err := d.Allocate(0)
	if err != nil || addr != 0 {
		t.Fatalf("Allocate(0) = (%#x,%v), want (0,nil)", addr, err)
	}
}

func TestDirectorDeallocateZeroIsNoop(t *testing.T) {
	d, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer d.Destroy()

	if err := d.Deallocate(0); err != nil {
		t.Fatalf("Deallocate(0) = %v, want nil", err)
	}
}

func TestDirectorDeallocateUnknownAddressErrors(t *testing.T) {
	d, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer d.Destroy()

	if err := d.Deallocate(0xDEADBEEF); err == nil {
		t.Fatal("Deallocate() on an address this director never handed out should error")
	}
}

func TestDirectorStatsTracksAllocations(t *testing.T) {
	d, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer d.Destroy()

	a, err := d.Allocate(128)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	b, err := d.Allocate(128)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	const order = 7 // sizeToOrder(128)

	var counts, sizes [64]uint64

	d.Stats(&counts, &sizes)

	if counts[order] != 2 {
		t.Fatalf("counts[%d] = %d, want 2", order, counts[order])
	}

	if sizes[order] != 256 {
		t.Fatalf("sizes[%d] = %d, want 256", order, sizes[order])
	}

	if counts[0] == 0 {
		t.Fatalf("counts[0] = %d, want > 0", counts[0])
	}

	if err := d.Deallocate(a); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}

	d.Stats(&counts, &sizes)

	if counts[order] != 1 {
		t.Fatalf("counts[%d] = %d, want 1 after one deallocate", order, counts[order])
	}

	if err := d.Deallocate(b); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}

	d.Stats(&counts, &sizes)

	if counts[order] != 0 {
		t.Fatalf("counts[%d] = %d, want 0 after both deallocated (property 3 round-trip)", order, counts[order])
	}
}

func TestDirectorBaseAndSideData(t *testing.T) {
	d, err := Create(WithSideData(16))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer d.Destroy()

	addr, err := d.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	base, ok := d.Base(addr)
	if !ok {
		t.Fatal("Base(addr) failed")
	}

	if base == 0 {
		t.Fatal("Base(addr) returned 0")
	}

	sd := d.SideData(addr)
	if len(sd) != 16 {
		t.Fatalf("len(SideData(addr)) = %d, want 16", len(sd))
	}

	sd[0] = 0x9

	if got := d.SideData(addr); got[0] != 0x9 {
		t.Fatal("SideData should return a stable view across calls")
	}

	if err := d.Deallocate(addr); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
}

func TestDirectorNextEnumeratesLiveAllocations(t *testing.T) {
	d, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer d.Destroy()

	const n = 5

	addrs := make([]uintptr, 0, n)
	for i := 0; i < n; i++ {
		addr, err := d.Allocate(32)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}

		addrs = append(addrs, addr)
	}

	count := 0
	cursor := uintptr(0)

	for {
		next, ok := d.Next(cursor)
		if !ok {
			break
		}

		count++
		cursor = next

		if count > n {
			t.Fatal("Next() walked more live allocations than were made")
		}
	}

	if count != n {
		t.Fatalf("Next() walk visited %d allocations, want %d", count, n)
	}

	if err := d.DeallocateBulk(addrs); err != nil {
		t.Fatalf("DeallocateBulk: %v", err)
	}

	if _, ok := d.Next(0); ok {
		t.Fatal("Next(0) should report nothing once every allocation is freed")
	}
}

func TestDirectorReallocateGrowPreservesContents(t *testing.T) {
	d, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer d.Destroy()

	addr, err := d.Allocate(16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	payload := bytesAt(addr, 16)
	for i := range payload {
		payload[i] = byte(i + 1)
	}

	newAddr, err := d.Reallocate(addr, 256)
	if err != nil {
		t.Fatalf("Reallocate: %v", err)
	}

	newPayload := bytesAt(newAddr, 16)
	for i := range newPayload {
		if newPayload[i] != byte(i+1) {
			t.Fatalf("Reallocate did not preserve byte %d: got %d, want %d", i, newPayload[i], i+1)
		}
	}

	if err := d.Deallocate(newAddr); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
}

func TestDirectorReallocateZeroSizeFrees(t *testing.T) {
	d, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer d.Destroy()

	addr, err := d.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if newAddr, err := d.Reallocate(addr, 0); err != nil || newAddr != 0 {
		t.Fatalf("Reallocate(addr,0) = (%#x,%v), want (0,nil)", newAddr, err)
	}

	if err := d.Deallocate(addr); err == nil {
		t.Fatal("addr should no longer be live after Reallocate(addr,0)")
	}
}

func TestDirectorReallocateNilAddrAllocates(t *testing.T) {
	d, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer d.Destroy()

	addr, err := d.Reallocate(0, 64)
	if err != nil {
		t.Fatalf("Reallocate(0,64): %v", err)
	}

	if addr == 0 {
		t.Fatal("Reallocate(0,64) returned a zero address")
	}

	if err := d.Deallocate(addr); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
}

func TestDirectorAllocateCountAndBulkContiguous(t *testing.T) {
	d, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer d.Destroy()

	addrs, err := d.AllocateCount(32, 10)
	if err != nil {
		t.Fatalf("AllocateCount: %v", err)
	}

	if len(addrs) != 10 {
		t.Fatalf("AllocateCount(32,10) returned %d addresses, want 10", len(addrs))
	}

	if err := d.DeallocateBulk(addrs); err != nil {
		t.Fatalf("DeallocateBulk: %v", err)
	}

	base, err := d.AllocateBulkContiguous(32, 4)
	if err != nil {
		t.Fatalf("AllocateBulkContiguous: %v", err)
	}

	if base == 0 {
		t.Fatal("AllocateBulkContiguous returned a zero address")
	}

	if err := d.Deallocate(base); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
}

func TestDirectorVersionString(t *testing.T) {
	d, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer d.Destroy()

	if got := d.VersionString(); got == "" {
		t.Fatal("VersionString() returned an empty string")
	}

	major, _, _ := d.Version()
	if major == 0 {
		t.Fatal("Version() reported major version 0")
	}
}

func TestDirectorDestroyIsIdempotentForPrivateBacking(t *testing.T) {
	d, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := d.Destroy(); err != nil {
		t.Fatalf("first Destroy: %v", err)
	}

	if err := d.Destroy(); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
}

// TestDirectorSecureRecycleZeroesBlock is scenario S1: under secure=true, a
// recycled block reads back as all-zero even though the caller dirtied it
// before freeing (spec.md §8 property 8, scenario S1).
func TestDirectorSecureRecycleZeroesBlock(t *testing.T) {
	d, err := Create(WithSecure())
	if err != nil {
		t.Fatalf("Create(WithSecure()): %v", err)
	}
	defer d.Destroy()

	a, err := d.Allocate(8)
	if err != nil {
		t.Fatalf("Allocate(8): %v", err)
	}

	buf := bytesAt(a, 8)
	for i := range buf {
		buf[i] = 0xFF
	}

	if err := d.Deallocate(a); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}

	b, err := d.Allocate(8)
	if err != nil {
		t.Fatalf("Allocate(8) after recycle: %v", err)
	}

	if b != a {
		t.Fatalf("recycle: b = %#x, want a = %#x", b, a)
	}

	for i, v := range bytesAt(b, 8) {
		if v != 0 {
			t.Fatalf("recycled block byte %d = %#x, want 0", i, v)
		}
	}
}

func TestDirectorClearZeroesWithoutFreeing(t *testing.T) {
	d, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer d.Destroy()

	a, err := d.Allocate(16)
	if err != nil {
		t.Fatalf("Allocate(16): %v", err)
	}

	buf := bytesAt(a, 16)
	for i := range buf {
		buf[i] = 0xAB
	}

	if err := d.Clear(a); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	for i, v := range bytesAt(a, 16) {
		if v != 0 {
			t.Fatalf("cleared block byte %d = %#x, want 0", i, v)
		}
	}

	if size, ok := d.Size(a); !ok || size < 16 {
		t.Fatalf("Size(a) after Clear = (%d,%v), want (>=16,true): Clear must not free", size, ok)
	}

	if err := d.Deallocate(a); err != nil {
		t.Fatalf("Deallocate after Clear: %v", err)
	}
}

func TestDirectorClearOnUnknownAddressIsNoop(t *testing.T) {
	d, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer d.Destroy()

	if err := d.Clear(0xDEADBEEF); err != nil {
		t.Fatalf("Clear on an unowned address should be a no-op, got: %v", err)
	}
}
