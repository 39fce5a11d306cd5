package allocator

import "testing"

func TestClzCtz(t *testing.T) {
	cases := []struct {
		x        uint64
		wantClz  int
		wantCtz  int
		wantPop  int
	}{
		{0, 64, 64, 0},
		{1, 63, 0, 1},
		{1 << 63, 0, 63, 1},
		{0xFF, 56, 0, 8},
	}

	for _, c := range cases {
		if got := clz(c.x); got != c.wantClz {
			t.Errorf("clz(%#x) = %d, want %d", c.x, got, c.wantClz)
		}

		if got := ctz(c.x); got != c.wantCtz {
			t.Errorf("ctz(%#x) = %d, want %d", c.x, got, c.wantCtz)
		}

		if got := popcount(c.x); got != c.wantPop {
			t.Errorf("popcount(%#x) = %d, want %d", c.x, got, c.wantPop)
		}
	}
}

func TestSizeToOrderRoundTrip(t *testing.T) {
	cases := []struct {
		size  uint64
		order int
	}{
		{1, 3},
		{8, 3},
		{9, 4},
		{16, 4},
		{17, 5},
		{1 << 20, 20},
		{1<<20 + 1, 21},
	}

	for _, c := range cases {
		if got := sizeToOrder(c.size); got != c.order {
			t.Errorf("sizeToOrder(%d) = %d, want %d", c.size, got, c.order)
		}
	}

	for order := smallestSizeOrder; order <= 40; order++ {
		size := sizeOfOrder(order)
		if got := sizeToOrder(size); got != order {
			t.Errorf("sizeToOrder(sizeOfOrder(%d)=%d) = %d, want %d", order, size, got, order)
		}
	}
}

func TestRoundUpPow2(t *testing.T) {
	cases := map[uint64]uint64{
		0:  0,
		1:  1,
		2:  2,
		3:  4,
		5:  8,
		64: 64,
		65: 128,
	}

	for in, want := range cases {
		if got := roundUpPow2(in); got != want {
			t.Errorf("roundUpPow2(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestLowZeroBit(t *testing.T) {
	if got := lowZeroBit(0); got != 1 {
		t.Errorf("lowZeroBit(0) = %#x, want 1", got)
	}

	if got := lowZeroBit(^uint64(0)); got != 0 {
		t.Errorf("lowZeroBit(all ones) = %#x, want 0", got)
	}

	if got := lowZeroBit(0b1011); got != 0b0100 {
		t.Errorf("lowZeroBit(0b1011) = %#b, want 0b0100", got)
	}
}

func TestAlignUpPow2(t *testing.T) {
	if got := alignUpPow2(10, 8); got != 16 {
		t.Errorf("alignUpPow2(10,8) = %d, want 16", got)
	}

	if got := alignUpPow2(16, 8); got != 16 {
		t.Errorf("alignUpPow2(16,8) = %d, want 16", got)
	}
}
