package allocator

import (
	"fmt"
	"unsafe"
)

// arena is the pre-flight bump allocator used while constructing a Director
// (spec.md §2 "Arena", §4.7). It carves raw byte regions for registries,
// side-data pools, and slab tables out of a single backing buffer so that
// metadata never touches user memory and, in sharing mode, lands at offsets
// every attached process can recompute deterministically.
//
// arena has two modes. In sizing mode (buf == nil) it only advances a
// running total so Director.create can learn how many bytes a configuration
// needs before committing anything. In live mode it carves real sub-slices
// out of a committed buffer (heap-backed for a fixed Director, or a view over
// an mmap'd region for a shared one).
type arena struct {
	buf    []byte
	offset uintptr
	sizing bool
}

// newArena wraps buf for in-place carving.
func newArena(buf []byte) *arena {
	return &arena{buf: buf}
}

// newSizingArena creates an unbounded arena used only to total up the bytes a
// layout would consume.
func newSizingArena() *arena {
	return &arena{sizing: true}
}

// alloc carves size bytes aligned to align (which must be a power of two)
// out of the arena and returns the sub-slice (nil in sizing mode) and the
// offset it starts at.
func (a *arena) alloc(size, align uintptr) ([]byte, uintptr, error) {
	if align == 0 {
		align = 1
	}

	aligned := (a.offset + align - 1) &^ (align - 1)
	end := aligned + size

	if a.sizing {
		a.offset = end

		return nil, aligned, nil
	}

	if end > uintptr(len(a.buf)) {
		return nil, 0, fmt.Errorf("allocator: arena exhausted: need %d bytes at offset %d, have %d", size, aligned, len(a.buf))
	}

	a.offset = end

	return a.buf[aligned:end:end], aligned, nil
}

// allocWords carves n uint64 words (n*8 bytes, 8-byte aligned) and returns
// them reinterpreted as a []uint64 view into the arena's backing buffer.
func (a *arena) allocWords(n int) ([]uint64, uintptr, error) {
	size := uintptr(n) * 8

	b, off, err := a.alloc(size, 8)
	if err != nil {
		return nil, 0, err
	}

	if a.sizing {
		return nil, off, nil
	}

	return unsafe.Slice((*uint64)(unsafe.Pointer(unsafe.SliceData(b))), n), off, nil
}

// allocBytes carves n bytes (1-byte aligned) for flat byte pools such as
// side-data or slab tables.
func (a *arena) allocBytes(n int) ([]byte, uintptr, error) {
	return a.alloc(uintptr(n), 1)
}

// isSizing reports whether this arena only totals bytes rather than
// carving real sub-slices.
func (a *arena) isSizing() bool { return a.sizing }

// used returns the number of bytes consumed so far.
func (a *arena) used() uintptr { return a.offset }

// size returns the total backing capacity (meaningless in sizing mode).
func (a *arena) size() uintptr { return uintptr(len(a.buf)) }
