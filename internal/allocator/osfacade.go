package allocator

import (
	"errors"
	"os"
	"unsafe"
)

// ErrOutOfAddressSpace is returned by the OS façade when the host refuses a
// reservation (spec.md §4.1, §7).
var ErrOutOfAddressSpace = errors.New("allocator: out of address space")

// zeroSmallThreshold is the size below which zero() writes zeros directly
// instead of re-committing pages (spec.md §4.1).
const zeroSmallThreshold = 32 * 1024

var systemPageSize = uintptr(os.Getpagesize())

// pageSize returns the host page size. All OS façade sizes and addresses
// must be multiples of it.
func pageSize() uintptr { return systemPageSize }

// pageRoundUp rounds n up to a multiple of the page size.
func pageRoundUp(n uintptr) uintptr {
	ps := pageSize()

	return (n + ps - 1) &^ (ps - 1)
}

// bytesAt views the size bytes starting at addr as a Go byte slice. addr
// must point into memory that stays mapped while the slice is in use: an OS
// façade reservation, a shared mapping, or the Go-heap buffer backing a
// private Director.
func bytesAt(addr, size uintptr) []byte {
	if size == 0 {
		return nil
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
}

// zeroMemory clears size bytes at addr, following the policy in spec.md
// §4.1: small regions are written directly; large non-shared regions whose
// address and size are page multiples are re-committed so the kernel hands
// back the zero page on next touch; shared regions, and regions that are not
// page-aligned, are always written directly (other processes may already
// have live mappings of the same physical pages).
func zeroMemory(addr, size uintptr, shared bool) error {
	if size == 0 {
		return nil
	}

	if !shared && size > zeroSmallThreshold && addr%pageSize() == 0 && size%pageSize() == 0 {
		if err := uncommit(addr, size); err != nil {
			return err
		}

		return commit(addr, size)
	}

	clear(bytesAt(addr, size))

	return nil
}

// copyMemory copies size bytes from src to dst.
func copyMemory(dst, src, size uintptr) {
	if size == 0 {
		return
	}

	copy(bytesAt(dst, size), bytesAt(src, size))
}

// reserveAligned guarantees the returned base is a multiple of alignment and
// that exactly size bytes are reserved there, by over-reserving and excising
// the aligned middle (spec.md §4.1).
func reserveAligned(size, alignment uintptr) (uintptr, error) {
	size = pageRoundUp(size)
	if alignment <= pageSize() {
		return reserve(size, 0)
	}

	oversize := size + alignment - pageSize()

	base, err := reserve(oversize, 0)
	if err != nil {
		return 0, err
	}

	aligned := (base + alignment - 1) &^ (alignment - 1)

	if prefix := aligned - base; prefix > 0 {
		if err := release(base, prefix); err != nil {
			_ = release(base, oversize)

			return 0, err
		}
	}

	if suffix := (base + oversize) - (aligned + size); suffix > 0 {
		if err := release(aligned+size, suffix); err != nil {
			_ = release(aligned, size)

			return 0, err
		}
	}

	return aligned, nil
}
