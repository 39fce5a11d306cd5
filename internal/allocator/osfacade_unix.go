//go:build unix

package allocator

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// shmHandle is a POSIX file descriptor backing a shared-memory region.
type shmHandle = int

// createShared creates (or opens) a tmpfs-backed shared-memory object of
// size bytes under the given name and returns a descriptor suitable for
// mapShared. Names are scoped under /dev/shm, matching what shm_open(3)
// does on Linux.
func createShared(name string, size uintptr) (shmHandle, error) {
	path := "/dev/shm/" + name

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0o600)
	if err != nil {
		return -1, fmt.Errorf("allocator: open shared object %q: %w", name, err)
	}

	if err := unix.Ftruncate(fd, int64(pageRoundUp(size))); err != nil {
		_ = unix.Close(fd)

		return -1, fmt.Errorf("allocator: ftruncate shared object %q: %w", name, err)
	}

	return fd, nil
}

// openShared opens a previously-created shared-memory object by name,
// without creating it, for a second process attaching to an existing
// Director.
func openShared(name string) (shmHandle, error) {
	fd, err := unix.Open("/dev/shm/"+name, unix.O_RDWR, 0)
	if err != nil {
		return -1, fmt.Errorf("allocator: open shared object %q: %w", name, err)
	}

	return fd, nil
}

// unlinkShared removes a shared-memory object by name. Existing mappings of
// it remain valid until every process unmaps them.
func unlinkShared(name string) error {
	if err := unix.Unlink("/dev/shm/" + name); err != nil {
		return fmt.Errorf("allocator: unlink shared object %q: %w", name, err)
	}

	return nil
}

// unmapShared unmaps a view previously established by mapShared. On unix
// munmap is size-based and works uniformly for anonymous and shared
// mappings, so this just needs the original size.
func unmapShared(addr, size uintptr) error {
	return release(addr, size)
}

// closeShared closes a descriptor returned by createShared. The mapping
// itself, once established via mapShared, stays valid after the descriptor
// is closed.
func closeShared(h shmHandle) error {
	return unix.Close(h)
}

// reserve asks the kernel for size bytes of address space with no backing
// pages (PROT_NONE), optionally at a fixed address (used only when
// re-attaching to a previously published shared-memory layout). The region
// is not accessible until commit is called on it.
func reserve(size, fixed uintptr) (uintptr, error) {
	size = pageRoundUp(size)

	flags := unix.MAP_PRIVATE | unix.MAP_ANON
	if fixed != 0 {
		flags |= unix.MAP_FIXED
	}

	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_NONE, flags)
	if err != nil {
		return 0, fmt.Errorf("%w: mmap reserve: %v", ErrOutOfAddressSpace, err)
	}

	base := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	if fixed != 0 && base != fixed {
		_ = unix.Munmap(b)

		return 0, fmt.Errorf("%w: kernel ignored fixed address hint", ErrOutOfAddressSpace)
	}

	return base, nil
}

// commit makes [addr, addr+size) readable and writable.
func commit(addr, size uintptr) error {
	b := bytesAt(addr, pageRoundUp(size))
	if err := unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("allocator: mprotect commit: %w", err)
	}

	return nil
}

// uncommit returns [addr, addr+size) to PROT_NONE, letting the kernel
// reclaim its physical backing without releasing the address range itself.
func uncommit(addr, size uintptr) error {
	b := bytesAt(addr, pageRoundUp(size))
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("allocator: madvise uncommit: %w", err)
	}

	if err := unix.Mprotect(b, unix.PROT_NONE); err != nil {
		return fmt.Errorf("allocator: mprotect uncommit: %w", err)
	}

	return nil
}

// release unmaps [addr, addr+size) entirely, returning it to the OS.
func release(addr, size uintptr) error {
	b := bytesAt(addr, pageRoundUp(size))
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("allocator: munmap release: %w", err)
	}

	return nil
}

// mapShared maps size bytes of the shared-memory object behind fd,
// read-write, at a fixed address when addr != 0 (attach) or wherever the
// kernel chooses when addr == 0 (first creation).
func mapShared(fd shmHandle, size, addr uintptr) (uintptr, error) {
	size = pageRoundUp(size)

	flags := unix.MAP_SHARED
	if addr != 0 {
		flags |= unix.MAP_FIXED
	}

	b, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil {
		return 0, fmt.Errorf("allocator: mmap shared: %w", err)
	}

	base := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	if addr != 0 && base != addr {
		_ = unix.Munmap(b)

		return 0, fmt.Errorf("%w: shared mapping landed at wrong address", ErrOutOfAddressSpace)
	}

	return base, nil
}
