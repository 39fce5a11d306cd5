//go:build windows

package allocator

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// reserve asks the kernel for size bytes of address space with no backing
// pages, optionally at a fixed address (used only when re-attaching to a
// previously published shared-memory layout).
func reserve(size, fixed uintptr) (uintptr, error) {
	size = pageRoundUp(size)

	addr, err := windows.VirtualAlloc(fixed, size, windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		return 0, fmt.Errorf("%w: VirtualAlloc reserve: %v", ErrOutOfAddressSpace, err)
	}

	if fixed != 0 && addr != fixed {
		_ = windows.VirtualFree(addr, 0, windows.MEM_RELEASE)

		return 0, fmt.Errorf("%w: kernel ignored fixed address hint", ErrOutOfAddressSpace)
	}

	return addr, nil
}

// commit makes [addr, addr+size) readable and writable.
func commit(addr, size uintptr) error {
	_, err := windows.VirtualAlloc(addr, pageRoundUp(size), windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return fmt.Errorf("allocator: VirtualAlloc commit: %w", err)
	}

	return nil
}

// uncommit decommits [addr, addr+size) without releasing the address range.
func uncommit(addr, size uintptr) error {
	if err := windows.VirtualFree(addr, pageRoundUp(size), windows.MEM_DECOMMIT); err != nil {
		return fmt.Errorf("allocator: VirtualFree decommit: %w", err)
	}

	return nil
}

// release frees the entire reservation starting at addr.
func release(addr, size uintptr) error {
	_ = size

	if err := windows.VirtualFree(addr, 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("allocator: VirtualFree release: %w", err)
	}

	return nil
}

// shmHandle is a Windows file-mapping object backing a shared-memory region.
type shmHandle = windows.Handle

// mapShared maps size bytes of the file mapping object h, read-write, at a
// fixed address when addr != 0 (attach) or wherever the kernel chooses when
// addr == 0 (first creation).
func mapShared(h shmHandle, size, addr uintptr) (uintptr, error) {
	size = pageRoundUp(size)

	base, err := windows.MapViewOfFileEx(h, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, size, addr)
	if err != nil {
		return 0, fmt.Errorf("allocator: MapViewOfFileEx: %w", err)
	}

	if addr != 0 && base != addr {
		_ = windows.UnmapViewOfFile(base)

		return 0, fmt.Errorf("%w: shared mapping landed at wrong address", ErrOutOfAddressSpace)
	}

	return base, nil
}

// createShared creates a page-file-backed named file mapping of size bytes,
// the Windows analogue of POSIX shm_open + ftruncate.
func createShared(name string, size uintptr) (shmHandle, error) {
	size = pageRoundUp(size)

	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, fmt.Errorf("allocator: shared mapping name: %w", err)
	}

	h, err := windows.CreateFileMapping(
		windows.InvalidHandle,
		nil,
		windows.PAGE_READWRITE,
		uint32(uint64(size)>>32),
		uint32(size),
		namePtr,
	)
	if err != nil {
		return 0, fmt.Errorf("allocator: CreateFileMapping: %w", err)
	}

	return h, nil
}

// openShared opens a previously-created named file mapping for a second
// process attaching to an existing Director.
func openShared(name string) (shmHandle, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, fmt.Errorf("allocator: shared mapping name: %w", err)
	}

	h, err := windows.OpenFileMapping(windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, false, namePtr)
	if err != nil {
		return 0, fmt.Errorf("allocator: OpenFileMapping %q: %w", name, err)
	}

	return h, nil
}

// unlinkShared is a no-op on Windows: named file mappings are reference
// counted and disappear once every handle/view referencing them closes.
func unlinkShared(name string) error {
	_ = name

	return nil
}

// unmapShared unmaps a view previously established by mapShared. Unlike
// release, it must go through UnmapViewOfFile rather than VirtualFree. size
// is accepted only to keep the signature uniform with the unix build.
func unmapShared(addr, size uintptr) error {
	_ = size

	if err := windows.UnmapViewOfFile(addr); err != nil {
		return fmt.Errorf("allocator: UnmapViewOfFile: %w", err)
	}

	return nil
}

// closeShared closes a handle returned by createShared. The mapping itself,
// once established via mapShared, stays valid after the handle is closed.
func closeShared(h shmHandle) error {
	return windows.CloseHandle(h)
}
