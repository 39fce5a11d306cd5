// Command qba-bench exercises a Director with a simple allocate/deallocate
// workload and reports throughput.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/orizon-lang/qba/internal/allocator"
)

func main() {
	var (
		size     uint64
		count    int
		shared   string
		sideData uint64
	)

	flag.Uint64Var(&size, "size", 64, "allocation size in bytes")
	flag.IntVar(&count, "count", 100000, "number of allocate/deallocate cycles")
	flag.StringVar(&shared, "shared", "", "shared-memory object name (empty = private)")
	flag.Uint64Var(&sideData, "side-data", 16, "per-allocation side-data bytes")
	flag.Parse()

	opts := []allocator.Option{allocator.WithSideData(uintptr(sideData))}
	if shared != "" {
		opts = append(opts, allocator.WithShared(shared))
	}

	dir, err := allocator.Create(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qba-bench: create: %v\n", err)
		os.Exit(1)
	}
	defer dir.Destroy()

	fmt.Printf("=== QBA bench: %d cycles of %d-byte allocations ===\n", count, size)

	addrs := make([]uintptr, count)

	start := time.Now()

	for i := 0; i < count; i++ {
		addr, err := dir.Allocate(uintptr(size))
		if err != nil {
			fmt.Fprintf(os.Stderr, "qba-bench: allocate %d: %v\n", i, err)
			os.Exit(1)
		}

		addrs[i] = addr
	}

	allocElapsed := time.Since(start)

	start = time.Now()

	for _, addr := range addrs {
		if err := dir.Deallocate(addr); err != nil {
			fmt.Fprintf(os.Stderr, "qba-bench: deallocate: %v\n", err)
			os.Exit(1)
		}
	}

	freeElapsed := time.Since(start)

	fmt.Printf("allocate: %v total, %v/op\n", allocElapsed, allocElapsed/time.Duration(count))
	fmt.Printf("free:     %v total, %v/op\n", freeElapsed, freeElapsed/time.Duration(count))

	var counts, sizes [64]uint64

	dir.Stats(&counts, &sizes)
	fmt.Printf("stats: live_total=%d admin_bytes=%d live_bytes=%d\n", counts[0], sizes[1], sizes[0]-sizes[1])
	fmt.Printf("version: %s\n", dir.VersionString())
}
