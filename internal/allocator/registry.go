package allocator

import "sync/atomic"

// registry is a lock-free atomic bitmap of up to 16384 bits, backed by a
// caller-supplied word slice so it can live inside shared memory (spec.md
// §3 "Registry", §4.3). A set bit means "in use"; a clear bit means "free".
//
// registry never allocates its own backing store: Director.layout carves
// each partition slot's word slice from an arena (internal/allocator/arena.go),
// so the same bytes can be re-mapped by every process attached to a shared
// Director.
type registry struct {
	words          []uint64
	n              uint32 // active bit count
	lowestFreeWord uint32 // best-effort lower bound on the first word with a free bit
}

const maxRegistryBits = 16384

// newRegistry wraps words (len(words) must be >= ceil(capacityBits/64)) as a
// registry initialized to n active free bits.
func newRegistry(words []uint64, n int) *registry {
	r := &registry{words: words}
	r.reinit(n)

	return r
}

// reinit re-initializes the registry to n active bits, all free, without
// reallocating the backing word slice. Bits at or beyond n (including in
// whole words beyond the active range) are permanently marked set so they
// are never reported as free.
func (r *registry) reinit(n int) {
	nWords := (n + 63) / 64

	for i := range r.words {
		switch {
		case i < nWords-1:
			atomic.StoreUint64(&r.words[i], 0)
		case i == nWords-1:
			rem := n - i*64
			switch {
			case rem <= 0:
				atomic.StoreUint64(&r.words[i], ^uint64(0))
			case rem >= 64:
				atomic.StoreUint64(&r.words[i], 0)
			default:
				atomic.StoreUint64(&r.words[i], ^uint64(0)<<uint(rem))
			}
		default:
			atomic.StoreUint64(&r.words[i], ^uint64(0))
		}
	}

	atomic.StoreUint32(&r.n, uint32(n))
	atomic.StoreUint32(&r.lowestFreeWord, 0)
}

func (r *registry) bitCount() int { return int(atomic.LoadUint32(&r.n)) }

func (r *registry) wordCount() int { return (r.bitCount() + 63) / 64 }

// isSet performs a weakly consistent read of bit i.
func (r *registry) isSet(i int) bool {
	w := atomic.LoadUint64(&r.words[i/64])

	return w&(uint64(1)<<uint(i%64)) != 0
}

// set attempts a CAS transition of bit i from 0 to 1. Returns true iff that
// transition was observed.
func (r *registry) set(i int) bool {
	wi, bit := i/64, uint64(1)<<uint(i%64)

	for {
		old := atomic.LoadUint64(&r.words[wi])
		if old&bit != 0 {
			return false
		}

		if atomic.CompareAndSwapUint64(&r.words[wi], old, old|bit) {
			return true
		}
	}
}

// clear unconditionally clears bit i. Returns true iff a 1->0 transition was
// observed.
func (r *registry) clear(i int) bool {
	wi, bit := i/64, uint64(1)<<uint(i%64)

	for {
		old := atomic.LoadUint64(&r.words[wi])
		if old&bit == 0 {
			return false
		}

		if atomic.CompareAndSwapUint64(&r.words[wi], old, old&^bit) {
			return true
		}
	}
}

// updateLowest pulls the lowest-free-word hint down to wi if wi precedes it;
// the hint is a lower bound and must never overshoot a truly free word.
func (r *registry) updateLowest(wi int) {
	for {
		cur := atomic.LoadUint32(&r.lowestFreeWord)
		if uint32(wi) >= cur {
			return
		}

		if atomic.CompareAndSwapUint32(&r.lowestFreeWord, cur, uint32(wi)) {
			return
		}
	}
}

// bumpPast advances the lowest-free-word hint past wi, which the caller has
// just observed to be fully set. Losing the CAS is a no-op: some other
// thread's value is adopted.
func (r *registry) bumpPast(wi int) {
	cur := atomic.LoadUint32(&r.lowestFreeWord)
	if cur == uint32(wi) {
		atomic.CompareAndSwapUint32(&r.lowestFreeWord, cur, cur+1)
	}
}

// findFree returns the smallest free bit index and atomically claims it, or
// notFound. The scan starts at the lowest-free-word hint.
func (r *registry) findFree() int {
	nWords := r.wordCount()

	for wi := int(atomic.LoadUint32(&r.lowestFreeWord)); wi < nWords; wi++ {
		for {
			w := atomic.LoadUint64(&r.words[wi])
			if w == ^uint64(0) {
				r.bumpPast(wi)

				break
			}

			zero := lowZeroBit(w)
			bitIdx := ctz(zero)

			if atomic.CompareAndSwapUint64(&r.words[wi], w, w|zero) {
				return wi*64 + bitIdx
			}
		}
	}

	return notFound
}

// probeRun does a non-claiming scan for the smallest index starting a run of
// n consecutive free bits. Bits beyond the active range are always set by
// reinit, so the probe naturally stops at the registry boundary.
func (r *registry) probeRun(n int) int {
	total := r.bitCount()

	run, runStart := 0, notFound
	for i := 0; i < total; i++ {
		w := atomic.LoadUint64(&r.words[i/64])
		if w&(uint64(1)<<uint(i%64)) == 0 {
			if run == 0 {
				runStart = i
			}

			run++
			if run == n {
				return runStart
			}
		} else {
			run, runStart = 0, notFound
		}
	}

	return notFound
}

type claimedRange struct {
	wi   int
	mask uint64
}

// claimRun attempts to atomically claim the run [start, start+n) bit by bit,
// word at a time. On conflict (another thread claimed part of the run first)
// it rolls back everything it already claimed and reports failure so the
// caller can restart the outer scan.
func (r *registry) claimRun(start, n int) bool {
	startWord, endWord := start/64, (start+n-1)/64
	claimed := make([]claimedRange, 0, endWord-startWord+1)

	for wi := startWord; wi <= endWord; wi++ {
		lo := 0
		if wi == startWord {
			lo = start % 64
		}

		hi := 63
		if wi == endWord {
			hi = (start + n - 1) % 64
		}

		width := hi - lo + 1
		mask := ((uint64(1) << uint(width)) - 1) << uint(lo)

		old := atomic.LoadUint64(&r.words[wi])
		if old&mask != 0 || !atomic.CompareAndSwapUint64(&r.words[wi], old, old|mask) {
			for _, c := range claimed {
				r.andNot(c.wi, c.mask)
			}

			return false
		}

		claimed = append(claimed, claimedRange{wi: wi, mask: mask})
	}

	return true
}

// findFreeRun returns the smallest index starting a run of n contiguous free
// bits and atomically claims all of them, or notFound.
func (r *registry) findFreeRun(n int) int {
	if n <= 0 {
		return notFound
	}

	for {
		start := r.probeRun(n)
		if start == notFound {
			return notFound
		}

		if r.claimRun(start, n) {
			return start
		}
	}
}

// free clears bit i and updates the lowest-free-word hint.
func (r *registry) free(i int) {
	r.clear(i)
	r.updateLowest(i / 64)
}

// freeRun clears [i, i+n) and updates the lowest-free-word hint.
func (r *registry) freeRun(i, n int) {
	for k := i; k < i+n; k++ {
		r.clear(k)
	}

	r.updateLowest(i / 64)
}

// andNot atomically clears the bits in mask within word wi via CAS retry.
func (r *registry) andNot(wi int, mask uint64) {
	for {
		old := atomic.LoadUint64(&r.words[wi])
		if atomic.CompareAndSwapUint64(&r.words[wi], old, old&^mask) {
			return
		}
	}
}

// claimWordFull CASes word wi straight to all-ones, returning the mask of
// bits that transitioned 0->1 (i.e. the bits this call actually claimed) and
// whether anything was free to claim at all.
func (r *registry) claimWordFull(wi int) (claimedMask uint64, ok bool) {
	for {
		old := atomic.LoadUint64(&r.words[wi])
		if old == ^uint64(0) {
			return 0, false
		}

		if atomic.CompareAndSwapUint64(&r.words[wi], old, ^uint64(0)) {
			return ^old, true
		}
	}
}

// count is a sampled (non-linearized) popcount over the active bit range.
func (r *registry) count() int {
	n := r.bitCount()
	nWords := r.wordCount()

	total := 0
	for wi := 0; wi < nWords; wi++ {
		w := atomic.LoadUint64(&r.words[wi])
		if wi == nWords-1 {
			rem := n - wi*64
			if rem < 64 {
				w &= (uint64(1) << uint(rem)) - 1
			}
		}

		total += popcount(w)
	}

	return total
}

// isEmpty is a hint, not a linearized fact: it may yield false negatives
// under concurrent modification.
func (r *registry) isEmpty() bool {
	if atomic.LoadUint32(&r.lowestFreeWord) != 0 {
		return false
	}

	n := r.bitCount()
	nWords := r.wordCount()

	for wi := 0; wi < nWords; wi++ {
		w := atomic.LoadUint64(&r.words[wi])
		if wi == nWords-1 {
			rem := n - wi*64
			if rem < 64 {
				w &= (uint64(1) << uint(rem)) - 1
			}
		}

		if w != 0 {
			return false
		}
	}

	return true
}

// nextSet scans for the next set bit strictly after index after, or
// notFound. Used by Partition.nextAllocation to walk live allocations.
func (r *registry) nextSet(after int) int {
	n := r.bitCount()
	for i := after + 1; i < n; i++ {
		if r.isSet(i) {
			return i
		}
	}

	return notFound
}

// registryWordsNeeded returns how many uint64 words are needed to back a
// registry capable of holding capacityBits active bits.
func registryWordsNeeded(capacityBits int) int {
	return (capacityBits + 63) / 64
}
