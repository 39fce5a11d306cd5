package allocator

import "fmt"

// Backing selects where a Director's metadata and spans are committed.
type Backing int

const (
	// BackingPrivate commits ordinary process-private memory via the OS
	// façade. This is the common case: one allocator, one process.
	BackingPrivate Backing = iota

	// BackingShared commits a named shared-memory object so multiple
	// processes can attach to the same Director and coordinate allocation
	// through the same registries (spec.md §1, §7).
	BackingShared
)

// CreateParams configures a Director at construction time (spec.md §4.7
// "create"). It follows the functional-options shape the rest of this
// codebase already uses for allocator configuration.
type CreateParams struct {
	// Backing selects private vs. shared-memory metadata.
	Backing Backing

	// SharedName identifies the shared-memory object when Backing ==
	// BackingShared. Every process attaching to the same Director must
	// supply the same SharedName.
	SharedName string

	// SmallSpan, MediumSpan, LargeSpan are the fixed span sizes, in bytes,
	// of the partition slots in each of the three QuantumAllocator tiers
	// (orders [3,10], [11,18], [19,26] respectively).
	SmallSpan, MediumSpan, LargeSpan uintptr

	// SmallSlots, MediumSlots, LargeSlots set how many partition slots
	// each tier's pool starts with.
	SmallSlots, MediumSlots, LargeSlots int

	// Alignment must be a power of two and is part of the shared-layout
	// fingerprint. The layout does not pad or align allocations to it: a
	// quantum's address is its partition span's start plus a multiple of
	// the quantum size.
	Alignment uintptr

	// SideDataSize is the number of off-band bytes reserved per quantum for
	// the side_data() API (spec.md §4.7). Zero disables the side channel:
	// side_data() then always reports none available.
	SideDataSize uintptr

	// Secure makes deallocate() zero a block's bytes before recycling it
	// (spec.md §4.7 "deallocate", §8 property 8). Off by default, matching
	// the spec's default create() tuple.
	Secure bool

	// Diagnostics receives warnings and errors the allocator itself never
	// returns to the caller (e.g. a shared-memory link disappearing out
	// from under a running Director). A nil value disables logging.
	Diagnostics Diagnostics

	// WatchSharedLink, when non-empty and Backing == BackingShared, makes
	// the Director watch this path for removal and mark itself unusable
	// the moment it disappears (spec.md §7, supplemented: SPEC_FULL.md §10.3).
	WatchSharedLink string
}

// Option mutates a CreateParams during Director construction.
type Option func(*CreateParams)

// defaultCreateParams sets the default tier sizing: three contiguous 8-order
// windows spanning quantum orders [3,26], sized so
// every partition stays within the registry's 16384-bit cap.
func defaultCreateParams() *CreateParams {
	return &CreateParams{
		Backing:     BackingPrivate,
		SmallSpan:   128 * 1024,        // 16384 quanta at order 3 (8 B)
		MediumSpan:  32 * 1024 * 1024,  // 16384 quanta at order 11 (2 KiB)
		LargeSpan:   128 * 1024 * 1024, // 256 quanta at order 19 (512 KiB)
		SmallSlots:   4,
		MediumSlots:  2,
		LargeSlots:   1,
		Alignment:    8,
		SideDataSize: 16,
		Diagnostics:  NewNopDiagnostics(),
	}
}

// WithShared selects shared-memory backing under name.
func WithShared(name string) Option {
	return func(p *CreateParams) {
		p.Backing = BackingShared
		p.SharedName = name
	}
}

// WithWatchSharedLink makes a shared Director watch path for removal.
func WithWatchSharedLink(path string) Option {
	return func(p *CreateParams) { p.WatchSharedLink = path }
}

// WithSpans overrides the three tiers' partition span sizes.
func WithSpans(small, medium, large uintptr) Option {
	return func(p *CreateParams) {
		p.SmallSpan, p.MediumSpan, p.LargeSpan = small, medium, large
	}
}

// WithSlotCounts overrides how many partition slots each tier starts with.
func WithSlotCounts(small, medium, large int) Option {
	return func(p *CreateParams) {
		p.SmallSlots, p.MediumSlots, p.LargeSlots = small, medium, large
	}
}

// WithAlignment overrides CreateParams.Alignment.
func WithAlignment(alignment uintptr) Option {
	return func(p *CreateParams) { p.Alignment = alignment }
}

// WithSideData overrides the per-quantum side-data byte budget. A size of
// zero disables the side-data channel.
func WithSideData(size uintptr) Option {
	return func(p *CreateParams) { p.SideDataSize = size }
}

// WithDiagnostics overrides the diagnostics sink. Pass NewNopDiagnostics()
// to silence logging entirely.
func WithDiagnostics(d Diagnostics) Option {
	return func(p *CreateParams) { p.Diagnostics = d }
}

// WithSecure makes deallocate() zero a block before it is recycled.
func WithSecure() Option {
	return func(p *CreateParams) { p.Secure = true }
}

// resolve applies opts over the defaults and validates the result.
func resolveCreateParams(opts ...Option) (*CreateParams, error) {
	p := defaultCreateParams()
	for _, opt := range opts {
		opt(p)
	}

	if p.Diagnostics == nil {
		p.Diagnostics = NewNopDiagnostics()
	}

	if err := p.validate(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *CreateParams) validate() error {
	if p.Backing == BackingShared && p.SharedName == "" {
		return fmt.Errorf("allocator: shared backing requires a non-empty SharedName")
	}

	if p.Alignment == 0 || p.Alignment&(p.Alignment-1) != 0 {
		return fmt.Errorf("allocator: alignment %d is not a power of two", p.Alignment)
	}

	for _, span := range []struct {
		name string
		min  int
		max  int
		v    uintptr
	}{
		{"SmallSpan", smallestSizeOrder, 10, p.SmallSpan},
		{"MediumSpan", 11, 18, p.MediumSpan},
		{"LargeSpan", 19, largestQuantumOrder, p.LargeSpan},
	} {
		if span.v == 0 || span.v&(span.v-1) != 0 {
			return fmt.Errorf("allocator: %s (%d) must be a power of two", span.name, span.v)
		}

		quantaAtMinOrder := span.v >> uint(span.min)
		if quantaAtMinOrder > maxRegistryBits {
			return fmt.Errorf("allocator: %s (%d) needs %d quanta at order %d, exceeding the %d-bit registry cap", span.name, span.v, quantaAtMinOrder, span.min, maxRegistryBits)
		}

		if span.v < sizeOfOrder(span.max) {
			return fmt.Errorf("allocator: %s (%d) is smaller than one quantum at its own top order %d", span.name, span.v, span.max)
		}
	}

	if p.SmallSlots <= 0 || p.MediumSlots <= 0 || p.LargeSlots <= 0 {
		return fmt.Errorf("allocator: every tier needs at least one partition slot")
	}

	return nil
}
