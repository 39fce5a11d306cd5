package remote

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/quic-go/qpack"
)

// Client issues RPCs against a remote Server over a Transport, wrapping the
// same surface allocator.Director exposes in-process (SPEC_FULL.md §10.5).
type Client struct {
	t Transport
}

// NewClient wraps t, typically a *quicTransport from DialTransport, or a
// mock in tests.
func NewClient(t Transport) *Client {
	return &Client{t: t}
}

func (c *Client) roundTrip(ctx context.Context, method string, payload []byte) ([]byte, error) {
	stream, err := c.t.OpenStream(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	reqID := newRequestID()

	req := frame{
		headers: []qpack.HeaderField{
			{Name: "method", Value: method},
			{Name: headerRequestID, Value: reqID},
		},
		payload: payload,
	}

	if err := writeFrame(stream, req); err != nil {
		return nil, fmt.Errorf("remote: writing %s request: %w", method, err)
	}

	resp, err := readFrame(stream)
	if err != nil {
		return nil, fmt.Errorf("remote: reading %s response: %w", method, err)
	}

	status, _ := resp.header(headerStatus)
	if status == statusError {
		return nil, fmt.Errorf("remote: %s: %s", method, string(resp.payload))
	}

	return resp.payload, nil
}

func newRequestID() string {
	var b [8]byte

	_, _ = rand.Read(b[:])

	return hex.EncodeToString(b[:])
}

// Allocate mirrors allocator.Director.Allocate.
func (c *Client) Allocate(ctx context.Context, size uintptr) (uintptr, error) {
	payload, err := c.roundTrip(ctx, methodAllocate, encodeUint64s(uint64(size)))
	if err != nil {
		return 0, err
	}

	out, ok := decodeUint64s(payload, 1)
	if !ok {
		return 0, fmt.Errorf("remote: malformed allocate response")
	}

	return uintptr(out[0]), nil
}

// AllocateFit mirrors allocator.Director.AllocateFit.
func (c *Client) AllocateFit(ctx context.Context, size uintptr, degree int) (uintptr, error) {
	payload, err := c.roundTrip(ctx, methodAllocateFit, encodeUint64s(uint64(size), uint64(degree)))
	if err != nil {
		return 0, err
	}

	out, ok := decodeUint64s(payload, 1)
	if !ok {
		return 0, fmt.Errorf("remote: malformed allocate_fit response")
	}

	return uintptr(out[0]), nil
}

// AllocateCount mirrors allocator.Director.AllocateCount.
func (c *Client) AllocateCount(ctx context.Context, size uintptr, n int) ([]uintptr, error) {
	payload, err := c.roundTrip(ctx, methodAllocateCount, encodeUint64s(uint64(size), uint64(n)))
	if err != nil {
		return nil, err
	}

	raw, ok := decodeUint64s(payload, len(payload)/8)
	if !ok {
		return nil, fmt.Errorf("remote: malformed allocate_count response")
	}

	out := make([]uintptr, len(raw))
	for i, v := range raw {
		out[i] = uintptr(v)
	}

	return out, nil
}

// AllocateBulkContiguous mirrors allocator.Director.AllocateBulkContiguous.
func (c *Client) AllocateBulkContiguous(ctx context.Context, size uintptr, n int) (uintptr, error) {
	payload, err := c.roundTrip(ctx, methodAllocateBulkContig, encodeUint64s(uint64(size), uint64(n)))
	if err != nil {
		return 0, err
	}

	out, ok := decodeUint64s(payload, 1)
	if !ok {
		return 0, fmt.Errorf("remote: malformed allocate_bulk_contiguous response")
	}

	return uintptr(out[0]), nil
}

// Deallocate mirrors allocator.Director.Deallocate.
func (c *Client) Deallocate(ctx context.Context, addr uintptr) error {
	_, err := c.roundTrip(ctx, methodDeallocate, encodeUint64s(uint64(addr)))

	return err
}

// DeallocateBulk mirrors allocator.Director.DeallocateBulk.
func (c *Client) DeallocateBulk(ctx context.Context, addrs []uintptr) error {
	vs := make([]uint64, len(addrs))
	for i, a := range addrs {
		vs[i] = uint64(a)
	}

	_, err := c.roundTrip(ctx, methodDeallocateBulk, encodeUint64s(vs...))

	return err
}

// Reallocate mirrors allocator.Director.Reallocate.
func (c *Client) Reallocate(ctx context.Context, addr, newSize uintptr) (uintptr, error) {
	payload, err := c.roundTrip(ctx, methodReallocate, encodeUint64s(uint64(addr), uint64(newSize)))
	if err != nil {
		return 0, err
	}

	out, ok := decodeUint64s(payload, 1)
	if !ok {
		return 0, fmt.Errorf("remote: malformed reallocate response")
	}

	return uintptr(out[0]), nil
}

// Size mirrors allocator.Director.Size.
func (c *Client) Size(ctx context.Context, addr uintptr) (uintptr, bool, error) {
	payload, err := c.roundTrip(ctx, methodSize, encodeUint64s(uint64(addr)))
	if err != nil {
		return 0, false, err
	}

	raw, found := decodeBytesPayload(payload)
	out, ok := decodeUint64s(raw, 1)

	if !ok {
		return 0, false, fmt.Errorf("remote: malformed size response")
	}

	return uintptr(out[0]), found, nil
}

// Base mirrors allocator.Director.Base.
func (c *Client) Base(ctx context.Context, addr uintptr) (uintptr, bool, error) {
	payload, err := c.roundTrip(ctx, methodBase, encodeUint64s(uint64(addr)))
	if err != nil {
		return 0, false, err
	}

	raw, found := decodeBytesPayload(payload)
	out, ok := decodeUint64s(raw, 1)

	if !ok {
		return 0, false, fmt.Errorf("remote: malformed base response")
	}

	return uintptr(out[0]), found, nil
}

// SideData mirrors allocator.Director.SideData.
func (c *Client) SideData(ctx context.Context, addr uintptr) ([]byte, error) {
	payload, err := c.roundTrip(ctx, methodSideData, encodeUint64s(uint64(addr)))
	if err != nil {
		return nil, err
	}

	raw, found := decodeBytesPayload(payload)
	if !found {
		return nil, nil
	}

	return raw, nil
}

// Next mirrors allocator.Director.Next.
func (c *Client) Next(ctx context.Context, addr uintptr) (uintptr, bool, error) {
	payload, err := c.roundTrip(ctx, methodNext, encodeUint64s(uint64(addr)))
	if err != nil {
		return 0, false, err
	}

	raw, found := decodeBytesPayload(payload)
	out, ok := decodeUint64s(raw, 1)

	if !ok {
		return 0, false, fmt.Errorf("remote: malformed next response")
	}

	return uintptr(out[0]), found, nil
}

// Stats mirrors allocator.Director.Stats, returning the 64-slot counts and
// sizes arrays instead of populating them in place (no pointer aliasing
// across an RPC boundary).
func (c *Client) Stats(ctx context.Context) (counts, sizes [64]uint64, err error) {
	payload, err := c.roundTrip(ctx, methodStats, nil)
	if err != nil {
		return counts, sizes, err
	}

	out, ok := decodeUint64s(payload, 128)
	if !ok {
		return counts, sizes, fmt.Errorf("remote: malformed stats response")
	}

	copy(counts[:], out[:64])
	copy(sizes[:], out[64:])

	return counts, sizes, nil
}

// Version mirrors allocator.Director.Version.
func (c *Client) Version(ctx context.Context) (major, minor, patch uint64, err error) {
	payload, err := c.roundTrip(ctx, methodVersion, nil)
	if err != nil {
		return 0, 0, 0, err
	}

	out, ok := decodeUint64s(payload, 3)
	if !ok {
		return 0, 0, 0, fmt.Errorf("remote: malformed version response")
	}

	return out[0], out[1], out[2], nil
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.t.Close()
}
