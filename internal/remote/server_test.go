package remote

import (
	"context"
	"net"
	"testing"

	"github.com/quic-go/qpack"
	"go.uber.org/mock/gomock"

	"github.com/orizon-lang/qba/internal/allocator"
)

func TestServerClientAllocateRoundTrip(t *testing.T) {
	dir, err := allocator.Create()
	if err != nil {
		t.Fatalf("allocator.Create: %v", err)
	}
	defer dir.Destroy()

	srv := NewServer(dir, nil)

	clientConn, serverConn := net.Pipe()

	ctrl := gomock.NewController(t)
	mt := NewMockTransport(ctrl)
	mt.EXPECT().OpenStream(gomock.Any()).Return(Stream(clientConn), nil)

	go srv.handleStream(serverConn)

	client := NewClient(mt)

	addr, err := client.Allocate(context.Background(), 64)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if addr == 0 {
		t.Fatal("Allocate returned a zero address")
	}

	size, found := dir.Size(addr)
	if !found || size < 64 {
		t.Fatalf("Size(addr) = (%d,%v), want (>=64,true)", size, found)
	}
}

func TestServerClientDeallocateRoundTrip(t *testing.T) {
	dir, err := allocator.Create()
	if err != nil {
		t.Fatalf("allocator.Create: %v", err)
	}
	defer dir.Destroy()

	addr, err := dir.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	srv := NewServer(dir, nil)

	clientConn, serverConn := net.Pipe()

	ctrl := gomock.NewController(t)
	mt := NewMockTransport(ctrl)
	mt.EXPECT().OpenStream(gomock.Any()).Return(Stream(clientConn), nil)

	go srv.handleStream(serverConn)

	client := NewClient(mt)

	if err := client.Deallocate(context.Background(), addr); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}

	if _, ok := dir.Size(addr); ok {
		t.Fatal("address should no longer be live in the Director after a remote Deallocate")
	}
}

func TestServerClientStatsRoundTrip(t *testing.T) {
	dir, err := allocator.Create()
	if err != nil {
		t.Fatalf("allocator.Create: %v", err)
	}
	defer dir.Destroy()

	if _, err := dir.Allocate(32); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	srv := NewServer(dir, nil)

	clientConn, serverConn := net.Pipe()

	ctrl := gomock.NewController(t)
	mt := NewMockTransport(ctrl)
	mt.EXPECT().OpenStream(gomock.Any()).Return(Stream(clientConn), nil)

	go srv.handleStream(serverConn)

	client := NewClient(mt)

	counts, _, err := client.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	if counts[5] != 1 {
		t.Fatalf("counts[5] = %d, want 1 (one 32-byte allocation)", counts[5])
	}

	if counts[0] != counts[5] {
		t.Fatalf("counts[0] = %d, want sum of nonzero slots (%d)", counts[0], counts[5])
	}
}

func TestServerUnknownMethodReturnsError(t *testing.T) {
	dir, err := allocator.Create()
	if err != nil {
		t.Fatalf("allocator.Create: %v", err)
	}
	defer dir.Destroy()

	srv := NewServer(dir, nil)

	clientConn, serverConn := net.Pipe()

	go srv.handleStream(serverConn)

	req := frame{
		headers: []qpack.HeaderField{
			{Name: "method", Value: "bogus-method"},
			{Name: headerRequestID, Value: "1"},
		},
	}

	if err := writeFrame(clientConn, req); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	resp, err := readFrame(clientConn)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}

	status, _ := resp.header(headerStatus)
	if status != statusError {
		t.Fatalf("status = %q, want %q", status, statusError)
	}
}
