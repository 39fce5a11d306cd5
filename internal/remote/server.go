package remote

import (
	"context"
	"crypto/tls"
	"fmt"

	quic "github.com/quic-go/quic-go"
	"github.com/quic-go/qpack"

	"github.com/orizon-lang/qba/internal/allocator"
)

// Server wraps a local *allocator.Director and answers remote RPCs against it
// (SPEC_FULL.md §10.5). A Server is safe to drive from many concurrently
// accepted streams: every Director method it calls is already safe for
// concurrent use.
type Server struct {
	dir  *allocator.Director
	diag allocator.Diagnostics
}

// NewServer wraps dir. diag may be nil, in which case server errors are
// silently dropped (matching allocator.Diagnostics' own nil-safe contract).
func NewServer(dir *allocator.Director, diag allocator.Diagnostics) *Server {
	if diag == nil {
		diag = allocator.NewNopDiagnostics()
	}

	return &Server{dir: dir, diag: diag}
}

// ListenAndServe accepts QUIC connections on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string, tlsCfg *tls.Config) error {
	ln, err := quic.ListenAddr(addr, defaultTLSConfig(tlsCfg), nil)
	if err != nil {
		return err
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		go s.serveConn(ctx, &quicTransport{conn: conn})
	}
}

// ServeTransport answers every stream Transport accepts until ctx is
// canceled or AcceptStream errors. It is exported separately from
// ListenAndServe so tests can drive a Server over a mock Transport without a
// real UDP socket.
func (s *Server) ServeTransport(ctx context.Context, t Transport) error {
	return s.serveConn(ctx, t)
}

func (s *Server) serveConn(ctx context.Context, t Transport) error {
	for {
		stream, err := t.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		go s.handleStream(stream)
	}
}

func (s *Server) handleStream(stream Stream) {
	defer stream.Close()

	req, err := readFrame(stream)
	if err != nil {
		s.diag.Warnf("remote: reading request frame: %v", err)

		return
	}

	resp := s.dispatch(req)

	if err := writeFrame(stream, resp); err != nil {
		s.diag.Warnf("remote: writing response frame: %v", err)
	}
}

func (s *Server) dispatch(req frame) frame {
	method, _ := req.header("method")
	reqID, _ := req.header(headerRequestID)

	payload, err := s.call(method, req.payload)

	status := statusOK
	if err != nil {
		status = statusError
		payload = []byte(err.Error())
	}

	return frame{
		headers: []qpack.HeaderField{
			{Name: "method", Value: method},
			{Name: headerRequestID, Value: reqID},
			{Name: headerStatus, Value: status},
		},
		payload: payload,
	}
}

func (s *Server) call(method string, payload []byte) ([]byte, error) {
	switch method {
	case methodAllocate:
		args, ok := decodeUint64s(payload, 1)
		if !ok {
			return nil, fmt.Errorf("remote: malformed %s payload", method)
		}

		addr, err := s.dir.Allocate(uintptr(args[0]))

		return encodeUint64s(uint64(addr)), err

	case methodAllocateFit:
		args, ok := decodeUint64s(payload, 2)
		if !ok {
			return nil, fmt.Errorf("remote: malformed %s payload", method)
		}

		addr, err := s.dir.AllocateFit(uintptr(args[0]), int(args[1]))

		return encodeUint64s(uint64(addr)), err

	case methodAllocateCount:
		args, ok := decodeUint64s(payload, 2)
		if !ok {
			return nil, fmt.Errorf("remote: malformed %s payload", method)
		}

		addrs, err := s.dir.AllocateCount(uintptr(args[0]), int(args[1]))
		if err != nil {
			return nil, err
		}

		out := make([]uint64, len(addrs))
		for i, a := range addrs {
			out[i] = uint64(a)
		}

		return encodeUint64s(out...), nil

	case methodAllocateBulkContig:
		args, ok := decodeUint64s(payload, 2)
		if !ok {
			return nil, fmt.Errorf("remote: malformed %s payload", method)
		}

		addr, err := s.dir.AllocateBulkContiguous(uintptr(args[0]), int(args[1]))

		return encodeUint64s(uint64(addr)), err

	case methodDeallocate:
		args, ok := decodeUint64s(payload, 1)
		if !ok {
			return nil, fmt.Errorf("remote: malformed %s payload", method)
		}

		return nil, s.dir.Deallocate(uintptr(args[0]))

	case methodDeallocateBulk:
		n := len(payload) / 8

		args, ok := decodeUint64s(payload, n)
		if !ok {
			return nil, fmt.Errorf("remote: malformed %s payload", method)
		}

		addrs := make([]uintptr, n)
		for i, a := range args {
			addrs[i] = uintptr(a)
		}

		return nil, s.dir.DeallocateBulk(addrs)

	case methodReallocate:
		args, ok := decodeUint64s(payload, 2)
		if !ok {
			return nil, fmt.Errorf("remote: malformed %s payload", method)
		}

		addr, err := s.dir.Reallocate(uintptr(args[0]), uintptr(args[1]))

		return encodeUint64s(uint64(addr)), err

	case methodSize:
		args, ok := decodeUint64s(payload, 1)
		if !ok {
			return nil, fmt.Errorf("remote: malformed %s payload", method)
		}

		size, found := s.dir.Size(uintptr(args[0]))

		return encodeBytesPayload(encodeUint64s(uint64(size)), found), nil

	case methodBase:
		args, ok := decodeUint64s(payload, 1)
		if !ok {
			return nil, fmt.Errorf("remote: malformed %s payload", method)
		}

		base, found := s.dir.Base(uintptr(args[0]))

		return encodeBytesPayload(encodeUint64s(uint64(base)), found), nil

	case methodSideData:
		args, ok := decodeUint64s(payload, 1)
		if !ok {
			return nil, fmt.Errorf("remote: malformed %s payload", method)
		}

		sd := s.dir.SideData(uintptr(args[0]))

		return encodeBytesPayload(sd, sd != nil), nil

	case methodNext:
		args, ok := decodeUint64s(payload, 1)
		if !ok {
			return nil, fmt.Errorf("remote: malformed %s payload", method)
		}

		next, found := s.dir.Next(uintptr(args[0]))

		return encodeBytesPayload(encodeUint64s(uint64(next)), found), nil

	case methodStats:
		var counts, sizes [64]uint64

		s.dir.Stats(&counts, &sizes)

		return encodeUint64s(append(counts[:], sizes[:]...)...), nil

	case methodVersion:
		major, minor, patch := s.dir.Version()

		return encodeUint64s(major, minor, patch), nil

	default:
		return nil, fmt.Errorf("remote: unknown method %q", method)
	}
}
