package remote

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/quic-go/qpack"
)

// method names carried in every frame's qpack header block, the same way
// HTTP/3 carries ":method" in a QPACK-compressed header block ahead of a raw
// body (grounded on the teacher's own http3.go transport, internal/runtime/netstack).
const (
	methodAllocate              = "allocate"
	methodAllocateFit           = "allocate_fit"
	methodAllocateCount         = "allocate_count"
	methodAllocateBulkContig    = "allocate_bulk_contiguous"
	methodDeallocate            = "deallocate"
	methodDeallocateBulk        = "deallocate_bulk"
	methodReallocate            = "reallocate"
	methodSize                  = "size"
	methodBase                  = "base"
	methodSideData              = "side_data"
	methodNext                  = "next"
	methodStats              = "stats"
	methodVersion            = "version"
)

const headerRequestID = "request-id"
const headerStatus = "status"

const statusOK = "ok"
const statusError = "error"

// frame is one request or response on a control-plane stream: a small qpack
// header block (method/request-id/status) followed by a raw fixed-layout
// payload. Splitting metadata from payload this way mirrors HTTP/3's
// QPACK-headers-plus-body framing without requiring a full HTTP stack.
type frame struct {
	headers []qpack.HeaderField
	payload []byte
}

func (f frame) header(name string) (string, bool) {
	for _, h := range f.headers {
		if h.Name == name {
			return h.Value, true
		}
	}

	return "", false
}

// writeFrame qpack-encodes f.headers and writes
// uvarint(len(headerBlock)) ++ headerBlock ++ uvarint(len(payload)) ++ payload.
func writeFrame(w io.Writer, f frame) error {
	var headerBlock []byte

	enc := qpack.NewEncoder(&sliceWriter{&headerBlock})

	for _, h := range f.headers {
		if err := enc.WriteField(h); err != nil {
			return fmt.Errorf("remote: encoding header %s: %w", h.Name, err)
		}
	}

	bw := bufio.NewWriter(w)

	if err := writeUvarintAndBytes(bw, headerBlock); err != nil {
		return err
	}

	if err := writeUvarintAndBytes(bw, f.payload); err != nil {
		return err
	}

	return bw.Flush()
}

// readFrame is writeFrame's inverse.
func readFrame(r io.Reader) (frame, error) {
	br := bufio.NewReader(r)

	headerBlock, err := readUvarintBytes(br)
	if err != nil {
		return frame{}, err
	}

	payload, err := readUvarintBytes(br)
	if err != nil {
		return frame{}, err
	}

	var headers []qpack.HeaderField

	dec := qpack.NewDecoder(func(f qpack.HeaderField) { headers = append(headers, f) })
	if _, err := dec.Write(headerBlock); err != nil {
		return frame{}, fmt.Errorf("remote: decoding header block: %w", err)
	}

	return frame{headers: headers, payload: payload}, nil
}

func writeUvarintAndBytes(w io.Writer, b []byte) error {
	var lenBuf [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return err
	}

	_, err := w.Write(b)

	return err
}

func readUvarintBytes(r *bufio.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	return buf, nil
}

// sliceWriter adapts a *[]byte to io.Writer for qpack.NewEncoder, which wants
// a stream rather than a byte-slice builder.
type sliceWriter struct{ buf *[]byte }

func (s *sliceWriter) Write(p []byte) (int, error) {
	*s.buf = append(*s.buf, p...)

	return len(p), nil
}
