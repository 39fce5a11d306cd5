package remote

import (
	"context"
	"io"
)

// Stream is one bidirectional control-plane stream, satisfied by a
// *quic.Stream in production and by one end of a net.Pipe in tests
// (see server_test.go).
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Transport opens and accepts Streams. The production implementation
// (quicTransport, in quic_transport.go) wraps a *quic.Conn; tests use a
// gomock-style mock so a single unit test never needs a real UDP socket.
type Transport interface {
	OpenStream(ctx context.Context) (Stream, error)
	AcceptStream(ctx context.Context) (Stream, error)
	Close() error
}
