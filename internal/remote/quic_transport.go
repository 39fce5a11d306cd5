package remote

import (
	"context"
	"crypto/tls"

	quic "github.com/quic-go/quic-go"
)

// quicTransport is the production Transport, a thin wrapper over a single
// *quic.Conn, grounded on the teacher's own quic-go usage in
// internal/runtime/netstack/http3.go (enforcing TLS 1.3, a single ALPN).
type quicTransport struct {
	conn *quic.Conn
}

// alpn is this control plane's protocol identifier, following the teacher's
// "h3"-style single fixed NextProtos entry.
const alpn = "qba-remote/1"

func defaultTLSConfig(tlsCfg *tls.Config) *tls.Config {
	if tlsCfg == nil {
		return &tls.Config{MinVersion: tls.VersionTLS13, NextProtos: []string{alpn}}
	}

	if tlsCfg.MinVersion == 0 || tlsCfg.MinVersion < tls.VersionTLS13 {
		c := tlsCfg.Clone()
		c.MinVersion = tls.VersionTLS13

		if len(c.NextProtos) == 0 {
			c.NextProtos = []string{alpn}
		}

		return c
	}

	return tlsCfg
}

// DialTransport opens a QUIC connection to addr and returns it as a Transport.
func DialTransport(ctx context.Context, addr string, tlsCfg *tls.Config) (Transport, error) {
	conn, err := quic.DialAddr(ctx, addr, defaultTLSConfig(tlsCfg), nil)
	if err != nil {
		return nil, err
	}

	return &quicTransport{conn: conn}, nil
}

func (t *quicTransport) OpenStream(ctx context.Context) (Stream, error) {
	s, err := t.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (t *quicTransport) AcceptStream(ctx context.Context) (Stream, error) {
	s, err := t.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (t *quicTransport) Close() error {
	return t.conn.CloseWithError(0, "")
}
