// Command qba-remoted runs a QBA allocator as a remote-controllable QUIC
// service, so other processes (or other machines) can drive it via
// internal/remote.Client.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/orizon-lang/qba/internal/allocator"
	"github.com/orizon-lang/qba/internal/remote"
)

func main() {
	var (
		addr   string
		shared string
	)

	flag.StringVar(&addr, "addr", "127.0.0.1:4433", "address to listen on")
	flag.StringVar(&shared, "shared", "", "shared-memory object name (empty = private)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "qba-remoted: logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	diag := remote.NewZapDiagnostics(logger)

	opts := []allocator.Option{allocator.WithDiagnostics(diag)}
	if shared != "" {
		opts = append(opts, allocator.WithShared(shared))
	}

	dir, err := allocator.Create(opts...)
	if err != nil {
		logger.Sugar().Fatalf("create director: %v", err)
	}
	defer dir.Destroy()

	srv := remote.NewServer(dir, diag)

	tlsCfg, err := selfSignedTLSConfig()
	if err != nil {
		logger.Sugar().Fatalf("tls config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Sugar().Infof("listening on %s", addr)

	if err := srv.ListenAndServe(ctx, addr, tlsCfg); err != nil {
		logger.Sugar().Fatalf("serve: %v", err)
	}
}

// selfSignedTLSConfig generates an ephemeral certificate for local testing;
// production deployments should supply a real certificate instead.
func selfSignedTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
