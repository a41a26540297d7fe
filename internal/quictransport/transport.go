// Package quictransport builds the quic-go listener and dialer used
// by the server and client binaries: TLS certificate loading and the
// transport parameter wiring (max streams, idle timeout, keepalive).
package quictransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// Transport parameters shared by both ends.
const (
	MaxIncomingStreams = 100
	MaxIdleTimeout     = 600 * time.Second
	KeepAlivePeriod    = 30 * time.Second
)

// NextProto is the ALPN protocol string negotiated by both ends.
const NextProto = "reversetunnel/1"

// Connection is the subset of quic.Connection this module depends on.
// Narrowing the dependency to these few methods (rather than the full
// quic.Connection interface everywhere) keeps session/registry/relay
// unit-testable without a live UDP transport.
type Connection interface {
	OpenStreamSync(ctx context.Context) (quic.Stream, error)
	AcceptStream(ctx context.Context) (quic.Stream, error)
	Context() context.Context
	CloseWithError(code quic.ApplicationErrorCode, reason string) error
	RemoteAddr() net.Addr
}

// Config returns the shared quic.Config for both listener and dialer.
func Config() *quic.Config {
	return &quic.Config{
		MaxIncomingStreams: MaxIncomingStreams,
		MaxIdleTimeout:     MaxIdleTimeout,
		KeepAlivePeriod:    KeepAlivePeriod,
	}
}

// LoadServerTLSConfig loads a PEM certificate/key pair (PKCS#8 or
// PKCS#1) for the server's QUIC listener.
func LoadServerTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("quictransport: load cert: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{NextProto},
	}, nil
}

// ClientTLSConfig builds the dial-side TLS config. insecureSkipVerify
// exists for the self-signed certs the design note describes; a real
// deployment would instead pin the server's certificate.
func ClientTLSConfig(insecureSkipVerify bool) *tls.Config {
	return &tls.Config{
		NextProtos:         []string{NextProto},
		InsecureSkipVerify: insecureSkipVerify,
	}
}

// Listen opens the server-side QUIC listener on addr.
func Listen(addr string, tlsConf *tls.Config) (*quic.Listener, error) {
	l, err := quic.ListenAddr(addr, tlsConf, Config())
	if err != nil {
		return nil, fmt.Errorf("quictransport: listen %s: %w", addr, err)
	}
	return l, nil
}

// Dial opens a client-side QUIC connection to addr.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config) (quic.Connection, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConf, Config())
	if err != nil {
		return nil, fmt.Errorf("quictransport: dial %s: %w", addr, err)
	}
	return conn, nil
}
